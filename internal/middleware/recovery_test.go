package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// captureDefaultLogger はslog.Defaultの出力をバッファに差し替える。
func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRecoveryMiddleware_Panic_Returns500JSON(t *testing.T) {
	logs := captureDefaultLogger(t)
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want %q", body.Code, "INTERNAL_ERROR")
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Error("panic value must not leak to the client")
	}
	if !strings.Contains(logs.String(), "boom") || !strings.Contains(logs.String(), "stack") {
		t.Errorf("panic should be logged with stack: %s", logs.String())
	}
}

func TestRecoveryMiddleware_NoPanic_PassesThrough(t *testing.T) {
	handler := NewRecoveryMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRecoveryMiddleware_ErrAbortHandler_RePanics(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered = %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/posts", nil))
}

// TestRecoveryMiddleware_InsideLogging は Logging → Session → Recovery の順で
// panicが500としてアクセスログに残り、user_idも記録されることを検証する。
func TestRecoveryMiddleware_InsideLogging(t *testing.T) {
	panicLogs := captureDefaultLogger(t)
	var accessLogs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&accessLogs, nil))

	handler := NewLoggingMiddleware(logger)(
		NewSessionMiddleware(validAuthenticator("tok", "user-panic", "sess-panic"))(
			NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("kaboom")
			})),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(accessLogs.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse access log: %v", err)
	}
	if entry["status"] != float64(http.StatusInternalServerError) {
		t.Errorf("access log status = %v, want 500", entry["status"])
	}
	if entry["level"] != "ERROR" {
		t.Errorf("access log level = %v, want ERROR", entry["level"])
	}
	if !strings.Contains(panicLogs.String(), `"user_id":"user-panic"`) {
		t.Errorf("panic log should carry user_id: %s", panicLogs.String())
	}
}

func TestRecoveryMiddleware_AfterHeadersWritten_KeepsOriginalStatus(t *testing.T) {
	captureDefaultLogger(t)
	var accessLogs bytes.Buffer

	handler := NewLoggingMiddleware(slog.New(slog.NewJSONHandler(&accessLogs, nil)))(
		NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			panic("late")
		})),
	)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/posts", nil))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if strings.Contains(w.Body.String(), "INTERNAL_ERROR") {
		t.Error("no error body should be appended after headers were written")
	}
}
