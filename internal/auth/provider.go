package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/podpost/internal/metrics"
	"github.com/hitoshi/podpost/internal/security"
)

// ErrProviderUnavailable はプロバイダーとの通信失敗または5xx応答を表す。
var ErrProviderUnavailable = errors.New("pod provider unavailable")

// ProviderRejectedError はプロバイダーが4xxで要求を拒否したことを表す。
type ProviderRejectedError struct {
	StatusCode int
	Message    string
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("pod provider rejected request: status %d: %s", e.StatusCode, e.Message)
}

// ProviderToken はプロバイダーのログイン/サインアップ応答。
type ProviderToken struct {
	Token   string `json:"token"`
	WebID   string `json:"webId"`
	NewUser bool   `json:"newUser"`
}

// PodProvider はActivityPodプロバイダーの認証APIを呼び出すインターフェース。
type PodProvider interface {
	Login(ctx context.Context, endpoint, username, password string) (*ProviderToken, error)
	Signup(ctx context.Context, endpoint, username, email, password string) (*ProviderToken, error)
}

// HTTPPodProvider はSSRF防止付きHTTPクライアントでプロバイダーを呼び出すPodProvider実装。
type HTTPPodProvider struct {
	client  *http.Client
	maxSize int64
	metrics metrics.MetricsCollector
}

// NewHTTPPodProvider はHTTPPodProviderを生成する。metricsはnilでもよい。
func NewHTTPPodProvider(guard security.SSRFGuardService, timeout time.Duration, maxSize int64, m metrics.MetricsCollector) *HTTPPodProvider {
	return &HTTPPodProvider{
		client:  guard.NewSafeClient(timeout),
		maxSize: maxSize,
		metrics: m,
	}
}

// Login は {endpoint}/auth/login に資格情報を送信する。
func (p *HTTPPodProvider) Login(ctx context.Context, endpoint, username, password string) (*ProviderToken, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	return p.post(ctx, "login", endpoint+"/auth/login", body)
}

// Signup は {endpoint}/auth/signup にアカウント作成を要求する。
func (p *HTTPPodProvider) Signup(ctx context.Context, endpoint, username, email, password string) (*ProviderToken, error) {
	body := map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}
	return p.post(ctx, "signup", endpoint+"/auth/signup", body)
}

func (p *HTTPPodProvider) post(ctx context.Context, op, url string, payload map[string]string) (*ProviderToken, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if p.metrics != nil {
		p.metrics.RecordProviderLatency(op, time.Since(start))
	}
	if err != nil {
		p.recordFailure(op, "transport")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize))
	if err != nil {
		p.recordFailure(op, "read")
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		p.recordFailure(op, "status_5xx")
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		p.recordFailure(op, "status_4xx")
		return nil, &ProviderRejectedError{
			StatusCode: resp.StatusCode,
			Message:    extractProviderMessage(data),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		p.recordFailure(op, "unexpected_status")
		return nil, fmt.Errorf("%w: unexpected status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var token ProviderToken
	if err := json.Unmarshal(data, &token); err != nil {
		p.recordFailure(op, "decode")
		return nil, fmt.Errorf("%w: decode: %v", ErrProviderUnavailable, err)
	}
	return &token, nil
}

func (p *HTTPPodProvider) recordFailure(op, reason string) {
	if p.metrics != nil {
		p.metrics.RecordProviderFailure(op, reason)
	}
}

// extractProviderMessage はエラー応答から表示用メッセージを取り出す。
func extractProviderMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := []rune(strings.TrimSpace(string(data)))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return string(msg)
}

// compile-time interface check
var _ PodProvider = (*HTTPPodProvider)(nil)
