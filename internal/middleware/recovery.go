package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラーのpanicを回収して500を返すミドルウェアを返す。
// Loggingより内側に置くことで、アクセスログにも500とuser_idが残る。
// レスポンスを書き始めた後のpanicはログのみ記録する。
// http.ErrAbortHandlerは接続切断の合図なので再panicする。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				attrs := []any{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if info := requestInfoFromContext(r.Context()); info != nil {
					attrs = append(attrs, slog.String("request_id", info.requestID))
					if info.userID != "" {
						attrs = append(attrs, slog.String("user_id", info.userID))
					}
				}
				slog.Error("panic recovered", attrs...)

				if sr, ok := w.(*statusRecorder); ok && sr.written {
					return
				}
				WriteInternalServerError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
