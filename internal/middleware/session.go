// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/podpost/internal/model"
)

// AuthCookieName はセッショントークンを保持するCookieの名前。
const AuthCookieName = "auth"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey    = contextKey("user_id")
	sessionIDContextKey = contextKey("session_id")
)

// Authenticator はセッショントークンの検証に必要なインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Session, error)
}

// NewSessionMiddleware はauth Cookieのトークンを検証するミドルウェアを返す。
// 認証済みユーザーIDとセッションIDをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(auth Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(AuthCookieName)
			if err != nil || cookie.Value == "" {
				WriteUnauthorized(w, nil)
				return
			}

			session, err := auth.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteUnauthorized(w, apiErr)
					return
				}
				slog.Error("failed to authenticate session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			ctx := ContextWithSession(r.Context(), session.UserID, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// SessionIDFromContext はリクエストコンテキストからセッションIDを取得する。
func SessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(sessionIDContextKey).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session ID not found in context")
	}
	return sessionID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithSession はユーザーIDとセッションIDをコンテキストに注入する。
func ContextWithSession(ctx context.Context, userID, sessionID string) context.Context {
	ctx = ContextWithUserID(ctx, userID)
	if info := requestInfoFromContext(ctx); info != nil {
		info.sessionID = sessionID
	}
	return context.WithValue(ctx, sessionIDContextKey, sessionID)
}
