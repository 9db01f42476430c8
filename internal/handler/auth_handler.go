// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/podpost/internal/auth"
	"github.com/hitoshi/podpost/internal/middleware"
	"github.com/hitoshi/podpost/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, creds auth.Credentials) (*auth.Result, error)
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.Result, error)
	Logout(ctx context.Context, token string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // auth Cookieの有効期間（秒）
}

// AuthHandler はPodプロバイダー連携の認証HTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password"`
	ProviderEndpoint string `json:"provider_endpoint"`
}

type signupRequest struct {
	Username         string `json:"username"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	ProviderEndpoint string `json:"provider_endpoint"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	WebID            string    `json:"web_id"`
	ProviderEndpoint string    `json:"provider_endpoint"`
	CreatedAt        time.Time `json:"created_at"`
}

type authResponse struct {
	User    userResponse `json:"user"`
	NewUser bool         `json:"new_user"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

// Login はPodプロバイダーの認証情報でログインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Login(r.Context(), auth.Credentials{
		Username:         req.Username,
		Password:         req.Password,
		ProviderEndpoint: req.ProviderEndpoint,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setAuthCookie(w, h.config, result.Token)
	writeJSON(w, http.StatusOK, authResponse{
		User:    toUserResponse(result.User),
		NewUser: result.NewUser,
	})
}

// Signup はPodプロバイダーにアカウントを作成してログインする。
// POST /signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.Signup(r.Context(), auth.SignupRequest{
		Credentials: auth.Credentials{
			Username:         req.Username,
			Password:         req.Password,
			ProviderEndpoint: req.ProviderEndpoint,
		},
		Email: req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	setAuthCookie(w, h.config, result.Token)
	writeJSON(w, http.StatusCreated, authResponse{
		User:    toUserResponse(result.User),
		NewUser: result.NewUser,
	})
}

// Logout はセッションを破棄する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.AuthCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
		}
	}

	clearAuthCookie(w, h.config)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func setAuthCookie(w http.ResponseWriter, config AuthHandlerConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.SessionMaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearAuthCookie(w http.ResponseWriter, config AuthHandlerConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AuthCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Name:             u.Name,
		WebID:            u.WebID,
		ProviderEndpoint: u.ProviderEndpoint,
		CreatedAt:        u.CreatedAt,
	}
}
