package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/podpost/internal/middleware"
	"github.com/hitoshi/podpost/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Profile(ctx context.Context, userID string) (*model.User, error)
	// Withdraw は投稿・セッション・ユーザーを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// profileResponse は他ユーザーにも公開するプロフィール。
// プロバイダーのURLは含めない。
type profileResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WebID     string    `json:"web_id"`
	CreatedAt time.Time `json:"created_at"`
}

type UserHandler struct {
	service UserServiceInterface
	cookies AuthHandlerConfig // 退会時のCookie消去に使う
}

func NewUserHandler(service UserServiceInterface, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{service: service, cookies: cookies}
}

// Profile GET /users/{id}
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]profileResponse{
		"user": {
			ID:        u.ID,
			Name:      u.Name,
			WebID:     u.WebID,
			CreatedAt: u.CreatedAt,
		},
	})
}

// Withdraw DELETE /users/me
// 成功時はauth Cookieも消去する。
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	clearAuthCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}
