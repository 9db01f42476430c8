package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/podpost/internal/middleware"
	"github.com/hitoshi/podpost/internal/model"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	Create(ctx context.Context, authorID, content string) (*postResponse, error)
	Get(ctx context.Context, postID string) (*postResponse, error)
	List(ctx context.Context, cursor string, limit int) (*postListResponse, error)
	ListByAuthor(ctx context.Context, authorID, cursor string, limit int) (*postListResponse, error)
	Delete(ctx context.Context, userID, postID string) error
}

// PostHandler は投稿のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

type createPostRequest struct {
	Content string `json:"content"`
}

// postResponse は投稿のAPIレスポンス。
type postResponse struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	AuthorWebID string    `json:"author_web_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

type singlePostResponse struct {
	Post postResponse `json:"post"`
}

// postListResponse は投稿一覧のAPIレスポンス。
type postListResponse struct {
	Posts      []postResponse `json:"posts"`
	NextCursor string         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

// List は全投稿を新しい順に返す。
// GET /posts?cursor=xxx&limit=20
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.List(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListByAuthor は指定ユーザーの投稿を新しい順に返す。
// GET /users/{id}/posts?cursor=xxx&limit=20
func (h *PostHandler) ListByAuthor(w http.ResponseWriter, r *http.Request) {
	limit, apiErr := parseLimit(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.ListByAuthor(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Get は投稿を1件返す。
// GET /posts/{id}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, singlePostResponse{Post: *post})
}

// Create は投稿を作成する。
// POST /posts
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createPostRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	post, err := h.service.Create(r.Context(), userID, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, singlePostResponse{Post: *post})
}

// Delete は自分の投稿を削除する。
// DELETE /posts/{id}
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseLimit はlimitクエリを解析する。未指定の場合は0（サービスの既定値）を返す。
func parseLimit(r *http.Request) (int, *model.APIError) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, model.NewInvalidRequestError("limitには1以上の整数を指定してください")
	}
	return limit, nil
}
