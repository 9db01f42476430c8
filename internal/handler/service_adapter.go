package handler

import (
	"context"

	"github.com/hitoshi/podpost/internal/model"
	"github.com/hitoshi/podpost/internal/post"
)

// PostServiceAdapter は post.Service を PostServiceInterface に適合させるアダプタ。
type PostServiceAdapter struct {
	svc *post.Service
}

// NewPostServiceAdapter はPostServiceAdapterを生成する。
func NewPostServiceAdapter(svc *post.Service) *PostServiceAdapter {
	return &PostServiceAdapter{svc: svc}
}

// Create は投稿を作成しhandlerレスポンス型で返す。
func (a *PostServiceAdapter) Create(ctx context.Context, authorID, content string) (*postResponse, error) {
	p, err := a.svc.Create(ctx, authorID, content)
	if err != nil {
		return nil, err
	}
	resp := toPostResponse(p)
	return &resp, nil
}

// Get は投稿を取得しhandlerレスポンス型で返す。
func (a *PostServiceAdapter) Get(ctx context.Context, postID string) (*postResponse, error) {
	p, err := a.svc.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	resp := toPostResponse(p)
	return &resp, nil
}

// List は投稿一覧をhandlerレスポンス型で返す。
func (a *PostServiceAdapter) List(ctx context.Context, cursor string, limit int) (*postListResponse, error) {
	page, err := a.svc.List(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}
	return toPostListResponse(page), nil
}

// ListByAuthor はユーザー別の投稿一覧をhandlerレスポンス型で返す。
func (a *PostServiceAdapter) ListByAuthor(ctx context.Context, authorID, cursor string, limit int) (*postListResponse, error) {
	page, err := a.svc.ListByAuthor(ctx, authorID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return toPostListResponse(page), nil
}

// Delete は投稿を削除する。
func (a *PostServiceAdapter) Delete(ctx context.Context, userID, postID string) error {
	return a.svc.Delete(ctx, userID, postID)
}

// toPostResponse はドメインの投稿をhandlerのレスポンス型に変換する。
func toPostResponse(p *model.PostWithAuthor) postResponse {
	return postResponse{
		ID:          p.ID,
		AuthorID:    p.AuthorID,
		AuthorName:  p.AuthorName,
		AuthorWebID: p.AuthorWebID,
		Content:     p.Content,
		CreatedAt:   p.CreatedAt,
	}
}

func toPostListResponse(page *post.Page) *postListResponse {
	posts := make([]postResponse, len(page.Posts))
	for i := range page.Posts {
		posts[i] = toPostResponse(&page.Posts[i])
	}
	return &postListResponse{
		Posts:      posts,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
}

// --- compile-time interface checks ---

var _ PostServiceInterface = (*PostServiceAdapter)(nil)
