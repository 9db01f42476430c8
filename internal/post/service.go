// Package post は投稿のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/podpost/internal/metrics"
	"github.com/hitoshi/podpost/internal/model"
	"github.com/hitoshi/podpost/internal/repository"
	"github.com/hitoshi/podpost/internal/security"
)

// ページサイズの既定値と上限
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Publisher は投稿イベントをライブストリームに配信するインターフェース。
type Publisher interface {
	PublishPostCreated(post *model.PostWithAuthor)
	PublishPostDeleted(postID string)
}

// Page はカーソルページネーションの結果。
type Page struct {
	Posts      []model.PostWithAuthor
	NextCursor string
	HasMore    bool
}

// Service は投稿の作成・取得・削除を提供する。
type Service struct {
	postRepo  repository.PostRepository
	userRepo  repository.UserRepository
	sanitizer security.ContentSanitizerService
	publisher Publisher
	metrics   metrics.MetricsCollector
	maxLength int
	now       func() time.Time
}

// NewService はServiceを生成する。publisherとmはnilでもよい。
func NewService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	sanitizer security.ContentSanitizerService,
	publisher Publisher,
	m metrics.MetricsCollector,
	maxLength int,
) *Service {
	return &Service{
		postRepo:  postRepo,
		userRepo:  userRepo,
		sanitizer: sanitizer,
		publisher: publisher,
		metrics:   m,
		maxLength: maxLength,
		now:       time.Now,
	}
}

// Create は本文をサニタイズして投稿を作成する。
// 表示文字数が0の場合はEMPTY_CONTENT、上限を超える場合はCONTENT_TOO_LONGを返す。
func (s *Service) Create(ctx context.Context, authorID, content string) (*model.PostWithAuthor, error) {
	sanitized := strings.TrimSpace(s.sanitizer.Sanitize(content))

	length := VisibleLength(sanitized)
	if length == 0 {
		return nil, model.NewEmptyContentError()
	}
	if length > s.maxLength {
		return nil, model.NewContentTooLongError(s.maxLength)
	}

	author, err := s.userRepo.FindByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find author: %w", err)
	}
	if author == nil {
		return nil, model.NewUserNotFoundError()
	}

	post := model.Post{
		ID:       uuid.New().String(),
		AuthorID: author.ID,
		Content:  sanitized,
		// PostgreSQLのtimestamptz精度に揃え、カーソルが往復で一致するようにする
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.postRepo.Create(ctx, &post); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	created := &model.PostWithAuthor{
		Post:        post,
		AuthorName:  author.Name,
		AuthorWebID: author.WebID,
	}

	if s.metrics != nil {
		s.metrics.RecordPostCreated()
	}
	if s.publisher != nil {
		s.publisher.PublishPostCreated(created)
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("user_id", author.ID),
	)
	return created, nil
}

// Get は投稿を取得する。
func (s *Service) Get(ctx context.Context, postID string) (*model.PostWithAuthor, error) {
	if _, err := uuid.Parse(postID); err != nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	return post, nil
}

// List は全投稿を新しい順に取得する。
func (s *Service) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	after, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	posts, err := s.postRepo.List(ctx, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return buildPage(posts, limit), nil
}

// ListByAuthor は指定ユーザーの投稿を新しい順に取得する。
func (s *Service) ListByAuthor(ctx context.Context, authorID, cursor string, limit int) (*Page, error) {
	if _, err := uuid.Parse(authorID); err != nil {
		return nil, model.NewUserNotFoundError()
	}
	after, err := ParseCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	author, err := s.userRepo.FindByID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find author: %w", err)
	}
	if author == nil {
		return nil, model.NewUserNotFoundError()
	}

	posts, err := s.postRepo.ListByAuthor(ctx, authorID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by author: %w", err)
	}
	return buildPage(posts, limit), nil
}

// Delete は投稿者本人の投稿を削除する。
func (s *Service) Delete(ctx context.Context, userID, postID string) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.AuthorID != userID {
		return model.NewPostForbiddenError()
	}

	if err := s.postRepo.DeleteByID(ctx, postID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPostDeleted()
	}
	if s.publisher != nil {
		s.publisher.PublishPostDeleted(postID)
	}

	slog.Info("post deleted",
		slog.String("post_id", postID),
		slog.String("user_id", userID),
	)
	return nil
}

// cursorSep はカーソル文字列の日時とIDの区切り。RFC3339Nanoには現れない。
const cursorSep = "_"

// ParseCursor は"<RFC3339Nano>_<投稿ID>"形式のカーソルを解析する。空文字列はゼロ値（先頭）を返す。
func ParseCursor(cursor string) (model.PostCursor, error) {
	if cursor == "" {
		return model.PostCursor{}, nil
	}
	ts, id, ok := strings.Cut(cursor, cursorSep)
	if !ok {
		return model.PostCursor{}, model.NewInvalidCursorError(cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.PostCursor{}, model.NewInvalidCursorError(cursor)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return model.PostCursor{}, model.NewInvalidCursorError(cursor)
	}
	return model.PostCursor{CreatedAt: t, ID: parsedID.String()}, nil
}

// FormatCursor は投稿の位置をカーソル文字列にする。
func FormatCursor(p model.Post) string {
	return p.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSep + p.ID
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// buildPage はlimit+1件の取得結果からページを組み立てる。
func buildPage(posts []model.PostWithAuthor, limit int) *Page {
	page := &Page{Posts: posts}
	if len(posts) > limit {
		page.Posts = posts[:limit]
		page.HasMore = true
		page.NextCursor = FormatCursor(page.Posts[limit-1].Post)
	}
	if page.Posts == nil {
		page.Posts = []model.PostWithAuthor{}
	}
	return page
}
