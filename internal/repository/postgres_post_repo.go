package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/podpost/internal/model"
)

// postWithAuthorSelect は投稿とusersをJOINして投稿者情報を付与するSELECT句。
const postWithAuthorSelect = `SELECT p.id, p.author_id, p.content, p.created_at,
	u.name AS author_name, u.web_id AS author_web_id
	FROM posts p
	JOIN users u ON u.id = p.author_id`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sqlx.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sqlx.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO posts (id, author_id, content, created_at)
		 VALUES (:id, :author_id, :content, :created_at)`,
		post,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// FindByID は指定IDの投稿を投稿者情報付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.PostWithAuthor, error) {
	var post model.PostWithAuthor
	err := r.db.GetContext(ctx, &post, postWithAuthorSelect+` WHERE p.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	return &post, nil
}

// List は全投稿をcreated_at降順で取得する。
func (r *PostgresPostRepo) List(ctx context.Context, cursor model.PostCursor, limit int) ([]model.PostWithAuthor, error) {
	posts := []model.PostWithAuthor{}
	var err error
	if cursor.IsZero() {
		err = r.db.SelectContext(ctx, &posts,
			postWithAuthorSelect+` ORDER BY p.created_at DESC, p.id DESC LIMIT $1`,
			limit,
		)
	} else {
		err = r.db.SelectContext(ctx, &posts,
			postWithAuthorSelect+` WHERE (p.created_at, p.id) < ($1, $2) ORDER BY p.created_at DESC, p.id DESC LIMIT $3`,
			cursor.CreatedAt, cursor.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// ListByAuthor は指定ユーザーの投稿をcreated_at降順で取得する。
func (r *PostgresPostRepo) ListByAuthor(ctx context.Context, authorID string, cursor model.PostCursor, limit int) ([]model.PostWithAuthor, error) {
	posts := []model.PostWithAuthor{}
	var err error
	if cursor.IsZero() {
		err = r.db.SelectContext(ctx, &posts,
			postWithAuthorSelect+` WHERE p.author_id = $1 ORDER BY p.created_at DESC, p.id DESC LIMIT $2`,
			authorID, limit,
		)
	} else {
		err = r.db.SelectContext(ctx, &posts,
			postWithAuthorSelect+` WHERE p.author_id = $1 AND (p.created_at, p.id) < ($2, $3) ORDER BY p.created_at DESC, p.id DESC LIMIT $4`,
			authorID, cursor.CreatedAt, cursor.ID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts by author: %w", err)
	}
	return posts, nil
}

// DeleteByID は指定IDの投稿を削除する。
func (r *PostgresPostRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// DeleteByAuthorID は指定ユーザーの全投稿を削除する。
func (r *PostgresPostRepo) DeleteByAuthorID(ctx context.Context, authorID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE author_id = $1`, authorID)
	if err != nil {
		return fmt.Errorf("failed to delete posts by author: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
