// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/podpost/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByWebID はWebIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByWebID(ctx context.Context, webID string) (*model.User, error)

	// CreateIfAbsent はWebIDのユーザーが存在しない場合のみ作成する。
	// 既に存在する場合は既存のユーザーを返し、createdはfalseになる。
	// 同一WebIDの同時作成が競合しても重複行は作られない。
	CreateIfAbsent(ctx context.Context, user *model.User) (stored *model.User, created bool, err error)

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するsessions、postsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿を投稿者情報付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.PostWithAuthor, error)

	// List は全投稿をcreated_at降順で取得する。
	// cursorがゼロ値の場合は先頭から、それ以外は(created_at, id)がcursorより小さい投稿を取得する。
	List(ctx context.Context, cursor model.PostCursor, limit int) ([]model.PostWithAuthor, error)

	// ListByAuthor は指定ユーザーの投稿をcreated_at降順で取得する。
	ListByAuthor(ctx context.Context, authorID string, cursor model.PostCursor, limit int) ([]model.PostWithAuthor, error)

	// DeleteByID は指定IDの投稿を削除する。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByAuthorID は指定ユーザーの全投稿を削除する。
	DeleteByAuthorID(ctx context.Context, authorID string) error
}
