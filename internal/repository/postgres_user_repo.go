package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/podpost/internal/model"
)

const userColumns = `id, name, web_id, provider_endpoint, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sqlx.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sqlx.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &user, nil
}

// FindByWebID はWebIDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByWebID(ctx context.Context, webID string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user,
		`SELECT `+userColumns+` FROM users WHERE web_id = $1`,
		webID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by web ID: %w", err)
	}

	return &user, nil
}

// CreateIfAbsent はWebIDのユーザーが存在しない場合のみ作成する。
// ON CONFLICT DO NOTHINGで挿入し、挿入されなかった場合は既存行を読み直す。
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, bool, error) {
	var stored model.User
	err := r.db.GetContext(ctx, &stored,
		`INSERT INTO users (id, name, web_id, provider_endpoint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (web_id) DO NOTHING
		 RETURNING `+userColumns,
		user.ID, user.Name, user.WebID, user.ProviderEndpoint, user.CreatedAt, user.UpdatedAt,
	)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}

	// 競合: 既存ユーザーを返す
	existing, err := r.FindByWebID(ctx, user.WebID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("user with web ID %s vanished after conflict", user.WebID)
	}
	return existing, false, nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するsessions、postsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
