package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/podpost/internal/model"
)

const (
	sessionColumns = `id, user_id, expires_at, created_at`

	insertSessionSQL = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (:id, :user_id, :expires_at, :created_at)`

	selectLiveSessionSQL = `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE id = $1 AND expires_at > now()`

	// 長時間のロックを避けるため期限切れセッションはバッチ単位で消す
	deleteExpiredBatchSQL = `DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE expires_at <= now()
			LIMIT $1
		)`
)

// expiredSessionBatch は1回のDELETEで削除する期限切れセッションの上限。
const expiredSessionBatch = 1000

// PostgresSessionRepo はsessionsテーブルを扱う。
// セッション行はJWTのsidと1対1で対応し、行の削除がトークンの失効になる。
type PostgresSessionRepo struct {
	db        *sqlx.DB
	batchSize int
}

func NewPostgresSessionRepo(db *sqlx.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, batchSize: expiredSessionBatch}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if _, err := r.db.NamedExecContext(ctx, insertSessionSQL, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID は有効期限内のセッションのみ返す。見つからなければnil, nil。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var s model.Session
	switch err := r.db.GetContext(ctx, &s, selectLiveSessionSQL, id); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("select session %s: %w", id, err)
	}
	return &s, nil
}

func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete sessions of user %s: %w", userID, err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを全件消すまでバッチ削除を繰り返し、合計件数を返す。
// 途中でctxがキャンセルされた場合はそれまでの件数とエラーを返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		res, err := r.db.ExecContext(ctx, deleteExpiredBatchSQL, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("delete expired sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
		if n < int64(r.batchSize) {
			return total, nil
		}
	}
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
