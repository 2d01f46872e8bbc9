package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
)

var _ repository.AuthorizedUserRepository = (*AuthorizedUserRepo)(nil)

type AuthorizedUserRepo struct {
	pool *pgxpool.Pool
}

func NewAuthorizedUserRepo(pool *pgxpool.Pool) *AuthorizedUserRepo {
	return &AuthorizedUserRepo{pool: pool}
}

// Extend is one upsert: a concurrent first-time insert makes the loser fall
// into DO UPDATE against the committed row, so neither grant is lost.
func (r *AuthorizedUserRepo) Extend(ctx context.Context, tx repository.Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error) {
	const q = `
INSERT INTO authorized_users AS au (user_id, display_name, expires_at, created_at, updated_at)
VALUES ($1, $2, $3::timestamptz + make_interval(months => $4), $3, $3)
ON CONFLICT (user_id) DO UPDATE SET
  display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), au.display_name),
  expires_at   = GREATEST(au.expires_at, $3::timestamptz) + make_interval(months => $4),
  updated_at   = EXCLUDED.updated_at
RETURNING user_id, display_name, expires_at, created_at, updated_at;
`
	row, err := pickRow(ctx, r.pool, tx, q, id, displayName, now, months)
	if err != nil {
		return nil, err
	}
	var u model.AuthorizedUser
	if err := row.Scan(&u.ID, &u.DisplayName, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, fmt.Errorf("extend authorized user: %w", mapPgError(err))
	}
	return &u, nil
}

// FindByID locks the row FOR UPDATE when called inside a transaction.
func (r *AuthorizedUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.AuthorizedUser, error) {
	q := `
SELECT user_id, display_name, expires_at, created_at, updated_at
  FROM authorized_users
 WHERE user_id = $1`
	if inTx(tx) {
		q += ` FOR UPDATE`
	}
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.AuthorizedUser
	if err := row.Scan(&u.ID, &u.DisplayName, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, scanErr(err, domain.ErrUserNotFound)
	}
	return &u, nil
}

func (r *AuthorizedUserRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM authorized_users WHERE user_id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete authorized user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *AuthorizedUserRepo) ListByExpiry(ctx context.Context, tx repository.Tx) ([]*model.AuthorizedUser, error) {
	const q = `
SELECT user_id, display_name, expires_at, created_at, updated_at
  FROM authorized_users
 ORDER BY expires_at ASC, user_id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AuthorizedUser
	for rows.Next() {
		var u model.AuthorizedUser
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.ExpiresAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, scanErr(err, domain.ErrUserNotFound)
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func (r *AuthorizedUserRepo) CountActive(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM authorized_users WHERE expires_at > $1;`, now)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return n, nil
}
