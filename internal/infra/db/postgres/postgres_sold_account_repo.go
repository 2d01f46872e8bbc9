package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/security"
)

var _ repository.SoldAccountRepository = (*SoldAccountRepo)(nil)

type SoldAccountRepo struct {
	pool   *pgxpool.Pool
	sealer security.Sealer
}

func NewSoldAccountRepo(pool *pgxpool.Pool, sealer security.Sealer) *SoldAccountRepo {
	return &SoldAccountRepo{pool: pool, sealer: sealer}
}

const soldColumns = `id, address, secret_sealed, buyer_id, expires_at, sold_at`

func (r *SoldAccountRepo) scan(row interface{ Scan(...interface{}) error }) (*model.SoldAccount, error) {
	var (
		a      model.SoldAccount
		sealed string
	)
	if err := row.Scan(&a.ID, &a.Address, &sealed, &a.BuyerID, &a.ExpiresAt, &a.SoldAt); err != nil {
		return nil, scanErr(err, domain.ErrAccountNotFound)
	}
	secret, err := r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open account secret %d: %w", a.ID, err)
	}
	a.Secret = secret
	return &a, nil
}

func (r *SoldAccountRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.SoldAccount, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SoldAccount
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SoldAccountRepo) Insert(ctx context.Context, tx repository.Tx, acc *model.SoldAccount) error {
	sealed, err := r.sealer.Seal(acc.Secret)
	if err != nil {
		return fmt.Errorf("seal account secret: %w", err)
	}
	const q = `
INSERT INTO sold_accounts (address, secret_sealed, buyer_id, expires_at, sold_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, acc.Address, sealed, acc.BuyerID, acc.ExpiresAt, acc.SoldAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&acc.ID); err != nil {
		return fmt.Errorf("insert sold account: %w", mapPgError(err))
	}
	return nil
}

func (r *SoldAccountRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.SoldAccount, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+soldColumns+` FROM sold_accounts WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

// ExtendExpiry adds to the stored value, so concurrent renewals stack.
func (r *SoldAccountRepo) ExtendExpiry(ctx context.Context, tx repository.Tx, id int64, months int) (*model.SoldAccount, error) {
	const q = `
UPDATE sold_accounts
   SET expires_at = expires_at + make_interval(months => $2)
 WHERE id = $1
RETURNING ` + soldColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, months)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *SoldAccountRepo) UpdateCredential(ctx context.Context, tx repository.Tx, id int64, address, secret string) (*model.SoldAccount, error) {
	sealed, err := r.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal account secret: %w", err)
	}
	const q = `
UPDATE sold_accounts
   SET address = $2, secret_sealed = $3
 WHERE id = $1
RETURNING ` + soldColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, address, sealed)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *SoldAccountRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM sold_accounts WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete sold account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *SoldAccountRepo) ListExpiredIDs(ctx context.Context, tx repository.Tx, now time.Time) ([]int64, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT id FROM sold_accounts WHERE expires_at < $1 ORDER BY expires_at, id;`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, scanErr(err, domain.ErrAccountNotFound)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TakeExpired re-checks expiry in the DELETE so a renewal that landed after
// ListExpiredIDs keeps the row.
func (r *SoldAccountRepo) TakeExpired(ctx context.Context, tx repository.Tx, id int64, now time.Time) (*model.SoldAccount, error) {
	const q = `DELETE FROM sold_accounts WHERE id = $1 AND expires_at < $2 RETURNING ` + soldColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id, now)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *SoldAccountRepo) ListExpiringBetween(ctx context.Context, tx repository.Tx, from, to time.Time) ([]*model.SoldAccount, error) {
	const q = `
SELECT ` + soldColumns + `
  FROM sold_accounts
 WHERE expires_at > $1 AND expires_at <= $2
 ORDER BY expires_at ASC, id ASC;`
	return r.list(ctx, tx, q, from, to)
}

func (r *SoldAccountRepo) List(ctx context.Context, tx repository.Tx, buyerID int64) ([]*model.SoldAccount, error) {
	if buyerID == 0 {
		return r.list(ctx, tx, `SELECT `+soldColumns+` FROM sold_accounts ORDER BY expires_at ASC, id ASC;`)
	}
	return r.list(ctx, tx, `SELECT `+soldColumns+` FROM sold_accounts WHERE buyer_id = $1 ORDER BY expires_at ASC, id ASC;`, buyerID)
}
