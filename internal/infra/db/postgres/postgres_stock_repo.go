package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/security"
)

var _ repository.StockRepository = (*StockRepo)(nil)

type StockRepo struct {
	pool   *pgxpool.Pool
	sealer security.Sealer
}

func NewStockRepo(pool *pgxpool.Pool, sealer security.Sealer) *StockRepo {
	return &StockRepo{pool: pool, sealer: sealer}
}

func (r *StockRepo) scan(row interface{ Scan(...interface{}) error }) (*model.UnsoldStockItem, error) {
	var (
		it     model.UnsoldStockItem
		sealed string
	)
	if err := row.Scan(&it.ID, &it.Address, &sealed, &it.CreatedAt); err != nil {
		return nil, scanErr(err, domain.ErrStockNotFound)
	}
	secret, err := r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open stock secret %d: %w", it.ID, err)
	}
	it.Secret = secret
	return &it, nil
}

func (r *StockRepo) Add(ctx context.Context, tx repository.Tx, item *model.UnsoldStockItem) error {
	sealed, err := r.sealer.Seal(item.Secret)
	if err != nil {
		return fmt.Errorf("seal stock secret: %w", err)
	}
	// The unique index on lower(address) covers concurrent adds; the NOT
	// EXISTS covers an address that is currently sold.
	const q = `
INSERT INTO unsold_stock (address, secret_sealed, created_at)
SELECT $1, $2, COALESCE($3::timestamptz, now())
 WHERE NOT EXISTS (SELECT 1 FROM sold_accounts WHERE lower(address) = lower($1))
RETURNING id, created_at;`
	var createdAt interface{}
	if !item.CreatedAt.IsZero() {
		createdAt = item.CreatedAt
	}
	row, err := pickRow(ctx, r.pool, tx, q, item.Address, sealed, createdAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&item.ID, &item.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(mapPgError(err), domain.ErrAlreadyExists) {
			return domain.ErrDuplicateStock
		}
		return fmt.Errorf("add stock: %w", mapPgError(err))
	}
	return nil
}

func (r *StockRepo) ListNewestFirst(ctx context.Context, tx repository.Tx) ([]*model.UnsoldStockItem, error) {
	const q = `
SELECT id, address, secret_sealed, created_at
  FROM unsold_stock
 ORDER BY created_at DESC, id DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.UnsoldStockItem
	for rows.Next() {
		it, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Take removes the row and returns it. Two concurrent takers cannot both win.
func (r *StockRepo) Take(ctx context.Context, tx repository.Tx, id int64) (*model.UnsoldStockItem, error) {
	row, err := pickRow(ctx, r.pool, tx, `DELETE FROM unsold_stock WHERE id = $1 RETURNING id, address, secret_sealed, created_at;`, id)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *StockRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM unsold_stock;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count stock: %w", err)
	}
	return n, nil
}
