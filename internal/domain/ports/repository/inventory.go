package repository

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/model"
)

// StockRepository is the pool of unsold credentials.
type StockRepository interface {
	// Add assigns item.ID and item.CreatedAt. An address already present in
	// stock or among sold accounts, compared case-insensitively, yields
	// domain.ErrDuplicateStock.
	Add(ctx context.Context, tx Tx, item *model.UnsoldStockItem) error
	// ListNewestFirst orders by created_at then id, both descending.
	ListNewestFirst(ctx context.Context, tx Tx) ([]*model.UnsoldStockItem, error)
	// Take deletes the row and returns it; domain.ErrNotFound if it was already gone.
	Take(ctx context.Context, tx Tx, id int64) (*model.UnsoldStockItem, error)
	Count(ctx context.Context, tx Tx) (int, error)
}

// SoldAccountRepository holds credentials assigned to buyers.
type SoldAccountRepository interface {
	// Insert assigns acc.ID.
	Insert(ctx context.Context, tx Tx, acc *model.SoldAccount) error
	FindByID(ctx context.Context, tx Tx, id int64) (*model.SoldAccount, error)
	// ExtendExpiry adds months to the stored expires_at and returns the updated row.
	ExtendExpiry(ctx context.Context, tx Tx, id int64, months int) (*model.SoldAccount, error)
	// UpdateCredential swaps address/secret, leaving buyer and expiry untouched.
	UpdateCredential(ctx context.Context, tx Tx, id int64, address, secret string) (*model.SoldAccount, error)
	Delete(ctx context.Context, tx Tx, id int64) error
	// ListExpiredIDs returns ids with expires_at < now.
	ListExpiredIDs(ctx context.Context, tx Tx, now time.Time) ([]int64, error)
	// TakeExpired deletes the row only if it is still expired at now.
	// domain.ErrNotFound means it is gone or was renewed meanwhile.
	TakeExpired(ctx context.Context, tx Tx, id int64, now time.Time) (*model.SoldAccount, error)
	// ListExpiringBetween returns rows with from < expires_at <= to, soonest first.
	ListExpiringBetween(ctx context.Context, tx Tx, from, to time.Time) ([]*model.SoldAccount, error)
	// List orders by expires_at ascending; buyerID 0 means all buyers.
	List(ctx context.Context, tx Tx, buyerID int64) ([]*model.SoldAccount, error)
}
