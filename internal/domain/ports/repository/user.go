package repository

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/model"
)

// AuthorizedUserRepository stores entitlement holders.
type AuthorizedUserRepository interface {
	// Extend adds months to id's entitlement, creating the row when absent.
	// The new expiry is derived from the stored one in a single statement, so
	// concurrent grants stack. An empty displayName keeps the stored name.
	Extend(ctx context.Context, tx Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error)
	// FindByID returns domain.ErrNotFound when absent. Inside a tx the row is locked.
	FindByID(ctx context.Context, tx Tx, id int64) (*model.AuthorizedUser, error)
	// Delete returns domain.ErrNotFound when absent.
	Delete(ctx context.Context, tx Tx, id int64) error
	// ListByExpiry orders by expires_at ascending, then id.
	ListByExpiry(ctx context.Context, tx Tx) ([]*model.AuthorizedUser, error)
	CountActive(ctx context.Context, tx Tx, now time.Time) (int, error)
}
