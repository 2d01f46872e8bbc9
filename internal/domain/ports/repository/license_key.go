package repository

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/model"
)

// LicenseKeyRepository is the port for single-use license keys.
type LicenseKeyRepository interface {
	// Create inserts a new unused key. A duplicate key text yields domain.ErrAlreadyExists.
	Create(ctx context.Context, tx Tx, k *model.LicenseKey) error
	// FindByText returns the key whether used or not; domain.ErrNotFound when absent.
	FindByText(ctx context.Context, tx Tx, keyText string) (*model.LicenseKey, error)
	// MarkUsed flips used false->true only if the key is still unused and returns
	// the updated row. domain.ErrNotFound means unknown or already used.
	MarkUsed(ctx context.Context, tx Tx, keyText string, usedBy int64, usedAt time.Time) (*model.LicenseKey, error)
}
