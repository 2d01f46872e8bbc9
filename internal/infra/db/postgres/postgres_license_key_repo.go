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

// Ensure implementation satisfies the interface.
var _ repository.LicenseKeyRepository = (*licenseKeyRepo)(nil)

type licenseKeyRepo struct {
	pool *pgxpool.Pool
}

func NewLicenseKeyRepo(pool *pgxpool.Pool) repository.LicenseKeyRepository {
	return &licenseKeyRepo{pool: pool}
}

const licenseKeyColumns = `key_text, duration_months, created_at, used, used_by, used_at`

func scanLicenseKey(row interface{ Scan(...interface{}) error }) (*model.LicenseKey, error) {
	var k model.LicenseKey
	if err := row.Scan(&k.KeyText, &k.DurationMonths, &k.CreatedAt, &k.Used, &k.UsedBy, &k.UsedAt); err != nil {
		return nil, scanErr(err, domain.ErrKeyNotFound)
	}
	return &k, nil
}

// Create inserts an unused key. Duplicate text surfaces as domain.ErrAlreadyExists
// so the generator can retry.
func (r *licenseKeyRepo) Create(ctx context.Context, tx repository.Tx, k *model.LicenseKey) error {
	const q = `
INSERT INTO license_keys (key_text, duration_months, created_at, used)
VALUES ($1, $2, $3, FALSE);`
	if _, err := execSQL(ctx, r.pool, tx, q, k.KeyText, k.DurationMonths, k.CreatedAt); err != nil {
		return fmt.Errorf("create license key: %w", err)
	}
	return nil
}

func (r *licenseKeyRepo) FindByText(ctx context.Context, tx repository.Tx, keyText string) (*model.LicenseKey, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+licenseKeyColumns+` FROM license_keys WHERE key_text = $1;`, keyText)
	if err != nil {
		return nil, err
	}
	return scanLicenseKey(row)
}

// MarkUsed is the single-use gate: the WHERE used = FALSE guard lets exactly one
// concurrent redeemer see a returned row.
func (r *licenseKeyRepo) MarkUsed(ctx context.Context, tx repository.Tx, keyText string, usedBy int64, usedAt time.Time) (*model.LicenseKey, error) {
	const q = `
UPDATE license_keys
   SET used = TRUE, used_by = $2, used_at = $3
 WHERE key_text = $1 AND used = FALSE
RETURNING ` + licenseKeyColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q, keyText, usedBy, usedAt)
	if err != nil {
		return nil, err
	}
	return scanLicenseKey(row)
}
