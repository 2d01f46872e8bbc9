package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/security"
)

var _ repository.MailboxCredentialRepository = (*MailboxCredentialRepo)(nil)

// MailboxCredentialRepo seals the secret before it reaches the table.
type MailboxCredentialRepo struct {
	pool   *pgxpool.Pool
	sealer security.Sealer
}

func NewMailboxCredentialRepo(pool *pgxpool.Pool, sealer security.Sealer) *MailboxCredentialRepo {
	return &MailboxCredentialRepo{pool: pool, sealer: sealer}
}

func (r *MailboxCredentialRepo) Save(ctx context.Context, tx repository.Tx, c *model.MailboxCredential) error {
	sealed, err := r.sealer.Seal(c.Secret)
	if err != nil {
		return fmt.Errorf("seal mailbox secret: %w", err)
	}
	const q = `
INSERT INTO gmail_credentials (owner_id, address, secret_sealed, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id) DO UPDATE SET
  address = EXCLUDED.address,
  secret_sealed = EXCLUDED.secret_sealed,
  updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, c.OwnerID, c.Address, sealed, c.UpdatedAt); err != nil {
		return fmt.Errorf("save mailbox credential: %w", err)
	}
	return nil
}

func (r *MailboxCredentialRepo) FindByOwner(ctx context.Context, tx repository.Tx, ownerID int64) (*model.MailboxCredential, error) {
	const q = `SELECT owner_id, address, secret_sealed, updated_at FROM gmail_credentials WHERE owner_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, ownerID)
	if err != nil {
		return nil, err
	}
	var (
		c      model.MailboxCredential
		sealed string
	)
	if err := row.Scan(&c.OwnerID, &c.Address, &sealed, &c.UpdatedAt); err != nil {
		return nil, scanErr(err, domain.ErrNoMailboxCredential)
	}
	if c.Secret, err = r.sealer.Open(sealed); err != nil {
		return nil, fmt.Errorf("open mailbox secret for %d: %w", ownerID, err)
	}
	return &c, nil
}

func (r *MailboxCredentialRepo) Delete(ctx context.Context, tx repository.Tx, ownerID int64) error {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM gmail_credentials WHERE owner_id = $1;`, ownerID)
	if err != nil {
		return fmt.Errorf("delete mailbox credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoMailboxCredential
	}
	return nil
}
