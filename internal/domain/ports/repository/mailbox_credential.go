package repository

import (
	"context"

	"telegram-stream-access/internal/domain/model"
)

// MailboxCredentialRepository holds one mailbox credential per owner.
type MailboxCredentialRepository interface {
	Save(ctx context.Context, tx Tx, c *model.MailboxCredential) error
	FindByOwner(ctx context.Context, tx Tx, ownerID int64) (*model.MailboxCredential, error)
	Delete(ctx context.Context, tx Tx, ownerID int64) error
}
