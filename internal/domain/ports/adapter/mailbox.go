package adapter

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/model"
)

// SearchCriteria narrows the mailbox search.
type SearchCriteria struct {
	From            string    // sender address or domain; empty means any
	Since           time.Time // lower bound on received time
	SubjectContains string    // optional, case-insensitive
}

// MailMessage is a fetched message with its decoded bodies.
type MailMessage struct {
	ID         uint32
	Subject    string
	From       string
	ReceivedAt time.Time
	Text       string // decoded text/plain parts
	HTML       string // decoded text/html parts
}

// MailboxSession is an authenticated, open mailbox. Close must always be called.
type MailboxSession interface {
	// Search returns matching message ids in ascending receive order.
	Search(ctx context.Context, c SearchCriteria) ([]uint32, error)
	Fetch(ctx context.Context, id uint32) (*MailMessage, error)
	Close() error
}

// MailboxDialer opens a session with a single attempt; it reports
// domain.ErrMailboxAuth or domain.ErrMailboxNetwork and never retries.
type MailboxDialer interface {
	Dial(ctx context.Context, cred model.MailboxCredential) (MailboxSession, error)
}
