package repository

import (
	"context"
	"time"
)

// ReminderLogRepository records which expiry reminders were already sent.
type ReminderLogRepository interface {
	// Record inserts (accountID, expiresAt, daysLeft). It returns false without
	// error when that reminder was recorded before.
	Record(ctx context.Context, tx Tx, accountID int64, expiresAt time.Time, daysLeft int, sentAt time.Time) (bool, error)
	// Forget removes a record so a later pass may send that reminder again.
	Forget(ctx context.Context, tx Tx, accountID int64, expiresAt time.Time, daysLeft int) error
}
