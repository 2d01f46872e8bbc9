package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-stream-access/internal/domain/ports/repository"
)

var _ repository.ReminderLogRepository = (*ReminderLogRepo)(nil)

type ReminderLogRepo struct {
	pool *pgxpool.Pool
}

func NewReminderLogRepo(pool *pgxpool.Pool) *ReminderLogRepo {
	return &ReminderLogRepo{pool: pool}
}

// Record reports true only for the caller whose insert created the row.
func (r *ReminderLogRepo) Record(ctx context.Context, tx repository.Tx, accountID int64, expiresAt time.Time, daysLeft int, sentAt time.Time) (bool, error) {
	const q = `
INSERT INTO reminder_log (account_id, expires_at, days_left, sent_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (account_id, expires_at, days_left) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, accountID, expiresAt, daysLeft, sentAt)
	if err != nil {
		return false, fmt.Errorf("record reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReminderLogRepo) Forget(ctx context.Context, tx repository.Tx, accountID int64, expiresAt time.Time, daysLeft int) error {
	const q = `
DELETE FROM reminder_log
WHERE account_id = $1 AND expires_at = $2 AND days_left = $3;`
	if _, err := execSQL(ctx, r.pool, tx, q, accountID, expiresAt, daysLeft); err != nil {
		return fmt.Errorf("forget reminder: %w", err)
	}
	return nil
}
