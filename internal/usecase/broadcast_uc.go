package usecase

import (
	"context"
	"strings"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/worker"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ BroadcastUseCase = (*broadcastUC)(nil)

type BroadcastUseCase interface {
	// BroadcastMessage queues message for every active non-admin user and
	// returns how many were queued. Delivery is asynchronous.
	BroadcastMessage(ctx context.Context, message string) (int, error)
}

type broadcastUC struct {
	users      repository.AuthorizedUserRepository
	notifier   adapter.Notifier
	workerPool *worker.Pool
	isAdmin    func(int64) bool
	interval   time.Duration
	log        *zerolog.Logger
	now        func() time.Time
}

func NewBroadcastUseCase(
	users repository.AuthorizedUserRepository,
	notifier adapter.Notifier,
	pool *worker.Pool,
	isAdmin func(int64) bool,
	logger *zerolog.Logger,
) *broadcastUC {
	return &broadcastUC{
		users:      users,
		notifier:   notifier,
		workerPool: pool,
		isAdmin:    isAdmin,
		// Throttle to respect Telegram's API limits (approx. 30 messages/sec)
		interval: time.Second / 25,
		log:      logger,
		now:      time.Now,
	}
}

func (uc *broadcastUC) BroadcastMessage(ctx context.Context, message string) (int, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return 0, domain.Invalid("message", "must not be empty")
	}
	all, err := uc.users.ListByExpiry(ctx, repository.NoTX)
	if err != nil {
		uc.log.Error().Err(err).Msg("Failed to fetch users for broadcast")
		return 0, err
	}

	now := uc.now()
	var recipients []int64
	for _, u := range all {
		if u.IsActive(now) && !uc.isAdmin(u.ID) {
			recipients = append(recipients, u.ID)
		}
	}

	throttle := time.NewTicker(uc.interval)
	go func() {
		defer throttle.Stop()
		uc.log.Info().Int("user_count", len(recipients)).Msg("Starting broadcast job")
		for _, id := range recipients {
			<-throttle.C
			if err := uc.workerPool.Submit(uc.createSendTask(id, message)); err != nil {
				uc.log.Warn().Err(err).Int64("tg_id", id).Msg("Failed to submit broadcast task to worker pool")
			}
		}
		uc.log.Info().Msg("Broadcast job finished queuing all tasks")
	}()

	return len(recipients), nil
}

// createSendTask creates a closure for the worker pool to execute.
func (uc *broadcastUC) createSendTask(chatID int64, message string) worker.Task {
	return func(ctx context.Context) error {
		if err := uc.notifier.Send(ctx, adapter.Outbound{ChatID: chatID, Text: message}); err != nil {
			// Typically the user blocked the bot.
			uc.log.Warn().Err(err).Int64("tg_id", chatID).Msg("Failed to send broadcast message to user")
		}
		return nil
	}
}
