package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/infra/i18n"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
)

// Compile-time check
var _ MaintenanceUseCase = (*maintenanceUC)(nil)

// CycleReport summarises one maintenance cycle.
type CycleReport struct {
	StartedAt     time.Time
	RemindersSent int
	Swept         []model.SweptAccount
}

// MaintenanceUseCase runs reminders and then the expiry sweep as one cycle.
// Cycles never overlap within a process.
type MaintenanceUseCase interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
	// SweepOnly runs just the sweep under the same guard.
	SweepOnly(ctx context.Context) (*CycleReport, error)
}

type maintenanceUC struct {
	reminders ReminderUseCase
	inventory InventoryUseCase
	notifier  adapter.Notifier
	t         *i18n.Translator
	mu        sync.Mutex
	log       *zerolog.Logger
	now       func() time.Time
}

func NewMaintenanceUseCase(reminders ReminderUseCase, inventory InventoryUseCase, notifier adapter.Notifier, translator *i18n.Translator, logger *zerolog.Logger) *maintenanceUC {
	return &maintenanceUC{
		reminders: reminders,
		inventory: inventory,
		notifier:  notifier,
		t:         translator,
		log:       logger,
		now:       time.Now,
	}
}

// RunCycle sends reminders before sweeping, so an account that expires during
// the cycle still gets its last-day reminder first.
func (u *maintenanceUC) RunCycle(ctx context.Context) (*CycleReport, error) {
	return u.run(ctx, true)
}

func (u *maintenanceUC) SweepOnly(ctx context.Context) (*CycleReport, error) {
	return u.run(ctx, false)
}

func (u *maintenanceUC) run(ctx context.Context, withReminders bool) (*CycleReport, error) {
	defer logging.TraceDuration(u.log, "MaintenanceUC.RunCycle")()

	if !u.mu.TryLock() {
		metrics.IncMaintenanceCycle("skipped")
		return nil, domain.ErrCycleInProgress
	}
	defer u.mu.Unlock()

	rep := &CycleReport{StartedAt: u.now()}
	var errs []error

	if withReminders {
		n, err := u.reminders.RunReminders(ctx, rep.StartedAt)
		rep.RemindersSent = n
		if err != nil {
			errs = append(errs, err)
		}
	}

	swept, err := u.inventory.SweepExpired(ctx)
	rep.Swept = swept
	if err != nil {
		errs = append(errs, err)
	}
	for _, s := range swept {
		msg := adapter.Outbound{ChatID: s.BuyerID, Text: u.t.T("account_expired", s.AccountID, s.Address), HTML: true}
		if err := u.notifier.Send(ctx, msg); err != nil {
			u.log.Warn().Err(err).Int64("buyer_id", s.BuyerID).Msg("expiry notice failed")
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		metrics.IncMaintenanceCycle("failed")
		u.log.Error().Err(err).Int("reminders", rep.RemindersSent).Int("swept", len(rep.Swept)).Msg("maintenance cycle finished with errors")
		return rep, err
	}
	metrics.IncMaintenanceCycle("ok")
	u.log.Info().Int("reminders", rep.RemindersSent).Int("swept", len(rep.Swept)).Msg("maintenance cycle finished")
	return rep, nil
}
