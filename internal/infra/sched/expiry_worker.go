package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/usecase"
)

// ExpiryWorker runs sweep-only passes between the scheduled cycles.
type ExpiryWorker struct {
	interval time.Duration
	maint    usecase.MaintenanceUseCase
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, maint usecase.MaintenanceUseCase, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		maint:    maint,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return errors.New("expiry worker: interval must be positive")
	}
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			rep, err := w.maint.SweepOnly(ctx)
			if errors.Is(err, domain.ErrCycleInProgress) {
				continue
			}
			if err != nil {
				w.log.Error().Err(err).Msg("expiry worker error")
			}
			if rep != nil && len(rep.Swept) > 0 {
				w.log.Info().Int("count", len(rep.Swept)).Msg("expired accounts swept")
			}
		}
	}
}
