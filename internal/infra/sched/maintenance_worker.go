package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/usecase"
)

const cycleTimeout = 10 * time.Minute

// MaintenanceWorker runs the reminder+sweep cycle on a cron schedule (UTC).
type MaintenanceWorker struct {
	spec  string
	maint usecase.MaintenanceUseCase
	log   *zerolog.Logger
}

func NewMaintenanceWorker(spec string, maint usecase.MaintenanceUseCase, logger *zerolog.Logger) (*MaintenanceWorker, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("scheduler.cycle_cron %q: %w", spec, err)
	}
	compLog := logger.With().Str("component", "MaintenanceWorker").Logger()
	return &MaintenanceWorker{spec: spec, maint: maint, log: &compLog}, nil
}

// Run blocks until ctx is done, then waits for a running cycle to return.
func (w *MaintenanceWorker) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{w.log}),
		cron.WithChain(cron.Recover(cronLogger{w.log})),
	)
	if _, err := c.AddFunc(w.spec, func() { w.runCycle(ctx) }); err != nil {
		return err
	}
	w.log.Info().Str("spec", w.spec).Msg("Starting maintenance worker")
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	w.log.Info().Msg("Stopping maintenance worker")
	return ctx.Err()
}

func (w *MaintenanceWorker) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	rep, err := w.maint.RunCycle(runCtx)
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		w.log.Info().Msg("maintenance cycle already running; skipped")
		return
	case err != nil:
		w.log.Error().Err(err).Msg("maintenance cycle failed")
	}
	if rep != nil {
		w.log.Info().Int("reminders", rep.RemindersSent).Int("swept", len(rep.Swept)).Msg("maintenance cycle done")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ log *zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
