package usecase

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/i18n"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
)

// Compile-time check
var _ ReminderUseCase = (*reminderUC)(nil)

// ReminderUseCase notifies buyers whose accounts are about to expire.
type ReminderUseCase interface {
	// RunReminders returns how many reminders were delivered.
	RunReminders(ctx context.Context, now time.Time) (int, error)
}

type ReminderOptions struct {
	Thresholds []int // days-left values that trigger a reminder
	ChannelID  int64 // day-1 reminders are also posted here when non-zero
}

type reminderUC struct {
	sold       repository.SoldAccountRepository
	logRepo    repository.ReminderLogRepository
	notifier   adapter.Notifier
	t          *i18n.Translator
	thresholds map[int]bool
	maxDays    int
	channelID  int64
	log        *zerolog.Logger
}

func NewReminderUseCase(
	sold repository.SoldAccountRepository,
	logRepo repository.ReminderLogRepository,
	notifier adapter.Notifier,
	translator *i18n.Translator,
	opts ReminderOptions,
	logger *zerolog.Logger,
) *reminderUC {
	if len(opts.Thresholds) == 0 {
		opts.Thresholds = []int{1, 2, 3}
	}
	th := make(map[int]bool, len(opts.Thresholds))
	days := append([]int(nil), opts.Thresholds...)
	sort.Ints(days)
	for _, d := range days {
		th[d] = true
	}
	return &reminderUC{
		sold:       sold,
		logRepo:    logRepo,
		notifier:   notifier,
		t:          translator,
		thresholds: th,
		maxDays:    days[len(days)-1],
		channelID:  opts.ChannelID,
		log:        logger,
	}
}

// daysLeft rounds up, so 25h left is 2 days and 1m left is 1 day.
func daysLeft(expiresAt, now time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}

// RunReminders reads the expiring window once. A reminder is sent only by the
// pass whose log insert created its record, so overlapping passes never
// double-notify. A failed delivery drops its record so the next pass retries.
func (u *reminderUC) RunReminders(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "ReminderUC.RunReminders")()

	accounts, err := u.sold.ListExpiringBetween(ctx, repository.NoTX, now, now.Add(time.Duration(u.maxDays)*24*time.Hour))
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, acc := range accounts {
		d := daysLeft(acc.ExpiresAt, now)
		if !u.thresholds[d] {
			continue
		}
		fresh, err := u.logRepo.Record(ctx, repository.NoTX, acc.ID, acc.ExpiresAt, d, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !fresh {
			continue
		}
		if err := u.notify(ctx, acc, d); err != nil {
			u.log.Warn().Err(err).Int64("account_id", acc.ID).Int("days_left", d).Msg("reminder delivery failed")
			errs = append(errs, err)
			if ferr := u.logRepo.Forget(context.WithoutCancel(ctx), repository.NoTX, acc.ID, acc.ExpiresAt, d); ferr != nil {
				u.log.Error().Err(ferr).Int64("account_id", acc.ID).Msg("reminder will not be retried")
				errs = append(errs, ferr)
			}
			continue
		}
		metrics.IncReminderSent(d)
		sent++
	}
	if sent > 0 {
		u.log.Info().Int("sent", sent).Msg("expiry reminders sent")
	}
	return sent, errors.Join(errs...)
}

func (u *reminderUC) notify(ctx context.Context, acc *model.SoldAccount, d int) error {
	date := acc.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	buyerMsg := adapter.Outbound{
		ChatID: acc.BuyerID,
		Text:   u.t.T("reminder_buyer", d, acc.Address, date),
		HTML:   true,
	}
	if err := u.notifier.Send(ctx, buyerMsg); err != nil {
		return err
	}
	if d == 1 && u.channelID != 0 {
		ch := adapter.Outbound{
			ChatID: u.channelID,
			Text:   u.t.T("reminder_channel", acc.ID, acc.BuyerID, acc.Address, date),
			HTML:   true,
		}
		if err := u.notifier.Send(ctx, ch); err != nil {
			u.log.Warn().Err(err).Int64("channel_id", u.channelID).Msg("channel broadcast failed")
		}
	}
	return nil
}
