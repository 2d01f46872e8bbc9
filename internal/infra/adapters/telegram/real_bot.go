package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/application"
	"telegram-stream-access/internal/config"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
)

var _ adapter.Notifier = (*RealTelegramBotAdapter)(nil)

// UpdateHandler is the conversation layer; *application.Coordinator satisfies it.
type UpdateHandler interface {
	HandleCommand(ctx context.Context, in application.Inbound) []adapter.Outbound
	HandleCallback(ctx context.Context, in application.Inbound) []adapter.Outbound
	HandleText(ctx context.Context, in application.Inbound) []adapter.Outbound
}

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// RealTelegramBotAdapter polls updates and hands them to the UpdateHandler.
// Updates of one chat always go to the same worker, so they are processed in order.
type RealTelegramBotAdapter struct {
	bot     botAPI
	handler UpdateHandler
	workers int
	log     *zerolog.Logger

	mu            sync.Mutex
	cancelPolling context.CancelFunc
}

func NewRealTelegramBotAdapter(cfg *config.BotConfig, logger *zerolog.Logger) (*RealTelegramBotAdapter, error) {
	if cfg == nil {
		return nil, errors.New("bot config is nil")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return newAdapter(bot, cfg.Workers, logger), nil
}

func newAdapter(bot botAPI, workers int, logger *zerolog.Logger) *RealTelegramBotAdapter {
	if workers <= 0 {
		workers = 5
	}
	l := logger.With().Str("component", "telegram").Logger()
	return &RealTelegramBotAdapter{bot: bot, workers: workers, log: &l}
}

// SetHandler must be called before StartPolling.
func (r *RealTelegramBotAdapter) SetHandler(h UpdateHandler) { r.handler = h }

// StartPolling runs until ctx is canceled, then drains the workers.
func (r *RealTelegramBotAdapter) StartPolling(ctx context.Context) error {
	if r.handler == nil {
		return errors.New("telegram: no update handler set")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := r.bot.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelPolling = cancel
	r.mu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	queues := make([]chan tgbotapi.Update, r.workers)
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, 64)
		wg.Add(1)
		go func(id int, in <-chan tgbotapi.Update) {
			defer wg.Done()
			for up := range in {
				r.handleUpdate(ctx, id, up)
			}
		}(i, queues[i])
	}

	r.log.Info().Int("workers", r.workers).Msg("telegram polling started")
	defer func() {
		r.bot.StopReceivingUpdates()
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		r.log.Info().Msg("telegram polling stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			q := queues[workerFor(chatOf(up), r.workers)]
			select {
			case q <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *RealTelegramBotAdapter) StopPolling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelPolling != nil {
		r.cancelPolling()
	}
}

func workerFor(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

func chatOf(up tgbotapi.Update) int64 {
	switch {
	case up.Message != nil && up.Message.Chat != nil:
		return up.Message.Chat.ID
	case up.CallbackQuery != nil && up.CallbackQuery.Message != nil && up.CallbackQuery.Message.Chat != nil:
		return up.CallbackQuery.Message.Chat.ID
	case up.CallbackQuery != nil && up.CallbackQuery.From != nil:
		return up.CallbackQuery.From.ID
	}
	return 0
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (r *RealTelegramBotAdapter) handleUpdate(ctx context.Context, worker int, up tgbotapi.Update) {
	ctx = logging.WithTraceID(ctx, logging.NewTraceID())
	defer func() {
		if rec := recover(); rec != nil {
			logging.With(ctx, r.log).Error().Interface("panic", rec).Int("worker", worker).Msg("update handler panicked")
		}
	}()

	var out []adapter.Outbound
	switch {
	case up.CallbackQuery != nil && up.CallbackQuery.From != nil:
		q := up.CallbackQuery
		// Stop the client spinner whatever the outcome.
		if _, err := r.bot.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
			logging.With(ctx, r.log).Debug().Err(err).Msg("answer callback failed")
		}
		in := application.Inbound{ChatID: chatOf(up), UserID: q.From.ID, DisplayName: displayName(q.From), Data: q.Data}
		ctx = logging.WithChatID(logging.WithTgID(ctx, in.UserID), in.ChatID)
		out = r.handler.HandleCallback(ctx, in)

	case up.Message != nil && up.Message.From != nil && up.Message.Text != "":
		m := up.Message
		in := application.Inbound{ChatID: m.Chat.ID, UserID: m.From.ID, DisplayName: displayName(m.From), Text: m.Text}
		ctx = logging.WithChatID(logging.WithTgID(ctx, in.UserID), in.ChatID)
		if application.IsCommand(m.Text) {
			out = r.handler.HandleCommand(ctx, in)
		} else {
			out = r.handler.HandleText(ctx, in)
		}

	default:
		return
	}

	for _, msg := range out {
		if err := r.Send(ctx, msg); err != nil {
			logging.With(ctx, r.log).Warn().Err(err).Int64("to", msg.ChatID).Msg("reply failed")
		}
	}
}

// Send delivers msg, waiting out one Telegram flood-control response.
func (r *RealTelegramBotAdapter) Send(ctx context.Context, msg adapter.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := buildMessage(msg)
	_, err := r.bot.Send(c)

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		t := time.NewTimer(time.Duration(apiErr.RetryAfter) * time.Second)
		defer t.Stop()
		select {
		case <-ctx.Done():
			metrics.IncSendFailure()
			return ctx.Err()
		case <-t.C:
		}
		_, err = r.bot.Send(c)
	}
	if err != nil {
		metrics.IncSendFailure()
	}
	return err
}

func buildMessage(msg adapter.Outbound) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	m.DisableWebPagePreview = true
	if msg.HTML {
		m.ParseMode = tgbotapi.ModeHTML
	}
	if kb := keyboard(msg.Buttons); kb != nil {
		m.ReplyMarkup = *kb
	}
	return m
}

// keyboard maps button rows; a button opens URL when set, else sends Data.
func keyboard(rows [][]adapter.InlineButton) *tgbotapi.InlineKeyboardMarkup {
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, r)
	}
	if len(kbRows) == 0 {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	return &kb
}

// SetMenuCommands publishes the slash-command list shown by Telegram clients.
func (r *RealTelegramBotAdapter) SetMenuCommands(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmds := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "start", Description: "Main menu"},
		tgbotapi.BotCommand{Command: "redeem", Description: "Redeem a license key"},
		tgbotapi.BotCommand{Command: "signin", Description: "Latest sign-in code"},
		tgbotapi.BotCommand{Command: "household", Description: "Latest household link"},
		tgbotapi.BotCommand{Command: "status", Description: "Access expiry"},
		tgbotapi.BotCommand{Command: "help", Description: "Help"},
		tgbotapi.BotCommand{Command: "cancel", Description: "Cancel the current action"},
	)
	_, err := r.bot.Request(cmds)
	return err
}
