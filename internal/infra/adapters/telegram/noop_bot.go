package telegram

import (
	"context"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*NoopBotAdapter)(nil)

// NoopBotAdapter logs messages instead of sending them. Used when the bot
// runs with --no-telegram.
type NoopBotAdapter struct {
	log *zerolog.Logger
}

func NewNoopBotAdapter(logger *zerolog.Logger) *NoopBotAdapter {
	l := logger.With().Str("component", "noop_telegram").Logger()
	return &NoopBotAdapter{log: &l}
}

func (b *NoopBotAdapter) Send(ctx context.Context, msg adapter.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.log.Info().Int64("to", msg.ChatID).Int("button_rows", len(msg.Buttons)).Str("text", msg.Text).Msg("outbound message")
	return nil
}
