// File: internal/domain/ports/adapter/telegram.go
package adapter

import "context"

type InlineButton struct {
	Text string
	Data string
	URL  string
}

// Outbound is a message for the chat transport to deliver.
type Outbound struct {
	ChatID  int64
	Text    string
	HTML    bool
	Buttons [][]InlineButton
}

// Notifier delivers outbound messages. Implementations must be safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Outbound) error
}
