package mailbox

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

type parsedMessage struct {
	Subject string
	From    string
	Text    string
	HTML    string
}

// parseMessage decodes a raw RFC 5322 message, keeping inline text/plain and
// text/html parts. Each part is cut at limit bytes.
func parseMessage(r io.Reader, limit int64) (*parsedMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	out := &parsedMessage{}
	if s, err := mr.Header.Subject(); err == nil {
		out.Subject = s
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].Address
	}

	var text, html strings.Builder
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if text.Len() > 0 || html.Len() > 0 {
				// keep what was decoded before the broken part
				break
			}
			return nil, fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(io.LimitReader(p.Body, limit))
		if err != nil {
			continue
		}
		switch ct {
		case "text/html":
			html.Write(b)
		case "text/plain", "":
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.Write(b)
		}
	}
	out.Text, out.HTML = text.String(), html.String()
	return out, nil
}
