package extract

import (
	"regexp"

	"telegram-stream-access/internal/domain/ports/adapter"
)

type plainCode struct{ re *regexp.Regexp }

func (plainCode) Name() string { return "plain_code" }

func (s plainCode) Extract(msg *adapter.MailMessage) (string, bool) {
	if m := s.re.FindString(msg.Text); m != "" {
		return m, true
	}
	return "", false
}

// renderedCode searches the visible text of the HTML part, so digits inside
// attributes, styles or urls do not count.
type renderedCode struct{ re *regexp.Regexp }

func (renderedCode) Name() string { return "html_text_code" }

func (s renderedCode) Extract(msg *adapter.MailMessage) (string, bool) {
	if msg.HTML == "" {
		return "", false
	}
	if m := s.re.FindString(visibleText(msg.HTML)); m != "" {
		return m, true
	}
	return "", false
}
