// Package mailbox is the IMAP implementation of the mailbox ports.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/config"
	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
)

var _ adapter.MailboxDialer = (*IMAPDialer)(nil)

const maxBodyBytes = 2 << 20

// IMAPDialer opens read-only INBOX sessions over implicit TLS.
type IMAPDialer struct {
	addr    string
	host    string
	timeout time.Duration
	log     *zerolog.Logger

	// plain disables TLS; only the in-package tests set it.
	plain bool
}

func NewIMAPDialer(cfg *config.MailboxConfig, logger *zerolog.Logger) *IMAPDialer {
	l := logger.With().Str("component", "imap").Logger()
	return &IMAPDialer{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:    cfg.Host,
		timeout: cfg.Timeout,
		log:     &l,
	}
}

// Dial connects, logs in and selects INBOX. It makes one attempt.
func (d *IMAPDialer) Dial(ctx context.Context, cred model.MailboxCredential) (adapter.MailboxSession, error) {
	timeout, ok := d.budget(ctx)
	if !ok {
		return nil, networkErr(ctx, context.DeadlineExceeded)
	}
	nd := &net.Dialer{Timeout: timeout}
	if dl, ok := ctx.Deadline(); ok {
		nd.Deadline = dl
	}

	var (
		c   *client.Client
		err error
	)
	if d.plain {
		c, err = client.DialWithDialer(nd, d.addr)
	} else {
		c, err = client.DialWithDialerTLS(nd, d.addr, &tls.Config{ServerName: d.host, MinVersion: tls.VersionTLS12})
	}
	if err != nil {
		d.log.Debug().Err(err).Str("addr", d.addr).Msg("imap dial failed")
		return nil, networkErr(ctx, err)
	}
	c.Timeout = timeout
	s := &session{c: c, log: d.log}

	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(cred.Address, cred.Secret); err != nil {
		_ = c.Terminate()
		if isTransportErr(ctx, err) {
			return nil, networkErr(ctx, err)
		}
		// server text is not surfaced; it may echo the username
		d.log.Debug().Msg("imap login rejected")
		return nil, domain.ErrMailboxAuth
	}
	if _, err := c.Select(imap.InboxName, true); err != nil {
		_ = s.Close()
		return nil, networkErr(ctx, err)
	}
	return s, nil
}

// budget caps the configured timeout at what is left of ctx. go-imap waits
// for the server greeting with the dialer timeout alone and never sees ctx.
func (d *IMAPDialer) budget(ctx context.Context) (time.Duration, bool) {
	t := d.timeout
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left <= 0 {
			return 0, false
		}
		if t <= 0 || left < t {
			t = left
		}
	}
	return t, true
}

type session struct {
	c   *client.Client
	log *zerolog.Logger
}

func (s *session) Search(ctx context.Context, crit adapter.SearchCriteria) ([]uint32, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.c.Terminate() })
	defer stop()

	sc := imap.NewSearchCriteria()
	if !crit.Since.IsZero() {
		// SINCE compares dates only; callers re-filter on the internal date.
		sc.Since = crit.Since
	}
	if crit.From != "" {
		sc.Header.Add("From", crit.From)
	}
	if crit.SubjectContains != "" {
		sc.Header.Add("Subject", crit.SubjectContains)
	}
	ids, err := s.c.Search(sc)
	if err != nil {
		return nil, networkErr(ctx, err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *session) Fetch(ctx context.Context, id uint32) (*adapter.MailMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.c.Terminate() })
	defer stop()

	seq := new(imap.SeqSet)
	seq.AddNum(id)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- s.c.Fetch(seq, items, ch) }()

	var msg *imap.Message
	for m := range ch {
		if msg == nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, networkErr(ctx, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: message %d vanished", domain.ErrMailboxNetwork, id)
	}

	out := &adapter.MailMessage{ID: id, ReceivedAt: msg.InternalDate}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
		}
	}
	body := msg.GetBody(section)
	if body == nil {
		return out, nil
	}
	parsed, err := parseMessage(body, maxBodyBytes)
	if err != nil {
		// keep envelope data; extraction just finds nothing
		s.log.Warn().Err(err).Uint32("id", id).Msg("mime parse failed")
		return out, nil
	}
	out.Text, out.HTML = parsed.Text, parsed.HTML
	if out.Subject == "" {
		out.Subject = parsed.Subject
	}
	if out.From == "" {
		out.From = parsed.From
	}
	return out, nil
}

// Close logs out, falling back to dropping the connection.
func (s *session) Close() error {
	if err := s.c.Logout(); err != nil {
		_ = s.c.Terminate()
		if strings.Contains(err.Error(), "closed") {
			return nil
		}
		return err
	}
	return nil
}

// isTransportErr separates connection failures from a NO/BAD reply.
func isTransportErr(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return strings.Contains(err.Error(), "connection closed")
}

func networkErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrMailboxNetwork, ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: timeout", domain.ErrMailboxNetwork)
	}
	return fmt.Errorf("%w: %v", domain.ErrMailboxNetwork, err)
}
