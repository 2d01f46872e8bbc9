// Package application turns chat events into use-case calls. It is transport
// agnostic: the chat adapter feeds Inbound events and delivers the returned
// Outbound messages.
package application

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/i18n"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
	"telegram-stream-access/internal/usecase"
)

// Inbound is one user event: a command or free text in Text, or a button press in Data.
type Inbound struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Text        string
	Data        string
}

// RateLimiter is satisfied by the Redis and in-memory fixed-window limiters.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Deps are the collaborators of the Coordinator. Limiter is optional.
type Deps struct {
	Entitlements usecase.EntitlementUseCase
	Inventory    usecase.InventoryUseCase
	Mailbox      usecase.MailboxUseCase
	Maintenance  usecase.MaintenanceUseCase
	Stats        usecase.StatsUseCase
	Broadcast    usecase.BroadcastUseCase
	States       repository.PendingActionRepository
	Notifier     adapter.Notifier
	Limiter      RateLimiter
	Translator   *i18n.Translator
	Contact      string // shown to users without access
}

const (
	commandLimit  = 20
	callbackLimit = 30
	limitWindow   = time.Minute
)

type handler func(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error)

type prefixRoute struct {
	Prefix string
	Fn     handler
}

// Coordinator owns the per-chat pending-action records and routes events.
type Coordinator struct {
	ent     usecase.EntitlementUseCase
	inv     usecase.InventoryUseCase
	mail    usecase.MailboxUseCase
	maint   usecase.MaintenanceUseCase
	stats   usecase.StatsUseCase
	bcast   usecase.BroadcastUseCase
	states  repository.PendingActionRepository
	notify  adapter.Notifier
	limiter RateLimiter
	t       *i18n.Translator
	contact string
	log     *zerolog.Logger

	commands  map[string]handler
	callbacks map[string]handler
	prefixes  []prefixRoute
	flows     map[string]flow

	fetches sync.WaitGroup
	now     func() time.Time
}

func NewCoordinator(d Deps, logger *zerolog.Logger) (*Coordinator, error) {
	switch {
	case d.Entitlements == nil, d.Inventory == nil, d.Mailbox == nil, d.Maintenance == nil:
		return nil, errors.New("coordinator: missing use case")
	case d.States == nil || d.Notifier == nil || d.Translator == nil:
		return nil, errors.New("coordinator: missing state store, notifier or translator")
	}
	l := logger.With().Str("component", "coordinator").Logger()
	c := &Coordinator{
		ent:     d.Entitlements,
		inv:     d.Inventory,
		mail:    d.Mailbox,
		maint:   d.Maintenance,
		stats:   d.Stats,
		bcast:   d.Broadcast,
		states:  d.States,
		notify:  d.Notifier,
		limiter: d.Limiter,
		t:       d.Translator,
		contact: d.Contact,
		log:     &l,
		now:     time.Now,
	}
	c.commands = c.commandRoutes()
	c.callbacks = c.callbackRoutes()
	c.prefixes = c.prefixRoutes()
	c.flows = c.flowTable()
	return c, nil
}

// Wait blocks until background mailbox fetches have delivered their results.
func (c *Coordinator) Wait() { c.fetches.Wait() }

// parseCommand splits "/cmd@bot arg text" into ("cmd", "arg text").
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// IsCommand reports whether text should go to HandleCommand.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

func (c *Coordinator) HandleCommand(ctx context.Context, in Inbound) []adapter.Outbound {
	cmd, arg := parseCommand(in.Text)
	ctx = logging.WithFlow(ctx, "cmd:"+cmd)
	if out, limited := c.rateLimited(ctx, in, "/"+cmd, commandLimit); limited {
		return out
	}
	h, ok := c.commands[cmd]
	if !ok {
		metrics.IncBotCommand("unknown", "ignored")
		return c.reply(in, c.t.T("unknown_command"))
	}
	out, err := h(ctx, in, arg)
	return c.finish(ctx, in, "/"+cmd, out, err)
}

func (c *Coordinator) HandleCallback(ctx context.Context, in Inbound) []adapter.Outbound {
	data := strings.TrimSpace(in.Data)
	ctx = logging.WithFlow(ctx, "cb:"+data)
	if out, limited := c.rateLimited(ctx, in, "cb:"+data, callbackLimit); limited {
		return out
	}
	if h, ok := c.callbacks[data]; ok {
		out, err := h(ctx, in, "")
		return c.finish(ctx, in, data, out, err)
	}
	for _, pr := range c.prefixes {
		if strings.HasPrefix(data, pr.Prefix) {
			out, err := pr.Fn(ctx, in, strings.TrimPrefix(data, pr.Prefix))
			return c.finish(ctx, in, pr.Prefix, out, err)
		}
	}
	c.log.Debug().Str("data", data).Msg("unknown callback data")
	return c.reply(in, c.t.T("unknown_command"))
}

// HandleText feeds free text into the chat's pending action. Without one the
// text is ignored with a menu hint; it is never guessed at.
func (c *Coordinator) HandleText(ctx context.Context, in Inbound) []adapter.Outbound {
	if out, limited := c.rateLimited(ctx, in, "message", commandLimit); limited {
		return out
	}
	pa, err := c.states.GetState(ctx, in.ChatID)
	if err != nil {
		return c.finish(ctx, in, "text", nil, err)
	}
	if pa == nil {
		return c.withMenuButton(in, c.t.T("menu_hint"))
	}
	f, ok := c.flows[pa.Kind]
	if !ok {
		_ = c.states.ClearState(ctx, in.ChatID)
		return c.withMenuButton(in, c.t.T("menu_hint"))
	}
	ctx = logging.WithFlow(ctx, "flow:"+pa.Kind)
	if err := c.allowed(ctx, in, f.access); err != nil {
		_ = c.states.ClearState(ctx, in.ChatID)
		return c.finish(ctx, in, "flow:"+pa.Kind, nil, err)
	}
	out, err := f.text(ctx, in, pa, strings.TrimSpace(in.Text))
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		// malformed input keeps the flow; the user can retry or cancel
		metrics.IncBotCommand("flow:"+pa.Kind, string(domain.KindValidation))
		return c.replyCancelable(in, c.t.T("err_validation", esc(ve.Error()))+"\n"+c.t.T("expect_"+pa.Expect))
	}
	if err != nil {
		_ = c.states.ClearState(ctx, in.ChatID)
	}
	return c.finish(ctx, in, "flow:"+pa.Kind, out, err)
}

func (c *Coordinator) rateLimited(ctx context.Context, in Inbound, route string, limit int) ([]adapter.Outbound, bool) {
	if c.limiter == nil {
		return nil, false
	}
	key := fmt.Sprintf("rate_limit:%d:%s", in.UserID, route)
	ok, err := c.limiter.Allow(ctx, key, limit, limitWindow)
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("rate limiter unavailable")
		return nil, false
	}
	if !ok {
		metrics.IncRateLimitTriggered()
		return c.reply(in, c.t.T("rate_limited")), true
	}
	return nil, false
}

func (c *Coordinator) finish(ctx context.Context, in Inbound, route string, out []adapter.Outbound, err error) []adapter.Outbound {
	if err == nil {
		metrics.IncBotCommand(route, "ok")
		return out
	}
	kind := domain.Kind(err)
	metrics.IncBotCommand(route, string(kind))
	ev := logging.With(ctx, c.log).Warn()
	if kind == domain.KindInternal {
		ev = logging.With(ctx, c.log).Error()
	}
	ev.Err(err).Str("route", route).Str("kind", string(kind)).Msg("request failed")
	return append(out, c.reply(in, c.errorText(err))...)
}

var sentinelText = []struct {
	err error
	key string
}{
	{domain.ErrKeyNotFound, "err_key_not_found"},
	{domain.ErrKeyAlreadyUsed, "err_key_used"},
	{domain.ErrStockNotFound, "err_stock_not_found"},
	{domain.ErrDuplicateStock, "err_duplicate_stock"},
	{domain.ErrAccountNotFound, "err_account_not_found"},
	{domain.ErrUserNotFound, "err_user_not_found"},
	{domain.ErrNoMailboxCredential, "err_no_mailbox"},
	{domain.ErrFetchInProgress, "err_fetch_in_progress"},
	{domain.ErrMailboxAuth, "err_mailbox_auth"},
	{domain.ErrMailboxNetwork, "err_mailbox_network"},
	{domain.ErrCycleInProgress, "err_cycle_in_progress"},
}

// errorText renders err for the user. Wrapped causes are never shown for
// external or internal failures.
func (c *Coordinator) errorText(err error) string {
	for _, s := range sentinelText {
		if errors.Is(err, s.err) {
			return c.t.T(s.key)
		}
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return c.t.T("err_validation", esc(ve.Error()))
	}
	switch domain.Kind(err) {
	case domain.KindNotAuthorized:
		return c.t.T("err_not_authorized", esc(c.contact))
	case domain.KindNotFound:
		return c.t.T("err_not_found")
	case domain.KindConflict:
		return c.t.T("err_conflict")
	case domain.KindExternal:
		return c.t.T("err_external")
	default:
		return c.t.T("err_internal")
	}
}

// ---- access levels ----

type access int

const (
	accessPublic access = iota
	accessUser
	accessAdmin
)

func (c *Coordinator) allowed(ctx context.Context, in Inbound, a access) error {
	switch a {
	case accessAdmin:
		if !c.ent.IsAdmin(in.UserID) {
			return domain.ErrNotAuthorized
		}
	case accessUser:
		ok, err := c.ent.IsAuthorized(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotAuthorized
		}
	}
	return nil
}

func (c *Coordinator) authorized(next handler) handler {
	return func(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
		if err := c.allowed(ctx, in, accessUser); err != nil {
			return nil, err
		}
		return next(ctx, in, arg)
	}
}

func (c *Coordinator) adminOnly(next handler) handler {
	return func(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
		route := strings.TrimPrefix(logging.FlowFrom(ctx), "cmd:")
		if !c.ent.IsAdmin(in.UserID) {
			metrics.IncAdminCommand(route, "unauthorized")
			return nil, domain.ErrNotAuthorized
		}
		metrics.IncAdminCommand(route, "authorized")
		return next(ctx, in, arg)
	}
}

// ---- replies ----

func esc(s string) string { return html.EscapeString(s) }

func (c *Coordinator) reply(in Inbound, text string) []adapter.Outbound {
	return []adapter.Outbound{{ChatID: in.ChatID, Text: text, HTML: true}}
}

func (c *Coordinator) replyButtons(in Inbound, text string, rows [][]adapter.InlineButton) []adapter.Outbound {
	return []adapter.Outbound{{ChatID: in.ChatID, Text: text, HTML: true, Buttons: rows}}
}

func (c *Coordinator) replyCancelable(in Inbound, text string) []adapter.Outbound {
	return c.replyButtons(in, text, [][]adapter.InlineButton{{c.cancelButton()}})
}

func (c *Coordinator) withMenuButton(in Inbound, text string) []adapter.Outbound {
	return c.replyButtons(in, text, [][]adapter.InlineButton{{c.menuButton()}})
}

func (c *Coordinator) cancelButton() adapter.InlineButton {
	return adapter.InlineButton{Text: c.t.T("btn_cancel"), Data: "cancel"}
}

func (c *Coordinator) menuButton() adapter.InlineButton {
	return adapter.InlineButton{Text: c.t.T("btn_menu"), Data: "menu"}
}
