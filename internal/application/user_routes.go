package application

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/logging"
)

const dateLayout = "2006-01-02 15:04 MST"

func (c *Coordinator) commandRoutes() map[string]handler {
	return map[string]handler{
		"start":  c.handleStart,
		"menu":   c.handleStart,
		"help":   c.handleHelp,
		"cancel": c.handleCancel,
		"redeem": c.startFlow(flowRedeem),

		"signin":    c.authorized(c.fetchKind(model.FetchSignInCode)),
		"household": c.authorized(c.fetchKind(model.FetchHouseholdLink)),
		"reset":     c.authorized(c.fetchKind(model.FetchPasswordReset)),
		"status":    c.authorized(c.handleStatus),
		"accounts":  c.authorized(c.handleMyAccounts),
		"setmail":   c.authorized(c.startFlow(flowSetMailbox)),
		"mymail":    c.authorized(c.handleShowMailbox),
		"delmail":   c.authorized(c.handleDeleteMailbox),

		// These handlers are wrapped in our adminOnly middleware.
		"admin":         c.adminOnly(c.handleAdminMenu),
		"genkey":        c.adminOnly(c.handleGenerateKey),
		"users":         c.adminOnly(c.handleListUsers),
		"adduser":       c.adminOnly(c.startFlow(flowAddUser)),
		"removeuser":    c.adminOnly(c.startFlow(flowRemoveUser)),
		"stock":         c.adminOnly(c.handleListStock),
		"addstock":      c.adminOnly(c.startFlow(flowAddStock)),
		"delstock":      c.adminOnly(c.startFlow(flowDeleteStock)),
		"sell":          c.adminOnly(c.handleSellStart),
		"sold":          c.adminOnly(c.handleListSold),
		"renew":         c.adminOnly(c.startFlow(flowRenew)),
		"replace":       c.adminOnly(c.startFlow(flowReplace)),
		"removeaccount": c.adminOnly(c.startFlow(flowRemoveAccount)),
		"sweep":         c.adminOnly(c.handleMaintenance),
		"stats":         c.adminOnly(c.handleStats),
		"broadcast":     c.adminOnly(c.startFlow(flowBroadcast)),
	}
}

// Exact-match callbacks
func (c *Coordinator) callbackRoutes() map[string]handler {
	return map[string]handler{
		"menu":      c.handleStart,
		"help":      c.handleHelp,
		"cancel":    c.handleCancel,
		"redeem":    c.startFlow(flowRedeem),
		"status":    c.authorized(c.handleStatus),
		"accounts":  c.authorized(c.handleMyAccounts),
		"mailbox":   c.authorized(c.handleMailboxMenu),
		"mail:set":  c.authorized(c.startFlow(flowSetMailbox)),
		"mail:show": c.authorized(c.handleShowMailbox),
		"mail:del":  c.authorized(c.handleDeleteMailbox),

		"admin":               c.adminOnly(c.handleAdminMenu),
		"admin:genkey":        c.adminOnly(c.handleGenerateKey),
		"admin:users":         c.adminOnly(c.handleListUsers),
		"admin:adduser":       c.adminOnly(c.startFlow(flowAddUser)),
		"admin:removeuser":    c.adminOnly(c.startFlow(flowRemoveUser)),
		"admin:stock":         c.adminOnly(c.handleListStock),
		"admin:addstock":      c.adminOnly(c.startFlow(flowAddStock)),
		"admin:delstock":      c.adminOnly(c.startFlow(flowDeleteStock)),
		"admin:sell":          c.adminOnly(c.handleSellStart),
		"admin:sold":          c.adminOnly(c.handleListSold),
		"admin:renew":         c.adminOnly(c.startFlow(flowRenew)),
		"admin:replace":       c.adminOnly(c.startFlow(flowReplace)),
		"admin:removeaccount": c.adminOnly(c.startFlow(flowRemoveAccount)),
		"admin:sweep":         c.adminOnly(c.handleMaintenance),
		"admin:stats":         c.adminOnly(c.handleStats),
		"admin:broadcast":     c.adminOnly(c.startFlow(flowBroadcast)),
		"sell:confirm":        c.adminOnly(c.handleSellConfirm),
	}
}

// Prefix-match callbacks
func (c *Coordinator) prefixRoutes() []prefixRoute {
	return []prefixRoute{
		{Prefix: "fetch:", Fn: c.authorized(c.handleFetch)},
		{Prefix: "genkey:", Fn: c.adminOnly(c.handleGenerateKey)},
		{Prefix: "sell:stock:", Fn: c.adminOnly(c.handleSellStock)},
		{Prefix: "sell:months:", Fn: c.adminOnly(c.handleSellMonths)},
	}
}

func (c *Coordinator) handleStart(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	return c.mainMenu(ctx, in)
}

func (c *Coordinator) handleHelp(_ context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	return c.withMenuButton(in, c.t.Help()), nil
}

func (c *Coordinator) handleCancel(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	pa, err := c.states.GetState(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if pa == nil {
		return c.withMenuButton(in, c.t.T("nothing_to_cancel")), nil
	}
	if err := c.states.ClearState(ctx, in.ChatID); err != nil {
		return nil, err
	}
	return c.withMenuButton(in, c.t.T("cancelled")), nil
}

func (c *Coordinator) redeemText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Invalid("key", "must not be empty")
	}
	red, err := c.ent.RedeemKey(ctx, text, in.UserID, in.DisplayName)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	msg := c.t.T("redeemed", red.Key.DurationMonths, red.User.ExpiresAt.UTC().Format(dateLayout))
	return c.withMenuButton(in, msg), nil
}

func daysUntil(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

func (c *Coordinator) handleStatus(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	u, err := c.ent.GetUser(ctx, in.UserID)
	if err != nil {
		if domain.Kind(err) == domain.KindNotFound && c.ent.IsAdmin(in.UserID) {
			return c.withMenuButton(in, c.t.T("status_admin")), nil
		}
		return nil, err
	}
	now := c.now()
	if !u.IsActive(now) {
		return c.withMenuButton(in, c.t.T("status_expired", u.ExpiresAt.UTC().Format(dateLayout))), nil
	}
	return c.withMenuButton(in, c.t.T("status_active", u.ExpiresAt.UTC().Format(dateLayout), daysUntil(now, u.ExpiresAt))), nil
}

func (c *Coordinator) handleMyAccounts(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	accs, err := c.inv.ListSoldByBuyer(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(accs) == 0 {
		return c.withMenuButton(in, c.t.T("accounts_empty")), nil
	}
	lines := make([]string, 0, len(accs))
	for _, a := range accs {
		lines = append(lines, c.t.T("accounts_line", a.ID, esc(a.Address), esc(a.Secret), a.ExpiresAt.UTC().Format(dateLayout)))
	}
	return c.withMenuButton(in, c.t.T("accounts_header")+"\n"+c.limitLines(lines)), nil
}

// ---- mailbox ----

func (c *Coordinator) setMailboxText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	addr, secret, err := model.ParseCredentialPair(text)
	if err != nil {
		return nil, err
	}
	cred, err := c.mail.SetCredential(ctx, in.UserID, addr, secret)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("mailbox_saved", esc(cred.Address))), nil
}

func (c *Coordinator) handleShowMailbox(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	cred, err := c.mail.GetCredential(ctx, in.UserID)
	if err != nil {
		if domain.Kind(err) == domain.KindNotFound {
			return c.withMenuButton(in, c.t.T("mailbox_none")), nil
		}
		return nil, err
	}
	return c.withMenuButton(in, c.t.T("mailbox_current", esc(cred.Address))), nil
}

func (c *Coordinator) handleDeleteMailbox(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	if err := c.mail.DeleteCredential(ctx, in.UserID); err != nil {
		if domain.Kind(err) == domain.KindNotFound {
			return c.withMenuButton(in, c.t.T("mailbox_none")), nil
		}
		return nil, err
	}
	return c.withMenuButton(in, c.t.T("mailbox_deleted")), nil
}

func (c *Coordinator) fetchKind(kind model.FetchKind) handler {
	return func(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
		return c.handleFetch(ctx, in, string(kind))
	}
}

// handleFetch replies at once and delivers the artifact later through the
// notifier, so a slow mailbox never holds up the chat's update worker.
func (c *Coordinator) handleFetch(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
	kind := model.FetchKind(arg)
	switch kind {
	case model.FetchSignInCode, model.FetchHouseholdLink, model.FetchPasswordReset:
	default:
		return nil, domain.Invalid("kind", fmt.Sprintf("unknown fetch kind %q", arg))
	}

	bg := context.WithoutCancel(ctx)
	c.fetches.Add(1)
	go func() {
		defer c.fetches.Done()
		log := logging.With(bg, c.log)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("mailbox fetch panicked")
			}
		}()

		var msg adapter.Outbound
		res, err := c.mail.Fetch(bg, in.UserID, kind)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("mailbox fetch failed")
			msg = c.reply(in, c.errorText(err))[0]
		} else {
			msg = c.fetchResult(in, res)
		}
		if err := c.notify.Send(bg, msg); err != nil {
			log.Warn().Err(err).Msg("deliver fetch result failed")
		}
	}()

	return c.reply(in, c.t.T("fetch_started", c.t.T("kind_"+arg))), nil
}

func (c *Coordinator) fetchResult(in Inbound, res *model.FetchResult) adapter.Outbound {
	a := res.Artifact
	switch {
	case !a.Found():
		return c.reply(in, c.t.T("fetch_not_found", c.t.T("kind_"+string(res.Kind))))[0]
	case a.Type == model.ArtifactCode:
		return c.reply(in, c.t.T("fetch_code", esc(a.Value), a.ReceivedAt.UTC().Format(dateLayout)))[0]
	default:
		return c.replyButtons(in, c.t.T("fetch_link", c.t.T("kind_"+string(res.Kind)), esc(a.Value)),
			[][]adapter.InlineButton{{{Text: c.t.T("btn_open_link"), URL: a.Value}}})[0]
	}
}
