package application

import (
	"context"
	"fmt"
	"strconv"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/logging"
)

// durationChoices are the month buttons offered for keys and sales.
var durationChoices = []int{1, 3, 6, 12}

func (c *Coordinator) durationButtons(prefix string) [][]adapter.InlineButton {
	row := make([]adapter.InlineButton, 0, len(durationChoices))
	for _, m := range durationChoices {
		row = append(row, adapter.InlineButton{Text: c.t.T("btn_months", m), Data: prefix + strconv.Itoa(m)})
	}
	return [][]adapter.InlineButton{row, {c.cancelButton()}}
}

func (c *Coordinator) handleGenerateKey(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
	if arg == "" {
		return c.replyButtons(in, c.t.T("genkey_choose"), c.durationButtons("genkey:")), nil
	}
	months, err := parseMonths(arg)
	if err != nil {
		return nil, err
	}
	k, err := c.ent.GenerateKey(ctx, months)
	if err != nil {
		return nil, err
	}
	return c.withMenuButton(in, c.t.T("key_generated", esc(k.KeyText), k.DurationMonths)), nil
}

// ---- users ----

func (c *Coordinator) addUserText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, months, name, err := parseGrant(text)
	if err != nil {
		return nil, err
	}
	u, err := c.ent.AddUser(ctx, id, name, months)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("user_added", u.ID, u.ExpiresAt.UTC().Format(dateLayout))), nil
}

func (c *Coordinator) removeUserText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, err := parseID(text, "user id")
	if err != nil {
		return nil, err
	}
	if err := c.ent.RemoveUser(ctx, id); err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("user_removed", id)), nil
}

func (c *Coordinator) handleListUsers(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	users, err := c.ent.ListAuthorized(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return c.withMenuButton(in, c.t.T("users_empty")), nil
	}
	lines := make([]string, 0, len(users))
	for _, s := range users {
		state := c.t.T("state_active")
		if !s.Active {
			state = c.t.T("state_expired")
		}
		lines = append(lines, c.t.T("users_line", s.User.ID, esc(s.User.DisplayName), s.User.ExpiresAt.UTC().Format(dateLayout), state))
	}
	return c.withMenuButton(in, c.t.T("users_header", len(users))+"\n"+c.limitLines(lines)), nil
}

// ---- stock ----

func (c *Coordinator) addStockText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	addr, secret, err := model.ParseCredentialPair(text)
	if err != nil {
		return nil, err
	}
	item, err := c.inv.AddUnsold(ctx, addr, secret)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("stock_added", item.ID, esc(item.Address))), nil
}

func (c *Coordinator) deleteStockText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, err := parseID(text, "stock id")
	if err != nil {
		return nil, err
	}
	if err := c.inv.DeleteUnsold(ctx, id); err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("stock_deleted", id)), nil
}

func (c *Coordinator) handleListStock(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	items, err := c.inv.ListUnsold(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return c.withMenuButton(in, c.t.T("stock_empty")), nil
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, c.t.T("stock_line", it.ID, esc(it.Address), it.CreatedAt.UTC().Format(dateLayout)))
	}
	return c.withMenuButton(in, c.t.T("stock_header", len(items))+"\n"+c.limitLines(lines)), nil
}

// ---- sold accounts ----

func (c *Coordinator) handleListSold(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	accs, err := c.inv.ListSold(ctx)
	if err != nil {
		return nil, err
	}
	if len(accs) == 0 {
		return c.withMenuButton(in, c.t.T("sold_empty")), nil
	}
	lines := make([]string, 0, len(accs))
	for _, a := range accs {
		lines = append(lines, c.t.T("sold_line", a.ID, esc(a.Address), a.BuyerID, a.ExpiresAt.UTC().Format(dateLayout)))
	}
	return c.withMenuButton(in, c.t.T("sold_header", len(accs))+"\n"+c.limitLines(lines)), nil
}

func (c *Coordinator) renewText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, months, err := parseIDMonths(text)
	if err != nil {
		return nil, err
	}
	acc, err := c.inv.Renew(ctx, id, months)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("account_renewed", acc.ID, acc.ExpiresAt.UTC().Format(dateLayout))), nil
}

func (c *Coordinator) replaceText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, addr, secret, err := parseIDCredential(text)
	if err != nil {
		return nil, err
	}
	acc, err := c.inv.Replace(ctx, id, addr, secret)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	out := c.withMenuButton(in, c.t.T("account_replaced", acc.ID, esc(acc.Address)))
	if err := c.notify.Send(ctx, c.deliveryMessage(acc.BuyerID, acc.ID, acc.Address, acc.Secret, acc.ExpiresAt.UTC().Format(dateLayout))); err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Int64("buyer_id", acc.BuyerID).Msg("deliver replacement failed")
		out = append(out, c.reply(in, c.t.T("delivery_failed", acc.BuyerID))...)
	}
	return out, nil
}

func (c *Coordinator) removeAccountText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	id, err := parseID(text, "account id")
	if err != nil {
		return nil, err
	}
	if err := c.inv.RemoveAccount(ctx, id); err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("account_removed", id)), nil
}

// ---- sell: stock button, duration button, buyer id, confirm ----

const sellStockButtons = 20

func (c *Coordinator) handleSellStart(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	items, err := c.inv.ListUnsold(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return c.withMenuButton(in, c.t.T("stock_empty")), nil
	}
	if err := c.begin(ctx, in, flowSell, stepStock, expectButton, nil); err != nil {
		return nil, err
	}
	rows := make([][]adapter.InlineButton, 0, sellStockButtons+1)
	for i, it := range items {
		if i == sellStockButtons {
			break
		}
		rows = append(rows, []adapter.InlineButton{{
			Text: fmt.Sprintf("#%d %s", it.ID, it.Address),
			Data: "sell:stock:" + strconv.FormatInt(it.ID, 10),
		}})
	}
	rows = append(rows, []adapter.InlineButton{c.cancelButton()})
	return c.replyButtons(in, c.t.T("sell_choose_stock"), rows), nil
}

func (c *Coordinator) handleSellStock(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
	pa, err := c.pending(ctx, in, flowSell, stepStock)
	if err != nil {
		return nil, err
	}
	if pa == nil {
		return c.withMenuButton(in, c.t.T("flow_expired")), nil
	}
	id, err := parseID(arg, "stock id")
	if err != nil {
		return nil, err
	}
	pa.Step = stepMonths
	pa.Data["stock_id"] = strconv.FormatInt(id, 10)
	if err := c.states.SetState(ctx, in.ChatID, pa); err != nil {
		return nil, err
	}
	return c.replyButtons(in, c.t.T("sell_choose_months", id), c.durationButtons("sell:months:")), nil
}

func (c *Coordinator) handleSellMonths(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
	pa, err := c.pending(ctx, in, flowSell, stepMonths)
	if err != nil {
		return nil, err
	}
	if pa == nil {
		return c.withMenuButton(in, c.t.T("flow_expired")), nil
	}
	months, err := parseMonths(arg)
	if err != nil {
		return nil, err
	}
	pa.Step = stepBuyer
	pa.Expect = expectID
	pa.Data["months"] = strconv.Itoa(months)
	if err := c.states.SetState(ctx, in.ChatID, pa); err != nil {
		return nil, err
	}
	return c.replyCancelable(in, c.t.T("sell_ask_buyer")), nil
}

func (c *Coordinator) sellText(ctx context.Context, in Inbound, pa *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	if pa.Step != stepBuyer {
		return nil, domain.Invalid("", "use the buttons above")
	}
	buyer, err := parseID(text, "buyer id")
	if err != nil {
		return nil, err
	}
	if pa.Data == nil {
		pa.Data = map[string]string{}
	}
	pa.Step = stepConfirm
	pa.Expect = expectButton
	pa.Data["buyer_id"] = strconv.FormatInt(buyer, 10)
	if err := c.states.SetState(ctx, in.ChatID, pa); err != nil {
		return nil, err
	}
	msg := c.t.T("sell_confirm", pa.Data["stock_id"], pa.Data["months"], buyer)
	return c.replyButtons(in, msg, [][]adapter.InlineButton{{
		{Text: c.t.T("btn_confirm"), Data: "sell:confirm"},
		c.cancelButton(),
	}}), nil
}

// handleSellConfirm clears the action before selling so a second press of
// the same button finds nothing to confirm.
func (c *Coordinator) handleSellConfirm(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	pa, err := c.pending(ctx, in, flowSell, stepConfirm)
	if err != nil {
		return nil, err
	}
	if pa == nil {
		return c.withMenuButton(in, c.t.T("flow_expired")), nil
	}
	c.done(ctx, in)

	stockID, err := parseID(pa.Data["stock_id"], "stock id")
	if err != nil {
		return nil, err
	}
	buyer, err := parseID(pa.Data["buyer_id"], "buyer id")
	if err != nil {
		return nil, err
	}
	months, err := parseMonths(pa.Data["months"])
	if err != nil {
		return nil, err
	}

	p, err := c.inv.Sell(ctx, stockID, buyer, months)
	if err != nil {
		return nil, err
	}
	expires := p.ExpiresAt.UTC().Format(dateLayout)
	if err := c.notify.Send(ctx, c.deliveryMessage(p.BuyerID, p.AccountID, p.Address, p.Secret, expires)); err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Int64("buyer_id", p.BuyerID).Msg("deliver sold account failed")
		return c.withMenuButton(in, c.t.T("sold_ok_undelivered", p.AccountID, p.BuyerID, esc(p.Address), esc(p.Secret), expires)), nil
	}
	return c.withMenuButton(in, c.t.T("sold_ok", p.AccountID, p.BuyerID, expires)), nil
}

func (c *Coordinator) deliveryMessage(buyer, accountID int64, address, secret, expires string) adapter.Outbound {
	return adapter.Outbound{
		ChatID: buyer,
		Text:   c.t.T("delivery", accountID, esc(address), esc(secret), expires),
		HTML:   true,
	}
}

// ---- maintenance, stats, broadcast ----

func (c *Coordinator) handleMaintenance(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	rep, err := c.maint.RunCycle(ctx)
	if err != nil && rep == nil {
		return nil, err
	}
	out := c.withMenuButton(in, c.t.T("maintenance_done", rep.RemindersSent, len(rep.Swept)))
	if err != nil {
		logging.With(ctx, c.log).Warn().Err(err).Msg("maintenance cycle finished with errors")
		out = append(out, c.reply(in, c.t.T("maintenance_partial"))...)
	}
	return out, nil
}

func (c *Coordinator) handleStats(ctx context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	if c.stats == nil {
		return nil, domain.ErrNotFound
	}
	st, err := c.stats.Totals(ctx)
	if err != nil {
		return nil, err
	}
	return c.withMenuButton(in, c.t.T("stats", st.ActiveUsers, st.UnsoldStock, st.SoldAccounts, st.ExpiringSoon)), nil
}

func (c *Coordinator) broadcastText(ctx context.Context, in Inbound, _ *repository.PendingAction, text string) ([]adapter.Outbound, error) {
	if c.bcast == nil {
		return nil, domain.ErrNotFound
	}
	n, err := c.bcast.BroadcastMessage(ctx, text)
	if err != nil {
		return nil, err
	}
	c.done(ctx, in)
	return c.withMenuButton(in, c.t.T("broadcast_queued", n)), nil
}
