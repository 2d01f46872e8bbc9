package application

import (
	"context"
	"strconv"
	"strings"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
)

// Pending action kinds.
const (
	flowRedeem        = "redeem_key"
	flowSetMailbox    = "set_mailbox"
	flowAddUser       = "add_user"
	flowRemoveUser    = "remove_user"
	flowAddStock      = "add_stock"
	flowDeleteStock   = "delete_stock"
	flowSell          = "sell"
	flowRenew         = "renew"
	flowReplace       = "replace"
	flowRemoveAccount = "remove_account"
	flowBroadcast     = "broadcast"
)

// Expected input shapes; each has an "expect_<shape>" prompt.
const (
	expectKey          = "key"
	expectCredential   = "credential"
	expectGrant        = "grant"
	expectID           = "id"
	expectIDMonths     = "id_months"
	expectIDCredential = "id_credential"
	expectButton       = "button"
	expectMessage      = "message"
)

// Sell is the only flow with more than one step.
const (
	stepInput   = "await_input"
	stepStock   = "await_stock"
	stepMonths  = "await_months"
	stepBuyer   = "await_buyer"
	stepConfirm = "await_confirm"
)

type textHandler func(ctx context.Context, in Inbound, pa *repository.PendingAction, text string) ([]adapter.Outbound, error)

type flow struct {
	access access
	expect string
	// text consumes the next message. A ValidationError keeps the flow open.
	text textHandler
}

func (c *Coordinator) flowTable() map[string]flow {
	return map[string]flow{
		flowRedeem:        {access: accessPublic, expect: expectKey, text: c.redeemText},
		flowSetMailbox:    {access: accessUser, expect: expectCredential, text: c.setMailboxText},
		flowAddUser:       {access: accessAdmin, expect: expectGrant, text: c.addUserText},
		flowRemoveUser:    {access: accessAdmin, expect: expectID, text: c.removeUserText},
		flowAddStock:      {access: accessAdmin, expect: expectCredential, text: c.addStockText},
		flowDeleteStock:   {access: accessAdmin, expect: expectID, text: c.deleteStockText},
		flowSell:          {access: accessAdmin, expect: expectButton, text: c.sellText},
		flowRenew:         {access: accessAdmin, expect: expectIDMonths, text: c.renewText},
		flowReplace:       {access: accessAdmin, expect: expectIDCredential, text: c.replaceText},
		flowRemoveAccount: {access: accessAdmin, expect: expectID, text: c.removeAccountText},
		flowBroadcast:     {access: accessAdmin, expect: expectMessage, text: c.broadcastText},
	}
}

// begin replaces any pending action of the chat with a new one.
func (c *Coordinator) begin(ctx context.Context, in Inbound, kind, step, expect string, data map[string]string) error {
	if data == nil {
		data = map[string]string{}
	}
	return c.states.SetState(ctx, in.ChatID, &repository.PendingAction{
		Kind:      kind,
		Step:      step,
		Expect:    expect,
		Data:      data,
		CreatedAt: c.now(),
	})
}

// startFlow runs the flow at once when the command carries its input,
// otherwise records the pending action and prompts for it.
func (c *Coordinator) startFlow(kind string) handler {
	return func(ctx context.Context, in Inbound, arg string) ([]adapter.Outbound, error) {
		f := c.flows[kind]
		if arg != "" {
			return f.text(ctx, in, &repository.PendingAction{Kind: kind, Step: stepInput, Expect: f.expect}, arg)
		}
		if err := c.begin(ctx, in, kind, stepInput, f.expect, nil); err != nil {
			return nil, err
		}
		return c.replyCancelable(in, c.t.T("prompt_"+kind)), nil
	}
}

// pending returns the chat's action if it is at kind/step, else nil.
func (c *Coordinator) pending(ctx context.Context, in Inbound, kind, step string) (*repository.PendingAction, error) {
	pa, err := c.states.GetState(ctx, in.ChatID)
	if err != nil || pa == nil {
		return nil, err
	}
	if pa.Kind != kind || pa.Step != step {
		return nil, nil
	}
	if pa.Data == nil {
		pa.Data = map[string]string{}
	}
	return pa, nil
}

func (c *Coordinator) done(ctx context.Context, in Inbound) {
	if err := c.states.ClearState(ctx, in.ChatID); err != nil {
		c.log.Warn().Err(err).Int64("chat_id", in.ChatID).Msg("clear pending action failed")
	}
}

// ---- input parsing ----

func parseID(s, field string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(field, "must be a positive number")
	}
	return id, nil
}

func parseMonths(s string) (int, error) {
	m, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || m < model.MinKeyMonths || m > model.MaxKeyMonths {
		return 0, domain.Invalid("months", "must be a number between 1 and 24")
	}
	return m, nil
}

// parseIDMonths reads "<id> <months>".
func parseIDMonths(s string) (int64, int, error) {
	f := strings.Fields(s)
	if len(f) != 2 {
		return 0, 0, domain.Invalid("", "expected two numbers: id and months")
	}
	id, err := parseID(f[0], "id")
	if err != nil {
		return 0, 0, err
	}
	m, err := parseMonths(f[1])
	if err != nil {
		return 0, 0, err
	}
	return id, m, nil
}

// parseGrant reads "<user id> <months> [display name]".
func parseGrant(s string) (int64, int, string, error) {
	f := strings.Fields(s)
	if len(f) < 2 {
		return 0, 0, "", domain.Invalid("", "expected user id, months and an optional name")
	}
	id, m, err := parseIDMonths(f[0] + " " + f[1])
	if err != nil {
		return 0, 0, "", err
	}
	return id, m, strings.Join(f[2:], " "), nil
}

// parseIDCredential reads "<id> address|password".
func parseIDCredential(s string) (int64, string, string, error) {
	head, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return 0, "", "", domain.Invalid("", "expected an id followed by address|password")
	}
	id, err := parseID(head, "id")
	if err != nil {
		return 0, "", "", err
	}
	addr, secret, err := model.ParseCredentialPair(rest)
	if err != nil {
		return 0, "", "", err
	}
	return id, addr, secret, nil
}
