package application

import (
	"context"
	"strings"

	"telegram-stream-access/internal/domain/ports/adapter"
)

// maxListLines caps listings so a reply stays under Telegram's message size.
const maxListLines = 50

func (c *Coordinator) limitLines(lines []string) string {
	if len(lines) <= maxListLines {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:maxListLines], "\n") + "\n" + c.t.T("list_more", len(lines)-maxListLines)
}

func (c *Coordinator) btn(key, data string) adapter.InlineButton {
	return adapter.InlineButton{Text: c.t.T(key), Data: data}
}

func (c *Coordinator) mainMenu(ctx context.Context, in Inbound) ([]adapter.Outbound, error) {
	admin := c.ent.IsAdmin(in.UserID)
	ok := admin
	if !ok {
		var err error
		if ok, err = c.ent.IsAuthorized(ctx, in.UserID); err != nil {
			return nil, err
		}
	}
	if !ok {
		rows := [][]adapter.InlineButton{
			{c.btn("btn_redeem", "redeem")},
			{c.btn("btn_help", "help")},
		}
		return c.replyButtons(in, c.t.T("welcome_guest", esc(c.contact)), rows), nil
	}

	rows := [][]adapter.InlineButton{
		{c.btn("btn_signin", "fetch:signin_code"), c.btn("btn_household", "fetch:household_link")},
		{c.btn("btn_reset", "fetch:password_reset")},
		{c.btn("btn_status", "status"), c.btn("btn_accounts", "accounts")},
		{c.btn("btn_mailbox", "mailbox"), c.btn("btn_redeem", "redeem")},
		{c.btn("btn_help", "help")},
	}
	if admin {
		rows = append(rows, []adapter.InlineButton{c.btn("btn_admin", "admin")})
	}
	return c.replyButtons(in, c.t.T("welcome", esc(in.DisplayName)), rows), nil
}

func (c *Coordinator) handleAdminMenu(_ context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	rows := [][]adapter.InlineButton{
		{c.btn("btn_genkey", "admin:genkey"), c.btn("btn_users", "admin:users")},
		{c.btn("btn_adduser", "admin:adduser"), c.btn("btn_removeuser", "admin:removeuser")},
		{c.btn("btn_stock", "admin:stock"), c.btn("btn_addstock", "admin:addstock")},
		{c.btn("btn_delstock", "admin:delstock"), c.btn("btn_sell", "admin:sell")},
		{c.btn("btn_sold", "admin:sold"), c.btn("btn_renew", "admin:renew")},
		{c.btn("btn_replace", "admin:replace"), c.btn("btn_removeaccount", "admin:removeaccount")},
		{c.btn("btn_sweep", "admin:sweep"), c.btn("btn_stats", "admin:stats")},
		{c.btn("btn_broadcast", "admin:broadcast")},
		{c.menuButton()},
	}
	return c.replyButtons(in, c.t.T("admin_menu"), rows), nil
}

func (c *Coordinator) handleMailboxMenu(_ context.Context, in Inbound, _ string) ([]adapter.Outbound, error) {
	rows := [][]adapter.InlineButton{
		{c.btn("btn_mail_set", "mail:set"), c.btn("btn_mail_show", "mail:show")},
		{c.btn("btn_mail_del", "mail:del")},
		{c.menuButton()},
	}
	return c.replyButtons(in, c.t.T("mailbox_menu"), rows), nil
}
