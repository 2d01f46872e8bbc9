package application

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/infra/i18n"
	"telegram-stream-access/internal/infra/memory"
	"telegram-stream-access/internal/usecase"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// --- Mock Use Cases ---

type mockEntitlements struct {
	usecase.EntitlementUseCase // Embed interface for forward compatibility
	mu                         sync.Mutex
	admins                     map[int64]bool
	users                      map[int64]*model.AuthorizedUser
	keys                       map[string]int // key text -> months, removed once redeemed
}

func newMockEntitlements(admins ...int64) *mockEntitlements {
	m := &mockEntitlements{admins: map[int64]bool{}, users: map[int64]*model.AuthorizedUser{}, keys: map[string]int{}}
	for _, id := range admins {
		m.admins[id] = true
	}
	return m
}

func (m *mockEntitlements) grant(id int64, expires time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &model.AuthorizedUser{ID: id, ExpiresAt: expires}
}

func (m *mockEntitlements) IsAdmin(id int64) bool { return m.admins[id] }

func (m *mockEntitlements) AdminIDs() []int64 {
	var ids []int64
	for id := range m.admins {
		ids = append(ids, id)
	}
	return ids
}

func (m *mockEntitlements) IsAuthorized(_ context.Context, id int64) (bool, error) {
	if m.admins[id] {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	return ok && u.IsActive(testNow), nil
}

func (m *mockEntitlements) GetUser(_ context.Context, id int64) (*model.AuthorizedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockEntitlements) GenerateKey(_ context.Context, months int) (*model.LicenseKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := "NFX-TEST-0000-000" + string(rune('A'+len(m.keys)))
	m.keys[k] = months
	return &model.LicenseKey{KeyText: k, DurationMonths: months, CreatedAt: testNow}, nil
}

func (m *mockEntitlements) RedeemKey(_ context.Context, text string, id int64, name string) (*model.Redemption, error) {
	text = model.NormalizeKey(text)
	if !strings.HasPrefix(text, "NFX-") {
		return nil, domain.Invalid("key", "malformed key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	months, ok := m.keys[text]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	delete(m.keys, text)
	u := &model.AuthorizedUser{ID: id, DisplayName: name, ExpiresAt: model.AddMonths(testNow, months)}
	m.users[id] = u
	return &model.Redemption{Key: model.LicenseKey{KeyText: text, DurationMonths: months, Used: true}, User: *u}, nil
}

func (m *mockEntitlements) AddUser(_ context.Context, id int64, name string, months int) (*model.AuthorizedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &model.AuthorizedUser{ID: id, DisplayName: name, ExpiresAt: model.AddMonths(testNow, months)}
	m.users[id] = u
	return u, nil
}

func (m *mockEntitlements) RemoveUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(m.users, id)
	return nil
}

type mockInventory struct {
	usecase.InventoryUseCase // Embed interface
	mu                       sync.Mutex
	stock                    []*model.UnsoldStockItem
	sold                     []*model.SoldAccount
	sells                    int
}

func (m *mockInventory) ListUnsold(context.Context) ([]*model.UnsoldStockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.UnsoldStockItem(nil), m.stock...), nil
}

func (m *mockInventory) ListSold(context.Context) ([]*model.SoldAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.SoldAccount(nil), m.sold...), nil
}

func (m *mockInventory) ListSoldByBuyer(_ context.Context, buyer int64) ([]*model.SoldAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SoldAccount
	for _, a := range m.sold {
		if a.BuyerID == buyer {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockInventory) AddUnsold(_ context.Context, addr, secret string) (*model.UnsoldStockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := &model.UnsoldStockItem{ID: int64(len(m.stock) + 100), Address: addr, Secret: secret, CreatedAt: testNow}
	m.stock = append(m.stock, it)
	return it, nil
}

func (m *mockInventory) Sell(_ context.Context, stockID, buyer int64, months int) (*model.DeliveryPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sells++
	for i, it := range m.stock {
		if it.ID != stockID {
			continue
		}
		m.stock = append(m.stock[:i], m.stock[i+1:]...)
		acc := &model.SoldAccount{ID: int64(len(m.sold) + 1), Address: it.Address, Secret: it.Secret, BuyerID: buyer, ExpiresAt: model.AddMonths(testNow, months)}
		m.sold = append(m.sold, acc)
		return &model.DeliveryPayload{AccountID: acc.ID, BuyerID: buyer, Address: acc.Address, Secret: acc.Secret, ExpiresAt: acc.ExpiresAt}, nil
	}
	return nil, domain.ErrStockNotFound
}

func (m *mockInventory) Renew(_ context.Context, id int64, months int) (*model.SoldAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.sold {
		if a.ID == id {
			a.ExpiresAt = model.AddMonths(a.ExpiresAt, months)
			return a, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

type mockMailbox struct {
	usecase.MailboxUseCase // Embed interface
	FetchFunc              func(ctx context.Context, requester int64, kind model.FetchKind) (*model.FetchResult, error)
}

func (m *mockMailbox) Fetch(ctx context.Context, requester int64, kind model.FetchKind) (*model.FetchResult, error) {
	return m.FetchFunc(ctx, requester, kind)
}

func (m *mockMailbox) SetCredential(_ context.Context, owner int64, addr, secret string) (*model.MailboxCredential, error) {
	return &model.MailboxCredential{OwnerID: owner, Address: addr, Secret: secret}, nil
}

type mockMaintenance struct {
	usecase.MaintenanceUseCase // Embed interface
	Report                     *usecase.CycleReport
	Err                        error
}

func (m *mockMaintenance) RunCycle(context.Context) (*usecase.CycleReport, error) {
	return m.Report, m.Err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

// --- Notifier ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []adapter.Outbound
	Err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg adapter.Outbound) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.Err
}

func (n *recordingNotifier) Sent() []adapter.Outbound {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]adapter.Outbound(nil), n.sent...)
}

// --- Fixture ---

const (
	adminID = int64(9000)
	userID  = int64(42)
	guestID = int64(77)
)

type fixture struct {
	c      *Coordinator
	t      *i18n.Translator
	ent    *mockEntitlements
	inv    *mockInventory
	mail   *mockMailbox
	maint  *mockMaintenance
	states *memory.StateStore
	notify *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	f := &fixture{
		t:      tr,
		ent:    newMockEntitlements(adminID),
		inv:    &mockInventory{},
		mail:   &mockMailbox{},
		maint:  &mockMaintenance{Report: &usecase.CycleReport{StartedAt: testNow}},
		states: memory.NewStateStore(time.Minute),
		notify: &recordingNotifier{},
	}
	f.ent.grant(userID, testNow.AddDate(0, 1, 0))
	c, err := NewCoordinator(Deps{
		Entitlements: f.ent,
		Inventory:    f.inv,
		Mailbox:      f.mail,
		Maintenance:  f.maint,
		States:       f.states,
		Notifier:     f.notify,
		Translator:   tr,
		Contact:      "@owner",
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	c.now = func() time.Time { return testNow }
	f.c = c
	return f
}

func cmd(from int64, text string) Inbound {
	return Inbound{ChatID: from, UserID: from, DisplayName: "tester", Text: text}
}

func cb(from int64, data string) Inbound {
	return Inbound{ChatID: from, UserID: from, DisplayName: "tester", Data: data}
}

func buttonData(out adapter.Outbound) []string {
	var data []string
	for _, row := range out.Buttons {
		for _, b := range row {
			data = append(data, b.Data)
		}
	}
	return data
}
