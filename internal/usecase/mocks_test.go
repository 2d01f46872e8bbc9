//go:build !integration

package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/i18n"
)

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestTranslator() *i18n.Translator {
	fsys := fstest.MapFS{
		"locales/en.yaml": {Data: []byte(strings.Join([]string{
			`reminder_buyer: "%d days left on %s, expires %s"`,
			`reminder_channel: "account %d of buyer %d (%s) expires %s"`,
			`account_expired: "account %d (%s) expired"`,
		}, "\n"))},
		"locales/help-en.txt": {Data: []byte("help")},
	}
	t, err := i18n.NewTranslator(fsys, "en")
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

// -----------------------------
// memDB: every repository over one guarded state
// -----------------------------

type memState struct {
	users     map[int64]model.AuthorizedUser
	keys      map[string]model.LicenseKey
	creds     map[int64]model.MailboxCredential
	stock     map[int64]model.UnsoldStockItem
	sold      map[int64]model.SoldAccount
	reminders map[string]bool
	nextID    int64
}

func (s *memState) clone() *memState {
	c := &memState{
		users:     make(map[int64]model.AuthorizedUser, len(s.users)),
		keys:      make(map[string]model.LicenseKey, len(s.keys)),
		creds:     make(map[int64]model.MailboxCredential, len(s.creds)),
		stock:     make(map[int64]model.UnsoldStockItem, len(s.stock)),
		sold:      make(map[int64]model.SoldAccount, len(s.sold)),
		reminders: make(map[string]bool, len(s.reminders)),
		nextID:    s.nextID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	for k, v := range s.creds {
		c.creds[k] = v
	}
	for k, v := range s.stock {
		c.stock[k] = v
	}
	for k, v := range s.sold {
		c.sold[k] = v
	}
	for k, v := range s.reminders {
		c.reminders[k] = v
	}
	return c
}

type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex // serialises transactions like row locks would
	st   *memState

	// failures injected by tests
	createKeyErrs []error
	extendUserErr error
	insertSoldErr error
	recordErr     error
}

func newMemDB() *memDB {
	return &memDB{st: (&memState{}).clone()}
}

func (db *memDB) id() int64 {
	db.st.nextID++
	return db.st.nextID
}

// WithTx serialises fn and restores the prior state when fn fails.
func (db *memDB) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snap := db.st.clone()
	db.mu.Unlock()

	hctx, committed := repository.WithCommitHooks(ctx)
	if err := fn(hctx, struct{}{}); err != nil {
		db.mu.Lock()
		db.st = snap
		db.mu.Unlock()
		return err
	}
	committed()
	return nil
}

// ---- users ----

type memUsers struct{ db *memDB }

func (r memUsers) Extend(_ context.Context, _ repository.Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.extendUserErr != nil {
		return nil, r.db.extendUserErr
	}
	u, ok := r.db.st.users[id]
	if !ok {
		fresh, err := model.NewAuthorizedUser(id, displayName, now, now)
		if err != nil {
			return nil, err
		}
		u = *fresh
	} else if displayName != "" {
		u.DisplayName = displayName
	}
	u.Extend(months, now)
	r.db.st.users[id] = u
	return &u, nil
}

func (r memUsers) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.AuthorizedUser, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.st.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r memUsers) Delete(_ context.Context, _ repository.Tx, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.st.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.db.st.users, id)
	return nil
}

func (r memUsers) ListByExpiry(_ context.Context, _ repository.Tx) ([]*model.AuthorizedUser, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*model.AuthorizedUser, 0, len(r.db.st.users))
	for _, u := range r.db.st.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memUsers) CountActive(_ context.Context, _ repository.Tx, now time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, u := range r.db.st.users {
		if u.IsActive(now) {
			n++
		}
	}
	return n, nil
}

// ---- license keys ----

type memKeys struct{ db *memDB }

func (r memKeys) Create(_ context.Context, _ repository.Tx, k *model.LicenseKey) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if len(r.db.createKeyErrs) > 0 {
		err := r.db.createKeyErrs[0]
		r.db.createKeyErrs = r.db.createKeyErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := r.db.st.keys[k.KeyText]; ok {
		return domain.ErrAlreadyExists
	}
	r.db.st.keys[k.KeyText] = *k
	return nil
}

func (r memKeys) FindByText(_ context.Context, _ repository.Tx, text string) (*model.LicenseKey, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k, ok := r.db.st.keys[text]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return &k, nil
}

func (r memKeys) MarkUsed(_ context.Context, _ repository.Tx, text string, usedBy int64, usedAt time.Time) (*model.LicenseKey, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	k, ok := r.db.st.keys[text]
	if !ok || k.Used {
		return nil, domain.ErrNotFound
	}
	k.Used, k.UsedBy, k.UsedAt = true, &usedBy, &usedAt
	r.db.st.keys[text] = k
	return &k, nil
}

// ---- mailbox credentials ----

type memCreds struct{ db *memDB }

func (r memCreds) Save(_ context.Context, _ repository.Tx, c *model.MailboxCredential) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.st.creds[c.OwnerID] = *c
	return nil
}

func (r memCreds) FindByOwner(_ context.Context, _ repository.Tx, owner int64) (*model.MailboxCredential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.st.creds[owner]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r memCreds) Delete(_ context.Context, _ repository.Tx, owner int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.st.creds[owner]; !ok {
		return domain.ErrNoMailboxCredential
	}
	delete(r.db.st.creds, owner)
	return nil
}

// ---- stock ----

type memStock struct{ db *memDB }

func (r memStock) Add(_ context.Context, _ repository.Tx, item *model.UnsoldStockItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, it := range r.db.st.stock {
		if strings.EqualFold(it.Address, item.Address) {
			return domain.ErrDuplicateStock
		}
	}
	for _, a := range r.db.st.sold {
		if strings.EqualFold(a.Address, item.Address) {
			return domain.ErrDuplicateStock
		}
	}
	item.ID = r.db.id()
	r.db.st.stock[item.ID] = *item
	return nil
}

func (r memStock) ListNewestFirst(_ context.Context, _ repository.Tx) ([]*model.UnsoldStockItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*model.UnsoldStockItem, 0, len(r.db.st.stock))
	for _, it := range r.db.st.stock {
		it := it
		out = append(out, &it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r memStock) Take(_ context.Context, _ repository.Tx, id int64) (*model.UnsoldStockItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	it, ok := r.db.st.stock[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(r.db.st.stock, id)
	return &it, nil
}

func (r memStock) Count(_ context.Context, _ repository.Tx) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.st.stock), nil
}

// ---- sold accounts ----

type memSold struct{ db *memDB }

func (r memSold) Insert(_ context.Context, _ repository.Tx, acc *model.SoldAccount) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.insertSoldErr != nil {
		return r.db.insertSoldErr
	}
	acc.ID = r.db.id()
	r.db.st.sold[acc.ID] = *acc
	return nil
}

func (r memSold) FindByID(_ context.Context, _ repository.Tx, id int64) (*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.st.sold[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (r memSold) ExtendExpiry(_ context.Context, _ repository.Tx, id int64, months int) (*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.st.sold[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a.ExpiresAt = model.AddMonths(a.ExpiresAt, months)
	r.db.st.sold[id] = a
	return &a, nil
}

func (r memSold) UpdateCredential(_ context.Context, _ repository.Tx, id int64, address, secret string) (*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.st.sold[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	a.Address, a.Secret = address, secret
	r.db.st.sold[id] = a
	return &a, nil
}

func (r memSold) Delete(_ context.Context, _ repository.Tx, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.st.sold[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.db.st.sold, id)
	return nil
}

func (r memSold) ListExpiredIDs(_ context.Context, _ repository.Tx, now time.Time) ([]int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []int64
	for id, a := range r.db.st.sold {
		if a.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memSold) TakeExpired(_ context.Context, _ repository.Tx, id int64, now time.Time) (*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.st.sold[id]
	if !ok || !a.ExpiresAt.Before(now) {
		return nil, domain.ErrNotFound
	}
	delete(r.db.st.sold, id)
	return &a, nil
}

func (r memSold) ListExpiringBetween(_ context.Context, _ repository.Tx, from, to time.Time) ([]*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.SoldAccount
	for _, a := range r.db.st.sold {
		a := a
		if a.ExpiresAt.After(from) && !a.ExpiresAt.After(to) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (r memSold) List(_ context.Context, _ repository.Tx, buyerID int64) ([]*model.SoldAccount, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*model.SoldAccount
	for _, a := range r.db.st.sold {
		a := a
		if buyerID == 0 || a.BuyerID == buyerID {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- reminder log ----

type memReminderLog struct{ db *memDB }

func (r memReminderLog) Record(_ context.Context, _ repository.Tx, accountID int64, expiresAt time.Time, daysLeft int, _ time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.recordErr != nil {
		return false, r.db.recordErr
	}
	k := fmt.Sprintf("%d|%s|%d", accountID, expiresAt.UTC().Format(time.RFC3339Nano), daysLeft)
	if r.db.st.reminders[k] {
		return false, nil
	}
	r.db.st.reminders[k] = true
	return true, nil
}

func (r memReminderLog) Forget(_ context.Context, _ repository.Tx, accountID int64, expiresAt time.Time, daysLeft int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.st.reminders, fmt.Sprintf("%d|%s|%d", accountID, expiresAt.UTC().Format(time.RFC3339Nano), daysLeft))
	return nil
}

// -----------------------------
// Adapters
// -----------------------------

type fakeNotifier struct {
	mu   sync.Mutex
	sent []adapter.Outbound
	// SendFunc, when set, decides the result of each send.
	SendFunc func(ctx context.Context, msg adapter.Outbound) error
}

// Send records every attempt, including ones SendFunc fails.
func (n *fakeNotifier) Send(ctx context.Context, msg adapter.Outbound) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	if n.SendFunc != nil {
		return n.SendFunc(ctx, msg)
	}
	return nil
}

func (n *fakeNotifier) Sent() []adapter.Outbound {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]adapter.Outbound(nil), n.sent...)
}

func (n *fakeNotifier) SentTo(chatID int64) []adapter.Outbound {
	var out []adapter.Outbound
	for _, m := range n.Sent() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeSession struct {
	messages []*adapter.MailMessage // ascending receive order
	lastCrit adapter.SearchCriteria
	fetched  []uint32
	closed   bool

	SearchErr error
	FetchErr  error
}

func (s *fakeSession) Search(_ context.Context, c adapter.SearchCriteria) ([]uint32, error) {
	s.lastCrit = c
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	var ids []uint32
	for _, m := range s.messages {
		if c.From != "" && !strings.Contains(strings.ToLower(m.From), strings.ToLower(c.From)) {
			continue
		}
		if c.SubjectContains != "" && !strings.Contains(strings.ToLower(m.Subject), strings.ToLower(c.SubjectContains)) {
			continue
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (s *fakeSession) Fetch(_ context.Context, id uint32) (*adapter.MailMessage, error) {
	s.fetched = append(s.fetched, id)
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	for _, m := range s.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errors.New("no such message")
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	session *fakeSession
	dialed  []model.MailboxCredential
	DialErr error
	// DialFunc overrides everything when set.
	DialFunc func(ctx context.Context, cred model.MailboxCredential) (adapter.MailboxSession, error)
}

func (d *fakeDialer) Dial(ctx context.Context, cred model.MailboxCredential) (adapter.MailboxSession, error) {
	d.dialed = append(d.dialed, cred)
	if d.DialFunc != nil {
		return d.DialFunc(ctx, cred)
	}
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return d.session, nil
}

// fakeLocker is a plain in-process try-lock without expiry.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockHeld
	}
	l.held[key] = "tok-" + key
	return l.held[key], nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

func (l *fakeLocker) isHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}
