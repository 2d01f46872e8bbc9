//go:build !integration

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/usecase/extract"
)

const householdPrefix = "https://www.netflix.com/account/travel/verify"

type mailboxFixture struct {
	uc     *mailboxUC
	db     *memDB
	dialer *fakeDialer
	sess   *fakeSession
	locker *fakeLocker
}

func newMailboxFixture(t *testing.T, now time.Time, msgs ...*adapter.MailMessage) *mailboxFixture {
	t.Helper()
	db := newMemDB()
	sess := &fakeSession{messages: msgs}
	dialer := &fakeDialer{session: sess}
	locker := newFakeLocker()
	uc, err := NewMailboxUseCase(memCreds{db}, dialer, locker, MailboxOptions{
		Window:  24 * time.Hour,
		Timeout: 5 * time.Second,
		Kinds: map[model.FetchKind]MailboxKind{
			model.FetchSignInCode: {From: "netflix.com", Rule: extract.Rule{CodeDigits: 4}},
			model.FetchHouseholdLink: {From: "netflix.com", Rule: extract.Rule{
				LinkPrefix:  householdPrefix,
				AnchorAllow: []string{"Get Code"},
			}},
		},
		AdminIDs: []int64{adminID},
	}, newTestLogger())
	require.NoError(t, err)
	uc.now = fixedClock(now)
	return &mailboxFixture{uc: uc, db: db, dialer: dialer, sess: sess, locker: locker}
}

func TestMailboxUseCase_Fetch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	const user int64 = 42

	codeMsg := func(id uint32, code string, age time.Duration) *adapter.MailMessage {
		return &adapter.MailMessage{
			ID:         id,
			From:       "info@account.netflix.com",
			Subject:    "Your sign-in code",
			ReceivedAt: now.Add(-age),
			Text:       "Enter this code to sign in: " + code,
		}
	}

	t.Run("should extract the code from the newest matching message", func(t *testing.T) {
		f := newMailboxFixture(t, now, codeMsg(1, "1111", 2*time.Hour), codeMsg(2, "2222", time.Minute))
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "Me@Example.com", Secret: "app-pw"}

		res, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		require.NoError(t, err)
		assert.Equal(t, model.ArtifactCode, res.Artifact.Type)
		assert.Equal(t, "2222", res.Artifact.Value)
		assert.Equal(t, "Me@Example.com", res.Mailbox)
		assert.Equal(t, []uint32{2}, f.sess.fetched)
		assert.Equal(t, "netflix.com", f.sess.lastCrit.From)
		assert.True(t, f.sess.lastCrit.Since.Equal(now.Add(-24*time.Hour)))
		assert.True(t, f.sess.closed)
		assert.False(t, f.locker.isHeld("mailbox:me@example.com"))
	})

	t.Run("should return an empty artifact when nothing matches", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}

		res, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		require.NoError(t, err)
		assert.False(t, res.Artifact.Found())
		assert.Empty(t, f.sess.fetched)
	})

	t.Run("should ignore a newest match older than the window", func(t *testing.T) {
		f := newMailboxFixture(t, now, codeMsg(1, "1234", 48*time.Hour))
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}

		res, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		require.NoError(t, err)
		assert.False(t, res.Artifact.Found())
	})

	t.Run("should extract an allowlisted household link", func(t *testing.T) {
		msg := &adapter.MailMessage{
			ID: 7, From: "info@account.netflix.com", ReceivedAt: now.Add(-time.Minute),
			HTML: `<p><a href="https://www.netflix.com/browse">Browse</a>` +
				`<a href="` + householdPrefix + `?nftoken=abc&amp;g=1">Get Code</a></p>`,
		}
		f := newMailboxFixture(t, now, msg)
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}

		res, err := f.uc.Fetch(ctx, user, model.FetchHouseholdLink)
		require.NoError(t, err)
		assert.Equal(t, model.ArtifactLink, res.Artifact.Type)
		assert.Equal(t, householdPrefix+"?nftoken=abc&g=1", res.Artifact.Value)
	})

	t.Run("should fall back to an admin credential", func(t *testing.T) {
		f := newMailboxFixture(t, now, codeMsg(1, "4321", time.Minute))
		f.db.st.creds[adminID] = model.MailboxCredential{OwnerID: adminID, Address: "admin@example.com", Secret: "pw"}

		res, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", res.Mailbox)
		require.Len(t, f.dialer.dialed, 1)
		assert.Equal(t, adminID, f.dialer.dialed[0].OwnerID)
	})

	t.Run("should fail without any credential", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		_, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		assert.ErrorIs(t, err, domain.ErrNoMailboxCredential)
		assert.Empty(t, f.dialer.dialed)
	})

	t.Run("should refuse a second fetch on the same mailbox", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}
		_, err := f.locker.TryLock(ctx, "mailbox:me@example.com", time.Minute)
		require.NoError(t, err)

		_, err = f.uc.Fetch(ctx, user, model.FetchSignInCode)
		assert.ErrorIs(t, err, domain.ErrFetchInProgress)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Empty(t, f.dialer.dialed)
	})

	t.Run("should pass through an auth failure and release the lock", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}
		f.dialer.DialErr = domain.ErrMailboxAuth

		_, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		assert.ErrorIs(t, err, domain.ErrMailboxAuth)
		assert.False(t, f.locker.isHeld("mailbox:me@example.com"))
	})

	t.Run("should wrap search failures as network errors and close the session", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		f.db.st.creds[user] = model.MailboxCredential{OwnerID: user, Address: "me@example.com", Secret: "pw"}
		f.sess.SearchErr = errors.New("connection reset")

		_, err := f.uc.Fetch(ctx, user, model.FetchSignInCode)
		assert.ErrorIs(t, err, domain.ErrMailboxNetwork)
		assert.Equal(t, domain.KindExternal, domain.Kind(err))
		assert.True(t, f.sess.closed)
	})

	t.Run("should reject unknown kinds", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		_, err := f.uc.Fetch(ctx, user, model.FetchPasswordReset)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestMailboxUseCase_Credentials(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should save, read and delete a credential", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		c, err := f.uc.SetCredential(ctx, 5, " me@example.com ", " pw ")
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", c.Address)
		assert.Equal(t, "pw", c.Secret)

		got, err := f.uc.GetCredential(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", got.Address)

		require.NoError(t, f.uc.DeleteCredential(ctx, 5))
		_, err = f.uc.GetCredential(ctx, 5)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("should validate the credential", func(t *testing.T) {
		f := newMailboxFixture(t, now)
		_, err := f.uc.SetCredential(ctx, 5, "nope", "pw")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestNewMailboxUseCase(t *testing.T) {
	t.Run("should reject a kind without an extraction rule", func(t *testing.T) {
		_, err := NewMailboxUseCase(nil, nil, nil, MailboxOptions{
			Kinds: map[model.FetchKind]MailboxKind{model.FetchSignInCode: {}},
		}, newTestLogger())
		assert.Error(t, err)
	})
}
