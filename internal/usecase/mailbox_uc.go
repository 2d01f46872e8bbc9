package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/adapter"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
	"telegram-stream-access/internal/usecase/extract"
)

// Compile-time check
var _ MailboxUseCase = (*mailboxUC)(nil)

// MailboxUseCase fetches authentication artifacts from a stored mailbox and
// manages the mailbox credentials themselves.
type MailboxUseCase interface {
	Fetch(ctx context.Context, requesterID int64, kind model.FetchKind) (*model.FetchResult, error)
	SetCredential(ctx context.Context, ownerID int64, address, secret string) (*model.MailboxCredential, error)
	GetCredential(ctx context.Context, ownerID int64) (*model.MailboxCredential, error)
	DeleteCredential(ctx context.Context, ownerID int64) error
}

// MailboxKind is the search filter and extraction rule for one fetch kind.
type MailboxKind struct {
	From    string
	Subject string
	Rule    extract.Rule
}

type MailboxOptions struct {
	Window   time.Duration // how far back to search
	Timeout  time.Duration // bound on the whole fetch
	Kinds    map[model.FetchKind]MailboxKind
	AdminIDs []int64 // fallback credential owners, in order
}

type mailboxUC struct {
	creds      repository.MailboxCredentialRepository
	dialer     adapter.MailboxDialer
	locker     repository.Locker
	kinds      map[model.FetchKind]MailboxKind
	extractors map[model.FetchKind]*extract.Extractor
	adminIDs   []int64
	window     time.Duration
	timeout    time.Duration
	log        *zerolog.Logger
	now        func() time.Time
}

func NewMailboxUseCase(
	creds repository.MailboxCredentialRepository,
	dialer adapter.MailboxDialer,
	locker repository.Locker,
	opts MailboxOptions,
	logger *zerolog.Logger,
) (*mailboxUC, error) {
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	extractors := make(map[model.FetchKind]*extract.Extractor, len(opts.Kinds))
	for kind, k := range opts.Kinds {
		k.Rule.Kind = kind
		ex, err := extract.New(k.Rule)
		if err != nil {
			return nil, err
		}
		extractors[kind] = ex
	}
	return &mailboxUC{
		creds:      creds,
		dialer:     dialer,
		locker:     locker,
		kinds:      opts.Kinds,
		extractors: extractors,
		adminIDs:   append([]int64(nil), opts.AdminIDs...),
		window:     opts.Window,
		timeout:    opts.Timeout,
		log:        logger,
		now:        time.Now,
	}, nil
}

// Fetch scans the mailbox once for the newest message matching kind and
// extracts its artifact. Nothing qualifying is a result with an empty
// Artifact, not an error.
func (u *mailboxUC) Fetch(ctx context.Context, requesterID int64, kind model.FetchKind) (res *model.FetchResult, err error) {
	defer logging.TraceDuration(u.log, "MailboxUC.Fetch")()

	ex, ok := u.extractors[kind]
	if !ok {
		return nil, domain.Invalid("kind", fmt.Sprintf("unknown fetch kind %q", kind))
	}

	started := u.now()
	defer func() {
		result := "not_found"
		switch {
		case err != nil:
			result = string(domain.Kind(err))
		case res != nil && res.Artifact.Found():
			result = "found"
		}
		metrics.ObserveMailboxFetch(string(kind), result, u.now().Sub(started))
	}()

	cred, err := u.resolveCredential(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	lockKey := "mailbox:" + strings.ToLower(cred.Address)
	token, err := u.locker.TryLock(ctx, lockKey, u.timeout+5*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrFetchInProgress
		}
		return nil, err
	}
	defer func() {
		// ctx may already be past its deadline here.
		if uerr := u.locker.Unlock(context.Background(), lockKey, token); uerr != nil {
			u.log.Warn().Err(uerr).Msg("mailbox unlock failed")
		}
	}()

	log := u.log.With().Str("kind", string(kind)).Str("mailbox", logging.Redact(cred.Address, false)).Logger()

	sess, err := u.dialer.Dial(ctx, *cred)
	if err != nil {
		return nil, u.sessionErr(ctx, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("mailbox close")
		}
	}()

	k := u.kinds[kind]
	since := u.now().Add(-u.window)
	ids, err := sess.Search(ctx, adapter.SearchCriteria{From: k.From, Since: since, SubjectContains: k.Subject})
	if err != nil {
		return nil, u.sessionErr(ctx, err)
	}

	res = &model.FetchResult{Kind: kind, Mailbox: cred.Address}
	if len(ids) == 0 {
		log.Info().Msg("no matching messages")
		return res, nil
	}

	// Only the newest match is considered.
	msg, err := sess.Fetch(ctx, ids[len(ids)-1])
	if err != nil {
		return nil, u.sessionErr(ctx, err)
	}
	if !msg.ReceivedAt.IsZero() && msg.ReceivedAt.Before(since) {
		log.Info().Time("received_at", msg.ReceivedAt).Msg("newest match is outside the window")
		return res, nil
	}

	res.Artifact = ex.Extract(msg)
	log.Info().Bool("found", res.Artifact.Found()).Msg("mailbox fetch finished")
	return res, nil
}

// sessionErr turns a deadline into a network failure; adapter errors pass through.
func (u *mailboxUC) sessionErr(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrMailboxAuth) || errors.Is(err, domain.ErrMailboxNetwork) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrMailboxNetwork, ctx.Err())
	}
	return fmt.Errorf("%w: %v", domain.ErrMailboxNetwork, err)
}

// resolveCredential prefers the requester's own mailbox, then the first
// administrator that has one configured.
func (u *mailboxUC) resolveCredential(ctx context.Context, requesterID int64) (*model.MailboxCredential, error) {
	owners := append([]int64{requesterID}, u.adminIDs...)
	for _, owner := range owners {
		c, err := u.creds.FindByOwner(ctx, repository.NoTX, owner)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrNoMailboxCredential
}

func (u *mailboxUC) SetCredential(ctx context.Context, ownerID int64, address, secret string) (*model.MailboxCredential, error) {
	defer logging.TraceDuration(u.log, "MailboxUC.SetCredential")()

	address, secret = strings.TrimSpace(address), strings.TrimSpace(secret)
	if err := model.ValidateCredential(address, secret); err != nil {
		return nil, err
	}
	c := &model.MailboxCredential{OwnerID: ownerID, Address: address, Secret: secret, UpdatedAt: u.now()}
	if err := u.creds.Save(ctx, repository.NoTX, c); err != nil {
		return nil, err
	}
	u.log.Info().Int64("owner_id", ownerID).Str("mailbox", logging.Redact(address, false)).Msg("mailbox credential saved")
	return c, nil
}

func (u *mailboxUC) GetCredential(ctx context.Context, ownerID int64) (*model.MailboxCredential, error) {
	return u.creds.FindByOwner(ctx, repository.NoTX, ownerID)
}

func (u *mailboxUC) DeleteCredential(ctx context.Context, ownerID int64) error {
	defer logging.TraceDuration(u.log, "MailboxUC.DeleteCredential")()
	if err := u.creds.Delete(ctx, repository.NoTX, ownerID); err != nil {
		return err
	}
	u.log.Info().Int64("owner_id", ownerID).Msg("mailbox credential deleted")
	return nil
}
