// File: internal/usecase/entitlement_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/logging"
	"telegram-stream-access/internal/infra/metrics"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

const keyCollisionRetries = 5

// UserStatus pairs a stored user with whether the entitlement is live.
type UserStatus struct {
	User   model.AuthorizedUser
	Active bool
}

// EntitlementUseCase manages authorized users and single-use license keys.
type EntitlementUseCase interface {
	GenerateKey(ctx context.Context, durationMonths int) (*model.LicenseKey, error)
	RedeemKey(ctx context.Context, keyText string, requesterID int64, displayName string) (*model.Redemption, error)
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	IsAdmin(userID int64) bool
	AdminIDs() []int64
	AddUser(ctx context.Context, userID int64, displayName string, months int) (*model.AuthorizedUser, error)
	RemoveUser(ctx context.Context, userID int64) error
	GetUser(ctx context.Context, userID int64) (*model.AuthorizedUser, error)
	ListAuthorized(ctx context.Context) ([]UserStatus, error)
}

type entitlementUC struct {
	users    repository.AuthorizedUserRepository
	keys     repository.LicenseKeyRepository
	tm       repository.TransactionManager
	adminIDs []int64
	log      *zerolog.Logger

	now     func() time.Time
	entropy io.Reader
}

func NewEntitlementUseCase(
	users repository.AuthorizedUserRepository,
	keys repository.LicenseKeyRepository,
	tm repository.TransactionManager,
	adminIDs []int64,
	logger *zerolog.Logger,
) *entitlementUC {
	return &entitlementUC{
		users:    users,
		keys:     keys,
		tm:       tm,
		adminIDs: append([]int64(nil), adminIDs...),
		log:      logger,
		now:      time.Now,
	}
}

func (u *entitlementUC) GenerateKey(ctx context.Context, durationMonths int) (*model.LicenseKey, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.GenerateKey")()

	if durationMonths < model.MinKeyMonths || durationMonths > model.MaxKeyMonths {
		return nil, domain.Invalid("duration", fmt.Sprintf("must be between %d and %d months", model.MinKeyMonths, model.MaxKeyMonths))
	}

	for attempt := 1; attempt <= keyCollisionRetries; attempt++ {
		text, err := generateLicenseKey(u.entropy)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		k := &model.LicenseKey{
			KeyText:        text,
			DurationMonths: durationMonths,
			CreatedAt:      u.now(),
		}
		err = u.keys.Create(ctx, repository.NoTX, k)
		if err == nil {
			metrics.IncKeysGenerated()
			u.log.Info().Int("months", durationMonths).Str("key", logging.Redact(text, false)).Msg("license key generated")
			return k, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, err
		}
		u.log.Warn().Int("attempt", attempt).Msg("license key collision, retrying")
	}
	return nil, fmt.Errorf("generate key: %w", domain.ErrConflict)
}

// RedeemKey marks the key used and extends the requester in one transaction.
// Concurrent redeemers of the same key: exactly one succeeds, the rest get
// ErrKeyAlreadyUsed.
func (u *entitlementUC) RedeemKey(ctx context.Context, keyText string, requesterID int64, displayName string) (*model.Redemption, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.RedeemKey")()

	text := model.NormalizeKey(keyText)
	if text == "" {
		return nil, domain.Invalid("key", "must not be empty")
	}
	if requesterID <= 0 {
		return nil, domain.Invalid("user id", "must be a positive number")
	}

	var out model.Redemption
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := u.now()
		k, err := u.keys.MarkUsed(ctx, tx, text, requesterID, now)
		if errors.Is(err, domain.ErrNotFound) {
			existing, ferr := u.keys.FindByText(ctx, tx, text)
			switch {
			case errors.Is(ferr, domain.ErrNotFound):
				return domain.ErrKeyNotFound
			case ferr != nil:
				return ferr
			case existing.Used:
				return domain.ErrKeyAlreadyUsed
			default:
				return fmt.Errorf("key %s neither used nor updatable: %w", logging.Redact(text, false), domain.ErrConflict)
			}
		}
		if err != nil {
			return err
		}

		user, err := u.users.Extend(ctx, tx, requesterID, strings.TrimSpace(displayName), k.DurationMonths, now)
		if err != nil {
			return err
		}

		out = model.Redemption{Key: *k, User: *user}
		return nil
	})

	switch {
	case err == nil:
		metrics.IncKeyRedeemed("ok")
	case errors.Is(err, domain.ErrKeyNotFound):
		metrics.IncKeyRedeemed("not_found")
	case errors.Is(err, domain.ErrKeyAlreadyUsed):
		metrics.IncKeyRedeemed("already_used")
	default:
		metrics.IncKeyRedeemed("error")
	}
	if err != nil {
		return nil, err
	}

	u.log.Info().Int64("user_id", requesterID).Time("expires_at", out.User.ExpiresAt).Msg("license key redeemed")
	return &out, nil
}

func (u *entitlementUC) IsAdmin(userID int64) bool {
	for _, id := range u.adminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (u *entitlementUC) AdminIDs() []int64 {
	return append([]int64(nil), u.adminIDs...)
}

// IsAuthorized is true for administrators and users with an unexpired entitlement.
func (u *entitlementUC) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	if u.IsAdmin(userID) {
		return true, nil
	}
	user, err := u.users.FindByID(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsActive(u.now()), nil
}

// AddUser grants months directly. Remaining time on an active entitlement is kept.
func (u *entitlementUC) AddUser(ctx context.Context, userID int64, displayName string, months int) (*model.AuthorizedUser, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.AddUser")()

	if months <= 0 {
		return nil, domain.Invalid("months", "must be a positive number")
	}
	if userID <= 0 {
		return nil, domain.Invalid("user id", "must be a positive number")
	}

	var out *model.AuthorizedUser
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		user, err := u.users.Extend(ctx, tx, userID, strings.TrimSpace(displayName), months, u.now())
		if err != nil {
			return err
		}
		out = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Int64("user_id", userID).Int("months", months).Msg("user granted access")
	return out, nil
}

func (u *entitlementUC) RemoveUser(ctx context.Context, userID int64) error {
	defer logging.TraceDuration(u.log, "EntitlementUC.RemoveUser")()
	if err := u.users.Delete(ctx, repository.NoTX, userID); err != nil {
		return err
	}
	u.log.Info().Int64("user_id", userID).Msg("user removed")
	return nil
}

func (u *entitlementUC) GetUser(ctx context.Context, userID int64) (*model.AuthorizedUser, error) {
	return u.users.FindByID(ctx, repository.NoTX, userID)
}

// ListAuthorized returns every stored user, soonest expiry first; lapsed
// users are included with Active=false.
func (u *entitlementUC) ListAuthorized(ctx context.Context) ([]UserStatus, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.ListAuthorized")()

	users, err := u.users.ListByExpiry(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	now := u.now()
	out := make([]UserStatus, 0, len(users))
	for _, usr := range users {
		out = append(out, UserStatus{User: *usr, Active: usr.IsActive(now)})
	}
	return out, nil
}
