package usecase

import (
	"context"
	"errors"
	"fmt"
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
var _ InventoryUseCase = (*inventoryUC)(nil)

// InventoryUseCase moves credentials between the unsold pool and buyers.
// A credential is in exactly one of the two at any time.
type InventoryUseCase interface {
	AddUnsold(ctx context.Context, address, secret string) (*model.UnsoldStockItem, error)
	ListUnsold(ctx context.Context) ([]*model.UnsoldStockItem, error)
	DeleteUnsold(ctx context.Context, stockID int64) error
	Sell(ctx context.Context, stockID, buyerID int64, months int) (*model.DeliveryPayload, error)
	Renew(ctx context.Context, accountID int64, extraMonths int) (*model.SoldAccount, error)
	Replace(ctx context.Context, accountID int64, newAddress, newSecret string) (*model.SoldAccount, error)
	RemoveAccount(ctx context.Context, accountID int64) error
	SweepExpired(ctx context.Context) ([]model.SweptAccount, error)
	ListSold(ctx context.Context) ([]*model.SoldAccount, error)
	ListSoldByBuyer(ctx context.Context, buyerID int64) ([]*model.SoldAccount, error)
}

type inventoryUC struct {
	stock repository.StockRepository
	sold  repository.SoldAccountRepository
	tm    repository.TransactionManager
	log   *zerolog.Logger
	now   func() time.Time
}

func NewInventoryUseCase(stock repository.StockRepository, sold repository.SoldAccountRepository, tm repository.TransactionManager, logger *zerolog.Logger) *inventoryUC {
	return &inventoryUC{stock: stock, sold: sold, tm: tm, log: logger, now: time.Now}
}

func (u *inventoryUC) AddUnsold(ctx context.Context, address, secret string) (*model.UnsoldStockItem, error) {
	defer logging.TraceDuration(u.log, "InventoryUC.AddUnsold")()

	address, secret = strings.TrimSpace(address), strings.TrimSpace(secret)
	if err := model.ValidateCredential(address, secret); err != nil {
		return nil, err
	}
	item := &model.UnsoldStockItem{Address: address, Secret: secret, CreatedAt: u.now()}
	if err := u.stock.Add(ctx, repository.NoTX, item); err != nil {
		return nil, err
	}
	u.log.Info().Int64("stock_id", item.ID).Str("address", logging.Redact(address, false)).Msg("stock added")
	return item, nil
}

func (u *inventoryUC) ListUnsold(ctx context.Context) ([]*model.UnsoldStockItem, error) {
	return u.stock.ListNewestFirst(ctx, repository.NoTX)
}

func (u *inventoryUC) DeleteUnsold(ctx context.Context, stockID int64) error {
	defer logging.TraceDuration(u.log, "InventoryUC.DeleteUnsold")()
	if _, err := u.stock.Take(ctx, repository.NoTX, stockID); err != nil {
		return err
	}
	u.log.Info().Int64("stock_id", stockID).Msg("stock deleted")
	return nil
}

func validMonths(months int) error {
	if months < model.MinKeyMonths || months > model.MaxKeyMonths {
		return domain.Invalid("months", fmt.Sprintf("must be between %d and %d", model.MinKeyMonths, model.MaxKeyMonths))
	}
	return nil
}

// Sell removes the stock item and creates the sold row in one transaction.
// Two concurrent sells of one item: one wins, the other gets ErrStockNotFound.
func (u *inventoryUC) Sell(ctx context.Context, stockID, buyerID int64, months int) (*model.DeliveryPayload, error) {
	defer logging.TraceDuration(u.log, "InventoryUC.Sell")()

	if buyerID <= 0 {
		return nil, domain.Invalid("buyer id", "must be a positive number")
	}
	if err := validMonths(months); err != nil {
		return nil, err
	}

	var acc *model.SoldAccount
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		item, err := u.stock.Take(ctx, tx, stockID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrStockNotFound
			}
			return err
		}
		now := u.now()
		acc = &model.SoldAccount{
			Address:   item.Address,
			Secret:    item.Secret,
			BuyerID:   buyerID,
			ExpiresAt: model.AddMonths(now, months),
			SoldAt:    now,
		}
		return u.sold.Insert(ctx, tx, acc)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncStockSold()
	u.log.Info().Int64("stock_id", stockID).Int64("account_id", acc.ID).Int64("buyer_id", buyerID).Msg("stock sold")
	return &model.DeliveryPayload{
		AccountID: acc.ID,
		BuyerID:   acc.BuyerID,
		Address:   acc.Address,
		Secret:    acc.Secret,
		ExpiresAt: acc.ExpiresAt,
	}, nil
}

// Renew adds to the stored expiry, so overlapping renewals both count.
func (u *inventoryUC) Renew(ctx context.Context, accountID int64, extraMonths int) (*model.SoldAccount, error) {
	defer logging.TraceDuration(u.log, "InventoryUC.Renew")()

	if err := validMonths(extraMonths); err != nil {
		return nil, err
	}
	acc, err := u.sold.ExtendExpiry(ctx, repository.NoTX, accountID, extraMonths)
	if err != nil {
		return nil, notFoundAs(err, domain.ErrAccountNotFound)
	}
	u.log.Info().Int64("account_id", accountID).Time("expires_at", acc.ExpiresAt).Msg("account renewed")
	return acc, nil
}

func (u *inventoryUC) Replace(ctx context.Context, accountID int64, newAddress, newSecret string) (*model.SoldAccount, error) {
	defer logging.TraceDuration(u.log, "InventoryUC.Replace")()

	newAddress, newSecret = strings.TrimSpace(newAddress), strings.TrimSpace(newSecret)
	if err := model.ValidateCredential(newAddress, newSecret); err != nil {
		return nil, err
	}
	acc, err := u.sold.UpdateCredential(ctx, repository.NoTX, accountID, newAddress, newSecret)
	if err != nil {
		return nil, notFoundAs(err, domain.ErrAccountNotFound)
	}
	u.log.Info().Int64("account_id", accountID).Msg("account credential replaced")
	return acc, nil
}

func (u *inventoryUC) RemoveAccount(ctx context.Context, accountID int64) error {
	defer logging.TraceDuration(u.log, "InventoryUC.RemoveAccount")()
	if err := u.sold.Delete(ctx, repository.NoTX, accountID); err != nil {
		return notFoundAs(err, domain.ErrAccountNotFound)
	}
	u.log.Info().Int64("account_id", accountID).Msg("account removed")
	return nil
}

// SweepExpired returns each expired sold account to the pool, one transaction
// per row. Rows renewed or taken by a concurrent sweep are skipped, so running
// it twice moves nothing the second time.
func (u *inventoryUC) SweepExpired(ctx context.Context) ([]model.SweptAccount, error) {
	defer logging.TraceDuration(u.log, "InventoryUC.SweepExpired")()

	now := u.now()
	ids, err := u.sold.ListExpiredIDs(ctx, repository.NoTX, now)
	if err != nil {
		return nil, err
	}

	var (
		swept []model.SweptAccount
		errs  []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var rec *model.SweptAccount
		err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			acc, err := u.sold.TakeExpired(ctx, tx, id, now)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			item := &model.UnsoldStockItem{Address: acc.Address, Secret: acc.Secret, CreatedAt: now}
			if err := u.stock.Add(ctx, tx, item); err != nil {
				return err
			}
			rec = &model.SweptAccount{AccountID: acc.ID, StockID: item.ID, BuyerID: acc.BuyerID, Address: acc.Address}
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Int64("account_id", id).Msg("sweep row failed")
			errs = append(errs, fmt.Errorf("sweep account %d: %w", id, err))
			continue
		}
		if rec != nil {
			swept = append(swept, *rec)
		}
	}

	metrics.AddAccountsSwept(len(swept))
	if len(swept) > 0 {
		u.log.Info().Int("count", len(swept)).Msg("expired accounts returned to stock")
	}
	return swept, errors.Join(errs...)
}

func (u *inventoryUC) ListSold(ctx context.Context) ([]*model.SoldAccount, error) {
	return u.sold.List(ctx, repository.NoTX, 0)
}

func (u *inventoryUC) ListSoldByBuyer(ctx context.Context, buyerID int64) ([]*model.SoldAccount, error) {
	if buyerID <= 0 {
		return nil, domain.Invalid("buyer id", "must be a positive number")
	}
	return u.sold.List(ctx, repository.NoTX, buyerID)
}

// notFoundAs narrows a generic not-found to a specific sentinel.
func notFoundAs(err, specific error) error {
	if errors.Is(err, domain.ErrNotFound) && !errors.Is(err, specific) {
		return specific
	}
	return err
}
