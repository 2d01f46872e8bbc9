//go:build !integration

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
)

func newInventoryFixture(now time.Time) (*inventoryUC, *memDB) {
	db := newMemDB()
	uc := NewInventoryUseCase(memStock{db}, memSold{db}, db, newTestLogger())
	uc.now = fixedClock(now)
	return uc, db
}

func TestInventoryUseCase_Sell(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	t.Run("should move the item from stock to the buyer", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		item, err := uc.AddUnsold(ctx, " a@example.com ", "pw1")
		require.NoError(t, err)

		p, err := uc.Sell(ctx, item.ID, 77, 3)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", p.Address)
		assert.Equal(t, "pw1", p.Secret)
		assert.Equal(t, int64(77), p.BuyerID)
		assert.True(t, p.ExpiresAt.Equal(now.AddDate(0, 3, 0)))

		assert.Empty(t, db.st.stock)
		require.Len(t, db.st.sold, 1)
		assert.Equal(t, int64(77), db.st.sold[p.AccountID].BuyerID)
	})

	t.Run("should clamp a month-end sale to the last day of the target month", func(t *testing.T) {
		jan31 := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
		uc, _ := newInventoryFixture(jan31)
		item, err := uc.AddUnsold(ctx, "end@example.com", "pw")
		require.NoError(t, err)

		p, err := uc.Sell(ctx, item.ID, 77, 1)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), p.ExpiresAt)

		acc, err := uc.Renew(ctx, p.AccountID, 1)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 28, 8, 0, 0, 0, time.UTC), acc.ExpiresAt)
	})

	t.Run("should report a missing stock item", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		_, err := uc.Sell(ctx, 404, 77, 1)
		assert.ErrorIs(t, err, domain.ErrStockNotFound)
	})

	t.Run("should validate buyer and months before touching stock", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		item, _ := uc.AddUnsold(ctx, "a@example.com", "pw")
		_, err := uc.Sell(ctx, item.ID, 0, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		_, err = uc.Sell(ctx, item.ID, 77, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		_, err = uc.Sell(ctx, item.ID, 77, 25)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.Len(t, db.st.stock, 1)
	})

	t.Run("should keep the item in stock when the sold insert fails", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		item, _ := uc.AddUnsold(ctx, "a@example.com", "pw")
		db.insertSoldErr = errors.New("insert failed")
		_, err := uc.Sell(ctx, item.ID, 77, 1)
		require.Error(t, err)
		assert.Contains(t, db.st.stock, item.ID)
		assert.Empty(t, db.st.sold)
	})

	t.Run("should sell an item to only one of two concurrent buyers", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		item, _ := uc.AddUnsold(ctx, "a@example.com", "pw")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = uc.Sell(ctx, item.ID, int64(100+i), 1)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, domain.ErrStockNotFound)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Len(t, db.st.sold, 1)
	})
}

func TestInventoryUseCase_Stock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	t.Run("should reject malformed credentials", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		_, err := uc.AddUnsold(ctx, "not-an-address", "pw")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		_, err = uc.AddUnsold(ctx, "a@example.com", "  ")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("should reject an address already in stock or sold", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		item, err := uc.AddUnsold(ctx, "dup@example.com", "pw")
		require.NoError(t, err)

		_, err = uc.AddUnsold(ctx, " DUP@example.com ", "other")
		assert.ErrorIs(t, err, domain.ErrDuplicateStock)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		_, err = uc.Sell(ctx, item.ID, 77, 1)
		require.NoError(t, err)
		_, err = uc.AddUnsold(ctx, "dup@example.com", "pw")
		assert.ErrorIs(t, err, domain.ErrDuplicateStock)
		assert.Empty(t, db.st.stock)
		assert.Len(t, db.st.sold, 1)
	})

	t.Run("should list newest first and delete", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		first, _ := uc.AddUnsold(ctx, "a@example.com", "pw")
		uc.now = fixedClock(now.Add(time.Minute))
		second, _ := uc.AddUnsold(ctx, "b@example.com", "pw")

		list, err := uc.ListUnsold(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)

		require.NoError(t, uc.DeleteUnsold(ctx, first.ID))
		assert.ErrorIs(t, uc.DeleteUnsold(ctx, first.ID), domain.ErrNotFound)
	})
}

func TestInventoryUseCase_SoldAccounts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	seq := 0
	sellOne := func(t *testing.T, uc *inventoryUC, buyer int64, months int) *model.DeliveryPayload {
		t.Helper()
		seq++
		item, err := uc.AddUnsold(ctx, fmt.Sprintf("acc%d@example.com", seq), "pw")
		require.NoError(t, err)
		p, err := uc.Sell(ctx, item.ID, buyer, months)
		require.NoError(t, err)
		return p
	}

	t.Run("should stack renewals on the stored expiry", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		p := sellOne(t, uc, 77, 1)

		_, err := uc.Renew(ctx, p.AccountID, 1)
		require.NoError(t, err)
		acc, err := uc.Renew(ctx, p.AccountID, 2)
		require.NoError(t, err)
		assert.True(t, acc.ExpiresAt.Equal(now.AddDate(0, 1, 0).AddDate(0, 1, 0).AddDate(0, 2, 0)), "expires %v", acc.ExpiresAt)
	})

	t.Run("should map missing accounts to ErrAccountNotFound", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		_, err := uc.Renew(ctx, 99, 1)
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		_, err = uc.Replace(ctx, 99, "x@example.com", "pw")
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
		assert.ErrorIs(t, uc.RemoveAccount(ctx, 99), domain.ErrAccountNotFound)
	})

	t.Run("should replace the credential but keep buyer and expiry", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		p := sellOne(t, uc, 77, 1)
		acc, err := uc.Replace(ctx, p.AccountID, "new@example.com", "newpw")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", acc.Address)
		assert.Equal(t, "newpw", acc.Secret)
		assert.Equal(t, int64(77), acc.BuyerID)
		assert.True(t, acc.ExpiresAt.Equal(p.ExpiresAt))
	})

	t.Run("should filter sold accounts by buyer", func(t *testing.T) {
		uc, _ := newInventoryFixture(now)
		sellOne(t, uc, 1, 1)
		sellOne(t, uc, 2, 1)
		sellOne(t, uc, 1, 2)

		all, err := uc.ListSold(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		mine, err := uc.ListSoldByBuyer(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, mine, 2)
		_, err = uc.ListSoldByBuyer(ctx, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestInventoryUseCase_SweepExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

	t.Run("should return expired accounts to stock exactly once", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		db.st.sold[1] = model.SoldAccount{ID: 1, Address: "old@example.com", Secret: "s", BuyerID: 5, ExpiresAt: now.Add(-time.Hour)}
		db.st.sold[2] = model.SoldAccount{ID: 2, Address: "live@example.com", Secret: "s", BuyerID: 6, ExpiresAt: now.Add(time.Hour)}
		db.st.nextID = 10

		swept, err := uc.SweepExpired(ctx)
		require.NoError(t, err)
		require.Len(t, swept, 1)
		assert.Equal(t, int64(1), swept[0].AccountID)
		assert.Equal(t, int64(5), swept[0].BuyerID)

		assert.NotContains(t, db.st.sold, int64(1))
		assert.Contains(t, db.st.sold, int64(2))
		require.Len(t, db.st.stock, 1)
		assert.Equal(t, "old@example.com", db.st.stock[swept[0].StockID].Address)

		again, err := uc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Empty(t, again)
		assert.Len(t, db.st.stock, 1)
	})

	t.Run("should skip an account renewed after listing", func(t *testing.T) {
		uc, db := newInventoryFixture(now)
		db.st.sold[1] = model.SoldAccount{ID: 1, Address: "a@example.com", BuyerID: 5, ExpiresAt: now.Add(time.Hour)}
		uc.sold = staleExpiredList{memSold: memSold{db}, ids: []int64{1, 2}}

		swept, err := uc.SweepExpired(ctx)
		require.NoError(t, err)
		assert.Empty(t, swept)
		assert.Empty(t, db.st.stock)
		assert.Contains(t, db.st.sold, int64(1))
	})
}

// staleExpiredList reports ids as expired even after a renewal or delete.
type staleExpiredList struct {
	memSold
	ids []int64
}

func (s staleExpiredList) ListExpiredIDs(context.Context, repository.Tx, time.Time) ([]int64, error) {
	return s.ids, nil
}
