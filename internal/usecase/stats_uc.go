package usecase

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type Stats struct {
	ActiveUsers  int
	UnsoldStock  int
	SoldAccounts int
	ExpiringSoon int // sold accounts expiring within three days
}

type StatsUseCase interface {
	Totals(ctx context.Context) (*Stats, error)
}

type statsUC struct {
	users repository.AuthorizedUserRepository
	stock repository.StockRepository
	sold  repository.SoldAccountRepository

	log *zerolog.Logger
	now func() time.Time
}

func NewStatsUseCase(users repository.AuthorizedUserRepository, stock repository.StockRepository, sold repository.SoldAccountRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{users: users, stock: stock, sold: sold, log: logger, now: time.Now}
}

// Totals also refreshes the matching gauges.
func (s *statsUC) Totals(ctx context.Context) (*Stats, error) {
	now := s.now()
	active, err := s.users.CountActive(ctx, repository.NoTX, now)
	if err != nil {
		return nil, err
	}
	unsold, err := s.stock.Count(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	sold, err := s.sold.List(ctx, repository.NoTX, 0)
	if err != nil {
		return nil, err
	}
	st := &Stats{ActiveUsers: active, UnsoldStock: unsold, SoldAccounts: len(sold)}
	horizon := now.Add(72 * time.Hour)
	for _, a := range sold {
		if a.ExpiresAt.After(now) && !a.ExpiresAt.After(horizon) {
			st.ExpiringSoon++
		}
	}

	metrics.SetAuthorizedUsersActive(active)
	metrics.SetStockUnsold(unsold)
	return st, nil
}
