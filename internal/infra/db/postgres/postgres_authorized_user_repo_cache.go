package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	"telegram-stream-access/internal/infra/metrics"
	red "telegram-stream-access/internal/infra/redis"
)

var _ repository.AuthorizedUserRepository = (*authorizedUserCacheDecorator)(nil)

// authorizedUserCacheDecorator caches FindByID for the per-message
// authorization check. Calls inside a transaction always hit the database.
type authorizedUserCacheDecorator struct {
	inner repository.AuthorizedUserRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewAuthorizedUserCacheDecorator(inner repository.AuthorizedUserRepository, cache red.RedisClient, ttl time.Duration) repository.AuthorizedUserRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &authorizedUserCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func authUserKey(id int64) string { return fmt.Sprintf("auth_user:%d", id) }

// invalidate drops the cached row once the write is visible to other readers.
// Evicting before a commit would let a concurrent miss re-cache the old row.
func (d *authorizedUserCacheDecorator) invalidate(ctx context.Context, tx repository.Tx, id int64) {
	key := authUserKey(id)
	if tx == nil {
		_ = d.cache.Del(ctx, key)
		return
	}
	bg := context.WithoutCancel(ctx)
	repository.AfterCommit(ctx, func() { _ = d.cache.Del(bg, key) })
}

func (d *authorizedUserCacheDecorator) Extend(ctx context.Context, tx repository.Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error) {
	u, err := d.inner.Extend(ctx, tx, id, displayName, months, now)
	if err != nil {
		return nil, err
	}
	d.invalidate(ctx, tx, id)
	return u, nil
}

func (d *authorizedUserCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.AuthorizedUser, error) {
	if tx != nil {
		metrics.IncCacheRequest("authorized_user", "bypass")
		return d.inner.FindByID(ctx, tx, id)
	}
	key := authUserKey(id)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var u model.AuthorizedUser
		if json.Unmarshal([]byte(val), &u) == nil {
			metrics.IncCacheRequest("authorized_user", "hit")
			return &u, nil
		}
	} else if !errors.Is(err, red.ErrNil) {
		metrics.IncCacheRequest("authorized_user", "error")
	}

	metrics.IncCacheRequest("authorized_user", "miss")
	u, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(u); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return u, nil
}

func (d *authorizedUserCacheDecorator) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	if err := d.inner.Delete(ctx, tx, id); err != nil {
		return err
	}
	d.invalidate(ctx, tx, id)
	return nil
}

// Pass-through methods that don't need caching
func (d *authorizedUserCacheDecorator) ListByExpiry(ctx context.Context, tx repository.Tx) ([]*model.AuthorizedUser, error) {
	return d.inner.ListByExpiry(ctx, tx)
}

func (d *authorizedUserCacheDecorator) CountActive(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	return d.inner.CountActive(ctx, tx, now)
}
