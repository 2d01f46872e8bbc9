//go:build !integration

package postgres

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain/model"
	"telegram-stream-access/internal/domain/ports/repository"
	red "telegram-stream-access/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerUserRepo mocks the database repository that the decorator wraps.
type mockInnerUserRepo struct {
	ExtendFunc       func(ctx context.Context, tx repository.Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error)
	FindByIDFunc     func(ctx context.Context, tx repository.Tx, id int64) (*model.AuthorizedUser, error)
	DeleteFunc       func(ctx context.Context, tx repository.Tx, id int64) error
	ListByExpiryFunc func(ctx context.Context, tx repository.Tx) ([]*model.AuthorizedUser, error)
	CountActiveFunc  func(ctx context.Context, tx repository.Tx, now time.Time) (int, error)
}

func (m *mockInnerUserRepo) Extend(ctx context.Context, tx repository.Tx, id int64, displayName string, months int, now time.Time) (*model.AuthorizedUser, error) {
	return m.ExtendFunc(ctx, tx, id, displayName, months, now)
}
func (m *mockInnerUserRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.AuthorizedUser, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	return m.DeleteFunc(ctx, tx, id)
}
func (m *mockInnerUserRepo) ListByExpiry(ctx context.Context, tx repository.Tx) ([]*model.AuthorizedUser, error) {
	return m.ListByExpiryFunc(ctx, tx)
}
func (m *mockInnerUserRepo) CountActive(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	return m.CountActiveFunc(ctx, tx, now)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Ping(ctx context.Context) error                      { return nil }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *mockRedisClient) Expire(context.Context, string, time.Duration) error { return nil }
func (m *mockRedisClient) Close() error                                        { return nil }
