// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/ports/repository"

	"github.com/google/uuid"
)

var _ repository.Locker = (*RedisLocker)(nil)

// RedisLocker is a single-attempt SETNX lock. A held lock is reported
// immediately so callers can tell the user rather than queue.
type RedisLocker struct {
	client RedisClient
	prefix string
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{client: c, prefix: "lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.client.DelIfEquals(ctx, l.prefix+key, token)
	return err
}
