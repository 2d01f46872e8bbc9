// Package memory holds single-process stand-ins for the Redis adapters,
// used with --dev when no Redis is configured.
package memory

import (
	"context"
	"sync"
	"time"

	"telegram-stream-access/internal/domain"
	"telegram-stream-access/internal/domain/ports/repository"

	"github.com/google/uuid"
)

var _ repository.Locker = (*KeyedLocker)(nil)

type lease struct {
	token   string
	expires time.Time
}

// KeyedLocker is an in-process Locker. Leases past their ttl count as free.
type KeyedLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{leases: map[string]lease{}, now: time.Now}
}

func (l *KeyedLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return "", domain.ErrLockHeld
	}
	tok := uuid.NewString()
	l.leases[key] = lease{token: tok, expires: now.Add(ttl)}
	return tok, nil
}

func (l *KeyedLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[key]; ok && cur.token == token {
		delete(l.leases, key)
	}
	return nil
}
