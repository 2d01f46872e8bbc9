package repository

import (
	"context"
	"time"
)

// PendingAction holds a chat's progress in a multi-step conversation.
type PendingAction struct {
	Kind      string            `json:"kind"`   // e.g. "redeem_key", "sell"
	Step      string            `json:"step"`   // e.g. "await_buyer", "await_confirm"
	Expect    string            `json:"expect"` // input shape the next text must have
	Data      map[string]string `json:"data"`   // partial data collected so far
	CreatedAt time.Time         `json:"created_at"`
}

// PendingActionRepository keeps at most one pending action per chat.
// Entries expire on their own after the store's TTL.
type PendingActionRepository interface {
	SetState(ctx context.Context, chatID int64, state *PendingAction) error
	// GetState returns (nil, nil) when the chat has no pending action.
	GetState(ctx context.Context, chatID int64) (*PendingAction, error)
	ClearState(ctx context.Context, chatID int64) error
}

// Locker is a best-effort mutual exclusion keyed by string.
type Locker interface {
	// TryLock returns a token on success or domain.ErrLockHeld if held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}
