package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telegram-stream-access/internal/domain/ports/repository"
)

var _ repository.PendingActionRepository = (*StateRepo)(nil)

// StateRepo keeps each chat's pending action in Redis. Entries expire after ttl.
type StateRepo struct {
	client RedisClient
	ttl    time.Duration
}

func NewStateRepo(client RedisClient, ttl time.Duration) *StateRepo {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateRepo{client: client, ttl: ttl}
}

func (s *StateRepo) stateKey(chatID int64) string {
	return fmt.Sprintf("pending:%d", chatID)
}

func (s *StateRepo) SetState(ctx context.Context, chatID int64, state *repository.PendingAction) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.stateKey(chatID), data, s.ttl)
}

func (s *StateRepo) GetState(ctx context.Context, chatID int64) (*repository.PendingAction, error) {
	data, err := s.client.Get(ctx, s.stateKey(chatID))
	if errors.Is(err, ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state repository.PendingAction
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decode pending action: %w", err)
	}
	return &state, nil
}

func (s *StateRepo) ClearState(ctx context.Context, chatID int64) error {
	return s.client.Del(ctx, s.stateKey(chatID))
}
