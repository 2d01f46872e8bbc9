package memory

import (
	"context"
	"sync"
	"time"

	"telegram-stream-access/internal/domain/ports/repository"
)

var _ repository.PendingActionRepository = (*StateStore)(nil)

type entry struct {
	state   repository.PendingAction
	expires time.Time
}

// StateStore keeps pending actions in a map with lazy expiry.
type StateStore struct {
	mu   sync.Mutex
	data map[int64]entry
	ttl  time.Duration
	now  func() time.Time
}

func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &StateStore{data: map[int64]entry{}, ttl: ttl, now: time.Now}
}

func (s *StateStore) SetState(_ context.Context, chatID int64, st *repository.PendingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	cp.Data = make(map[string]string, len(st.Data))
	for k, v := range st.Data {
		cp.Data[k] = v
	}
	s.data[chatID] = entry{state: cp, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *StateStore) GetState(_ context.Context, chatID int64) (*repository.PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[chatID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expires) {
		delete(s.data, chatID)
		return nil, nil
	}
	cp := e.state
	cp.Data = make(map[string]string, len(e.state.Data))
	for k, v := range e.state.Data {
		cp.Data[k] = v
	}
	return &cp, nil
}

func (s *StateStore) ClearState(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, chatID)
	return nil
}
