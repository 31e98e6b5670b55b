package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store.
// Sessions are lost on server restart.
type MemoryStore struct {
	mu          sync.RWMutex
	data        map[string]Session
	idleTimeout time.Duration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory session store.
// idleTimeout of 0 disables idle timeout checking.
func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		data:        make(map[string]Session),
		idleTimeout: idleTimeout,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	sess, ok := s.data[id]
	s.mu.RUnlock()
	if !ok {
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !sess.live(time.Now(), s.idleTimeout) {
		_ = s.Delete(ctx, id)
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return sess, nil
}

func (s *MemoryStore) Put(_ context.Context, id string, sess Session) error {
	s.mu.Lock()
	s.data[id] = sess
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.data {
		if sess.UserID() == userID {
			delete(s.data, id)
		}
	}
	return nil
}
