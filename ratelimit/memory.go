package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	consumed  int
	expiresAt time.Time
}

// Memory is an in-process Limiter. It is safe for concurrent use.
type Memory struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

var _ Limiter = (*Memory)(nil)

// NewMemory returns an in-memory Limiter.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:     opts,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
}

// live returns the unexpired counter for key. Caller holds mu.
func (m *Memory) live(key string, now time.Time) *counter {
	c, ok := m.counters[key]
	if !ok {
		return nil
	}
	if !now.Before(c.expiresAt) {
		delete(m.counters, key)
		return nil
	}
	return c
}

func (m *Memory) Consume(_ context.Context, key string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := m.live(key, now)
	if c == nil {
		c = &counter{expiresAt: now.Add(m.opts.Duration)}
		m.counters[key] = c
	}
	c.consumed++

	if c.consumed > m.opts.Points {
		if m.opts.BlockDuration > 0 && c.consumed == m.opts.Points+1 {
			c.expiresAt = now.Add(m.opts.BlockDuration)
		}
		st := m.opts.state(c.consumed, c.expiresAt.Sub(now))
		return st, &RejectedError{State: st, RetryAfter: st.ResetAfter}
	}
	return m.opts.state(c.consumed, c.expiresAt.Sub(now)), nil
}

func (m *Memory) Get(_ context.Context, key string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := m.live(key, now)
	if c == nil {
		return nil, nil
	}
	st := m.opts.state(c.consumed, c.expiresAt.Sub(now))
	return &st, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	return nil
}

func (m *Memory) Block(_ context.Context, key string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c := m.live(key, now)
	switch {
	case d > 0:
		c = &counter{expiresAt: now.Add(d)}
	case c == nil:
		c = &counter{expiresAt: now.Add(m.opts.Duration)}
	}
	c.consumed = m.opts.Points + 1
	m.counters[key] = c
	return nil
}

// Sweep removes expired counters. Call periodically from a background goroutine.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, k)
		}
	}
}
