// Package ratelimit provides fixed-window, per-key attempt counters.
//
// Each Limiter guards one concern (login failures by email, registration
// requests by IP, ...) and owns its own key space, so exhausting one never
// affects another. A counter is created on first consumption and lives for
// Options.Duration. Once more than Options.Points have been consumed the
// counter is rejected and its lifetime is extended to Options.BlockDuration.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps backend failures (e.g. Redis unreachable).
var ErrUnavailable = errors.New("rate limiter unavailable")

// Options configures a Limiter.
type Options struct {
	// Name prefixes every key so limiters sharing a backend never collide.
	Name string
	// Points is the number of consumptions allowed per window.
	Points int
	// Duration is the length of the counting window.
	Duration time.Duration
	// BlockDuration, when positive, replaces the remaining window once the
	// budget is exceeded.
	BlockDuration time.Duration
}

// State is a snapshot of a counter.
type State struct {
	Consumed   int
	Remaining  int
	ResetAfter time.Duration
}

// Exhausted reports whether the counter has no points left.
func (s State) Exhausted() bool {
	return s.Remaining == 0
}

// RejectedError is returned by Consume when the budget is exceeded.
type RejectedError struct {
	State
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rate limit exceeded; retry after %s", e.RetryAfter)
}

// IsRejected reports whether err is a *RejectedError and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Limiter is a per-key counter.
type Limiter interface {
	// Consume spends one point for key. It returns a *RejectedError once the
	// budget is exceeded.
	Consume(ctx context.Context, key string) (State, error)
	// Get returns the counter for key without consuming, or nil if none exists.
	Get(ctx context.Context, key string) (*State, error)
	// Delete removes the counter for key.
	Delete(ctx context.Context, key string) error
	// Block exhausts key for d. A zero d keeps the current window, or starts
	// a fresh Duration-long one if no counter exists.
	Block(ctx context.Context, key string, d time.Duration) error
}

func (o Options) state(consumed int, ttl time.Duration) State {
	return State{
		Consumed:   consumed,
		Remaining:  max(o.Points-consumed, 0),
		ResetAfter: max(ttl, 0),
	}
}

func (o Options) key(key string) string {
	if o.Name == "" {
		return key
	}
	return o.Name + ":" + key
}
