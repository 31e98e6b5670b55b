// Package session holds server-side session state keyed by an opaque id.
//
// The id travels in an HttpOnly cookie; everything else (the authenticated
// principal, the pending password-reset email) lives only in the Store.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session does not exist, has expired, or
	// has been idle longer than the store's idle timeout.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
)

// Principal is the authenticated identity attached to a session. It is
// captured at login and not re-read from the credential store per request.
type Principal struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// Session is the server-side state for one session id.
type Session struct {
	ID             string     `json:"id"`
	Principal      *Principal `json:"principal,omitempty"`
	ResetEmail     string     `json:"reset_email,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

// Authenticated reports whether the session carries a principal.
func (s Session) Authenticated() bool {
	return s.Principal != nil
}

// UserID returns the principal's id, or "" for anonymous sessions.
func (s Session) UserID() string {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.ID
}

// live reports whether s is usable at now given the idle timeout.
// An idleTimeout of 0 disables idle checking.
func (s Session) live(now time.Time, idleTimeout time.Duration) bool {
	if now.After(s.ExpiresAt) {
		return false
	}
	if idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout {
		return false
	}
	return true
}

// Store abstracts session CRUD so sessions can live in memory, in Redis, or
// in the document repository.
type Store interface {
	// Get returns the session for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)
	// Put creates or replaces the session for id.
	Put(ctx context.Context, id string, s Session) error
	// Delete removes the session for id. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteUser removes every session whose principal is userID.
	DeleteUser(ctx context.Context, userID string) error
}
