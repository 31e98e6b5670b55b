// Package account is the credential store: users, federated identity links,
// registration tokens and password reset codes.
//
// Every secret the store hands out (registration tokens, reset codes) is
// persisted only as a bcrypt hash, as are passwords.
package account

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

const (
	// RegistrationTTL is how long a registration token and its provisional
	// user live.
	RegistrationTTL = 5 * time.Minute
	// ResetCodeTTL is how long a password reset code lives.
	ResetCodeTTL = 5 * time.Minute
	// ResetCodeLength is the number of digits in a reset code.
	ResetCodeLength = 6
)

const (
	collection = "accounts"

	userType       = "user"
	emailIndex     = "email"
	federationIdx  = "federation"
	tokenType      = "registration_token"
	pendingIndex   = "pending_registration"
	resetCodeType  = "reset_code"
	maxCASAttempts = 3
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrFederationTaken    = errors.New("federated identity already linked")
	ErrTokenInvalid       = errors.New("registration token invalid or expired")
	ErrCodeNotFound       = errors.New("reset code not found")
	ErrCodeMismatch       = errors.New("reset code mismatch")
	ErrPasswordMismatch   = errors.New("password mismatch")
	ErrConcurrentUpdate   = errors.New("user modified concurrently")
	errEmailImmutable     = errors.New("email cannot be changed through UpdateUser")
	errFederationsChanged = errors.New("federations cannot be changed through UpdateUser")
)

// Federation links a user to an identity at an OAuth provider.
type Federation struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
}

func (f Federation) key() string {
	return f.Provider + ":" + f.Subject
}

// User is a persisted account. A provisional user (created by
// RequestRegistration) has no email and a non-nil ExpiresAt.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email,omitempty"`
	PasswordHash string       `json:"password_hash,omitempty"`
	IsAdmin      bool         `json:"is_admin"`
	Federations  []Federation `json:"federations,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	version uint64
}

// Provisional reports whether u is a registration placeholder.
func (u *User) Provisional() bool {
	return u.ExpiresAt != nil
}

// HasPassword reports whether u can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Option configures a Store.
type Option func(*Store)

// WithBcryptCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the credential store over a storage.Repository.
type Store struct {
	repo storage.Repository
	cost int
	now  func() time.Time
}

// NewStore returns a Store persisting into repo.
func NewStore(repo storage.Repository, opts ...Option) *Store {
	s := &Store{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prehash normalizes and digests secret so bcrypt always sees 64 bytes,
// under its 72 byte input limit whatever the rune count.
func prehash(secret string) []byte {
	sum := sha256.Sum256([]byte(util.NormalizePassword(secret)))
	return []byte(hex.EncodeToString(sum[:]))
}

func (s *Store) hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(prehash(secret), s.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func matches(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), prehash(secret)) == nil
}

// indexEntry is the document behind the email and federation indexes.
type indexEntry struct {
	UserID string `json:"user_id"`
}

func encode(v any, version uint64) (*storage.Record, error) {
	return storage.EncodeJSON(v, version)
}

func decodeUser(rec *storage.Record) (*User, error) {
	var u User
	if err := storage.DecodeJSON(rec, &u); err != nil {
		return nil, err
	}
	u.version = rec.Version
	return &u, nil
}
