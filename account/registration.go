package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/inkwell/internal/ids"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/internal/uuid"
	"github.com/jmcleod/inkwell/storage"
)

// registrationToken proves ownership of Email. Only the bcrypt hash of the
// secret is stored.
type registrationToken struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	SecretHash string    `json:"secret_hash"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type pendingEntry struct {
	TokenID string `json:"token_id"`
}

// IssuedToken is returned once by RequestRegistration; Token is the raw
// secret and is not recoverable afterwards.
type IssuedToken struct {
	ID        string
	Token     string
	Email     string
	ExpiresAt time.Time
}

// RequestRegistration starts registration for email. If the email already
// belongs to an account it returns ErrEmailTaken and changes nothing.
// Otherwise any pending registration for the email is discarded and a new
// provisional user and token are created.
func (s *Store) RequestRegistration(ctx context.Context, email string) (*IssuedToken, error) {
	email = util.NormalizeEmail(email)
	if _, err := s.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	secret, err := util.RandomHex(32)
	if err != nil {
		return nil, err
	}
	secretHash, err := s.hash(secret)
	if err != nil {
		return nil, fmt.Errorf("hashing registration token: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(RegistrationTTL)
	user := &User{ID: ids.New(), ExpiresAt: &expires, CreatedAt: now, UpdatedAt: now}
	tok := registrationToken{
		ID:         uuid.New(),
		UserID:     user.ID,
		Email:      email,
		SecretHash: secretHash,
		ExpiresAt:  expires,
	}

	err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := discardPending(tx, email); err != nil {
			return err
		}
		if err := putUser(tx, user); err != nil {
			return err
		}
		tokRec, err := encode(tok, 1)
		if err != nil {
			return err
		}
		if err := tx.Put(tokenType, tok.ID, tokRec); err != nil {
			return err
		}
		pendRec, err := encode(pendingEntry{TokenID: tok.ID}, 1)
		if err != nil {
			return err
		}
		return tx.Put(pendingIndex, email, pendRec)
	})
	if err != nil {
		return nil, err
	}
	return &IssuedToken{ID: tok.ID, Token: secret, Email: email, ExpiresAt: expires}, nil
}

// discardPending removes the pending token for email and its provisional user.
func discardPending(tx storage.BatchTx, email string) error {
	rec, err := tx.Get(pendingIndex, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var p pendingEntry
	if err := storage.DecodeJSON(rec, &p); err != nil {
		return err
	}
	if tok, err := getToken(tx, p.TokenID); err == nil {
		if err := ignoreNotFound(tx.Delete(userType, tok.UserID)); err != nil {
			return err
		}
		if err := ignoreNotFound(tx.Delete(tokenType, tok.ID)); err != nil {
			return err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return ignoreNotFound(tx.Delete(pendingIndex, email))
}

type getter interface {
	Get(recordType, recordID string) (*storage.Record, error)
}

func getToken(g getter, id string) (*registrationToken, error) {
	rec, err := g.Get(tokenType, id)
	if err != nil {
		return nil, err
	}
	var tok registrationToken
	if err := storage.DecodeJSON(rec, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// CompleteRegistration consumes the token and turns its provisional user
// into a registered account with email, username and password.
func (s *Store) CompleteRegistration(ctx context.Context, tokenID, rawToken, username, password string) (*User, error) {
	if !uuid.Valid(tokenID) {
		return nil, ErrTokenInvalid
	}
	rec, err := s.repo.Get(ctx, collection, tokenType, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	var tok registrationToken
	if err := storage.DecodeJSON(rec, &tok); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !now.Before(tok.ExpiresAt) || !matches(tok.SecretHash, rawToken) {
		return nil, ErrTokenInvalid
	}

	passwordHash, err := s.hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	var user *User
	err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		// The token may have been replaced since it was checked above.
		if _, err := getToken(tx, tok.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrTokenInvalid
			}
			return err
		}
		urec, err := tx.Get(userType, tok.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrTokenInvalid
		}
		if err != nil {
			return err
		}
		if user, err = decodeUser(urec); err != nil {
			return err
		}
		if err := claimIndex(tx, emailIndex, tok.Email, user.ID, ErrEmailTaken); err != nil {
			return err
		}
		user.Email = tok.Email
		user.Username = username
		user.PasswordHash = passwordHash
		user.ExpiresAt = nil
		user.UpdatedAt = now
		if err := putUser(tx, user); err != nil {
			return err
		}
		if err := tx.Delete(tokenType, tok.ID); err != nil {
			return err
		}
		return ignoreNotFound(tx.Delete(pendingIndex, tok.Email))
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
