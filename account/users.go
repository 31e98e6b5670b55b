package account

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jmcleod/inkwell/internal/ids"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

// NewUser describes an account to create directly (federated sign-up, CLI).
type NewUser struct {
	Username   string
	Email      string
	Password   string
	IsAdmin    bool
	Federation *Federation
}

// CreateUser stores a new, fully registered user. The email and federation
// indexes are claimed in the same batch, so a concurrent claim of either
// fails the whole creation.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	now := s.now().UTC()
	u := &User{
		ID:        ids.New(),
		Username:  nu.Username,
		Email:     util.NormalizeEmail(nu.Email),
		IsAdmin:   nu.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if nu.Password != "" {
		h, err := s.hash(nu.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		u.PasswordHash = h
	}
	if nu.Federation != nil {
		u.Federations = []Federation{*nu.Federation}
	}

	err := s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if u.Email != "" {
			if err := claimIndex(tx, emailIndex, u.Email, u.ID, ErrEmailTaken); err != nil {
				return err
			}
		}
		for _, f := range u.Federations {
			if err := claimIndex(tx, federationIdx, f.key(), u.ID, ErrFederationTaken); err != nil {
				return err
			}
		}
		return putUser(tx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// claimIndex creates an index entry, failing with taken if it exists.
func claimIndex(tx storage.BatchTx, indexType, key, userID string, taken error) error {
	rec, err := encode(indexEntry{UserID: userID}, 1)
	if err != nil {
		return err
	}
	err = tx.PutCAS(indexType, key, 0, rec)
	if errors.Is(err, storage.ErrCASFailed) {
		return taken
	}
	return err
}

// putUser writes u with the next version. Caller must hold the user's
// current version in u.version.
func putUser(tx storage.BatchTx, u *User) error {
	rec, err := encode(u, u.version+1)
	if err != nil {
		return err
	}
	if err := tx.PutCAS(userType, u.ID, u.version, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return ErrConcurrentUpdate
		}
		return err
	}
	u.version++
	return nil
}

func (s *Store) getUserRecord(ctx context.Context, id string) (*User, error) {
	if !ids.Valid(id) {
		return nil, ErrUserNotFound
	}
	rec, err := s.repo.Get(ctx, collection, userType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(rec)
}

// GetUser returns the registered user with id. Malformed ids and
// provisional users are reported as ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := s.getUserRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Provisional() {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Store) lookup(ctx context.Context, indexType, key string) (*User, error) {
	rec, err := s.repo.Get(ctx, collection, indexType, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var entry indexEntry
	if err := storage.DecodeJSON(rec, &entry); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, entry.UserID)
}

// GetUserByEmail returns the user registered with email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.lookup(ctx, emailIndex, util.NormalizeEmail(email))
}

// GetUserByFederation returns the user linked to subject at provider.
func (s *Store) GetUserByFederation(ctx context.Context, provider, subject string) (*User, error) {
	return s.lookup(ctx, federationIdx, Federation{Provider: provider, Subject: subject}.key())
}

// UpdateUser applies fn to the current user and stores the result,
// retrying on concurrent modification. fn must not change the email or the
// federation links; those go through their own indexed operations.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	for range maxCASAttempts {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		email, feds := u.Email, slices.Clone(u.Federations)
		if err := fn(u); err != nil {
			return nil, err
		}
		if u.Email != email {
			return nil, errEmailImmutable
		}
		if !slices.Equal(u.Federations, feds) {
			return nil, errFederationsChanged
		}
		u.UpdatedAt = s.now().UTC()

		err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
			return putUser(tx, u)
		})
		if errors.Is(err, ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	return nil, ErrConcurrentUpdate
}

// LinkFederation attaches a federated identity to an existing user.
func (s *Store) LinkFederation(ctx context.Context, id string, f Federation) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if slices.Contains(u.Federations, f) {
		return u, nil
	}
	u.Federations = append(u.Federations, f)
	u.UpdatedAt = s.now().UTC()
	err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := claimIndex(tx, federationIdx, f.key(), u.ID, ErrFederationTaken); err != nil {
			return err
		}
		return putUser(tx, u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// SetAdmin grants or revokes the admin flag.
func (s *Store) SetAdmin(ctx context.Context, id string, admin bool) (*User, error) {
	return s.UpdateUser(ctx, id, func(u *User) error {
		u.IsAdmin = admin
		return nil
	})
}

// SetPassword replaces the user's password.
func (s *Store) SetPassword(ctx context.Context, id, password string) (*User, error) {
	h, err := s.hash(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return s.UpdateUser(ctx, id, func(u *User) error {
		u.PasswordHash = h
		return nil
	})
}

// CheckPassword returns the user registered with email if password matches.
// It returns ErrUserNotFound for unknown emails and ErrPasswordMismatch
// otherwise, so callers can report which field was wrong.
func (s *Store) CheckPassword(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !matches(u.PasswordHash, password) {
		return nil, ErrPasswordMismatch
	}
	return u, nil
}

// VerifyPassword checks password against the user with id.
func (s *Store) VerifyPassword(ctx context.Context, id, password string) error {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if !matches(u.PasswordHash, password) {
		return ErrPasswordMismatch
	}
	return nil
}

// DeleteUser removes the user and releases its email and federation
// indexes. Deleting a missing user returns ErrUserNotFound.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	u, err := s.getUserRecord(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		return deleteUserTx(tx, u)
	})
}

func deleteUserTx(tx storage.BatchTx, u *User) error {
	if u.Email != "" {
		if err := ignoreNotFound(tx.Delete(emailIndex, u.Email)); err != nil {
			return err
		}
	}
	for _, f := range u.Federations {
		if err := ignoreNotFound(tx.Delete(federationIdx, f.key())); err != nil {
			return err
		}
	}
	return ignoreNotFound(tx.Delete(userType, u.ID))
}

func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
