package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

// resetCode proves ownership of Email during a password reset. Only the
// bcrypt hash of the code is stored; one code per email.
type resetCode struct {
	Email     string    `json:"email"`
	UserID    string    `json:"user_id"`
	CodeHash  string    `json:"code_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestResetCode issues a new code for the registered email, replacing
// any previous one. Unknown emails return ErrUserNotFound.
func (s *Store) RequestResetCode(ctx context.Context, email string) (string, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	code, err := util.RandomDigits(ResetCodeLength)
	if err != nil {
		return "", err
	}
	codeHash, err := s.hash(code)
	if err != nil {
		return "", fmt.Errorf("hashing reset code: %w", err)
	}
	rec, err := encode(resetCode{
		Email:     u.Email,
		UserID:    u.ID,
		CodeHash:  codeHash,
		ExpiresAt: s.now().UTC().Add(ResetCodeTTL),
	}, 1)
	if err != nil {
		return "", err
	}
	if err := s.repo.Put(ctx, collection, resetCodeType, u.Email, rec); err != nil {
		return "", err
	}
	return code, nil
}

// HasResetCode reports whether an unexpired code exists for email.
func (s *Store) HasResetCode(ctx context.Context, email string) (bool, error) {
	_, err := s.getResetCode(ctx, util.NormalizeEmail(email))
	if errors.Is(err, ErrCodeNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) getResetCode(ctx context.Context, email string) (*resetCode, error) {
	rec, err := s.repo.Get(ctx, collection, resetCodeType, email)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	var rc resetCode
	if err := storage.DecodeJSON(rec, &rc); err != nil {
		return nil, err
	}
	if !s.now().Before(rc.ExpiresAt) {
		_ = s.repo.Delete(ctx, collection, resetCodeType, email)
		return nil, ErrCodeNotFound
	}
	return &rc, nil
}

// VerifyResetCode checks code for email. A missing or expired code returns
// ErrCodeNotFound, a wrong one ErrCodeMismatch. The code is deleted on success.
func (s *Store) VerifyResetCode(ctx context.Context, email, code string) error {
	email = util.NormalizeEmail(email)
	rc, err := s.getResetCode(ctx, email)
	if err != nil {
		return err
	}
	if !matches(rc.CodeHash, code) {
		return ErrCodeMismatch
	}
	return ignoreNotFound(s.repo.Delete(ctx, collection, resetCodeType, email))
}

// ResetPassword sets a new password for the user registered with email.
func (s *Store) ResetPassword(ctx context.Context, email, password string) (*User, error) {
	u, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.SetPassword(ctx, u.ID, password)
}
