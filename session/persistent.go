package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

const (
	sessionCollection     = "sessions"
	sessionRecordType     = "session"
	sessionKeyType        = "session_key"
	sessionKeyID          = "current"
	sessionAADPrefix      = "session:"
	sessionKeyWrappingAAD = "inkwell:session_master_key:v1"
	cleanupInterval       = 5 * time.Minute
)

// PersistentStore stores sessions in a storage.Repository, encrypted at rest
// with AES-256-GCM. Sessions survive server restarts.
//
// The session encryption key is itself sealed with an externally provided
// wrapping key before being stored, so a repository dump alone cannot
// recover session data.
type PersistentStore struct {
	repo        storage.Repository
	key         []byte
	idleTimeout time.Duration
	logger      *slog.Logger
	stopOnce    sync.Once
	stopCh      chan struct{}
}

var _ Store = (*PersistentStore)(nil)

// NewPersistentStore creates a session store backed by repo. The 32-byte
// wrappingKey seals the session encryption key and is never stored.
// idleTimeout of 0 disables idle timeout checking.
func NewPersistentStore(ctx context.Context, repo storage.Repository, idleTimeout time.Duration, wrappingKey []byte) (*PersistentStore, error) {
	if len(wrappingKey) != util.AESKeySize {
		return nil, fmt.Errorf("wrapping key must be exactly %d bytes, got %d", util.AESKeySize, len(wrappingKey))
	}
	key, err := loadOrCreateSessionKey(ctx, repo, wrappingKey)
	if err != nil {
		return nil, err
	}
	s := &PersistentStore{
		repo:        repo,
		key:         key,
		idleTimeout: idleTimeout,
		logger:      slog.Default(),
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop()
	return s, nil
}

// Close stops the background cleanup goroutine and wipes key material.
func (s *PersistentStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		util.WipeBytes(s.key)
	})
}

func (s *PersistentStore) open(id string, rec *storage.Record) (Session, error) {
	data, err := storage.OpenRecord(s.key, rec, []byte(sessionAADPrefix+id))
	if err != nil {
		return Session{}, err
	}
	defer util.WipeBytes(data)
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *PersistentStore) Get(ctx context.Context, id string) (Session, error) {
	rec, err := s.repo.Get(ctx, sessionCollection, sessionRecordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sess, err := s.open(id, rec)
	if err != nil || !sess.live(time.Now(), s.idleTimeout) {
		_ = s.Delete(ctx, id)
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return sess, nil
}

func (s *PersistentStore) Put(ctx context.Context, id string, sess Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	defer util.WipeBytes(data)
	rec, err := storage.SealRecord(s.key, data, []byte(sessionAADPrefix+id))
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}
	if err := s.repo.Put(ctx, sessionCollection, sessionRecordType, id, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PersistentStore) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, sessionCollection, sessionRecordType, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteUser walks every stored session; sessions are not indexed by user.
func (s *PersistentStore) DeleteUser(ctx context.Context, userID string) error {
	return s.sweep(ctx, func(sess Session) bool {
		return sess.UserID() == userID
	})
}

// cleanupLoop periodically removes expired sessions from storage.
func (s *PersistentStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.SweepExpired(context.Background()); err != nil {
				s.logger.Warn("session sweep failed", "error", err)
			}
		}
	}
}

// SweepExpired removes expired, idle and unreadable sessions.
func (s *PersistentStore) SweepExpired(ctx context.Context) error {
	now := time.Now()
	return s.sweep(ctx, func(sess Session) bool {
		return !sess.live(now, s.idleTimeout)
	})
}

// sweep deletes every session for which drop returns true. Sessions that
// cannot be opened are always deleted.
func (s *PersistentStore) sweep(ctx context.Context, drop func(Session) bool) error {
	ids, err := s.repo.List(ctx, sessionCollection, sessionRecordType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, id := range ids {
		rec, err := s.repo.Get(ctx, sessionCollection, sessionRecordType, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		sess, err := s.open(id, rec)
		if err != nil || drop(sess) {
			if err := s.Delete(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadOrCreateSessionKey loads the session encryption key from storage,
// unsealing it with the wrapping key. If no key exists, or the wrapping key
// changed, a new random key is generated, sealed and persisted; existing
// sessions then become unreadable and are swept.
func loadOrCreateSessionKey(ctx context.Context, repo storage.Repository, wrappingKey []byte) ([]byte, error) {
	aad := []byte(sessionKeyWrappingAAD)

	rec, err := repo.Get(ctx, sessionCollection, sessionKeyType, sessionKeyID)
	switch {
	case err == nil:
		key, openErr := storage.OpenRecord(wrappingKey, rec, aad)
		if openErr == nil && len(key) == util.AESKeySize {
			return key, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	key, err := util.RandomBytes(util.AESKeySize)
	if err != nil {
		return nil, err
	}
	sealed, err := storage.SealRecord(wrappingKey, key, aad)
	if err != nil {
		util.WipeBytes(key)
		return nil, fmt.Errorf("sealing new session key: %w", err)
	}
	if err := repo.Put(ctx, sessionCollection, sessionKeyType, sessionKeyID, sealed); err != nil {
		util.WipeBytes(key)
		return nil, err
	}
	return key, nil
}
