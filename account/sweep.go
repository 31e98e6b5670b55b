package account

import (
	"context"
	"errors"
	"time"

	"github.com/jmcleod/inkwell/storage"
)

// SweepExpired removes expired registration tokens with their provisional
// users, expired reset codes, and orphaned provisional users. It returns the
// number of records removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0

	tokenIDs, err := s.repo.List(ctx, collection, tokenType)
	if err != nil {
		return removed, err
	}
	for _, id := range tokenIDs {
		tok, err := getToken(repoGetter{ctx, s.repo}, id)
		if err != nil {
			continue
		}
		if now.Before(tok.ExpiresAt) {
			continue
		}
		err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
			return discardToken(tx, tok)
		})
		if err != nil {
			return removed, err
		}
		removed++
	}

	emails, err := s.repo.List(ctx, collection, resetCodeType)
	if err != nil {
		return removed, err
	}
	for _, email := range emails {
		var rc resetCode
		rec, err := s.repo.Get(ctx, collection, resetCodeType, email)
		if err != nil || storage.DecodeJSON(rec, &rc) != nil {
			continue
		}
		if !now.Before(rc.ExpiresAt) {
			if err := ignoreNotFound(s.repo.Delete(ctx, collection, resetCodeType, email)); err != nil {
				return removed, err
			}
			removed++
		}
	}

	userIDs, err := s.repo.List(ctx, collection, userType)
	if err != nil {
		return removed, err
	}
	for _, id := range userIDs {
		u, err := s.getUserRecord(ctx, id)
		if err != nil {
			continue
		}
		if u.ExpiresAt == nil || now.Before(*u.ExpiresAt) {
			continue
		}
		if err := s.repo.Delete(ctx, collection, userType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// discardToken removes tok, its provisional user, and the pending entry
// for its email if that entry still points at tok.
func discardToken(tx storage.BatchTx, tok *registrationToken) error {
	rec, err := tx.Get(pendingIndex, tok.Email)
	switch {
	case err == nil:
		var p pendingEntry
		if err := storage.DecodeJSON(rec, &p); err != nil {
			return err
		}
		if p.TokenID == tok.ID {
			if err := tx.Delete(pendingIndex, tok.Email); err != nil {
				return err
			}
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	if err := ignoreNotFound(tx.Delete(userType, tok.UserID)); err != nil {
		return err
	}
	return ignoreNotFound(tx.Delete(tokenType, tok.ID))
}

// repoGetter adapts a Repository to the getter interface for one collection.
type repoGetter struct {
	ctx  context.Context
	repo storage.Repository
}

func (g repoGetter) Get(recordType, recordID string) (*storage.Record, error) {
	return g.repo.Get(g.ctx, collection, recordType, recordID)
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
