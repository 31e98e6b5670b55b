// Package storagetest holds the conformance suite every storage.Repository
// backend runs.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/inkwell/storage"
)

// RunRepositoryTests exercises repo against the storage.Repository contract.
// The repository must be empty when passed in.
func RunRepositoryTests(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	rec := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(`{"a":1}`), Version: 1}

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "c1", "post", "p1", rec))
		got, err := repo.Get(ctx, "c1", "post", "p1")
		require.NoError(t, err)
		assert.Equal(t, rec.Ver, got.Ver)
		assert.Equal(t, rec.Scheme, got.Scheme)
		assert.Equal(t, rec.Data, got.Data)
		assert.Equal(t, rec.Version, got.Version)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "c1", "post", "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = repo.Get(ctx, "nope", "post", "p1")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("CollectionsAreIsolated", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "c2", "post", "p1", rec))
		require.NoError(t, repo.Delete(ctx, "c2", "post", "p1"))
		_, err := repo.Get(ctx, "c1", "post", "p1")
		assert.NoError(t, err)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, "c1", "post", "p2", rec))
		require.NoError(t, repo.Put(ctx, "c1", "comment", "k1", rec))
		ids, err := repo.List(ctx, "c1", "post")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"p1", "p2"}, ids)

		ids, err = repo.List(ctx, "empty", "post")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "c1", "post", "p2"))
		_, err := repo.Get(ctx, "c1", "post", "p2")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		err = repo.Delete(ctx, "c1", "post", "p2")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("PutCAS", func(t *testing.T) {
		v1 := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(`1`), Version: 1}
		v2 := &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte(`2`), Version: 2}

		require.NoError(t, repo.PutCAS(ctx, "cas", "idx", "x", 0, v1))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "idx", "x", 0, v1), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "idx", "x", 5, v2), storage.ErrCASFailed)
		require.NoError(t, repo.PutCAS(ctx, "cas", "idx", "x", 1, v2))
		assert.ErrorIs(t, repo.PutCAS(ctx, "cas", "idx", "y", 3, v2), storage.ErrCASFailed)

		got, err := repo.Get(ctx, "cas", "idx", "x")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
		assert.Equal(t, []byte(`2`), got.Data)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(ctx, "batch", func(tx storage.BatchTx) error {
			if err := tx.Put("user", "u1", rec); err != nil {
				return err
			}
			if err := tx.PutCAS("email", "a@example.com", 0, rec); err != nil {
				return err
			}
			got, err := tx.Get("user", "u1")
			if err != nil {
				return err
			}
			assert.Equal(t, rec.Data, got.Data)
			return nil
		})
		require.NoError(t, err)
		_, err = repo.Get(ctx, "batch", "email", "a@example.com")
		assert.NoError(t, err)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		err := repo.Batch(ctx, "batch", func(tx storage.BatchTx) error {
			if err := tx.Put("user", "u2", rec); err != nil {
				return err
			}
			if err := tx.Delete("user", "u1"); err != nil {
				return err
			}
			return tx.PutCAS("email", "a@example.com", 0, rec)
		})
		assert.ErrorIs(t, err, storage.ErrCASFailed)

		_, err = repo.Get(ctx, "batch", "user", "u2")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = repo.Get(ctx, "batch", "user", "u1")
		assert.NoError(t, err)
	})

	t.Run("BatchDeleteMissing", func(t *testing.T) {
		err := repo.Batch(ctx, "batch", func(tx storage.BatchTx) error {
			return tx.Delete("user", "missing")
		})
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}
