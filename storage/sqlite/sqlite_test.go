package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/inkwell/storage/storagetest"
)

func TestSQLiteStorage(t *testing.T) {
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "inkwell.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storagetest.RunRepositoryTests(t, s)
}

func TestSQLiteInMemory(t *testing.T) {
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storagetest.RunRepositoryTests(t, s)
}
