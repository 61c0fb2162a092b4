package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

// exercise runs the Store contract against any implementation.
func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, KindBoundary, "bnd-missing")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	require.NoError(t, s.Put(ctx, KindBoundary, "bnd-b", []byte(`{"id":"bnd-b"}`)))
	require.NoError(t, s.Put(ctx, KindBoundary, "bnd-a", []byte(`{"id":"bnd-a"}`)))
	require.NoError(t, s.Put(ctx, KindSurface, "srf-1", []byte(`{"id":"srf-1"}`)))

	data, err := s.Get(ctx, KindBoundary, "bnd-a")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"bnd-a"}`, string(data))

	// Put is an upsert.
	require.NoError(t, s.Put(ctx, KindBoundary, "bnd-a", []byte(`{"id":"bnd-a","v":2}`)))
	data, err = s.Get(ctx, KindBoundary, "bnd-a")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"bnd-a","v":2}`, string(data))

	// Scan is kind-scoped and id-ordered.
	records, err := s.Scan(ctx, KindBoundary)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `{"id":"bnd-a","v":2}`, string(records[0]))
	assert.Equal(t, `{"id":"bnd-b"}`, string(records[1]))

	require.NoError(t, s.Delete(ctx, KindBoundary, "bnd-b"))
	err = s.Delete(ctx, KindBoundary, "bnd-b")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	records, err = s.Scan(ctx, KindBoundary)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// The other kind is untouched.
	_, err = s.Get(ctx, KindSurface, "srf-1")
	assert.NoError(t, err)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestMemoryStoreCopiesData(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	payload := []byte(`{"id":"bnd-1"}`)
	require.NoError(t, s.Put(ctx, KindBoundary, "bnd-1", payload))
	payload[2] = 'x'

	data, err := s.Get(ctx, KindBoundary, "bnd-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"bnd-1"}`, string(data))

	data[2] = 'y'
	again, err := s.Get(ctx, KindBoundary, "bnd-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"bnd-1"}`, string(again))
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabric.db")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	exercise(t, s)
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fabric.db")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, KindPolicy, "pol-1", []byte(`{"id":"pol-1"}`)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	data, err := s.Get(ctx, KindPolicy, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"pol-1"}`, string(data))
}
