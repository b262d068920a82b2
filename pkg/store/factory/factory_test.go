package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/parley/pkg/store"
	"github.com/go-go-golems/parley/pkg/store/memory"
	"github.com/go-go-golems/parley/pkg/store/pebble"
	"github.com/go-go-golems/parley/pkg/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, store.Settings{Path: filepath.Join(dir, "a.db")})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, store.Settings{Driver: store.DriverPebble, Path: filepath.Join(dir, "kv")})
	require.NoError(t, err)
	assert.IsType(t, &pebble.Store{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, store.Settings{Driver: store.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	_, err = Open(ctx, store.Settings{Driver: "mongo"})
	require.ErrorIs(t, err, store.ErrUnknownDriver)
}
