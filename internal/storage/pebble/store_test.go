package pebblestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/storagetest"
)

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := New(Options{
		DataDir:       dir,
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t, t.TempDir())
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newTestStore(t, dir)
	require.NoError(t, s.Set(ctx, "owner", "node1"))
	_, err := s.ZAdd(ctx, "z", "7", 7)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newTestStore(t, dir)
	v, ok, err := reopened.Get(ctx, "owner")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node1", v)
	members, err := reopened.ZRange(ctx, "z")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, members)
}

func TestScanDoesNotLeakIntoLongerKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())

	_, err := s.SAdd(ctx, "node:a", "c1")
	require.NoError(t, err)
	_, err = s.SAdd(ctx, "node:ab", "c2")
	require.NoError(t, err)

	members, _, err := s.SScan(ctx, "node:a", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, members)
}

func TestOpenRequiresDataDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestParseFsyncMode(t *testing.T) {
	for in, want := range map[string]FsyncMode{
		"":         FsyncModeInterval,
		"interval": FsyncModeInterval,
		"always":   FsyncModeAlways,
		"never":    FsyncModeNever,
	} {
		got, err := ParseFsyncMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFsyncMode("sometimes")
	assert.Error(t, err)
}

func TestKeysWithNULAreRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, t.TempDir())

	err := s.Set(ctx, "conn:c\x00d", "n1")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
	_, err = s.SAdd(ctx, "node:n1\x00c", "d")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		_, err := tx.HSet(ctx, "h\x00", "f", "v")
		return err
	})
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	_, ok, err := s.Get(ctx, "conn:c")
	require.NoError(t, err)
	assert.False(t, ok)
}
