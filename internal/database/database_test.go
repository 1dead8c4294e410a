package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	c "github.com/life-stream-dev/life-stream-mqtt-storage/internal/config"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

type countingHook struct {
	ops []string
}

func (h *countingHook) ObserveOp(op string, _ time.Duration, _ error) {
	h.ops = append(h.ops, op)
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	hook := &countingHook{}
	store, err := Open(ctx, c.Default(), hook)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", "v"))
	assert.Equal(t, []string{"set"}, hook.ops)

	require.NoError(t, NewDBCloseCallback(store).Invoke(ctx))
	_, _, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestOpenPebble(t *testing.T) {
	ctx := context.Background()
	config := c.Default()
	config.Storage.Backend = c.BackendPebble
	config.Storage.Pebble.DataDir = t.TempDir()

	store, err := Open(ctx, config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	n, err := store.IncrBy(ctx, "c", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	config := c.Default()
	config.Storage.Backend = "redis"
	_, err := Open(context.Background(), config, nil)
	assert.Error(t, err)

	config = c.Default()
	config.Storage.Backend = c.BackendPebble
	config.Storage.Pebble.Fsync = "sometimes"
	_, err = Open(context.Background(), config, nil)
	assert.Error(t, err)
}
