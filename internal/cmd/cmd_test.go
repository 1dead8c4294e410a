package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/config"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/metrics"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/memory"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node1"
	collector := metrics.New(cfg.NodeID)
	store := storage.Instrument(memory.NewMemoryStore(), collector)
	t.Cleanup(func() { _ = store.Close() })
	return NewApp(cfg, store, collector)
}

func run(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(context.Context, string) (*App, error) { return app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOwnerCommands(t *testing.T) {
	app := newTestApp(t)

	_, err := run(t, app, "owner", "set", "client1")
	require.NoError(t, err)
	_, err = run(t, app, "owner", "set", "client2", "node2")
	require.NoError(t, err)

	out, err := run(t, app, "owner", "get", "client1")
	require.NoError(t, err)
	assert.Equal(t, "node1\n", out)

	out, err = run(t, app, "owner", "list", "node2")
	require.NoError(t, err)
	assert.Equal(t, "client2\n", out)

	_, err = run(t, app, "owner", "clear", "client2", "node1")
	require.NoError(t, err)
	out, err = run(t, app, "owner", "get", "client2")
	require.NoError(t, err)
	assert.Equal(t, "node2\n", out)

	_, err = run(t, app, "owner", "clear", "client2", "node2")
	require.NoError(t, err)
	out, err = run(t, app, "owner", "get", "client2")
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)
}

func TestOwnerListPaging(t *testing.T) {
	app := newTestApp(t)
	for _, c := range []string{"a", "b", "c"} {
		_, err := run(t, app, "owner", "set", c)
		require.NoError(t, err)
	}

	out, err := run(t, app, "owner", "list", "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nnext cursor: b\n", out)

	out, err = run(t, app, "owner", "list", "--limit", "2", "--cursor", "b")
	require.NoError(t, err)
	assert.Equal(t, "c\n", out)
}

func TestPersistentCommands(t *testing.T) {
	app := newTestApp(t)

	out, err := run(t, app, "persistent", "get", "client1")
	require.NoError(t, err)
	assert.Equal(t, "(unknown)\n", out)

	_, err = run(t, app, "persistent", "set", "client1", "true")
	require.NoError(t, err)
	out, err = run(t, app, "persistent", "get", "client1")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = run(t, app, "persistent", "set", "client1", "maybe")
	assert.Error(t, err)
}

func TestPacketIDAndQoS2Commands(t *testing.T) {
	app := newTestApp(t)

	for _, want := range []string{"1\n", "2\n"} {
		out, err := run(t, app, "packet-id", "next", "client1")
		require.NoError(t, err)
		assert.Equal(t, want, out)
	}
	_, err := run(t, app, "packet-id", "reset", "client1")
	require.NoError(t, err)
	out, err := run(t, app, "packet-id", "next", "client1")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, app, "qos2", "add", "client1", "10000")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
	out, err = run(t, app, "qos2", "add", "client1", "10000")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
	out, err = run(t, app, "qos2", "remove", "client1", "10000")
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)
}

func TestSubscriptionCommands(t *testing.T) {
	app := newTestApp(t)

	for _, args := range [][]string{
		{"sub", "add", "client1", "a/+/e", "0"},
		{"sub", "add", "client1", "a/c/f/#", "2"},
		{"sub", "add", "client2", "a/#", "0"},
	} {
		_, err := run(t, app, args...)
		require.NoError(t, err)
	}

	out, err := run(t, app, "sub", "match", "a/c/f")
	require.NoError(t, err)
	assert.Equal(t, "client1\t2\nclient2\t0\n", out)

	out, err = run(t, app, "sub", "client", "client1")
	require.NoError(t, err)
	assert.Equal(t, "a/+/e\t0\na/c/f/#\t2\n", out)

	out, err = run(t, app, "sub", "topic", "a/#")
	require.NoError(t, err)
	assert.Equal(t, "client2\t0\n", out)

	out, err = run(t, app, "sub", "node", "a/c/f", "1")
	require.NoError(t, err)
	assert.Equal(t, "last=false literal=1 hash=1 plus=1\n", out)
	_, err = run(t, app, "sub", "node", "a/+", "1")
	assert.Error(t, err, "node takes a topic name, not a filter")

	out, err = run(t, app, "sub", "remove-client", "client1")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = run(t, app, "sub", "add", "client1", "a/b", "3")
	assert.Error(t, err)
}

func TestMessageCommands(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	msg := mqtt.NewPublish("menuTopic", 10000, mqtt.AtLeastOnce, false, []byte("{}"))
	require.NoError(t, app.InFlight.Add(ctx, "client1", 10000, msg))
	require.NoError(t, app.Retained.Add(ctx, "menuTopic", 10000, msg))

	out, err := run(t, app, "inflight", "list", "client1")
	require.NoError(t, err)
	assert.Equal(t, "10000\n", out)

	out, err = run(t, app, "inflight", "get", "client1", "10000")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "type=PUBLISH"))
	assert.Contains(t, out, "topic=menuTopic id=10000")

	_, err = run(t, app, "inflight", "remove", "client1", "10000")
	require.NoError(t, err)
	out, err = run(t, app, "inflight", "get", "client1", "10000")
	require.NoError(t, err)
	assert.Equal(t, "(none)\n", out)

	out, err = run(t, app, "retain", "get", "menuTopic")
	require.NoError(t, err)
	assert.Contains(t, out, "id=10000")
}

func TestDumpMetrics(t *testing.T) {
	app := newTestApp(t)
	out, err := run(t, app, "--dump-metrics", "owner", "get", "client1")
	require.NoError(t, err)
	assert.Contains(t, out, "mqtt_storage_")
}

func TestOpenAppCreatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := OpenApp(context.Background(), path)
	require.ErrorIs(t, err, config.ErrConfigCreated)
	assert.FileExists(t, path)
}
