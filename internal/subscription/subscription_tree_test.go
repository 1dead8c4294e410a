package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/memory"
	pebblestore "github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/pebble"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

var backends = map[string]func(t *testing.T) storage.Store{
	"memory": func(t *testing.T) storage.Store {
		return memory.NewMemoryStore()
	},
	"pebble": func(t *testing.T) storage.Store {
		s, err := pebblestore.New(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store storage.Store, tree *Tree)) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			fn(t, store, NewTree(store, 5*time.Second))
		})
	}
}

func subscribeAll(t *testing.T, tree *Tree, subs []struct {
	client, filter string
	qos            mqtt.QoS
}) {
	t.Helper()
	for _, s := range subs {
		require.NoError(t, tree.Subscribe(context.Background(), s.client, s.filter, s.qos), s.filter)
	}
}

func TestSubscriptionIndices(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ storage.Store, tree *Tree) {
		ctx := context.Background()
		subscribeAll(t, tree, []struct {
			client, filter string
			qos            mqtt.QoS
		}{
			{"client1", "a/+/e", mqtt.AtMostOnce},
			{"client1", "a/+", mqtt.AtLeastOnce},
			{"client1", "a/c/e", mqtt.ExactlyOnce},
			{"client2", "a/#", mqtt.AtMostOnce},
			{"client2", "a/+", mqtt.AtLeastOnce},
			{"client2", "a/c/e", mqtt.ExactlyOnce},
		})

		subs, err := tree.ClientSubscriptions(ctx, "client1")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{
			"a/+/e/^": mqtt.AtMostOnce,
			"a/+/^":   mqtt.AtLeastOnce,
			"a/c/e/^": mqtt.ExactlyOnce,
		}, subs)
		subs, err = tree.ClientSubscriptions(ctx, "client2")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{
			"a/#/^":   mqtt.AtMostOnce,
			"a/+/^":   mqtt.AtLeastOnce,
			"a/c/e/^": mqtt.ExactlyOnce,
		}, subs)

		subs, err = tree.TopicSubscriptions(ctx, "a/+/e")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.AtMostOnce}, subs)
		subs, err = tree.TopicSubscriptions(ctx, "a/+")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.AtLeastOnce, "client2": mqtt.AtLeastOnce}, subs)
		subs, err = tree.TopicSubscriptions(ctx, "a/c/e")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.ExactlyOnce, "client2": mqtt.ExactlyOnce}, subs)
		subs, err = tree.TopicSubscriptions(ctx, "a/#")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client2": mqtt.AtMostOnce}, subs)

		removed, err := tree.Unsubscribe(ctx, "client1", "a/+")
		require.NoError(t, err)
		assert.True(t, removed)

		subs, err = tree.TopicSubscriptions(ctx, "a/+")
		require.NoError(t, err)
		assert.NotContains(t, subs, "client1")
		subs, err = tree.ClientSubscriptions(ctx, "client1")
		require.NoError(t, err)
		assert.NotContains(t, subs, "a/+/^")

		subs, err = tree.TopicSubscriptions(ctx, "x/y")
		require.NoError(t, err)
		assert.Empty(t, subs)
	})
}

func TestMatch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, _ storage.Store, tree *Tree) {
		ctx := context.Background()
		subscribeAll(t, tree, []struct {
			client, filter string
			qos            mqtt.QoS
		}{
			{"client1", "a/+/e", mqtt.AtMostOnce},
			{"client1", "a/+", mqtt.AtLeastOnce},
			{"client1", "a/c/f/#", mqtt.ExactlyOnce},
			{"client2", "a/#", mqtt.AtMostOnce},
			{"client2", "a/c/+/+", mqtt.AtLeastOnce},
			{"client2", "a/d/#", mqtt.ExactlyOnce},
		})

		tests := []struct {
			topic string
			want  map[string]mqtt.QoS
		}{
			{"a/c/f", map[string]mqtt.QoS{"client1": mqtt.ExactlyOnce, "client2": mqtt.AtMostOnce}},
			{"a/d/e", map[string]mqtt.QoS{"client1": mqtt.AtMostOnce, "client2": mqtt.AtMostOnce}},
			{"a/b/c/d", map[string]mqtt.QoS{"client2": mqtt.AtMostOnce}},
			{"a/x", map[string]mqtt.QoS{"client1": mqtt.AtLeastOnce, "client2": mqtt.AtMostOnce}},
			{"a", map[string]mqtt.QoS{"client2": mqtt.AtMostOnce}},
			{"a/c/f/g/h", map[string]mqtt.QoS{"client1": mqtt.ExactlyOnce, "client2": mqtt.AtMostOnce}},
			{"a/c/x/y", map[string]mqtt.QoS{"client2": mqtt.AtMostOnce}},
			{"b", map[string]mqtt.QoS{}},
		}
		for _, tt := range tests {
			got, err := tree.Match(ctx, tt.topic)
			require.NoError(t, err, tt.topic)
			assert.Equal(t, tt.want, got, tt.topic)
		}
	})
}

func TestMatchPlusBranchMergesLast(t *testing.T) {
	ctx := context.Background()
	tree := NewTree(memory.NewMemoryStore(), 5*time.Second)

	require.NoError(t, tree.Subscribe(ctx, "client1", "a/b", mqtt.ExactlyOnce))
	require.NoError(t, tree.Subscribe(ctx, "client1", "a/#", mqtt.AtLeastOnce))
	require.NoError(t, tree.Subscribe(ctx, "client1", "a/+", mqtt.AtMostOnce))

	got, err := tree.Match(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.AtMostOnce}, got)

	_, err = tree.Unsubscribe(ctx, "client1", "a/+")
	require.NoError(t, err)
	got, err = tree.Match(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.AtLeastOnce}, got)
}

func TestQueryNode(t *testing.T) {
	ctx := context.Background()
	tree := NewTree(memory.NewMemoryStore(), 5*time.Second)

	require.NoError(t, tree.Subscribe(ctx, "client1", "a/+/e", mqtt.AtMostOnce))
	require.NoError(t, tree.Subscribe(ctx, "client2", "a/#", mqtt.AtMostOnce))
	require.NoError(t, tree.Subscribe(ctx, "client3", "a/b", mqtt.AtMostOnce))

	levels, err := topic.SanitizeTopicName("a/b")
	require.NoError(t, err)

	root, err := tree.QueryNode(ctx, levels, 0)
	require.NoError(t, err)
	assert.Equal(t, NodeCounters{Literal: 3}, root)

	a, err := tree.QueryNode(ctx, levels, 1)
	require.NoError(t, err)
	assert.Equal(t, NodeCounters{Literal: 1, Hash: 1, Plus: 1}, a)

	end, err := tree.QueryNode(ctx, levels, 2)
	require.NoError(t, err)
	assert.Equal(t, NodeCounters{Last: true, Literal: 1}, end)

	_, err = tree.QueryNode(ctx, levels, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store storage.Store, tree *Tree) {
		ctx := context.Background()

		require.NoError(t, tree.Subscribe(ctx, "client1", "a/+/e", mqtt.AtMostOnce))
		require.NoError(t, tree.Subscribe(ctx, "client1", "a/+/e", mqtt.AtLeastOnce))

		values, err := store.HMGet(ctx, keys.TopicTreeNode(topic.Levels{"a", "+"}), "e")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, values)
		subs, err := tree.TopicSubscriptions(ctx, "a/+/e")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client1": mqtt.AtLeastOnce}, subs)

		removed, err := tree.Unsubscribe(ctx, "client1", "a/+/e")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = tree.Unsubscribe(ctx, "client1", "a/+/e")
		require.NoError(t, err)
		assert.False(t, removed)

		for _, prefix := range []topic.Levels{{}, {"a"}, {"a", "+"}, {"a", "+", "e"}} {
			fields, err := store.HGetAll(ctx, keys.TopicTreeNode(prefix))
			require.NoError(t, err)
			assert.Empty(t, fields, prefix.String())
		}
		got, err := tree.Match(ctx, "a/b/e")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestRemoveClient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store storage.Store, tree *Tree) {
		ctx := context.Background()
		subscribeAll(t, tree, []struct {
			client, filter string
			qos            mqtt.QoS
		}{
			{"client1", "a/+/e", mqtt.AtMostOnce},
			{"client1", "a/#", mqtt.AtLeastOnce},
			{"client1", "b", mqtt.ExactlyOnce},
			{"client2", "a/#", mqtt.AtMostOnce},
		})

		n, err := tree.RemoveClient(ctx, "client1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		subs, err := tree.ClientSubscriptions(ctx, "client1")
		require.NoError(t, err)
		assert.Empty(t, subs)

		got, err := tree.Match(ctx, "a/x/e")
		require.NoError(t, err)
		assert.Equal(t, map[string]mqtt.QoS{"client2": mqtt.AtMostOnce}, got)

		values, err := store.HMGet(ctx, keys.TopicTreeNode(topic.Levels{"a"}), "#")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, values)

		n, err = tree.RemoveClient(ctx, "client1")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	tree := NewTree(memory.NewMemoryStore(), 5*time.Second)

	for _, filter := range []string{"", "a//b", "a/#/b", "a/b+", "a/^"} {
		assert.ErrorIs(t, tree.Subscribe(ctx, "client1", filter, mqtt.AtMostOnce), topic.ErrInvalidTopicFilter, filter)
		_, err := tree.Unsubscribe(ctx, "client1", filter)
		assert.ErrorIs(t, err, topic.ErrInvalidTopicFilter, filter)
	}
	assert.ErrorIs(t, tree.Subscribe(ctx, "client1", "a", mqtt.Failure), ErrInvalidQoS)
	assert.ErrorIs(t, tree.Subscribe(ctx, "client1", "a", mqtt.QoS(3)), ErrInvalidQoS)

	_, err := tree.Match(ctx, "a/+")
	assert.ErrorIs(t, err, topic.ErrInvalidTopicName)
}
