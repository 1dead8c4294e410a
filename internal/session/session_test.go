package session

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/memory"
	pebblestore "github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/pebble"
)

const testTimeout = 5 * time.Second

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s := memory.NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRegistryOwnership(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newStore(t), testTimeout)

	owners := map[string]string{
		"client1": "node1",
		"client2": "node1",
		"client3": "node1",
		"client4": "node2",
		"client5": "node2",
	}
	for client, node := range owners {
		require.NoError(t, r.SetOwner(ctx, client, node))
	}
	for client, node := range owners {
		got, ok, err := r.GetOwner(ctx, client)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, node, got, client)
	}

	clients, next, err := r.ListOwned(ctx, "node1", "", 100)
	require.NoError(t, err)
	assert.Equal(t, "", next)
	assert.ElementsMatch(t, []string{"client1", "client2", "client3"}, clients)
	clients, _, err = r.ListOwned(ctx, "node2", "", 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client4", "client5"}, clients)

	require.NoError(t, r.ClearOwner(ctx, "client3", "node1"))
	require.NoError(t, r.ClearOwner(ctx, "client4", "node1"))

	_, ok, err := r.GetOwner(ctx, "client3")
	require.NoError(t, err)
	assert.False(t, ok)
	got, ok, err := r.GetOwner(ctx, "client4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "node2", got)

	clients, err = r.Owned(ctx, "node1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"client1", "client2"}, clients)
	clients, err = r.Owned(ctx, "node2")
	require.NoError(t, err)
	assert.Contains(t, clients, "client4")

	require.NoError(t, r.ClearOwner(ctx, "nobody", "node1"))
}

func TestRegistryOwnedPages(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newStore(t), testTimeout)

	var want []string
	for i := 0; i < ownedPageSize*2+7; i++ {
		client := "client" + strconv.Itoa(i)
		want = append(want, client)
		require.NoError(t, r.SetOwner(ctx, client, "node1"))
	}

	got, err := r.Owned(ctx, "node1")
	require.NoError(t, err)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestRegistryPersistentFlag(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(newStore(t), testTimeout)

	_, known, err := r.GetPersistent(ctx, "client1")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, r.SetPersistent(ctx, "client1", false))
	persistent, known, err := r.GetPersistent(ctx, "client1")
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, persistent)

	require.NoError(t, r.SetPersistent(ctx, "client1", true))
	persistent, known, err = r.GetPersistent(ctx, "client1")
	require.NoError(t, err)
	assert.True(t, known)
	assert.True(t, persistent)

	require.NoError(t, r.ClearPersistent(ctx, "client1"))
	_, known, err = r.GetPersistent(ctx, "client1")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestPacketIDs(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := NewPacketIDs(store, testTimeout)

	for want := 1; want <= 3; want++ {
		id, err := p.Next(ctx, "client1")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	require.NoError(t, store.Set(ctx, keys.NextPacketID("client1"), "65533"))
	for _, want := range []int{65534, 65535, 1, 2} {
		id, err := p.Next(ctx, "client1")
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}

	require.NoError(t, p.Reset(ctx, "client1"))
	id, err := p.Next(ctx, "client1")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = p.Next(ctx, "client2")
	require.NoError(t, err)
	assert.Equal(t, 1, id, "counters are per client")
}

func TestPacketIDsNeverLeaveRange(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := NewPacketIDs(store, testTimeout)

	require.NoError(t, store.Set(ctx, keys.NextPacketID("client1"), "65500"))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := p.Next(ctx, "client1")
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, id, MinPacketID)
				assert.LessOrEqual(t, id, MaxPacketID)
			}
		}()
	}
	wg.Wait()
}

func TestQoS2(t *testing.T) {
	ctx := context.Background()
	q := NewQoS2(newStore(t), testTimeout)

	for _, id := range []int{10000, 10001, 10002} {
		added, err := q.Add(ctx, "client1", id)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := q.Add(ctx, "client1", 10000)
	require.NoError(t, err)
	assert.False(t, added)

	for _, id := range []int{10000, 10001, 10002} {
		removed, err := q.Remove(ctx, "client1", id)
		require.NoError(t, err)
		assert.True(t, removed)
	}
	removed, err := q.Remove(ctx, "client1", 10001)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = q.Add(ctx, "client1", 7)
	require.NoError(t, err)
	require.NoError(t, q.Clear(ctx, "client1"))
	added, err = q.Add(ctx, "client1", 7)
	require.NoError(t, err)
	assert.True(t, added)
}

func TestTimeoutSurfacesAsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewRegistry(newStore(t), testTimeout).GetOwner(ctx, "client1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestRegistryRejectsSeparatorInIDs(t *testing.T) {
	ctx := context.Background()
	store, err := pebblestore.New(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	r := NewRegistry(store, testTimeout)

	assert.ErrorIs(t, r.SetOwner(ctx, "c\x00d", "n1"), storage.ErrInvalidKey)
	assert.ErrorIs(t, r.SetOwner(ctx, "d", "n1\x00c"), storage.ErrInvalidKey)

	require.NoError(t, r.SetOwner(ctx, "d", "n1"))
	owned, err := r.Owned(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, owned)
}
