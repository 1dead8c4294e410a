// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

var errAbort = errors.New("abort")

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	ctx := context.Background()

	t.Run("strings", func(t *testing.T) {
		s := newStore(t)

		_, ok, err := s.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "k", "v1"))
		v, ok, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, s.Set(ctx, "k", "v2"))
		v, _, _ = s.Get(ctx, "k")
		assert.Equal(t, "v2", v)

		deleted, err := s.Del(ctx, "k")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.Del(ctx, "k")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("counters", func(t *testing.T) {
		s := newStore(t)

		for want := int64(1); want <= 3; want++ {
			n, err := s.IncrBy(ctx, "c", 1)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		require.NoError(t, s.Set(ctx, "c", "65533"))
		n, err := s.IncrBy(ctx, "c", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(65534), n)

		n, err = s.IncrBy(ctx, "c", -4)
		require.NoError(t, err)
		assert.Equal(t, int64(65530), n)

		require.NoError(t, s.Set(ctx, "text", "abc"))
		_, err = s.IncrBy(ctx, "text", 1)
		assert.ErrorIs(t, err, storage.ErrWrongType)
	})

	t.Run("sets", func(t *testing.T) {
		s := newStore(t)

		added, err := s.SAdd(ctx, "set", "a")
		require.NoError(t, err)
		assert.True(t, added)
		added, err = s.SAdd(ctx, "set", "a")
		require.NoError(t, err)
		assert.False(t, added)

		for _, m := range []string{"d", "b", "c", "e"} {
			_, err := s.SAdd(ctx, "set", m)
			require.NoError(t, err)
		}

		var all []string
		cursor := ""
		pages := 0
		for {
			page, next, err := s.SScan(ctx, "set", cursor, 2)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(page), 2)
			all = append(all, page...)
			pages++
			if next == "" {
				break
			}
			cursor = next
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, all)
		assert.Equal(t, 3, pages)

		removed, err := s.SRem(ctx, "set", "c")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = s.SRem(ctx, "set", "c")
		require.NoError(t, err)
		assert.False(t, removed)

		members, next, err := s.SScan(ctx, "set", "", 0)
		require.NoError(t, err)
		assert.Equal(t, "", next)
		assert.Equal(t, []string{"a", "b", "d", "e"}, members)

		members, _, err = s.SScan(ctx, "nothing", "", 10)
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("hashes", func(t *testing.T) {
		s := newStore(t)

		created, err := s.HSet(ctx, "h", "f1", "v1")
		require.NoError(t, err)
		assert.True(t, created)
		created, err = s.HSet(ctx, "h", "f1", "v1b")
		require.NoError(t, err)
		assert.False(t, created)

		values, err := s.HMGet(ctx, "h", "f1", "absent")
		require.NoError(t, err)
		assert.Equal(t, []string{"v1b", ""}, values)

		values, err = s.HMGet(ctx, "none", "a", "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"", ""}, values)

		n, err := s.HIncrBy(ctx, "h", "count", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = s.HIncrBy(ctx, "h", "count", -1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := s.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"f1": "v1b", "count": "1"}, all)

		require.NoError(t, s.HSetAll(ctx, "h", map[string]string{"x": "1", "y": "2"}))
		all, err = s.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"x": "1", "y": "2"}, all)

		deleted, err := s.HDel(ctx, "h", "x")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.HDel(ctx, "h", "x")
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = s.HDel(ctx, "h", "y")
		require.NoError(t, err)
		all, err = s.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Empty(t, all)

		existed, err := s.Del(ctx, "h")
		require.NoError(t, err)
		assert.False(t, existed, "emptied hash should not linger")
	})

	t.Run("sorted sets", func(t *testing.T) {
		s := newStore(t)

		for _, id := range []int{10002, 10000, 10001} {
			added, err := s.ZAdd(ctx, "z", strconv.Itoa(id), float64(id))
			require.NoError(t, err)
			assert.True(t, added)
		}
		added, err := s.ZAdd(ctx, "z", "10000", 10000)
		require.NoError(t, err)
		assert.False(t, added)

		members, err := s.ZRange(ctx, "z")
		require.NoError(t, err)
		assert.Equal(t, []string{"10000", "10001", "10002"}, members)

		removed, err := s.ZRem(ctx, "z", "10001")
		require.NoError(t, err)
		assert.True(t, removed)
		members, err = s.ZRange(ctx, "z")
		require.NoError(t, err)
		assert.Equal(t, []string{"10000", "10002"}, members)

		members, err = s.ZRange(ctx, "absent")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("wrong kind", func(t *testing.T) {
		s := newStore(t)

		_, err := s.SAdd(ctx, "set", "a")
		require.NoError(t, err)

		_, err = s.HSet(ctx, "set", "f", "v")
		assert.ErrorIs(t, err, storage.ErrWrongType)
		_, _, err = s.Get(ctx, "set")
		assert.ErrorIs(t, err, storage.ErrWrongType)

		require.NoError(t, s.Set(ctx, "set", "plain"))
		v, _, err := s.Get(ctx, "set")
		require.NoError(t, err)
		assert.Equal(t, "plain", v)
	})

	t.Run("atomic commit", func(t *testing.T) {
		s := newStore(t)

		err := s.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
			if err := tx.Set(ctx, "a", "1"); err != nil {
				return err
			}
			v, ok, err := tx.Get(ctx, "a")
			if err != nil {
				return err
			}
			assert.True(t, ok)
			assert.Equal(t, "1", v)
			_, err = tx.HSet(ctx, "h", "f", "v")
			return err
		})
		require.NoError(t, err)

		v, ok, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", v)
		values, err := s.HMGet(ctx, "h", "f")
		require.NoError(t, err)
		assert.Equal(t, []string{"v"}, values)
	})

	t.Run("atomic rollback", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "keep", "old"))
		_, err := s.SAdd(ctx, "set", "a")
		require.NoError(t, err)

		err = s.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
			if err := tx.Set(ctx, "keep", "new"); err != nil {
				return err
			}
			if _, err := tx.SRem(ctx, "set", "a"); err != nil {
				return err
			}
			if _, err := tx.ZAdd(ctx, "fresh", "m", 1); err != nil {
				return err
			}
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		v, _, err := s.Get(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, "old", v)
		members, _, err := s.SScan(ctx, "set", "", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, members)
		members, err = s.ZRange(ctx, "fresh")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		s := newStore(t)

		const workers, each = 8, 25
		var wg sync.WaitGroup
		seen := make(chan int64, workers*each)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < each; i++ {
					n, err := s.IncrBy(ctx, "c", 1)
					if !assert.NoError(t, err) {
						return
					}
					seen <- n
				}
			}()
		}
		wg.Wait()
		close(seen)

		var got []int
		for n := range seen {
			got = append(got, int(n))
		}
		sort.Ints(got)
		require.Len(t, got, workers*each)
		for i, n := range got {
			assert.Equal(t, i+1, n)
		}
	})

	t.Run("concurrent set add and remove", func(t *testing.T) {
		s := newStore(t)

		// Every member is added, removed and added again, so the set keeps
		// emptying and refilling while other workers write to it.
		const workers, rounds = 8, 10
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for r := 0; r < rounds; r++ {
					m := strconv.Itoa(w*rounds + r)
					if _, err := s.SAdd(ctx, "pending", m); !assert.NoError(t, err) {
						return
					}
					if _, err := s.SRem(ctx, "pending", m); !assert.NoError(t, err) {
						return
					}
					if _, err := s.SAdd(ctx, "pending", m); !assert.NoError(t, err) {
						return
					}
				}
			}(w)
		}
		wg.Wait()

		members, next, err := s.SScan(ctx, "pending", "", 0)
		require.NoError(t, err)
		assert.Equal(t, "", next)
		assert.Len(t, members, workers*rounds)

		for _, m := range members {
			removed, err := s.SRem(ctx, "pending", m)
			require.NoError(t, err)
			assert.True(t, removed, m)
		}
		members, _, err = s.SScan(ctx, "pending", "", 0)
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := s.Get(cctx, "k")
		assert.ErrorIs(t, err, storage.ErrUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closed", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Close())
		_, _, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, storage.ErrClosed)
	})
}
