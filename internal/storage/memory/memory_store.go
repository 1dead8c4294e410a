// Package memory is an in-process storage backend for tests and
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

type kind byte

const (
	kindString kind = iota + 1
	kindHash
	kindSet
	kindZSet
)

type entry struct {
	kind kind
	str  string
	hash map[string]string
	set  map[string]struct{}
	zset map[string]float64
}

func newEntry(k kind) *entry {
	e := &entry{kind: k}
	switch k {
	case kindHash:
		e.hash = map[string]string{}
	case kindSet:
		e.set = map[string]struct{}{}
	case kindZSet:
		e.zset = map[string]float64{}
	}
	return e
}

func (e *entry) clone() *entry {
	if e == nil {
		return nil
	}
	c := &entry{kind: e.kind, str: e.str}
	if e.hash != nil {
		c.hash = make(map[string]string, len(e.hash))
		for k, v := range e.hash {
			c.hash[k] = v
		}
	}
	if e.set != nil {
		c.set = make(map[string]struct{}, len(e.set))
		for k := range e.set {
			c.set[k] = struct{}{}
		}
	}
	if e.zset != nil {
		c.zset = make(map[string]float64, len(e.zset))
		for k, v := range e.zset {
			c.zset[k] = v
		}
	}
	return c
}

func (e *entry) empty() bool {
	switch e.kind {
	case kindHash:
		return len(e.hash) == 0
	case kindSet:
		return len(e.set) == 0
	case kindZSet:
		return len(e.zset) == 0
	}
	return false
}

// MemoryStore keeps every key in one map guarded by a mutex.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]*entry
	closed bool
}

var _ storage.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*entry)}
}

// run executes op under the lock against a non-journaled view.
func (ms *MemoryStore) run(ctx context.Context, name string, op func(t *tx) error) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return storage.ErrClosed
	}
	if err := storage.CheckContext(ctx, name); err != nil {
		return err
	}
	return op(&tx{data: ms.data})
}

func (ms *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Ops) error) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return storage.ErrClosed
	}
	if err := storage.CheckContext(ctx, "atomic"); err != nil {
		return err
	}
	t := &tx{data: ms.data, journal: map[string]*entry{}}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (v string, ok bool, err error) {
	err = ms.run(ctx, "get", func(t *tx) error {
		v, ok, err = t.Get(ctx, key)
		return err
	})
	return
}

func (ms *MemoryStore) Set(ctx context.Context, key, value string) error {
	return ms.run(ctx, "set", func(t *tx) error { return t.Set(ctx, key, value) })
}

func (ms *MemoryStore) Del(ctx context.Context, key string) (ok bool, err error) {
	err = ms.run(ctx, "del", func(t *tx) error {
		ok, err = t.Del(ctx, key)
		return err
	})
	return
}

func (ms *MemoryStore) IncrBy(ctx context.Context, key string, delta int64) (n int64, err error) {
	err = ms.run(ctx, "incrby", func(t *tx) error {
		n, err = t.IncrBy(ctx, key, delta)
		return err
	})
	return
}

func (ms *MemoryStore) SAdd(ctx context.Context, key, member string) (ok bool, err error) {
	err = ms.run(ctx, "sadd", func(t *tx) error {
		ok, err = t.SAdd(ctx, key, member)
		return err
	})
	return
}

func (ms *MemoryStore) SRem(ctx context.Context, key, member string) (ok bool, err error) {
	err = ms.run(ctx, "srem", func(t *tx) error {
		ok, err = t.SRem(ctx, key, member)
		return err
	})
	return
}

func (ms *MemoryStore) SScan(ctx context.Context, key, cursor string, limit int) (members []string, next string, err error) {
	err = ms.run(ctx, "sscan", func(t *tx) error {
		members, next, err = t.SScan(ctx, key, cursor, limit)
		return err
	})
	return
}

func (ms *MemoryStore) HSet(ctx context.Context, key, field, value string) (ok bool, err error) {
	err = ms.run(ctx, "hset", func(t *tx) error {
		ok, err = t.HSet(ctx, key, field, value)
		return err
	})
	return
}

func (ms *MemoryStore) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	return ms.run(ctx, "hsetall", func(t *tx) error { return t.HSetAll(ctx, key, fields) })
}

func (ms *MemoryStore) HMGet(ctx context.Context, key string, fields ...string) (values []string, err error) {
	err = ms.run(ctx, "hmget", func(t *tx) error {
		values, err = t.HMGet(ctx, key, fields...)
		return err
	})
	return
}

func (ms *MemoryStore) HGetAll(ctx context.Context, key string) (m map[string]string, err error) {
	err = ms.run(ctx, "hgetall", func(t *tx) error {
		m, err = t.HGetAll(ctx, key)
		return err
	})
	return
}

func (ms *MemoryStore) HDel(ctx context.Context, key, field string) (ok bool, err error) {
	err = ms.run(ctx, "hdel", func(t *tx) error {
		ok, err = t.HDel(ctx, key, field)
		return err
	})
	return
}

func (ms *MemoryStore) HIncrBy(ctx context.Context, key, field string, delta int64) (n int64, err error) {
	err = ms.run(ctx, "hincrby", func(t *tx) error {
		n, err = t.HIncrBy(ctx, key, field, delta)
		return err
	})
	return
}

func (ms *MemoryStore) ZAdd(ctx context.Context, key, member string, score float64) (ok bool, err error) {
	err = ms.run(ctx, "zadd", func(t *tx) error {
		ok, err = t.ZAdd(ctx, key, member, score)
		return err
	})
	return
}

func (ms *MemoryStore) ZRem(ctx context.Context, key, member string) (ok bool, err error) {
	err = ms.run(ctx, "zrem", func(t *tx) error {
		ok, err = t.ZRem(ctx, key, member)
		return err
	})
	return
}

func (ms *MemoryStore) ZRange(ctx context.Context, key string) (members []string, err error) {
	err = ms.run(ctx, "zrange", func(t *tx) error {
		members, err = t.ZRange(ctx, key)
		return err
	})
	return
}

// tx operates on the map directly. When journal is not nil the original
// entry of each key is recorded before its first change so Atomic can undo.
type tx struct {
	data    map[string]*entry
	journal map[string]*entry
}

func (t *tx) touch(key string) {
	if t.journal == nil {
		return
	}
	if _, done := t.journal[key]; done {
		return
	}
	t.journal[key] = t.data[key].clone()
}

func (t *tx) rollback() {
	for key, orig := range t.journal {
		if orig == nil {
			delete(t.data, key)
		} else {
			t.data[key] = orig
		}
	}
}

func (t *tx) read(key string, k kind) (*entry, error) {
	e := t.data[key]
	if e == nil {
		return nil, nil
	}
	if e.kind != k {
		return nil, fmt.Errorf("%w: %s", storage.ErrWrongType, key)
	}
	return e, nil
}

func (t *tx) write(key string, k kind) (*entry, error) {
	e, err := t.read(key, k)
	if err != nil {
		return nil, err
	}
	t.touch(key)
	if e == nil {
		e = newEntry(k)
		t.data[key] = e
	}
	return e, nil
}

func (t *tx) dropIfEmpty(key string, e *entry) {
	if e.empty() {
		delete(t.data, key)
	}
}

func (t *tx) Get(_ context.Context, key string) (string, bool, error) {
	e, err := t.read(key, kindString)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.str, true, nil
}

func (t *tx) Set(_ context.Context, key, value string) error {
	if e := t.data[key]; e != nil && e.kind != kindString {
		t.touch(key)
		delete(t.data, key)
	}
	e, err := t.write(key, kindString)
	if err != nil {
		return err
	}
	e.str = value
	return nil
}

func (t *tx) Del(_ context.Context, key string) (bool, error) {
	if _, ok := t.data[key]; !ok {
		return false, nil
	}
	t.touch(key)
	delete(t.data, key)
	return true, nil
}

func (t *tx) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	e, err := t.write(key, kindString)
	if err != nil {
		return 0, err
	}
	n, err := parseInt(key, e.str)
	if err != nil {
		return 0, err
	}
	n += delta
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (t *tx) SAdd(_ context.Context, key, member string) (bool, error) {
	e, err := t.write(key, kindSet)
	if err != nil {
		return false, err
	}
	if _, ok := e.set[member]; ok {
		return false, nil
	}
	e.set[member] = struct{}{}
	return true, nil
}

func (t *tx) SRem(_ context.Context, key, member string) (bool, error) {
	e, err := t.read(key, kindSet)
	if err != nil || e == nil {
		return false, err
	}
	if _, ok := e.set[member]; !ok {
		return false, nil
	}
	t.touch(key)
	delete(e.set, member)
	t.dropIfEmpty(key, e)
	return true, nil
}

func (t *tx) SScan(_ context.Context, key, cursor string, limit int) ([]string, string, error) {
	e, err := t.read(key, kindSet)
	if err != nil || e == nil {
		return nil, "", err
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	sort.Strings(members)
	return storage.Page(members, cursor, limit)
}

func (t *tx) HSet(_ context.Context, key, field, value string) (bool, error) {
	e, err := t.write(key, kindHash)
	if err != nil {
		return false, err
	}
	_, existed := e.hash[field]
	e.hash[field] = value
	return !existed, nil
}

func (t *tx) HSetAll(_ context.Context, key string, fields map[string]string) error {
	if _, err := t.read(key, kindHash); err != nil {
		return err
	}
	t.touch(key)
	if len(fields) == 0 {
		delete(t.data, key)
		return nil
	}
	e := newEntry(kindHash)
	for k, v := range fields {
		e.hash[k] = v
	}
	t.data[key] = e
	return nil
}

func (t *tx) HMGet(_ context.Context, key string, fields ...string) ([]string, error) {
	e, err := t.read(key, kindHash)
	if err != nil {
		return nil, err
	}
	values := make([]string, len(fields))
	if e == nil {
		return values, nil
	}
	for i, f := range fields {
		values[i] = e.hash[f]
	}
	return values, nil
}

func (t *tx) HGetAll(_ context.Context, key string) (map[string]string, error) {
	e, err := t.read(key, kindHash)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if e == nil {
		return out, nil
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (t *tx) HDel(_ context.Context, key, field string) (bool, error) {
	e, err := t.read(key, kindHash)
	if err != nil || e == nil {
		return false, err
	}
	if _, ok := e.hash[field]; !ok {
		return false, nil
	}
	t.touch(key)
	delete(e.hash, field)
	t.dropIfEmpty(key, e)
	return true, nil
}

func (t *tx) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	e, err := t.write(key, kindHash)
	if err != nil {
		return 0, err
	}
	n, err := parseInt(key, e.hash[field])
	if err != nil {
		return 0, err
	}
	n += delta
	e.hash[field] = strconv.FormatInt(n, 10)
	return n, nil
}

func (t *tx) ZAdd(_ context.Context, key, member string, score float64) (bool, error) {
	e, err := t.write(key, kindZSet)
	if err != nil {
		return false, err
	}
	_, existed := e.zset[member]
	e.zset[member] = score
	return !existed, nil
}

func (t *tx) ZRem(_ context.Context, key, member string) (bool, error) {
	e, err := t.read(key, kindZSet)
	if err != nil || e == nil {
		return false, err
	}
	if _, ok := e.zset[member]; !ok {
		return false, nil
	}
	t.touch(key)
	delete(e.zset, member)
	t.dropIfEmpty(key, e)
	return true, nil
}

func (t *tx) ZRange(_ context.Context, key string) ([]string, error) {
	e, err := t.read(key, kindZSet)
	if err != nil || e == nil {
		return []string{}, err
	}
	scored := make([]storage.ScoredMember, 0, len(e.zset))
	for m, s := range e.zset {
		scored = append(scored, storage.ScoredMember{Member: m, Score: s})
	}
	return storage.SortScored(scored), nil
}

func parseInt(key, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", storage.ErrWrongType, key)
	}
	return n, nil
}
