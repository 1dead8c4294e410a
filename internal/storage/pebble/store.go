package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

const (
	kindString byte = 's'
	kindHash   byte = 'h'
	kindSet    byte = 'm'
	kindZSet   byte = 'z'
)

func metaKey(key string) []byte {
	return []byte("k\x00" + key)
}

func memberPrefix(k byte, key string) []byte {
	return []byte(string(k) + "\x00" + key + "\x00")
}

func memberKey(k byte, key, member string) []byte {
	return append(memberPrefix(k, key), member...)
}

// upperBound is the smallest key greater than every key carrying prefix.
// Prefixes here always end in NUL, so bumping the last byte is enough.
func upperBound(prefix []byte) []byte {
	hi := append([]byte{}, prefix...)
	hi[len(hi)-1]++
	return hi
}

// Store serialises operations through one mutex; each call runs in its own
// indexed batch so read-modify-write sequences are consistent.
type Store struct {
	mu     sync.Mutex
	db     *DB
	closed bool
}

var _ storage.Store = (*Store)(nil)

// New opens the database described by opts.
func New(opts Options) (*Store, error) {
	db, err := Open(opts)
	if err != nil {
		return nil, storage.Unavailable("open", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) run(ctx context.Context, op string, fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if err := storage.CheckContext(ctx, op); err != nil {
		return err
	}
	b := s.db.NewIndexedBatch()
	defer func() { _ = b.Close() }()
	if err := fn(&tx{b: b}); err != nil {
		return storage.Unavailable(op, err)
	}
	if err := storage.CheckContext(ctx, op); err != nil {
		return err
	}
	return storage.Unavailable(op, s.db.CommitBatch(b))
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrClosed
	}
	if err := storage.CheckContext(ctx, "atomic"); err != nil {
		return err
	}
	b := s.db.NewIndexedBatch()
	defer func() { _ = b.Close() }()
	if err := fn(ctx, &tx{b: b}); err != nil {
		return err
	}
	if err := storage.CheckContext(ctx, "atomic"); err != nil {
		return err
	}
	return storage.Unavailable("atomic", s.db.CommitBatch(b))
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (v string, ok bool, err error) {
	err = s.run(ctx, "get", func(t *tx) error {
		v, ok, err = t.Get(ctx, key)
		return err
	})
	return
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.run(ctx, "set", func(t *tx) error { return t.Set(ctx, key, value) })
}

func (s *Store) Del(ctx context.Context, key string) (ok bool, err error) {
	err = s.run(ctx, "del", func(t *tx) error {
		ok, err = t.Del(ctx, key)
		return err
	})
	return
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (n int64, err error) {
	err = s.run(ctx, "incrby", func(t *tx) error {
		n, err = t.IncrBy(ctx, key, delta)
		return err
	})
	return
}

func (s *Store) SAdd(ctx context.Context, key, member string) (ok bool, err error) {
	err = s.run(ctx, "sadd", func(t *tx) error {
		ok, err = t.SAdd(ctx, key, member)
		return err
	})
	return
}

func (s *Store) SRem(ctx context.Context, key, member string) (ok bool, err error) {
	err = s.run(ctx, "srem", func(t *tx) error {
		ok, err = t.SRem(ctx, key, member)
		return err
	})
	return
}

func (s *Store) SScan(ctx context.Context, key, cursor string, limit int) (members []string, next string, err error) {
	err = s.run(ctx, "sscan", func(t *tx) error {
		members, next, err = t.SScan(ctx, key, cursor, limit)
		return err
	})
	return
}

func (s *Store) HSet(ctx context.Context, key, field, value string) (ok bool, err error) {
	err = s.run(ctx, "hset", func(t *tx) error {
		ok, err = t.HSet(ctx, key, field, value)
		return err
	})
	return
}

func (s *Store) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	return s.run(ctx, "hsetall", func(t *tx) error { return t.HSetAll(ctx, key, fields) })
}

func (s *Store) HMGet(ctx context.Context, key string, fields ...string) (values []string, err error) {
	err = s.run(ctx, "hmget", func(t *tx) error {
		values, err = t.HMGet(ctx, key, fields...)
		return err
	})
	return
}

func (s *Store) HGetAll(ctx context.Context, key string) (m map[string]string, err error) {
	err = s.run(ctx, "hgetall", func(t *tx) error {
		m, err = t.HGetAll(ctx, key)
		return err
	})
	return
}

func (s *Store) HDel(ctx context.Context, key, field string) (ok bool, err error) {
	err = s.run(ctx, "hdel", func(t *tx) error {
		ok, err = t.HDel(ctx, key, field)
		return err
	})
	return
}

func (s *Store) HIncrBy(ctx context.Context, key, field string, delta int64) (n int64, err error) {
	err = s.run(ctx, "hincrby", func(t *tx) error {
		n, err = t.HIncrBy(ctx, key, field, delta)
		return err
	})
	return
}

func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) (ok bool, err error) {
	err = s.run(ctx, "zadd", func(t *tx) error {
		ok, err = t.ZAdd(ctx, key, member, score)
		return err
	})
	return
}

func (s *Store) ZRem(ctx context.Context, key, member string) (ok bool, err error) {
	err = s.run(ctx, "zrem", func(t *tx) error {
		ok, err = t.ZRem(ctx, key, member)
		return err
	})
	return
}

func (s *Store) ZRange(ctx context.Context, key string) (members []string, err error) {
	err = s.run(ctx, "zrange", func(t *tx) error {
		members, err = t.ZRange(ctx, key)
		return err
	})
	return
}

// tx implements storage.Ops on top of one indexed batch.
type tx struct {
	b *pebble.Batch
}

func (t *tx) get(k []byte) ([]byte, bool, error) {
	val, closer, err := t.b.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = closer.Close() }()
	return append([]byte(nil), val...), true, nil
}

// meta returns the kind and payload recorded for key.
func (t *tx) meta(key string) (byte, string, bool, error) {
	if strings.IndexByte(key, 0) >= 0 {
		return 0, "", false, fmt.Errorf("%w: %q contains NUL", storage.ErrInvalidKey, key)
	}
	v, ok, err := t.get(metaKey(key))
	if err != nil || !ok || len(v) == 0 {
		return 0, "", false, err
	}
	return v[0], string(v[1:]), true, nil
}

// expect reads the meta record of key and checks its kind.
func (t *tx) expect(key string, k byte) (string, bool, error) {
	kind, payload, ok, err := t.meta(key)
	if err != nil || !ok {
		return "", false, err
	}
	if kind != k {
		return "", false, fmt.Errorf("%w: %s", storage.ErrWrongType, key)
	}
	return payload, true, nil
}

func (t *tx) putMeta(key string, k byte, payload string) error {
	return t.b.Set(metaKey(key), append([]byte{k}, payload...), nil)
}

// adjustCount moves the member count of a collection by delta and drops the
// meta record once it reaches zero.
func (t *tx) adjustCount(key string, k byte, delta int) error {
	payload, _, err := t.expect(key, k)
	if err != nil {
		return err
	}
	n := 0
	if payload != "" {
		if n, err = strconv.Atoi(payload); err != nil {
			return err
		}
	}
	n += delta
	if n <= 0 {
		return t.b.Delete(metaKey(key), nil)
	}
	return t.putMeta(key, k, strconv.Itoa(n))
}

// scan visits members of a collection in byte order, starting strictly after
// `after` when it is not empty. fn returns false to stop.
func (t *tx) scan(k byte, key, after string, fn func(member string, value []byte) bool) error {
	prefix := memberPrefix(k, key)
	lower := prefix
	if after != "" {
		lower = append(append([]byte{}, prefix...), after...)
		lower = append(lower, 0)
	}
	it, err := t.b.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	for ok := it.First(); ok; ok = it.Next() {
		member := string(bytes.TrimPrefix(it.Key(), prefix))
		if !fn(member, it.Value()) {
			break
		}
	}
	return it.Error()
}

func (t *tx) deleteMembers(k byte, key string) error {
	var members []string
	if err := t.scan(k, key, "", func(m string, _ []byte) bool {
		members = append(members, m)
		return true
	}); err != nil {
		return err
	}
	for _, m := range members {
		if err := t.b.Delete(memberKey(k, key, m), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) Get(_ context.Context, key string) (string, bool, error) {
	return t.expect(key, kindString)
}

func (t *tx) Set(ctx context.Context, key, value string) error {
	kind, _, ok, err := t.meta(key)
	if err != nil {
		return err
	}
	if ok && kind != kindString {
		if _, err := t.Del(ctx, key); err != nil {
			return err
		}
	}
	return t.putMeta(key, kindString, value)
}

func (t *tx) Del(_ context.Context, key string) (bool, error) {
	kind, _, ok, err := t.meta(key)
	if err != nil || !ok {
		return false, err
	}
	if kind != kindString {
		if err := t.deleteMembers(kind, key); err != nil {
			return false, err
		}
	}
	return true, t.b.Delete(metaKey(key), nil)
}

func (t *tx) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	payload, _, err := t.expect(key, kindString)
	if err != nil {
		return 0, err
	}
	n, err := parseInt(key, payload)
	if err != nil {
		return 0, err
	}
	n += delta
	return n, t.putMeta(key, kindString, strconv.FormatInt(n, 10))
}

// addMember writes a collection member and reports whether it is new.
func (t *tx) addMember(k byte, key, member string, value []byte) (bool, error) {
	if _, _, err := t.expect(key, k); err != nil {
		return false, err
	}
	mk := memberKey(k, key, member)
	_, existed, err := t.get(mk)
	if err != nil {
		return false, err
	}
	if err := t.b.Set(mk, value, nil); err != nil {
		return false, err
	}
	if existed {
		return false, nil
	}
	return true, t.adjustCount(key, k, 1)
}

func (t *tx) removeMember(k byte, key, member string) (bool, error) {
	if _, ok, err := t.expect(key, k); err != nil || !ok {
		return false, err
	}
	mk := memberKey(k, key, member)
	_, existed, err := t.get(mk)
	if err != nil || !existed {
		return false, err
	}
	if err := t.b.Delete(mk, nil); err != nil {
		return false, err
	}
	return true, t.adjustCount(key, k, -1)
}

func (t *tx) SAdd(_ context.Context, key, member string) (bool, error) {
	return t.addMember(kindSet, key, member, nil)
}

func (t *tx) SRem(_ context.Context, key, member string) (bool, error) {
	return t.removeMember(kindSet, key, member)
}

func (t *tx) SScan(_ context.Context, key, cursor string, limit int) ([]string, string, error) {
	if _, ok, err := t.expect(key, kindSet); err != nil || !ok {
		return nil, "", err
	}
	var members []string
	more := false
	err := t.scan(kindSet, key, cursor, func(m string, _ []byte) bool {
		if limit > 0 && len(members) == limit {
			more = true
			return false
		}
		members = append(members, m)
		return true
	})
	if err != nil {
		return nil, "", err
	}
	if more {
		return members, members[len(members)-1], nil
	}
	return members, "", nil
}

func (t *tx) HSet(_ context.Context, key, field, value string) (bool, error) {
	return t.addMember(kindHash, key, field, []byte(value))
}

func (t *tx) HSetAll(ctx context.Context, key string, fields map[string]string) error {
	if _, _, err := t.expect(key, kindHash); err != nil {
		return err
	}
	if _, err := t.Del(ctx, key); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	for f, v := range fields {
		if err := t.b.Set(memberKey(kindHash, key, f), []byte(v), nil); err != nil {
			return err
		}
	}
	return t.putMeta(key, kindHash, strconv.Itoa(len(fields)))
}

func (t *tx) HMGet(_ context.Context, key string, fields ...string) ([]string, error) {
	values := make([]string, len(fields))
	if _, ok, err := t.expect(key, kindHash); err != nil || !ok {
		return values, err
	}
	for i, f := range fields {
		v, _, err := t.get(memberKey(kindHash, key, f))
		if err != nil {
			return nil, err
		}
		values[i] = string(v)
	}
	return values, nil
}

func (t *tx) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	if _, ok, err := t.expect(key, kindHash); err != nil || !ok {
		return out, err
	}
	err := t.scan(kindHash, key, "", func(f string, v []byte) bool {
		out[f] = string(v)
		return true
	})
	return out, err
}

func (t *tx) HDel(_ context.Context, key, field string) (bool, error) {
	return t.removeMember(kindHash, key, field)
}

func (t *tx) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	if _, _, err := t.expect(key, kindHash); err != nil {
		return 0, err
	}
	cur, _, err := t.get(memberKey(kindHash, key, field))
	if err != nil {
		return 0, err
	}
	n, err := parseInt(key, string(cur))
	if err != nil {
		return 0, err
	}
	n += delta
	if _, err := t.addMember(kindHash, key, field, []byte(strconv.FormatInt(n, 10))); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *tx) ZAdd(_ context.Context, key, member string, score float64) (bool, error) {
	return t.addMember(kindZSet, key, member, []byte(storage.FormatScore(score)))
}

func (t *tx) ZRem(_ context.Context, key, member string) (bool, error) {
	return t.removeMember(kindZSet, key, member)
}

func (t *tx) ZRange(_ context.Context, key string) ([]string, error) {
	if _, ok, err := t.expect(key, kindZSet); err != nil || !ok {
		return []string{}, err
	}
	var scored []storage.ScoredMember
	var parseErr error
	err := t.scan(kindZSet, key, "", func(m string, v []byte) bool {
		score, err := storage.ParseScore(string(v))
		if err != nil {
			parseErr = err
			return false
		}
		scored = append(scored, storage.ScoredMember{Member: m, Score: score})
		return true
	})
	if err == nil {
		err = parseErr
	}
	if err != nil {
		return nil, err
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
