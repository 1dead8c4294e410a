package storage

import (
	"context"
	"time"
)

// MetricsHook observes every storage operation.
type MetricsHook interface {
	ObserveOp(op string, elapsed time.Duration, err error)
}

// NoopMetrics is used when no hook is configured.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOp(string, time.Duration, error) {}

type instrumented struct {
	inner Store
	hook  MetricsHook
}

// Instrument reports the latency and outcome of each call on s to hook.
// Calls made through an Atomic view are reported as part of "atomic".
func Instrument(s Store, hook MetricsHook) Store {
	if hook == nil {
		return s
	}
	return &instrumented{inner: s, hook: hook}
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	s.hook.ObserveOp(op, time.Since(start), err)
}

func (s *instrumented) Get(ctx context.Context, key string) (v string, ok bool, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.inner.Get(ctx, key)
}

func (s *instrumented) Set(ctx context.Context, key, value string) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())
	return s.inner.Set(ctx, key, value)
}

func (s *instrumented) Del(ctx context.Context, key string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("del", start, err) }(time.Now())
	return s.inner.Del(ctx, key)
}

func (s *instrumented) IncrBy(ctx context.Context, key string, delta int64) (n int64, err error) {
	defer func(start time.Time) { s.observe("incrby", start, err) }(time.Now())
	return s.inner.IncrBy(ctx, key, delta)
}

func (s *instrumented) SAdd(ctx context.Context, key, member string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("sadd", start, err) }(time.Now())
	return s.inner.SAdd(ctx, key, member)
}

func (s *instrumented) SRem(ctx context.Context, key, member string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("srem", start, err) }(time.Now())
	return s.inner.SRem(ctx, key, member)
}

func (s *instrumented) SScan(ctx context.Context, key, cursor string, limit int) (members []string, next string, err error) {
	defer func(start time.Time) { s.observe("sscan", start, err) }(time.Now())
	return s.inner.SScan(ctx, key, cursor, limit)
}

func (s *instrumented) HSet(ctx context.Context, key, field, value string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("hset", start, err) }(time.Now())
	return s.inner.HSet(ctx, key, field, value)
}

func (s *instrumented) HSetAll(ctx context.Context, key string, fields map[string]string) (err error) {
	defer func(start time.Time) { s.observe("hsetall", start, err) }(time.Now())
	return s.inner.HSetAll(ctx, key, fields)
}

func (s *instrumented) HMGet(ctx context.Context, key string, fields ...string) (values []string, err error) {
	defer func(start time.Time) { s.observe("hmget", start, err) }(time.Now())
	return s.inner.HMGet(ctx, key, fields...)
}

func (s *instrumented) HGetAll(ctx context.Context, key string) (m map[string]string, err error) {
	defer func(start time.Time) { s.observe("hgetall", start, err) }(time.Now())
	return s.inner.HGetAll(ctx, key)
}

func (s *instrumented) HDel(ctx context.Context, key, field string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("hdel", start, err) }(time.Now())
	return s.inner.HDel(ctx, key, field)
}

func (s *instrumented) HIncrBy(ctx context.Context, key, field string, delta int64) (n int64, err error) {
	defer func(start time.Time) { s.observe("hincrby", start, err) }(time.Now())
	return s.inner.HIncrBy(ctx, key, field, delta)
}

func (s *instrumented) ZAdd(ctx context.Context, key, member string, score float64) (ok bool, err error) {
	defer func(start time.Time) { s.observe("zadd", start, err) }(time.Now())
	return s.inner.ZAdd(ctx, key, member, score)
}

func (s *instrumented) ZRem(ctx context.Context, key, member string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("zrem", start, err) }(time.Now())
	return s.inner.ZRem(ctx, key, member)
}

func (s *instrumented) ZRange(ctx context.Context, key string) (members []string, err error) {
	defer func(start time.Time) { s.observe("zrange", start, err) }(time.Now())
	return s.inner.ZRange(ctx, key)
}

func (s *instrumented) Atomic(ctx context.Context, fn func(ctx context.Context, tx Ops) error) (err error) {
	defer func(start time.Time) { s.observe("atomic", start, err) }(time.Now())
	return s.inner.Atomic(ctx, fn)
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}
