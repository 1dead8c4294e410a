// Package storage defines the key-value primitives shared by every
// cluster-state component and the contract each backend honours.
//
// Keys hold one of four kinds of value: a string (also used for counters),
// a hash of field/value pairs, a set of members, or a set of members ordered
// by a numeric score. Reads of an absent key return empty results, never an
// error. Writing a key of one kind through an operation of another kind
// fails with ErrWrongType.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable wraps transport failures and timeouts.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrWrongType reports an operation against a key holding another kind.
	ErrWrongType = errors.New("operation against a key holding the wrong kind of value")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage closed")
	// ErrInvalidKey reports a key containing a byte the backend reserves as
	// a separator.
	ErrInvalidKey = errors.New("invalid storage key")
)

// Ops is the primitive surface. Implementations are safe for concurrent use,
// except for the transactional view handed to an Atomic callback, which
// belongs to that callback's goroutine.
type Ops interface {
	// Get returns the string at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Del removes key whatever its kind and reports whether it existed.
	Del(ctx context.Context, key string) (bool, error)
	// IncrBy adds delta to the integer string at key, treating absent as 0.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	// SAdd reports whether member was newly added.
	SAdd(ctx context.Context, key, member string) (bool, error)
	// SRem reports whether member was present.
	SRem(ctx context.Context, key, member string) (bool, error)
	// SScan pages through members in ascending byte order. An empty cursor
	// starts a scan; an empty next cursor means the scan is complete.
	SScan(ctx context.Context, key, cursor string, limit int) ([]string, string, error)

	// HSet reports whether field was newly created.
	HSet(ctx context.Context, key, field, value string) (bool, error)
	// HSetAll replaces the whole hash at key with fields.
	HSetAll(ctx context.Context, key string, fields map[string]string) error
	// HMGet returns one value per field, "" where absent.
	HMGet(ctx context.Context, key string, fields ...string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDel reports whether field was present.
	HDel(ctx context.Context, key, field string) (bool, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// ZAdd sets member's score and reports whether member was new.
	ZAdd(ctx context.Context, key, member string, score float64) (bool, error)
	ZRem(ctx context.Context, key, member string) (bool, error)
	// ZRange lists members by ascending score, ties by member.
	ZRange(ctx context.Context, key string) ([]string, error)
}

// Store is a backend.
type Store interface {
	Ops
	// Atomic runs fn against a transactional view. Either every write made
	// through tx is applied or none is. fn must not retain tx.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error
	Close() error
}

// Unavailable wraps a transport-level cause with ErrUnavailable.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrUnavailable) || errors.Is(cause, ErrWrongType) || errors.Is(cause, ErrClosed) ||
		errors.Is(cause, ErrInvalidKey) {
		return cause
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, cause)
}

// CheckContext returns ErrUnavailable wrapping ctx.Err() once ctx is done.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

// WithTimeout bounds ctx by d. A non-positive d leaves ctx unbounded.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
