// Package topic splits MQTT topic names and filters into levels.
//
// A sanitized topic is its ordered levels followed by the End marker, so that
// "a/+/e" becomes ["a", "+", "e", "^"]. The marker lets a storage key tell a
// filter that stops at a level from one that continues past it.
package topic

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	Separator      = "/"
	SingleWildcard = "+"
	MultiWildcard  = "#"
	// End terminates every sanitized level sequence.
	End = "^"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
)

// Levels is a sanitized topic name or filter including the End marker.
type Levels []string

// String is the encoded form used as a storage key, e.g. "a/+/e/^".
func (l Levels) String() string {
	return strings.Join(l, Separator)
}

// Topic is the original topic or filter without the End marker.
func (l Levels) Topic() string {
	if n := len(l); n > 0 && l[n-1] == End {
		return strings.Join(l[:n-1], Separator)
	}
	return strings.Join(l, Separator)
}

// Last is the index of the End marker.
func (l Levels) Last() int {
	return len(l) - 1
}

// Truncate returns a copy of the first n levels followed by level and End.
func (l Levels) Truncate(n int, level string) Levels {
	out := make(Levels, 0, n+2)
	out = append(out, l[:n]...)
	return append(out, level, End)
}

// Replace returns a copy with level i set to level.
func (l Levels) Replace(i int, level string) Levels {
	out := make(Levels, len(l))
	copy(out, l)
	out[i] = level
	return out
}

// Prefix is the encoded form of the first n levels.
func (l Levels) Prefix(n int) string {
	return strings.Join(l[:n], Separator)
}

// Decode turns an encoded key form back into Levels. It does not validate.
func Decode(encoded string) Levels {
	return strings.Split(encoded, Separator)
}

type kind byte

const (
	kindName kind = iota
	kindFilter
)

type cacheKey struct {
	kind  kind
	topic string
}

type cacheEntry struct {
	levels Levels
	err    error
}

var cache = expirable.NewLRU[cacheKey, cacheEntry](4096, nil, time.Hour)

// ConfigureCache replaces the memoisation cache. A size of zero disables it.
func ConfigureCache(size int, ttl time.Duration) {
	if size <= 0 {
		cache = nil
		return
	}
	cache = expirable.NewLRU[cacheKey, cacheEntry](size, nil, ttl)
}

// SanitizeTopicName validates a publish topic name. Wildcards are not allowed.
func SanitizeTopicName(name string) (Levels, error) {
	return sanitize(kindName, name)
}

// SanitizeTopicFilter validates a subscription filter.
func SanitizeTopicFilter(filter string) (Levels, error) {
	return sanitize(kindFilter, filter)
}

// Sanitize validates an exact topic such as the key of a retained message.
func Sanitize(topic string) (Levels, error) {
	return SanitizeTopicName(topic)
}

func sanitize(k kind, s string) (Levels, error) {
	key := cacheKey{kind: k, topic: s}
	c := cache
	if c != nil {
		if e, ok := c.Get(key); ok {
			return clone(e.levels), e.err
		}
	}
	levels, err := split(k, s)
	if c != nil {
		c.Add(key, cacheEntry{levels: levels, err: err})
	}
	return clone(levels), err
}

func clone(l Levels) Levels {
	if l == nil {
		return nil
	}
	out := make(Levels, len(l))
	copy(out, l)
	return out
}

func split(k kind, s string) (Levels, error) {
	invalid := ErrInvalidTopicName
	if k == kindFilter {
		invalid = ErrInvalidTopicFilter
	}
	if s == "" || !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return nil, invalid
	}

	parts := strings.Split(s, Separator)
	levels := make(Levels, 0, len(parts)+1)
	for i, level := range parts {
		if level == "" || level == End {
			return nil, invalid
		}
		wild := strings.ContainsAny(level, SingleWildcard+MultiWildcard)
		if wild && k == kindName {
			return nil, invalid
		}
		if wild {
			if level != SingleWildcard && level != MultiWildcard {
				return nil, invalid
			}
			if level == MultiWildcard && i != len(parts)-1 {
				return nil, invalid
			}
		}
		levels = append(levels, level)
	}
	return append(levels, End), nil
}
