// Package subscription indexes topic subscriptions over the flat key-value
// store and matches published topics against them.
//
// A subscription is stored twice: in the client's map of encoded filter to
// QoS and in the filter's map of client to QoS. On top of that a trie of
// counters is kept, one hash per filter prefix: the hash at prefix
// levels[0..i-1] maps levels[i] to the number of subscriptions passing
// through it. Because every sanitized filter ends with the End marker, the
// field End at a node counts subscriptions that stop there. Matching a topic
// only reads the nodes along the topic's own path and its wildcard branches.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

// removeClientParallelism bounds concurrent unsubscribes in RemoveClient.
const removeClientParallelism = 8

var ErrInvalidQoS = errors.New("invalid subscription qos")

type Tree struct {
	store   storage.Store
	timeout time.Duration
}

func NewTree(store storage.Store, timeout time.Duration) *Tree {
	return &Tree{store: store, timeout: timeout}
}

// Subscribe adds or updates the subscription of clientID to filter.
// Re-subscribing only updates the granted QoS; trie counters move once per
// distinct (client, filter) pair.
func (t *Tree) Subscribe(ctx context.Context, clientID, filter string, qos mqtt.QoS) error {
	levels, err := topic.SanitizeTopicFilter(filter)
	if err != nil {
		return err
	}
	if !qos.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}

	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()

	encoded := levels.String()
	granted := strconv.Itoa(int(qos))
	return t.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		if _, err := tx.HSet(ctx, keys.ClientSubscriptions(clientID), encoded, granted); err != nil {
			return err
		}
		created, err := tx.HSet(ctx, keys.TopicSubscribers(levels), clientID, granted)
		if err != nil || !created {
			return err
		}
		for i, level := range levels {
			if _, err := tx.HIncrBy(ctx, keys.TopicTreeNode(levels[:i]), level, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unsubscribe removes the subscription of clientID to filter and reports
// whether it existed. Removing an absent subscription changes nothing.
func (t *Tree) Unsubscribe(ctx context.Context, clientID, filter string) (bool, error) {
	levels, err := topic.SanitizeTopicFilter(filter)
	if err != nil {
		return false, err
	}
	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.unsubscribe(ctx, clientID, levels)
}

func (t *Tree) unsubscribe(ctx context.Context, clientID string, levels topic.Levels) (bool, error) {
	var removed bool
	err := t.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		removed = false
		if _, err := tx.HDel(ctx, keys.ClientSubscriptions(clientID), levels.String()); err != nil {
			return err
		}
		existed, err := tx.HDel(ctx, keys.TopicSubscribers(levels), clientID)
		if err != nil || !existed {
			return err
		}
		for i, level := range levels {
			node := keys.TopicTreeNode(levels[:i])
			n, err := tx.HIncrBy(ctx, node, level, -1)
			if err != nil {
				return err
			}
			if n <= 0 {
				if n < 0 {
					logger.WarnF("trie counter %s[%s] dropped to %d", node, level, n)
				}
				if _, err := tx.HDel(ctx, node, level); err != nil {
					return err
				}
			}
		}
		removed = true
		return nil
	})
	return removed, err
}

// RemoveClient drops every subscription of clientID and returns how many
// were removed.
func (t *Tree) RemoveClient(ctx context.Context, clientID string) (int, error) {
	subs, err := t.ClientSubscriptions(ctx, clientID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()

	filters := make([]topic.Levels, 0, len(subs))
	for encoded := range subs {
		filters = append(filters, topic.Decode(encoded))
	}
	removed := make([]bool, len(filters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(removeClientParallelism)
	for i, levels := range filters {
		g.Go(func() error {
			ok, err := t.unsubscribe(gctx, clientID, levels)
			removed[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := 0
	for _, ok := range removed {
		if ok {
			n++
		}
	}
	return n, nil
}

// ClientSubscriptions maps each encoded filter of clientID, such as
// "a/+/e/^", to its granted QoS.
func (t *Tree) ClientSubscriptions(ctx context.Context, clientID string) (map[string]mqtt.QoS, error) {
	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()
	fields, err := t.store.HGetAll(ctx, keys.ClientSubscriptions(clientID))
	if err != nil {
		return nil, err
	}
	return parseGrants(fields)
}

// TopicSubscriptions maps each client subscribed to exactly filterOrTopic to
// its granted QoS. Wildcards are not expanded.
func (t *Tree) TopicSubscriptions(ctx context.Context, filterOrTopic string) (map[string]mqtt.QoS, error) {
	levels, err := topic.SanitizeTopicFilter(filterOrTopic)
	if err != nil {
		return nil, err
	}
	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.topicSubscriptions(ctx, levels)
}

func (t *Tree) topicSubscriptions(ctx context.Context, levels topic.Levels) (map[string]mqtt.QoS, error) {
	fields, err := t.store.HGetAll(ctx, keys.TopicSubscribers(levels))
	if err != nil {
		return nil, err
	}
	return parseGrants(fields)
}

func parseGrants(fields map[string]string) (map[string]mqtt.QoS, error) {
	out := make(map[string]mqtt.QoS, len(fields))
	for k, v := range fields {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > int(mqtt.ExactlyOnce) {
			return nil, fmt.Errorf("%w: qos %q for %s", mqtt.ErrMalformedRecord, v, k)
		}
		out[k] = mqtt.QoS(n)
	}
	return out, nil
}
