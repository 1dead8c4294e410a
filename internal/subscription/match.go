package subscription

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

var ErrIndexOutOfRange = errors.New("level index out of range")

// NodeCounters are the trie counters relevant to one level of a topic.
type NodeCounters struct {
	// Last is set when the level is the End marker.
	Last bool
	// Literal counts subscriptions continuing with the queried level, or
	// ending here when Last is set.
	Literal int64
	// Hash counts subscriptions with '#' at this level.
	Hash int64
	// Plus counts subscriptions with '+' at this level. Always 0 when Last.
	Plus int64
}

// QueryNode reads the counters of the node reached by levels[0..index-1].
func (t *Tree) QueryNode(ctx context.Context, levels topic.Levels, index int) (NodeCounters, error) {
	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.queryNode(ctx, levels, index)
}

func (t *Tree) queryNode(ctx context.Context, levels topic.Levels, index int) (NodeCounters, error) {
	if index < 0 || index > levels.Last() {
		return NodeCounters{}, ErrIndexOutOfRange
	}
	node := keys.TopicTreeNode(levels[:index])
	if index == levels.Last() {
		values, err := t.store.HMGet(ctx, node, topic.End, topic.MultiWildcard)
		if err != nil {
			return NodeCounters{}, err
		}
		return NodeCounters{Last: true, Literal: counter(values[0]), Hash: counter(values[1])}, nil
	}
	values, err := t.store.HMGet(ctx, node, levels[index], topic.MultiWildcard, topic.SingleWildcard)
	if err != nil {
		return NodeCounters{}, err
	}
	return NodeCounters{Literal: counter(values[0]), Hash: counter(values[1]), Plus: counter(values[2])}, nil
}

func counter(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Match returns every client with a subscription matching topicName and the
// QoS it was granted. A client matching through several of its filters gets
// the QoS of the last match merged, in the order: literal branch, '#' at the
// current level, '+' branch.
func (t *Tree) Match(ctx context.Context, topicName string) (map[string]mqtt.QoS, error) {
	levels, err := topic.SanitizeTopicName(topicName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := storage.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	result, err := t.matchFilters(ctx, levels, 0)
	logger.DebugF("match %s cost: %v", topicName, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// matchFilters walks the trie from index. The three branches of a node are
// independent and are fetched concurrently.
func (t *Tree) matchFilters(ctx context.Context, levels topic.Levels, index int) (map[string]mqtt.QoS, error) {
	c, err := t.queryNode(ctx, levels, index)
	if err != nil {
		return nil, err
	}

	var literal, hash, plus map[string]mqtt.QoS
	g, gctx := errgroup.WithContext(ctx)
	if c.Literal > 0 {
		g.Go(func() (err error) {
			if c.Last {
				literal, err = t.topicSubscriptions(gctx, levels)
			} else {
				literal, err = t.matchFilters(gctx, levels, index+1)
			}
			return err
		})
	}
	if c.Hash > 0 {
		g.Go(func() (err error) {
			hash, err = t.topicSubscriptions(gctx, levels.Truncate(index, topic.MultiWildcard))
			return err
		})
	}
	if c.Plus > 0 {
		g.Go(func() (err error) {
			plus, err = t.matchFilters(gctx, levels.Replace(index, topic.SingleWildcard), index+1)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(map[string]mqtt.QoS, len(literal)+len(hash)+len(plus))
	for _, part := range []map[string]mqtt.QoS{literal, hash, plus} {
		for client, qos := range part {
			result[client] = qos
		}
	}
	return result, nil
}
