// Package message stores publish messages awaiting acknowledgment per client
// and retained messages per topic.
//
// Both buffers keep each message as a field map under its own key and keep
// the ids in a sorted set scored by id, so listing is always ascending.
package message

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

var ErrNilMessage = errors.New("message is nil")

// buffer is the storage discipline shared by InFlight and Retained.
type buffer struct {
	store   storage.Store
	timeout time.Duration
}

func (b buffer) add(ctx context.Context, index, key string, id int, msg *mqtt.Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	ctx, cancel := storage.WithTimeout(ctx, b.timeout)
	defer cancel()
	fields := mqtt.MessageToMap(msg)
	return b.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		if err := tx.HSetAll(ctx, key, fields); err != nil {
			return err
		}
		_, err := tx.ZAdd(ctx, index, strconv.Itoa(id), float64(id))
		return err
	})
}

func (b buffer) get(ctx context.Context, key string) (*mqtt.Message, error) {
	ctx, cancel := storage.WithTimeout(ctx, b.timeout)
	defer cancel()
	start := time.Now()
	fields, err := b.store.HGetAll(ctx, key)
	logger.DebugF("message query cost: %v", time.Since(start))
	if err != nil {
		return nil, err
	}
	msg, err := mqtt.MapToMessage(fields)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return msg, nil
}

func (b buffer) remove(ctx context.Context, index, key string, id int) error {
	ctx, cancel := storage.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		if _, err := tx.Del(ctx, key); err != nil {
			return err
		}
		_, err := tx.ZRem(ctx, index, strconv.Itoa(id))
		return err
	})
}

func (b buffer) listIDs(ctx context.Context, index string) ([]int, error) {
	ctx, cancel := storage.WithTimeout(ctx, b.timeout)
	defer cancel()
	members, err := b.store.ZRange(ctx, index)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("%w: message id %q in %s", mqtt.ErrMalformedRecord, m, index)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
