package message

import (
	"context"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

// Retained keeps retained messages per exact topic name. Several entries may
// coexist on one topic; choosing the latest is up to the caller.
type Retained struct {
	buf buffer
}

func NewRetained(store storage.Store, timeout time.Duration) *Retained {
	return &Retained{buf: buffer{store: store, timeout: timeout}}
}

// Add validates topicName before touching the store.
func (r *Retained) Add(ctx context.Context, topicName string, messageID int, msg *mqtt.Message) error {
	levels, err := topic.Sanitize(topicName)
	if err != nil {
		return err
	}
	return r.buf.add(ctx, keys.RetainIndex(levels), keys.RetainMessage(levels, messageID), messageID, msg)
}

func (r *Retained) Get(ctx context.Context, topicName string, messageID int) (*mqtt.Message, error) {
	levels, err := topic.Sanitize(topicName)
	if err != nil {
		return nil, err
	}
	return r.buf.get(ctx, keys.RetainMessage(levels, messageID))
}

func (r *Retained) Remove(ctx context.Context, topicName string, messageID int) error {
	levels, err := topic.Sanitize(topicName)
	if err != nil {
		return err
	}
	return r.buf.remove(ctx, keys.RetainIndex(levels), keys.RetainMessage(levels, messageID), messageID)
}

// ListIDs returns the ids retained on topicName in ascending order, empty when
// there are none.
func (r *Retained) ListIDs(ctx context.Context, topicName string) ([]int, error) {
	levels, err := topic.Sanitize(topicName)
	if err != nil {
		return nil, err
	}
	return r.buf.listIDs(ctx, keys.RetainIndex(levels))
}

// Latest returns the retained message with the highest id, or nil.
func (r *Retained) Latest(ctx context.Context, topicName string) (*mqtt.Message, error) {
	ids, err := r.ListIDs(ctx, topicName)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return r.Get(ctx, topicName, ids[len(ids)-1])
}
