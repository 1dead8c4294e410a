package session

import (
	"context"
	"strconv"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

// QoS2 is the per-client set of message ids inside the QoS 2 handshake.
type QoS2 struct {
	store   storage.Store
	timeout time.Duration
}

func NewQoS2(store storage.Store, timeout time.Duration) *QoS2 {
	return &QoS2{store: store, timeout: timeout}
}

// Add reports true when messageID was not already pending.
func (q *QoS2) Add(ctx context.Context, clientID string, messageID int) (bool, error) {
	ctx, cancel := storage.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.store.SAdd(ctx, keys.QoS2MessageIDs(clientID), strconv.Itoa(messageID))
}

// Remove reports true when messageID was pending.
func (q *QoS2) Remove(ctx context.Context, clientID string, messageID int) (bool, error) {
	ctx, cancel := storage.WithTimeout(ctx, q.timeout)
	defer cancel()
	return q.store.SRem(ctx, keys.QoS2MessageIDs(clientID), strconv.Itoa(messageID))
}

// Clear forgets every pending id of clientID.
func (q *QoS2) Clear(ctx context.Context, clientID string) error {
	ctx, cancel := storage.WithTimeout(ctx, q.timeout)
	defer cancel()
	_, err := q.store.Del(ctx, keys.QoS2MessageIDs(clientID))
	return err
}
