package message

import (
	"context"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

// InFlight buffers unacknowledged messages per client.
type InFlight struct {
	buf buffer
}

func NewInFlight(store storage.Store, timeout time.Duration) *InFlight {
	return &InFlight{buf: buffer{store: store, timeout: timeout}}
}

// Add stores msg under (clientID, messageID), replacing any previous one.
func (f *InFlight) Add(ctx context.Context, clientID string, messageID int, msg *mqtt.Message) error {
	return f.buf.add(ctx, keys.InFlightIndex(clientID), keys.InFlightMessage(clientID, messageID), messageID, msg)
}

// Get returns nil without error when no such message exists.
func (f *InFlight) Get(ctx context.Context, clientID string, messageID int) (*mqtt.Message, error) {
	return f.buf.get(ctx, keys.InFlightMessage(clientID, messageID))
}

func (f *InFlight) Remove(ctx context.Context, clientID string, messageID int) error {
	return f.buf.remove(ctx, keys.InFlightIndex(clientID), keys.InFlightMessage(clientID, messageID), messageID)
}

// ListIDs returns the pending ids of clientID in ascending order.
func (f *InFlight) ListIDs(ctx context.Context, clientID string) ([]int, error) {
	return f.buf.listIDs(ctx, keys.InFlightIndex(clientID))
}
