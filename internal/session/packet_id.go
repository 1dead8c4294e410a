package session

import (
	"context"
	"strconv"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

const (
	MinPacketID = 1
	MaxPacketID = 65535
)

// PacketIDs allocates per-client packet ids in 1..65535, wrapping to 1.
//
// Callers are expected to allocate for one client from one goroutine at a
// time. Two allocations racing across the wrap may both return 1.
type PacketIDs struct {
	store   storage.Store
	timeout time.Duration
}

func NewPacketIDs(store storage.Store, timeout time.Duration) *PacketIDs {
	return &PacketIDs{store: store, timeout: timeout}
}

// Next returns the next packet id for clientID, creating the counter on
// first use.
func (p *PacketIDs) Next(ctx context.Context, clientID string) (int, error) {
	ctx, cancel := storage.WithTimeout(ctx, p.timeout)
	defer cancel()

	key := keys.NextPacketID(clientID)
	n, err := p.store.IncrBy(ctx, key, 1)
	if err != nil {
		return 0, err
	}
	if n >= MinPacketID && n <= MaxPacketID {
		return int(n), nil
	}

	logger.DebugF("packet id counter for %s wrapped at %d", clientID, n)
	err = p.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		v, _, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		// Another caller may already have reset the counter.
		if cur, perr := strconv.ParseInt(v, 10, 64); perr == nil && cur >= MinPacketID && cur <= MaxPacketID {
			return nil
		}
		return tx.Set(ctx, key, strconv.Itoa(MinPacketID))
	})
	if err != nil {
		return 0, err
	}
	return MinPacketID, nil
}

// Reset drops the counter so the next allocation starts again at 1.
func (p *PacketIDs) Reset(ctx context.Context, clientID string) error {
	ctx, cancel := storage.WithTimeout(ctx, p.timeout)
	defer cancel()
	_, err := p.store.Del(ctx, keys.NextPacketID(clientID))
	return err
}
