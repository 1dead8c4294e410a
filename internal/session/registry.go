// Package session keeps per-client state shared by every broker node: the
// owning node, the session persistence flag, the packet id counter and the
// set of QoS 2 message ids in progress.
package session

import (
	"context"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/keys"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
)

const (
	persistentTrue  = "1"
	persistentFalse = "0"

	// ownedPageSize is the page size used by Owned.
	ownedPageSize = 100
)

// Registry tracks which node owns each client. The owner key and the node's
// client set are always written together.
type Registry struct {
	store   storage.Store
	timeout time.Duration
}

func NewRegistry(store storage.Store, timeout time.Duration) *Registry {
	return &Registry{store: store, timeout: timeout}
}

// SetOwner records nodeID as the owner of clientID. Migrating a client means
// clearing it from the previous node first.
func (r *Registry) SetOwner(ctx context.Context, clientID, nodeID string) error {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		if err := tx.Set(ctx, keys.ConnectedNode(clientID), nodeID); err != nil {
			return err
		}
		_, err := tx.SAdd(ctx, keys.NodeClients(nodeID), clientID)
		return err
	})
}

// GetOwner returns the node owning clientID, if any.
func (r *Registry) GetOwner(ctx context.Context, clientID string) (string, bool, error) {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Get(ctx, keys.ConnectedNode(clientID))
}

// ClearOwner drops the ownership of clientID when nodeID holds it and always
// removes clientID from nodeID's client set. Clearing a mapping that is absent
// or belongs to another node changes nothing else.
func (r *Registry) ClearOwner(ctx context.Context, clientID, nodeID string) error {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.Atomic(ctx, func(ctx context.Context, tx storage.Ops) error {
		owner, ok, err := tx.Get(ctx, keys.ConnectedNode(clientID))
		if err != nil {
			return err
		}
		if ok && owner == nodeID {
			if _, err := tx.Del(ctx, keys.ConnectedNode(clientID)); err != nil {
				return err
			}
		} else if ok {
			logger.DebugF("client %s is owned by %s, not %s; keeping owner", clientID, owner, nodeID)
		}
		_, err = tx.SRem(ctx, keys.NodeClients(nodeID), clientID)
		return err
	})
}

// ListOwned pages through the clients of nodeID. An empty cursor starts the
// scan and an empty next cursor ends it.
func (r *Registry) ListOwned(ctx context.Context, nodeID, cursor string, limit int) ([]string, string, error) {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.SScan(ctx, keys.NodeClients(nodeID), cursor, limit)
}

// Owned collects every client of nodeID. Each page gets its own timeout.
func (r *Registry) Owned(ctx context.Context, nodeID string) ([]string, error) {
	var (
		all    []string
		cursor string
	)
	for {
		page, next, err := r.ListOwned(ctx, nodeID, cursor, ownedPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (r *Registry) SetPersistent(ctx context.Context, clientID string, persistent bool) error {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	v := persistentFalse
	if persistent {
		v = persistentTrue
	}
	return r.store.Set(ctx, keys.SessionExist(clientID), v)
}

// GetPersistent returns the persistence flag and whether it was ever set.
func (r *Registry) GetPersistent(ctx context.Context, clientID string) (persistent bool, known bool, err error) {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, ok, err := r.store.Get(ctx, keys.SessionExist(clientID))
	if err != nil || !ok {
		return false, false, err
	}
	return v == persistentTrue, true, nil
}

func (r *Registry) ClearPersistent(ctx context.Context, clientID string) error {
	ctx, cancel := storage.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.store.Del(ctx, keys.SessionExist(clientID))
	return err
}
