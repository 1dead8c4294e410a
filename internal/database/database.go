// Package database opens the storage backend named by the configuration.
package database

import (
	"context"
	"fmt"
	"time"

	c "github.com/life-stream-dev/life-stream-mqtt-storage/internal/config"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/event"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/memory"
	mongostore "github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/mongo"
	pebblestore "github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/pebble"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/utils"
)

type DBCloseCallback struct {
	store storage.Store
}

func NewDBCloseCallback(store storage.Store) *DBCloseCallback {
	return &DBCloseCallback{store: store}
}

func (dc *DBCloseCallback) Invoke(_ context.Context) error {
	logger.InfoF("Closing storage backend")
	return dc.store.Close()
}

func duration(s string) time.Duration {
	d, _ := utils.ParseStringTime(s)
	return d
}

// Open builds the configured backend, wrapped so every call reports to hook.
func Open(ctx context.Context, config c.Config, hook storage.MetricsHook) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch config.Storage.Backend {
	case c.BackendMemory:
		store = memory.NewMemoryStore()
	case c.BackendPebble:
		var mode pebblestore.FsyncMode
		if mode, err = pebblestore.ParseFsyncMode(config.Storage.Pebble.Fsync); err != nil {
			return nil, err
		}
		store, err = pebblestore.New(pebblestore.Options{
			DataDir:       config.Storage.Pebble.DataDir,
			Fsync:         mode,
			FsyncInterval: duration(config.Storage.Pebble.FsyncInterval),
		})
	case c.BackendMongo:
		m := config.Storage.Mongo
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		store, err = mongostore.Connect(connectCtx, mongostore.Options{
			URI:            m.URI,
			Host:           m.Host,
			Port:           m.Port,
			Username:       m.Username,
			Password:       m.Password,
			Database:       m.Database,
			Collection:     m.Collection,
			AppName:        config.AppName,
			UseTLS:         m.UseTLS,
			ConnectTimeout: duration(m.ConnectTimeout),
			SocketTimeout:  duration(m.SocketTimeout),
			IdleTimeout:    duration(m.ConnectIdleTimeout),
			Heartbeat:      duration(m.Heartbeat),
			MinPoolSize:    m.MinPoolSize,
			MaxPoolSize:    m.MaxPoolSize,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("error occured while opening %s storage: %w", config.Storage.Backend, err)
	}
	logger.InfoF("Storage backend %s ready", config.Storage.Backend)
	return storage.Instrument(store, hook), nil
}

// Connect opens the backend and registers its shutdown with the default cleaner.
func Connect(ctx context.Context, config c.Config, hook storage.MetricsHook) (storage.Store, error) {
	store, err := Open(ctx, config, hook)
	if err != nil {
		return nil, err
	}
	event.Default().Add(NewDBCloseCallback(store))
	return store, nil
}
