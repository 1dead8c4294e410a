package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage/storagetest"
)

// MQTT_STORAGE_TEST_MONGO_URI points at a replica set used only by tests.
func testURI(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("MQTT_STORAGE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MQTT_STORAGE_TEST_MONGO_URI not set")
	}
	return uri
}

func TestStore(t *testing.T) {
	uri := testURI(t)
	n := 0
	storagetest.Run(t, func(t *testing.T) storage.Store {
		n++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := Connect(ctx, Options{
			URI:        uri,
			Database:   "mqtt_storage_test",
			Collection: fmt.Sprintf("kv_%d_%d", time.Now().UnixNano(), n),
			AppName:    "mqtt-storage-test",
		})
		require.NoError(t, err)
		t.Cleanup(func() {
			if !s.closed.Load() {
				_ = s.coll.Drop(context.Background())
			}
			_ = s.Close()
		})
		return s
	})
}

func TestOptionsURI(t *testing.T) {
	assert.Equal(t, "mongodb://db:27017/", Options{Host: "db", Port: 27017}.uri())
	assert.Equal(t, "mongodb://u%40x:p%2Fw@db:27017/?authSource=admin",
		Options{Host: "db", Port: 27017, Username: "u@x", Password: "p/w"}.uri())
	assert.Equal(t, "mongodb://override", Options{URI: "mongodb://override", Host: "db"}.uri())
}

func TestIDsSeparateKinds(t *testing.T) {
	assert.NotEqual(t, memberID(kindHash, "a", "b"), memberID(kindSet, "a", "b"))
	assert.NotEqual(t, stringID("a"), memberID(kindHash, "a", ""))
}

func TestValidKeyRejectsSeparator(t *testing.T) {
	require.NoError(t, validKey("node:n1"))
	assert.ErrorIs(t, validKey("c"+sep+"d"), storage.ErrInvalidKey)
}
