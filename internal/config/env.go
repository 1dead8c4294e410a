package config

import (
	"os"
	"strconv"
)

// FromEnv overlays MQTT_STORAGE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MQTT_STORAGE_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("MQTT_STORAGE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DebugMode = b
		}
	}
	if v := os.Getenv("MQTT_STORAGE_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
	if v := os.Getenv("MQTT_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("MQTT_STORAGE_OPERATION_TIMEOUT"); v != "" {
		cfg.Storage.OperationTimeout = v
	}
	if v := os.Getenv("MQTT_STORAGE_PEBBLE_DIR"); v != "" {
		cfg.Storage.Pebble.DataDir = v
	}
	if v := os.Getenv("MQTT_STORAGE_PEBBLE_FSYNC"); v != "" {
		cfg.Storage.Pebble.Fsync = v
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_URI"); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_HOST"); v != "" {
		cfg.Storage.Mongo.Host = v
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Storage.Mongo.Port = n
		}
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_USERNAME"); v != "" {
		cfg.Storage.Mongo.Username = v
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_PASSWORD"); v != "" {
		cfg.Storage.Mongo.Password = v
	}
	if v := os.Getenv("MQTT_STORAGE_MONGO_DATABASE"); v != "" {
		cfg.Storage.Mongo.Database = v
	}
	if v := os.Getenv("MQTT_STORAGE_TOPIC_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Topic.CacheSize = n
		}
	}
}
