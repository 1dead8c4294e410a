package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/utils"
)

// DefaultPath is where ReadConfig looks when no path is given.
const DefaultPath = "config.json"

const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendMongo  = "mongo"
)

type PebbleConfig struct {
	DataDir       string `json:"data_dir"`
	Fsync         string `json:"fsync"` // always|interval|never
	FsyncInterval string `json:"fsync_interval"`
}

type MongoConfig struct {
	// URI overrides host, port and credentials when set.
	URI                string `json:"uri"`
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	Collection         string `json:"collection"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

type StorageConfig struct {
	Backend          string       `json:"backend"`
	OperationTimeout string       `json:"operation_timeout"`
	Pebble           PebbleConfig `json:"pebble"`
	Mongo            MongoConfig  `json:"mongo"`
}

type TopicConfig struct {
	CacheSize int    `json:"cache_size"`
	CacheTTL  string `json:"cache_ttl"`
}

type LogConfig struct {
	Dir       string `json:"dir"`
	Retention string `json:"retention"`
}

type Config struct {
	AppName   string        `json:"app_name"`
	NodeID    string        `json:"node_id"`
	DebugMode bool          `json:"debug_mode"`
	Log       LogConfig     `json:"log"`
	Storage   StorageConfig `json:"storage"`
	Topic     TopicConfig   `json:"topic"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		AppName: "life-stream-mqtt-storage",
		NodeID:  "node1",
		Log: LogConfig{
			Dir:       "logs",
			Retention: "30d",
		},
		Storage: StorageConfig{
			Backend:          BackendMemory,
			OperationTimeout: "5s",
			Pebble: PebbleConfig{
				DataDir:       "data",
				Fsync:         "interval",
				FsyncInterval: "5ms",
			},
			Mongo: MongoConfig{
				Host:               "127.0.0.1",
				Port:               27017,
				Database:           "mqtt",
				Collection:         "kv",
				ConnectTimeout:     "10s",
				SocketTimeout:      "30s",
				ConnectIdleTimeout: "5m",
				Heartbeat:          "10s",
				MinPoolSize:        2,
				MaxPoolSize:        64,
			},
		},
		Topic: TopicConfig{
			CacheSize: 4096,
			CacheTTL:  "1h",
		},
	}
}

var (
	config      Config
	initialized bool
	mu          sync.Mutex
)

var ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")

// ReadConfig loads path (DefaultPath when empty), overlays the environment and
// validates the result. A missing file is written out with defaults and
// reported as ErrConfigCreated.
func ReadConfig(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	bytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		data, _ := json.MarshalIndent(cfg, "", "\t")
		if werr := os.WriteFile(path, data, 0644); werr != nil {
			return cfg, fmt.Errorf("write default config %s: %w", path, werr)
		}
		return cfg, ErrConfigCreated
	}

	if err = json.Unmarshal(bytes, &cfg); err != nil {
		return cfg, errors.New("the configuration file does not contain valid JSON")
	}
	FromEnv(&cfg)
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}

	config = cfg
	initialized = true
	return cfg, nil
}

// GetConfig returns the last successfully read configuration, reading
// DefaultPath on first use.
func GetConfig() (Config, error) {
	mu.Lock()
	if initialized {
		defer mu.Unlock()
		return config, nil
	}
	mu.Unlock()
	return ReadConfig("")
}

// Validate checks backend selection and every duration field.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendPebble, BackendMongo:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.NodeID == "" {
		return errors.New("node_id must not be empty")
	}
	durations := map[string]string{
		"storage.operation_timeout":          c.Storage.OperationTimeout,
		"storage.pebble.fsync_interval":      c.Storage.Pebble.FsyncInterval,
		"storage.mongo.connect_timeout":      c.Storage.Mongo.ConnectTimeout,
		"storage.mongo.socket_timeout":       c.Storage.Mongo.SocketTimeout,
		"storage.mongo.connect_idle_timeout": c.Storage.Mongo.ConnectIdleTimeout,
		"storage.mongo.heartbeat":            c.Storage.Mongo.Heartbeat,
		"topic.cache_ttl":                    c.Topic.CacheTTL,
		"log.retention":                      c.Log.Retention,
	}
	for name, value := range durations {
		if _, err := utils.ParseStringTime(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Storage.Pebble.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("storage.pebble.fsync: use always|interval|never, got %q", c.Storage.Pebble.Fsync)
	}
	return nil
}

// OperationTimeout is the per-operation deadline applied by components.
func (c Config) OperationTimeout() time.Duration {
	d, _ := utils.ParseStringTime(c.Storage.OperationTimeout)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
