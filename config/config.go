// Package config loads and validates the tiercached service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
	Store       StoreConfig       `yaml:"store"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Replication ReplicationConfig `yaml:"replication"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Backend string `yaml:"backend"` // zap | logrus
	Level   string `yaml:"level"`   // debug | info | warn | error
}

type CacheConfig struct {
	DefaultTTL        time.Duration `yaml:"default_ttl"`
	LocalCapacity     int           `yaml:"local_capacity"`
	LocalShards       int           `yaml:"local_shards"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	CompressThreshold int           `yaml:"compress_threshold"` // bytes; <0 disables
	BatchConcurrency  int           `yaml:"batch_concurrency"`
	ScanPageSize      int           `yaml:"scan_page_size"`
	OpTimeout         time.Duration `yaml:"op_timeout"`
	// FlushBlocking makes POST /flush wait for backing-store acknowledgment
	// instead of completing asynchronously.
	FlushBlocking bool `yaml:"flush_blocking"`
}

type StoreConfig struct {
	Mode         string        `yaml:"mode"` // standalone | sentinel | cluster
	Addrs        []string      `yaml:"addrs"`
	MasterName   string        `yaml:"master_name"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureWindow    time.Duration `yaml:"failure_window"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown"`
}

type ReplicationConfig struct {
	Targets      []string      `yaml:"targets"`
	QueueSize    int           `yaml:"queue_size"`
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	ApplyTimeout time.Duration `yaml:"apply_timeout"`
}

// Default returns the configuration used when a field is left unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Backend: "zap",
			Level:   "info",
		},
		Cache: CacheConfig{
			DefaultTTL:        10 * time.Minute,
			LocalCapacity:     100_000,
			LocalShards:       64,
			SweepInterval:     time.Minute,
			CompressThreshold: 4 << 10,
			BatchConcurrency:  16,
			ScanPageSize:      100,
			OpTimeout:         2 * time.Second,
		},
		Store: StoreConfig{
			Mode:        "standalone",
			Addrs:       []string{"localhost:6379"},
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			FailureWindow:    30 * time.Second,
			Cooldown:         5 * time.Second,
			MaxCooldown:      2 * time.Minute,
		},
		Replication: ReplicationConfig{
			QueueSize:    1024,
			Workers:      2,
			MaxAttempts:  3,
			RetryBackoff: 100 * time.Millisecond,
			ApplyTimeout: 2 * time.Second,
		},
	}
}

// Load reads a YAML file on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	switch c.Logging.Backend {
	case "zap", "logrus":
	default:
		return fmt.Errorf("config: unknown logging backend %q", c.Logging.Backend)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Logging.Level)
	}
	switch c.Store.Mode {
	case "standalone", "sentinel", "cluster":
	default:
		return fmt.Errorf("config: unknown store mode %q", c.Store.Mode)
	}
	if len(c.Store.Addrs) == 0 {
		return fmt.Errorf("config: store.addrs is required")
	}
	if c.Store.Mode == "sentinel" && c.Store.MasterName == "" {
		return fmt.Errorf("config: store.master_name is required in sentinel mode")
	}
	if c.Cache.LocalCapacity < 0 {
		return fmt.Errorf("config: cache.local_capacity must not be negative")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: breaker.failure_threshold must be positive")
	}
	if c.Breaker.MaxCooldown < c.Breaker.Cooldown {
		return fmt.Errorf("config: breaker.max_cooldown must be >= cooldown")
	}
	return nil
}
