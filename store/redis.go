package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	goredis "github.com/redis/go-redis/v9"
)

// Mode selects the deployment variant of the backing store. The set is
// closed; the variant is chosen once at construction.
type Mode string

const (
	// ModeStandalone talks to a single endpoint.
	ModeStandalone Mode = "standalone"
	// ModeSentinel discovers the current primary through sentinel
	// supervisors and follows failovers.
	ModeSentinel Mode = "sentinel"
	// ModeCluster routes keys to shards by slot and follows MOVED/ASK
	// redirects.
	ModeCluster Mode = "cluster"
)

// Number of virtual route labels used for per-shard circuit breaking in
// cluster mode. The client follows redirects itself, so labels only need to
// be stable per key, not to mirror the slot map exactly.
const clusterRouteShards = 16

var ErrNoAddrs = errors.New("store: no addresses configured")

// Config for the redis-backed store.
type Config struct {
	Mode  Mode
	Addrs []string
	// MasterName is the sentinel-monitored primary name (sentinel mode only).
	MasterName string
	Username   string
	Password   string
	DB         int // ignored in cluster mode

	// Pool sizing and deadlines. Leased connections that fault (including on
	// timeout) are discarded by the client rather than returned to the pool.
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis implements Store over the three go-redis client variants.
type Redis struct {
	rdb  goredis.UniversalClient
	mode Mode
	// fixed route label for standalone/sentinel; cluster routes per key.
	route string
}

var _ Store = (*Redis)(nil)

func New(cfg Config) (*Redis, error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoAddrs
	}

	var rdb goredis.UniversalClient
	var route string

	switch cfg.Mode {
	case ModeStandalone, "":
		rdb = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addrs[0],
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
		route = cfg.Addrs[0]
	case ModeSentinel:
		if cfg.MasterName == "" {
			return nil, errors.New("store: sentinel mode requires a master name")
		}
		rdb = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
		route = "master:" + cfg.MasterName
	case ModeCluster:
		rdb = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	default:
		return nil, fmt.Errorf("store: unknown mode %q", cfg.Mode)
	}

	return &Redis{rdb: rdb, mode: cfg.Mode, route: route}, nil
}

func (s *Redis) Read(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Redis) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // non-positive TTL means "no expiry"
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *Redis) ScanPage(ctx context.Context, match string, cursor uint64, count int64) ([]string, uint64, error) {
	if count <= 0 {
		count = 100
	}
	return s.rdb.Scan(ctx, cursor, match, count).Result()
}

// BulkDelete pipelines single-key DELs so keys may live on different shards;
// a variadic DEL would be rejected as cross-slot in cluster mode.
func (s *Redis) BulkDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Redis) Route(key string) string {
	if s.mode == ModeCluster {
		return fmt.Sprintf("shard-%d", xxhash.Sum64String(key)%clusterRouteShards)
	}
	return s.route
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
