package replica

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tiercache/tiercache/internal/wire"
)

// RedisReplicator applies tasks to secondary redis endpoints, one client per
// target address.
type RedisReplicator struct {
	clients map[string]*goredis.Client
}

// RedisConfig carries the per-target connection settings.
type RedisConfig struct {
	Targets  []string // addresses, also used as Task.Target labels
	Username string
	Password string
	DB       int
	PoolSize int
}

func NewRedisReplicator(cfg RedisConfig) (*RedisReplicator, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("replica: no targets configured")
	}
	clients := make(map[string]*goredis.Client, len(cfg.Targets))
	for _, addr := range cfg.Targets {
		clients[addr] = goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
	}
	return &RedisReplicator{clients: clients}, nil
}

func (r *RedisReplicator) Apply(ctx context.Context, t Task) error {
	c, ok := r.clients[t.Target]
	if !ok {
		return fmt.Errorf("replica: unknown target %q", t.Target)
	}
	switch t.Op {
	case OpSet:
		stale, err := staleAgainst(ctx, c, t)
		if err != nil {
			return err
		}
		if stale {
			return nil
		}
		ttl := t.TTL
		if ttl < 0 {
			ttl = 0
		}
		return c.Set(ctx, t.Key, t.Value, ttl).Err()
	case OpDelete:
		return c.Del(ctx, t.Key).Err()
	default:
		return fmt.Errorf("replica: unknown op %q", t.Op)
	}
}

// staleAgainst reports whether the target already holds a newer write of
// t.Key. Concurrent workers can apply tasks out of order; the envelope's
// monotonic version decides which write wins, so a task older than the
// incumbent is dropped instead of applied.
func staleAgainst(ctx context.Context, c *goredis.Client, t Task) (bool, error) {
	incoming, err := wire.Decode(t.Value)
	if err != nil {
		return false, nil // unversioned payload: apply as-is
	}
	cur, err := c.Get(ctx, t.Key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	have, err := wire.Decode(cur)
	if err != nil {
		return false, nil // corrupt incumbent always loses
	}
	return have.Version > incoming.Version, nil
}

func (r *RedisReplicator) Close() error {
	var firstErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
