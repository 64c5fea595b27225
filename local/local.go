// Package local implements the in-process cache tier: a bounded,
// TTL-aware byte store with per-shard LRU eviction.
//
// Locking is scoped to the shard touched by a key, so unrelated keys never
// contend. Expired entries are dropped opportunistically on access and
// reclaimed in bulk by a periodic sweep.
package local

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	defaultShards   = 64
	defaultCapacity = 100_000
)

// Config tunes the local tier. Zero values fall back to defaults.
type Config struct {
	Capacity      int           // max entries across all shards (soft limit)
	Shards        int           // rounded up to a power of two
	SweepInterval time.Duration // 0 disables the background sweep
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero => no expiry
}

type shard struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // front = most recently used
	cap   int
}

// Cache is safe for concurrent use.
type Cache struct {
	shards []*shard
	mask   uint64

	evictions   atomic.Uint64
	expirations atomic.Uint64

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Stats is a point-in-time snapshot of the local tier.
type Stats struct {
	Entries     int
	Evictions   uint64
	Expirations uint64
}

func New(cfg Config) (*Cache, error) {
	if cfg.Capacity < 0 {
		return nil, errors.New("local: negative capacity")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	n := 1
	for n < cfg.Shards {
		n <<= 1
	}

	perShard := cfg.Capacity / n
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items: make(map[string]*list.Element),
			lru:   list.New(),
			cap:   perShard,
		}
	}

	if cfg.SweepInterval > 0 {
		c.ticker = time.NewTicker(cfg.SweepInterval)
		c.stopCh = make(chan struct{})
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.ticker.C:
					c.sweep(time.Now())
				case <-c.stopCh:
					return
				}
			}
		}()
	}
	return c, nil
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)&c.mask]
}

// Get returns the value for key, or (nil, false) on miss or expiry.
// An expired entry is evicted on the spot.
func (c *Cache) Get(key string) ([]byte, bool) {
	s := c.shardFor(key)
	now := time.Now()

	s.mu.Lock()
	el, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		s.removeLocked(el)
		s.mu.Unlock()
		c.expirations.Add(1)
		return nil, false
	}
	s.lru.MoveToFront(el)
	v := e.value
	s.mu.Unlock()
	return v, true
}

// Set inserts or replaces key. When the shard is at capacity the
// least-recently-used entry is evicted first; Set itself never fails.
// ttl <= 0 means no expiry.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	s := c.shardFor(key)
	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = exp
		s.lru.MoveToFront(el)
		s.mu.Unlock()
		return
	}
	if s.lru.Len() >= s.cap {
		if back := s.lru.Back(); back != nil {
			s.removeLocked(back)
			c.evictions.Add(1)
		}
	}
	el := s.lru.PushFront(&entry{key: key, value: value, expiresAt: exp})
	s.items[key] = el
	s.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	el, ok := s.items[key]
	if ok {
		s.removeLocked(el)
	}
	s.mu.Unlock()
	return ok
}

// DeleteFunc removes every entry whose key satisfies match and returns how
// many were removed. Shards are processed one at a time; the lock is never
// held across shards.
func (c *Cache) DeleteFunc(match func(key string) bool) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, el := range s.items {
			if match(k) {
				s.removeLocked(el)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len counts live entries, including any not yet swept expired ones.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries:     c.Len(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// Close stops the sweep loop. The cache remains usable afterwards; calling
// Close again (including concurrently) is a no-op.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		if c.stopCh == nil {
			return
		}
		close(c.stopCh)
		c.ticker.Stop()
		c.wg.Wait()
	})
}

func (c *Cache) sweep(now time.Time) {
	for _, s := range c.shards {
		s.mu.Lock()
		for _, el := range s.items {
			e := el.Value.(*entry)
			if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
				s.removeLocked(el)
				c.expirations.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

func (s *shard) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	s.lru.Remove(el)
	delete(s.items, e.key)
}
