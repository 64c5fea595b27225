// Package version tracks a monotonic write counter per storage key.
// Versions are carried in the wire envelope so stale replicated writes can be
// detected with last-writer-wins semantics.
package version

import (
	"sync"
	"time"
)

type entry struct {
	v         uint64
	updatedAt time.Time
}

// Store keeps per-key counters in-process. Counters for keys that have not
// been written within the retention window are pruned by a background loop so
// the map does not grow without bound.
type Store struct {
	mu   sync.RWMutex
	vers map[string]entry

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	retention time.Duration
}

// NewStore starts the prune loop when both intervals are positive.
func NewStore(pruneInterval, retention time.Duration) *Store {
	s := &Store{
		vers:      make(map[string]entry),
		retention: retention,
	}
	if pruneInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(pruneInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Prune(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// Next atomically increments and returns the counter for key.
func (s *Store) Next(key string) uint64 {
	now := time.Now()
	s.mu.Lock()
	e := s.vers[key]
	e.v++
	e.updatedAt = now
	s.vers[key] = e
	s.mu.Unlock()
	return e.v
}

// Snapshot returns the current counter; missing => 0.
func (s *Store) Snapshot(key string) uint64 {
	s.mu.RLock()
	e := s.vers[key]
	s.mu.RUnlock()
	return e.v
}

// Prune drops counters idle longer than retention.
func (s *Store) Prune(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.vers {
		if !e.updatedAt.IsZero() && e.updatedAt.Before(cutoff) {
			delete(s.vers, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the prune loop. Safe to call more than once, concurrently.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.stopCh == nil {
			return
		}
		close(s.stopCh)
		s.ticker.Stop()
		s.wg.Wait()
	})
}
