// Package replica propagates cache writes to secondary targets
// asynchronously. Replication is best-effort by design: the queue is bounded
// and drops its oldest tasks under pressure, so foreground writes never see
// backpressure; a crash loses whatever was in flight.
package replica

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Op is the kind of mutation being replicated.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
)

// Task is one pending propagation to one target.
type Task struct {
	Op         Op
	Key        string
	Value      []byte // encoded envelope; nil for deletes
	TTL        time.Duration
	Target     string
	EnqueuedAt time.Time
}

// Replicator applies a task against a target. Implementations must be safe
// for concurrent use.
type Replicator interface {
	Apply(ctx context.Context, t Task) error
}

// Config tunes the manager. Zero values fall back to defaults.
type Config struct {
	Targets      []string
	QueueSize    int
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	ApplyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 2 * time.Second
	}
	return c
}

// Stats is a point-in-time snapshot of replication health.
type Stats struct {
	Enqueued   uint64                   `json:"enqueued"`
	Replicated uint64                   `json:"replicated"`
	Dropped    uint64                   `json:"dropped"` // queue overflow
	Failed     uint64                   `json:"failed"`  // retry budget exhausted
	QueueDepth int                      `json:"queue_depth"`
	Lag        map[string]time.Duration `json:"lag"` // age of oldest pending task per target
}

// Manager fans writes out to every configured target from background
// workers. The queue is the only synchronization point with the foreground
// write path.
type Manager struct {
	cfg  Config
	repl Replicator

	ch     chan Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	enqueued   atomic.Uint64
	replicated atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64

	mu      sync.Mutex
	closed  bool
	pending map[string][]time.Time // per-target enqueue times, FIFO
}

func NewManager(cfg Config, repl Replicator) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:     cfg,
		repl:    repl,
		ch:      make(chan Task, cfg.QueueSize),
		stopCh:  make(chan struct{}),
		pending: make(map[string][]time.Time),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Enqueue queues one task per configured target. It never blocks: when the
// queue is full the oldest task is dropped to make room.
func (m *Manager) Enqueue(op Op, key string, value []byte, ttl time.Duration) {
	now := time.Now()
	for _, target := range m.cfg.Targets {
		t := Task{Op: op, Key: key, Value: value, TTL: ttl, Target: target, EnqueuedAt: now}
		m.push(t)
	}
}

func (m *Manager) push(t Task) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.enqueued.Add(1)
	m.pending[t.Target] = append(m.pending[t.Target], t.EnqueuedAt)
	m.mu.Unlock()

	for {
		select {
		case m.ch <- t:
			return
		default:
		}
		// Queue full: drop the oldest task and retry the send.
		select {
		case old := <-m.ch:
			m.dropped.Add(1)
			m.settle(old.Target)
		default:
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case t := <-m.ch:
			m.process(t)
		case <-m.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case t := <-m.ch:
					m.process(t)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) process(t Task) {
	backoff := m.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ApplyTimeout)
		err := m.repl.Apply(ctx, t)
		cancel()
		if err == nil {
			m.replicated.Add(1)
			m.settle(t.Target)
			return
		}
		if attempt >= m.cfg.MaxAttempts {
			// Permanent failure is recorded, never escalated to the writer.
			m.failed.Add(1)
			m.settle(t.Target)
			return
		}
		select {
		case <-time.After(backoff):
		case <-m.stopCh:
			m.failed.Add(1)
			m.settle(t.Target)
			return
		}
		backoff *= 2
	}
}

// settle removes the oldest pending timestamp for a target. Workers complete
// tasks close to FIFO order, so the front entry approximates the task that
// just finished.
func (m *Manager) settle(target string) {
	m.mu.Lock()
	if ts := m.pending[target]; len(ts) > 0 {
		m.pending[target] = ts[1:]
	}
	m.mu.Unlock()
}

func (m *Manager) Stats() Stats {
	now := time.Now()
	lag := make(map[string]time.Duration, len(m.cfg.Targets))

	m.mu.Lock()
	for _, target := range m.cfg.Targets {
		if ts := m.pending[target]; len(ts) > 0 {
			lag[target] = now.Sub(ts[0])
		} else {
			lag[target] = 0
		}
	}
	m.mu.Unlock()

	return Stats{
		Enqueued:   m.enqueued.Load(),
		Replicated: m.replicated.Load(),
		Dropped:    m.dropped.Load(),
		Failed:     m.failed.Load(),
		QueueDepth: len(m.ch),
		Lag:        lag,
	}
}

// MaxLag returns the worst lag across targets.
func (m *Manager) MaxLag() time.Duration {
	var worst time.Duration
	for _, d := range m.Stats().Lag {
		if d > worst {
			worst = d
		}
	}
	return worst
}

// Close stops accepting tasks and waits for the workers to drain the queue,
// up to ctx's deadline.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
