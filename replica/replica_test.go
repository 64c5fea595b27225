package replica

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/tiercache/tiercache/internal/wire"
)

// memReplicator records applied tasks and can fail a configurable number of
// times per key.
type memReplicator struct {
	mu       sync.Mutex
	applied  []Task
	failures map[string]int // key -> remaining failures
	block    chan struct{}  // if non-nil, Apply waits until closed
}

func (r *memReplicator) Apply(_ context.Context, t Task) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.failures[t.Key]; n > 0 {
		r.failures[t.Key] = n - 1
		return errors.New("replica unavailable")
	}
	r.applied = append(r.applied, t)
	return nil
}

func (r *memReplicator) appliedTasks() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, len(r.applied))
	copy(out, r.applied)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFanOutToAllTargets(t *testing.T) {
	r := &memReplicator{}
	m := NewManager(Config{Targets: []string{"r1", "r2"}, Workers: 2}, r)
	defer m.Close(context.Background())

	m.Enqueue(OpSet, "k", []byte("v"), time.Minute)
	waitFor(t, func() bool { return len(r.appliedTasks()) == 2 })

	seen := map[string]bool{}
	for _, task := range r.appliedTasks() {
		seen[task.Target] = true
		if task.Op != OpSet || task.Key != "k" {
			t.Fatalf("unexpected task %+v", task)
		}
	}
	if !seen["r1"] || !seen["r2"] {
		t.Fatalf("expected both targets, got %v", seen)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	r := &memReplicator{failures: map[string]int{"k": 2}}
	m := NewManager(Config{
		Targets:      []string{"r1"},
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, r)
	defer m.Close(context.Background())

	m.Enqueue(OpSet, "k", []byte("v"), 0)
	waitFor(t, func() bool { return len(r.appliedTasks()) == 1 })
	if got := m.Stats().Replicated; got != 1 {
		t.Fatalf("Replicated = %d, want 1", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	r := &memReplicator{failures: map[string]int{"k": 100}}
	m := NewManager(Config{
		Targets:      []string{"r1"},
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, r)
	defer m.Close(context.Background())

	m.Enqueue(OpSet, "k", []byte("v"), 0)
	waitFor(t, func() bool { return m.Stats().Failed == 1 })
	if got := len(r.appliedTasks()); got != 0 {
		t.Fatalf("task should never apply, got %d applications", got)
	}
	// A permanently failed task leaves no pending lag behind.
	if lag := m.Stats().Lag["r1"]; lag != 0 {
		t.Fatalf("lag = %v, want 0 after settle", lag)
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	r := &memReplicator{block: make(chan struct{})}
	m := NewManager(Config{
		Targets:   []string{"r1"},
		QueueSize: 4,
		Workers:   1,
	}, r)

	// Workers are blocked inside Apply; overfill the queue.
	for i := 0; i < 20; i++ {
		m.Enqueue(OpSet, "k", []byte("v"), 0)
	}
	if m.Stats().Dropped == 0 {
		t.Fatalf("expected drops when queue overflows")
	}

	close(r.block)
	_ = m.Close(context.Background())
}

// Enqueue must never block the caller, even with no worker making progress.
func TestEnqueueNeverBlocks(t *testing.T) {
	r := &memReplicator{block: make(chan struct{})}
	m := NewManager(Config{Targets: []string{"r1"}, QueueSize: 1, Workers: 1}, r)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			m.Enqueue(OpSet, "k", []byte("v"), 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Enqueue blocked under a full queue")
	}

	close(r.block)
	_ = m.Close(context.Background())
}

func TestLagTracksOldestPending(t *testing.T) {
	r := &memReplicator{block: make(chan struct{})}
	m := NewManager(Config{Targets: []string{"r1"}, QueueSize: 8, Workers: 1}, r)

	m.Enqueue(OpSet, "k", []byte("v"), 0)
	time.Sleep(20 * time.Millisecond)
	if lag := m.Stats().Lag["r1"]; lag < 10*time.Millisecond {
		t.Fatalf("lag = %v, want >= 10ms while task pending", lag)
	}

	close(r.block)
	waitFor(t, func() bool { return m.Stats().Lag["r1"] == 0 })
	_ = m.Close(context.Background())
}

func TestCloseDrainsQueue(t *testing.T) {
	r := &memReplicator{}
	m := NewManager(Config{Targets: []string{"r1"}, Workers: 1}, r)

	for i := 0; i < 10; i++ {
		m.Enqueue(OpSet, "k", []byte("v"), 0)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := len(r.appliedTasks()); got != 10 {
		t.Fatalf("drained %d tasks, want 10", got)
	}
	// Enqueue after close is a no-op, not a panic.
	m.Enqueue(OpSet, "late", nil, 0)
}

func TestRedisReplicator(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedisReplicator(RedisConfig{Targets: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("NewRedisReplicator: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	set := Task{Op: OpSet, Key: "k", Value: []byte("v"), Target: mr.Addr()}
	if err := r.Apply(ctx, set); err != nil {
		t.Fatalf("Apply set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("replica value = %q, want v", got)
	}

	del := Task{Op: OpDelete, Key: "k", Target: mr.Addr()}
	if err := r.Apply(ctx, del); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("key should be deleted on replica")
	}

	if err := r.Apply(ctx, Task{Op: OpSet, Key: "k", Target: "unknown:6379"}); err == nil {
		t.Fatalf("unknown target should error")
	}
}

func envelope(t *testing.T, version uint64, payload string) []byte {
	t.Helper()
	return wire.Encode(wire.Entry{Version: version, StoredAt: time.Now(), Payload: []byte(payload)}, 0)
}

// Workers can complete tasks for the same key out of order; the envelope
// version must decide which write the target keeps.
func TestStaleWriteDropped(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedisReplicator(RedisConfig{Targets: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("NewRedisReplicator: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	// The newer write lands first; the delayed older one must be dropped.
	if err := r.Apply(ctx, Task{Op: OpSet, Key: "k", Value: envelope(t, 2, "v2"), Target: mr.Addr()}); err != nil {
		t.Fatalf("Apply v2: %v", err)
	}
	if err := r.Apply(ctx, Task{Op: OpSet, Key: "k", Value: envelope(t, 1, "v1"), Target: mr.Addr()}); err != nil {
		t.Fatalf("Apply v1: %v", err)
	}

	raw, err := mr.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	have, err := wire.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if have.Version != 2 || string(have.Payload) != "v2" {
		t.Fatalf("target holds version %d payload %q, want v2", have.Version, have.Payload)
	}

	// In-order writes still advance the target.
	if err := r.Apply(ctx, Task{Op: OpSet, Key: "k", Value: envelope(t, 3, "v3"), Target: mr.Addr()}); err != nil {
		t.Fatalf("Apply v3: %v", err)
	}
	raw, _ = mr.Get("k")
	if have, _ := wire.Decode([]byte(raw)); have.Version != 3 {
		t.Fatalf("target holds version %d, want 3", have.Version)
	}
}

// A corrupt incumbent on the target must never block a versioned write.
func TestCorruptIncumbentOverwritten(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedisReplicator(RedisConfig{Targets: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("NewRedisReplicator: %v", err)
	}
	defer r.Close()

	mr.Set("k", "garbage")
	if err := r.Apply(context.Background(), Task{Op: OpSet, Key: "k", Value: envelope(t, 1, "v1"), Target: mr.Addr()}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	raw, _ := mr.Get("k")
	if have, err := wire.Decode([]byte(raw)); err != nil || have.Version != 1 {
		t.Fatalf("corrupt incumbent should be replaced, got err=%v version=%d", err, have.Version)
	}
}
