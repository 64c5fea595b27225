package breaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fakeClock lets tests drive the breaker through time without sleeping.
type fakeClock struct{ now time.Time }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New("store", cfg)
	clk := &fakeClock{now: time.Unix(1000, 0)}
	b.clock = func() time.Time { return clk.now }
	return b, clk
}

func fail(b *Breaker) error { return b.Execute(func() error { return errBoom }) }
func succeed(b *Breaker) error {
	return b.Execute(func() error { return nil })
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, FailureWindow: time.Minute, Cooldown: time.Second})

	for i := 0; i < 3; i++ {
		if err := fail(b); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Open circuit rejects without invoking fn.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run while open")
	}
}

func TestWindowResetsFailureCount(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 3, FailureWindow: 10 * time.Second, Cooldown: time.Second})

	fail(b)
	fail(b)
	clk.advance(11 * time.Second) // window expires
	fail(b)                       // starts a fresh window: count 1, not 3
	if b.State() != StateClosed {
		t.Fatalf("stale-window failures should not open the circuit")
	}
}

func TestHalfOpenSingleTrialSuccessCloses(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Second})

	fail(b)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clk.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half_open", b.State())
	}
	if err := succeed(b); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state after trial success = %v, want closed", b.State())
	}
}

func TestHalfOpenAdmitsOnlyOneTrial(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Second})

	fail(b)
	clk.advance(time.Second)

	// First admit claims the trial slot; a concurrent call must be rejected
	// before the trial resolves.
	if err := b.admit(); err != nil {
		t.Fatalf("trial admit: %v", err)
	}
	if err := b.admit(); !errors.Is(err, ErrOpen) {
		t.Fatalf("second call during trial: %v, want ErrOpen", err)
	}
	b.observe(nil)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestCooldownDoublesUpToMax(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 1,
		FailureWindow:    time.Minute,
		Cooldown:         time.Second,
		MaxCooldown:      3 * time.Second,
	})

	fail(b) // open, cooldown 1s
	clk.advance(time.Second)
	fail(b) // trial fails -> cooldown 2s
	if got := b.Stats().OpenedUntil; !got.Equal(clk.now.Add(2 * time.Second)) {
		t.Fatalf("openedUntil = %v, want now+2s", got)
	}

	clk.advance(2 * time.Second)
	fail(b) // trial fails -> cooldown 4s, capped to 3s
	if got := b.Stats().OpenedUntil; !got.Equal(clk.now.Add(3 * time.Second)) {
		t.Fatalf("openedUntil = %v, want now+3s (capped)", got)
	}

	// Recovery resets the cooldown to its base value.
	clk.advance(3 * time.Second)
	if err := succeed(b); err != nil {
		t.Fatalf("trial: %v", err)
	}
	fail(b)
	if got := b.Stats().OpenedUntil; !got.Equal(clk.now.Add(time.Second)) {
		t.Fatalf("openedUntil after recovery = %v, want now+1s", got)
	}
}

func TestSuccessResetsClosedFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, FailureWindow: time.Minute, Cooldown: time.Second})

	fail(b)
	fail(b)
	succeed(b)
	fail(b)
	fail(b)
	if b.State() != StateClosed {
		t.Fatalf("interleaved successes should keep the circuit closed")
	}
	fail(b)
	if b.State() != StateOpen {
		t.Fatalf("threshold consecutive failures should open the circuit")
	}
}

func TestGroupIsolatesEndpoints(t *testing.T) {
	g := NewGroup(Config{FailureThreshold: 1, FailureWindow: time.Minute, Cooldown: time.Minute})

	fail(g.For("shard-0"))
	if g.For("shard-0").State() != StateOpen {
		t.Fatalf("shard-0 should be open")
	}
	if g.For("shard-1").State() != StateClosed {
		t.Fatalf("shard-1 must be unaffected by shard-0 failures")
	}
	if g.Worst() != StateOpen {
		t.Fatalf("Worst = %v, want open", g.Worst())
	}
	if len(g.Stats()) != 2 {
		t.Fatalf("expected stats for 2 breakers, got %d", len(g.Stats()))
	}
}

func TestGroupReturnsSameBreaker(t *testing.T) {
	g := NewGroup(Config{})
	if g.For("a") != g.For("a") {
		t.Fatalf("For must return a stable instance per endpoint")
	}
}
