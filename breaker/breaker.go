// Package breaker guards backing-store calls with a per-endpoint circuit
// breaker.
//
// Closed passes calls through and counts failures inside a sliding window;
// crossing the threshold opens the circuit for a cooldown. Open rejects
// immediately. After the cooldown exactly one trial call is let through
// (half-open): success closes the circuit, failure reopens it with the
// cooldown doubled up to a configured maximum, so a flapping endpoint backs
// off instead of oscillating.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("breaker: circuit open")

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. Zero values fall back to defaults.
type Config struct {
	// FailureThreshold is the number of failures within FailureWindow that
	// opens the circuit.
	FailureThreshold int
	// FailureWindow is the sliding window failures are counted in.
	FailureWindow time.Duration
	// Cooldown is the initial open duration.
	Cooldown time.Duration
	// MaxCooldown caps the exponential growth of the cooldown.
	MaxCooldown time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		Cooldown:         5 * time.Second,
		MaxCooldown:      2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = d.FailureWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = d.MaxCooldown
		if c.MaxCooldown < c.Cooldown {
			c.MaxCooldown = c.Cooldown
		}
	}
	return c
}

// Stats is a snapshot of one breaker.
type Stats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at"`
	OpenedUntil   time.Time `json:"opened_until"`
}

// Breaker is a single circuit. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	// clock is replaced in tests.
	clock func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	windowStart   time.Time
	lastFailureAt time.Time
	openedUntil   time.Time
	cooldown      time.Duration
	trialInFlight bool
}

func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:     name,
		cfg:      cfg,
		clock:    time.Now,
		cooldown: cfg.Cooldown,
	}
}

// Execute runs fn if the circuit admits the call and feeds the result back
// into the state machine. When the circuit is open it returns ErrOpen
// without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.observe(err)
	return err
}

func (b *Breaker) admit() error {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Before(b.openedUntil) {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen // one trial at a time
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) observe(err error) {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.trialInFlight = false
			b.cooldown = b.cfg.Cooldown
		}
		b.failures = 0
		return
	}

	b.lastFailureAt = now

	switch b.state {
	case StateHalfOpen:
		// Trial failed: reopen with backoff.
		b.trialInFlight = false
		b.cooldown *= 2
		if b.cooldown > b.cfg.MaxCooldown {
			b.cooldown = b.cfg.MaxCooldown
		}
		b.open(now)
	case StateClosed:
		if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.cfg.FailureWindow {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open(now)
		}
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedUntil = now.Add(b.cooldown)
	b.failures = 0
	b.windowStart = time.Time{}
}

// State returns the current state, promoting Open to HalfOpen once the
// cooldown has elapsed so observers see what the next call would get.
func (b *Breaker) State() State {
	now := b.clock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && !now.Before(b.openedUntil) {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Stats() Stats {
	st := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:          b.name,
		State:         st.String(),
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		OpenedUntil:   b.openedUntil,
	}
}
