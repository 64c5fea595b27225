package breaker

import "sync"

// Group manages one Breaker per backing-store endpoint, created lazily with a
// shared config. A single unhealthy endpoint only trips its own circuit.
type Group struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewGroup(cfg Config) *Group {
	return &Group{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker for an endpoint, creating it on first use.
func (g *Group) For(endpoint string) *Breaker {
	g.mu.RLock()
	b, ok := g.breakers[endpoint]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[endpoint]; ok {
		return b
	}
	b = New(endpoint, g.cfg)
	g.breakers[endpoint] = b
	return b
}

// Stats snapshots every known breaker.
func (g *Group) Stats() []Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Stats, 0, len(g.breakers))
	for _, b := range g.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// Worst returns the most degraded state across the group: Open beats
// HalfOpen beats Closed. An empty group is Closed.
func (g *Group) Worst() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	worst := StateClosed
	for _, b := range g.breakers {
		switch b.State() {
		case StateOpen:
			return StateOpen
		case StateHalfOpen:
			worst = StateHalfOpen
		}
	}
	return worst
}
