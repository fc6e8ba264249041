package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a host's breaker rejects a call.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerState is the state of one host's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type hostCircuit struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// HostBreakers keeps one circuit per portal host so a dead portal stops
// being contacted while others proceed. After Threshold consecutive failures a
// host is rejected for Cooldown, then a single trial request is let through.
type HostBreakers struct {
	Threshold int
	Cooldown  time.Duration

	mu    sync.Mutex
	hosts map[string]*hostCircuit
	now   func() time.Time
}

// NewHostBreakers creates a breaker set. Zero values default to 5 failures
// and a 1 minute cooldown.
func NewHostBreakers(threshold int, cooldown time.Duration) *HostBreakers {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &HostBreakers{
		Threshold: threshold,
		Cooldown:  cooldown,
		hosts:     make(map[string]*hostCircuit),
		now:       time.Now,
	}
}

func (b *HostBreakers) circuit(host string) *hostCircuit {
	c, ok := b.hosts[host]
	if !ok {
		c = &hostCircuit{}
		b.hosts[host] = c
	}
	return c
}

// Allow reports whether a call to host may proceed.
func (b *HostBreakers) Allow(host string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(host)
	switch c.state {
	case BreakerOpen:
		if b.now().Sub(c.openedAt) < b.Cooldown {
			return eris.Wrapf(ErrCircuitOpen, "host %s", host)
		}
		c.state = BreakerHalfOpen
		return nil
	default:
		return nil
	}
}

// Record feeds a call result back. Only transient errors count as failures;
// a page that answers with a permanent error is still up.
func (b *HostBreakers) Record(host string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(host)
	if err == nil || !IsTransient(err) {
		c.state = BreakerClosed
		c.failures = 0
		return
	}

	c.failures++
	if c.state == BreakerHalfOpen || c.failures >= b.Threshold {
		if c.state != BreakerOpen {
			zap.L().Warn("resilience: opening circuit",
				zap.String("host", host),
				zap.Int("failures", c.failures),
			)
		}
		c.state = BreakerOpen
		c.openedAt = b.now()
	}
}

// State returns host's current state.
func (b *HostBreakers) State(host string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.hosts[host]
	if !ok {
		return BreakerClosed
	}
	if c.state == BreakerOpen && b.now().Sub(c.openedAt) >= b.Cooldown {
		return BreakerHalfOpen
	}
	return c.state
}
