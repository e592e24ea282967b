// Package resilience owns process health: per-host circuit breakers,
// heartbeat/stall detection, and memory-pressure backpressure.
package resilience

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/crawlkit/crawld/internal/crawler"
)

// State is the circuit state for a single host.
type State int

// Circuit states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes the per-host circuit breaker.
type BreakerConfig struct {
	// HardFailureThreshold is the weighted consecutive-failure count that
	// opens the circuit.
	HardFailureThreshold float64
	// BaseBackoff is the first open period; it doubles on each re-open.
	BaseBackoff time.Duration
	// MaxBackoff caps the open period.
	MaxBackoff time.Duration
	// JitterFraction adds up to this fraction of the backoff as jitter.
	JitterFraction float64
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.HardFailureThreshold <= 0 {
		c.HardFailureThreshold = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	if c.JitterFraction < 0 {
		c.JitterFraction = 0
	}
	return c
}

// failureWeight maps error kinds to circuit weight. Transient timeouts count
// half; soft validation failures are escalation candidates, not host health
// signals.
func failureWeight(kind crawler.ErrorKind) float64 {
	switch kind {
	case crawler.ErrKindValidationHard, crawler.ErrKindReset, crawler.ErrKindTLS, crawler.ErrKindDNS, crawler.ErrKindHTTP:
		return 1
	case crawler.ErrKindTimeout:
		return 0.5
	default:
		return 0
	}
}

// hostCircuit holds breaker state for one host. All mutation happens under
// its own mutex so hosts never contend with each other.
type hostCircuit struct {
	mu            sync.Mutex
	state         State
	weighted      float64
	opens         int
	backoffUntil  time.Time
	lastBackoff   time.Duration
	trialInFlight bool
}

type breaker struct {
	cfg   BreakerConfig
	clock crawler.Clock

	mu    sync.Mutex
	hosts map[string]*hostCircuit
}

func newBreaker(cfg BreakerConfig, clock crawler.Clock) *breaker {
	return &breaker{
		cfg:   cfg.withDefaults(),
		clock: clock,
		hosts: make(map[string]*hostCircuit),
	}
}

func (b *breaker) circuit(host string) *hostCircuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.hosts[host]
	if !ok {
		c = &hostCircuit{}
		b.hosts[host] = c
	}
	return c
}

// allow reports whether a request to host may proceed. In the open state it
// refuses until the backoff deadline, then admits exactly one trial.
func (b *breaker) allow(host string) (bool, time.Duration) {
	c := b.circuit(host)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		if now.Before(c.backoffUntil) {
			return false, c.backoffUntil.Sub(now)
		}
		c.state = StateHalfOpen
		c.trialInFlight = true
		return true, 0
	case StateHalfOpen:
		if c.trialInFlight {
			return false, 0
		}
		c.trialInFlight = true
		return true, 0
	}
	return true, 0
}

func (b *breaker) recordSuccess(host string) {
	c := b.circuit(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.weighted = 0
	c.trialInFlight = false
	if c.state != StateClosed {
		c.state = StateClosed
		c.opens = 0
		c.lastBackoff = 0
	}
}

// recordFailure reports whether this failure opened the circuit.
func (b *breaker) recordFailure(host string, kind crawler.ErrorKind) bool {
	weight := failureWeight(kind)
	c := b.circuit(host)
	now := b.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.trialInFlight = false
	if weight == 0 {
		return false
	}

	switch c.state {
	case StateHalfOpen:
		// Failed trial reopens with a strictly larger backoff.
		b.open(c, now)
		return true
	case StateClosed:
		c.weighted += weight
		if c.weighted >= b.cfg.HardFailureThreshold {
			b.open(c, now)
			return true
		}
	case StateOpen:
		// Already open; late in-flight failures only refresh the deadline.
	}
	return false
}

// open must be called with c.mu held.
func (b *breaker) open(c *hostCircuit, now time.Time) {
	backoff := b.cfg.BaseBackoff << uint(c.opens)
	if backoff > b.cfg.MaxBackoff || backoff <= 0 {
		backoff = b.cfg.MaxBackoff
	}
	if backoff <= c.lastBackoff && backoff < b.cfg.MaxBackoff {
		backoff = c.lastBackoff * 2
	}
	c.opens++
	c.lastBackoff = backoff
	c.state = StateOpen
	c.weighted = 0
	c.backoffUntil = now.Add(backoff + jitter(time.Duration(float64(backoff)*b.cfg.JitterFraction)))
}

func (b *breaker) stateOf(host string) State {
	c := b.circuit(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (b *breaker) backoffDeadline(host string) time.Time {
	c := b.circuit(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoffUntil
}

func (b *breaker) openCount() int {
	b.mu.Lock()
	hosts := make([]*hostCircuit, 0, len(b.hosts))
	for _, c := range b.hosts {
		hosts = append(hosts, c)
	}
	b.mu.Unlock()

	n := 0
	for _, c := range hosts {
		c.mu.Lock()
		if c.state == StateOpen {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
