// Package throttle decides, per host, whether a request may proceed now.
// It combines an adaptive token bucket, a hard in-flight cap, and the host's
// circuit state into a single non-blocking admission check.
package throttle

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/crawlkit/crawld/internal/metrics"
)

// CircuitGate is the slice of the resilience service the throttle consults.
type CircuitGate interface {
	Allow(host string) (bool, time.Duration)
}

// Admission is the result of TryAdmit.
type Admission struct {
	Admitted   bool
	RetryAfter time.Duration
	Reason     string
}

// Refusal reasons.
const (
	ReasonCircuitOpen = "circuit-open"
	ReasonHostBusy    = "host-busy"
	ReasonRateLimited = "rate-limited"
)

// Config tunes the throttle manager.
type Config struct {
	// DefaultRPS is the starting request rate per host.
	DefaultRPS float64
	// Burst is the token bucket burst size.
	Burst int
	// MinRPS and MaxRPS bound the adaptive rate.
	MinRPS float64
	MaxRPS float64
	// MaxPerHost caps concurrent in-flight requests per host.
	MaxPerHost int
	// MaxHosts bounds the host table; least-recently used idle hosts are
	// evicted beyond it.
	MaxHosts int
	// RaiseAfter is the consecutive-success run length that earns a rate
	// raise.
	RaiseAfter int
	// RaiseFactor and LowerFactor multiply the rate on adjustment.
	RaiseFactor float64
	LowerFactor float64
}

func (c Config) withDefaults() Config {
	if c.DefaultRPS <= 0 {
		c.DefaultRPS = 1
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MinRPS <= 0 {
		c.MinRPS = 0.1
	}
	if c.MaxRPS <= 0 {
		c.MaxRPS = 8
	}
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = 2
	}
	if c.MaxHosts <= 0 {
		c.MaxHosts = 10000
	}
	if c.RaiseAfter <= 0 {
		c.RaiseAfter = 20
	}
	if c.RaiseFactor <= 1 {
		c.RaiseFactor = 1.5
	}
	if c.LowerFactor <= 0 || c.LowerFactor >= 1 {
		c.LowerFactor = 0.5
	}
	return c
}

// hostState is the mutable per-host row. Each row carries its own mutex so
// admission on one host never contends with another.
type hostState struct {
	mu         sync.Mutex
	host       string
	limiter    *rate.Limiter
	inFlight   int
	successRun int
}

// Manager owns the per-host table. The raw map never escapes; all mutation
// goes through TryAdmit, Release, and RecordOutcome.
type Manager struct {
	cfg     Config
	circuit CircuitGate

	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
}

// New builds a Manager. The circuit gate may be nil (no circuit refusals).
func New(cfg Config, circuit CircuitGate) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		circuit: circuit,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (m *Manager) state(host string) *hostState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[host]; ok {
		m.lru.MoveToFront(el)
		return el.Value.(*hostState)
	}

	st := &hostState{
		host:    host,
		limiter: rate.NewLimiter(rate.Limit(m.cfg.DefaultRPS), m.cfg.Burst),
	}
	m.entries[host] = m.lru.PushFront(st)
	m.evictLocked()
	return st
}

// evictLocked drops idle least-recently-used rows beyond MaxHosts. Rows with
// requests in flight are never evicted.
func (m *Manager) evictLocked() {
	for len(m.entries) > m.cfg.MaxHosts {
		el := m.lru.Back()
		if el == nil {
			return
		}
		st := el.Value.(*hostState)
		st.mu.Lock()
		busy := st.inFlight > 0
		st.mu.Unlock()
		if busy {
			// Give the busy row another pass through the list.
			m.lru.MoveToFront(el)
			return
		}
		m.lru.Remove(el)
		delete(m.entries, st.host)
	}
}

// TryAdmit performs the non-blocking admission check for host. On refusal
// the Admission carries a retry hint and a reason. The local gates run
// before the circuit gate so a half-open trial token is only consumed by
// an admission that actually proceeds.
func (m *Manager) TryAdmit(host string) Admission {
	st := m.state(host)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.inFlight >= m.cfg.MaxPerHost {
		metrics.ObserveDeferral(host, ReasonHostBusy)
		return Admission{RetryAfter: 100 * time.Millisecond, Reason: ReasonHostBusy}
	}

	res := st.limiter.Reserve()
	if !res.OK() {
		metrics.ObserveDeferral(host, ReasonRateLimited)
		return Admission{RetryAfter: time.Second, Reason: ReasonRateLimited}
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		metrics.ObserveDeferral(host, ReasonRateLimited)
		return Admission{RetryAfter: delay, Reason: ReasonRateLimited}
	}

	if m.circuit != nil {
		if ok, retryAfter := m.circuit.Allow(host); !ok {
			res.Cancel()
			metrics.ObserveDeferral(host, ReasonCircuitOpen)
			return Admission{RetryAfter: retryAfter, Reason: ReasonCircuitOpen}
		}
	}

	st.inFlight++
	return Admission{Admitted: true}
}

// Release frees the in-flight slot taken by a successful TryAdmit. It must
// be called exactly once per admission.
func (m *Manager) Release(host string) {
	st := m.state(host)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight > 0 {
		st.inFlight--
	}
}

// RecordOutcome feeds fetch results back into the adaptive rate: sustained
// success raises the host's rate, any failure lowers it, bounded by
// [MinRPS, MaxRPS].
func (m *Manager) RecordOutcome(host string, success bool) {
	st := m.state(host)
	st.mu.Lock()
	defer st.mu.Unlock()

	current := float64(st.limiter.Limit())
	if success {
		st.successRun++
		if st.successRun < m.cfg.RaiseAfter {
			return
		}
		st.successRun = 0
		raised := current * m.cfg.RaiseFactor
		if raised > m.cfg.MaxRPS {
			raised = m.cfg.MaxRPS
		}
		st.limiter.SetLimit(rate.Limit(raised))
		return
	}

	st.successRun = 0
	lowered := current * m.cfg.LowerFactor
	if lowered < m.cfg.MinRPS {
		lowered = m.cfg.MinRPS
	}
	st.limiter.SetLimit(rate.Limit(lowered))
}

// InFlight reports the host's current in-flight count.
func (m *Manager) InFlight(host string) int {
	st := m.state(host)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight
}

// Rate reports the host's current request rate.
func (m *Manager) Rate(host string) float64 {
	st := m.state(host)
	st.mu.Lock()
	defer st.mu.Unlock()
	return float64(st.limiter.Limit())
}

// Hosts reports the number of tracked hosts.
func (m *Manager) Hosts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
