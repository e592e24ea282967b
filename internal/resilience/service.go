package resilience

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/metrics"
)

// Config tunes the resilience service.
type Config struct {
	Breaker BreakerConfig
	// StallThreshold is how long the crawl may go without a successful
	// network operation before the watchdog fires.
	StallThreshold time.Duration
	// MaxHeapBytes triggers backpressure when the sampled heap exceeds it.
	// Zero disables the sampler.
	MaxHeapBytes uint64
	// SampleInterval is the memory sampler period.
	SampleInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StallThreshold <= 0 {
		c.StallThreshold = 5 * time.Minute
	}
	if c.SampleInterval <= 0 {
		c.SampleInterval = 15 * time.Second
	}
	return c
}

// Service is the process-wide health monitor: per-host circuits, the crawl
// heartbeat, and memory-pressure sampling. Admission checks are non-blocking.
type Service struct {
	cfg     Config
	breaker *breaker
	clock   crawler.Clock
	logger  *zap.Logger

	lastBeat atomic.Int64

	pressureCh    chan bool
	underPressure atomic.Bool

	stallFn func()
	stallMu sync.Mutex

	emitter events.Emitter
	runID   string
	emitMu  sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Service. The stall callback may be nil.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger, onStall func()) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:        cfg,
		breaker:    newBreaker(cfg.Breaker, clock),
		clock:      clock,
		logger:     logger,
		pressureCh: make(chan bool, 1),
		stallFn:    onStall,
		stopCh:     make(chan struct{}),
	}
	s.lastBeat.Store(clock.Now().UnixNano())
	return s
}

// SetEmitter attaches the outcome stream for circuit transition events.
// Without one, transitions fall back to the service logger.
func (s *Service) SetEmitter(emitter events.Emitter, runID string) {
	s.emitMu.Lock()
	s.emitter = emitter
	s.runID = runID
	s.emitMu.Unlock()
}

// SetStallHandler installs the recovery action the watchdog fires when the
// crawl stalls. It replaces any handler given at construction.
func (s *Service) SetStallHandler(fn func()) {
	s.stallMu.Lock()
	s.stallFn = fn
	s.stallMu.Unlock()
}

// Allow reports whether the host's circuit admits a request, and how long to
// wait when it does not.
func (s *Service) Allow(host string) (bool, time.Duration) {
	return s.breaker.allow(host)
}

// RecordSuccess resets the host's failure streak, closes a half-open
// circuit, and beats the heartbeat.
func (s *Service) RecordSuccess(host string) {
	s.breaker.recordSuccess(host)
	s.Beat()
	metrics.SetOpenCircuits(s.breaker.openCount())
}

// RecordFailure feeds a categorized failure into the host's circuit. An
// open transition goes to the event stream so every subscriber sees it.
func (s *Service) RecordFailure(host string, kind crawler.ErrorKind) {
	if s.breaker.recordFailure(host, kind) {
		deadline := s.breaker.backoffDeadline(host)
		s.emitMu.Lock()
		emitter, runID := s.emitter, s.runID
		s.emitMu.Unlock()
		if emitter != nil {
			emitter.Emit(events.Event{
				Kind:      events.KindCircuitOpened,
				RunID:     runID,
				TS:        s.clock.Now(),
				Host:      host,
				ErrorKind: kind,
				Note:      "backoff until " + deadline.Format(time.RFC3339),
			})
		} else {
			s.logger.Warn("circuit opened",
				zap.String("host", host),
				zap.String("kind", string(kind)),
				zap.Time("backoff_until", deadline),
			)
		}
	}
	metrics.SetOpenCircuits(s.breaker.openCount())
}

// CircuitState exposes the host's current circuit state.
func (s *Service) CircuitState(host string) State {
	return s.breaker.stateOf(host)
}

// Beat records crawl activity for stall detection. Call it after every
// successful network operation.
func (s *Service) Beat() {
	s.lastBeat.Store(s.clock.Now().UnixNano())
}

// LastActivity returns the time of the most recent heartbeat.
func (s *Service) LastActivity() time.Time {
	return time.Unix(0, s.lastBeat.Load())
}

// Pressure delivers backpressure transitions: true when the heap crosses the
// configured ceiling, false once it drops back under.
func (s *Service) Pressure() <-chan bool {
	return s.pressureCh
}

// Start launches the watchdog and memory sampler. They stop when ctx ends or
// Stop is called.
func (s *Service) Start(ctx context.Context) {
	go s.watchdog(ctx)
	if s.cfg.MaxHeapBytes > 0 {
		go s.sampleMemory(ctx)
	}
}

// Stop terminates the background loops.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) watchdog(ctx context.Context) {
	interval := s.cfg.StallThreshold / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			idle := s.clock.Now().Sub(s.LastActivity())
			if idle < s.cfg.StallThreshold {
				continue
			}
			s.logger.Error("crawl stalled, firing recovery", zap.Duration("idle", idle))
			s.stallMu.Lock()
			fn := s.stallFn
			s.stallMu.Unlock()
			if fn != nil {
				fn()
			}
			s.Beat() // avoid re-firing every tick
		}
	}
}

func (s *Service) sampleMemory(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			over := stats.HeapAlloc > s.cfg.MaxHeapBytes
			if over == s.underPressure.Load() {
				continue
			}
			s.underPressure.Store(over)
			if over {
				s.logger.Warn("memory pressure, requesting reduced concurrency",
					zap.Uint64("heap_alloc", stats.HeapAlloc),
					zap.Uint64("ceiling", s.cfg.MaxHeapBytes),
				)
			} else {
				s.logger.Info("memory pressure cleared", zap.Uint64("heap_alloc", stats.HeapAlloc))
			}
			select {
			case s.pressureCh <- over:
			default:
			}
		}
	}
}
