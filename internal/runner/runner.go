// Package runner drives the execution loop: a bounded worker pool pulls
// admitted items from the frontier, runs them through the fetch pipeline,
// discovers links, and feeds outcomes back. Memory pressure shrinks the
// pool; per-host politeness is the throttle manager's job.
package runner

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/pipeline"
	"github.com/crawlkit/crawld/internal/resilience"
	"github.com/crawlkit/crawld/internal/throttle"
)

// Config tunes the execution loop.
type Config struct {
	// Workers is the full pool size.
	Workers int
	// MinWorkers is the floor the pool shrinks to under memory pressure.
	MinWorkers int
	// IdlePause is the base sleep when the frontier has nothing admitted.
	// The actual pause is jittered to avoid thundering-herd wakeups.
	IdlePause time.Duration
	// RunTimeout bounds the whole run. Zero means run until drained or
	// cancelled.
	RunTimeout time.Duration
	// DiscoverLinks enables same-host link extraction on valid pages.
	DiscoverLinks bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MinWorkers > c.Workers {
		c.MinWorkers = c.Workers
	}
	if c.IdlePause <= 0 {
		c.IdlePause = 500 * time.Millisecond
	}
	return c
}

// Runner owns the worker pool for one crawl run.
type Runner struct {
	cfg        Config
	frontier   *frontier.Manager
	throttle   *throttle.Manager
	pipeline   *pipeline.Pipeline
	resilience *resilience.Service
	emitter    events.Emitter
	clock      crawler.Clock
	logger     *zap.Logger
	runID      string

	inFlight atomic.Int64
	active   atomic.Int32
}

// New assembles a Runner.
func New(cfg Config, fr *frontier.Manager, th *throttle.Manager, pl *pipeline.Pipeline,
	rs *resilience.Service, emitter events.Emitter, clock crawler.Clock,
	logger *zap.Logger, runID string) (*Runner, error) {
	if fr == nil || th == nil || pl == nil || rs == nil {
		return nil, errors.New("frontier, throttle, pipeline and resilience are required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	return &Runner{
		cfg:        cfg.withDefaults(),
		frontier:   fr,
		throttle:   th,
		pipeline:   pl,
		resilience: rs,
		emitter:    emitter,
		clock:      clock,
		logger:     logging.Component(logger, "runner"),
		runID:      runID,
	}, nil
}

// Run processes the frontier until it drains or the context ends. It
// returns nil on a drained frontier and the context error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	r.emit(events.Event{Kind: events.KindRunStarted})
	r.resilience.Start(ctx)
	defer r.resilience.Stop()

	// Pool-size tokens. Shrinking under pressure drains tokens instead of
	// touching per-host state; the two concerns stay independent.
	slots := make(chan struct{}, r.cfg.Workers)
	for range r.cfg.Workers {
		slots <- struct{}{}
	}
	metrics.SetWorkerPoolSize(r.cfg.Workers)

	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()
	go r.watchPressure(poolCtx, slots)

	var wg sync.WaitGroup
	for range r.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.workerLoop(poolCtx, slots)
		}()
	}
	wg.Wait()

	r.emit(events.Event{Kind: events.KindRunFinished})
	if ctx.Err() != nil && (r.frontier.PendingLen() > 0 || r.inFlight.Load() > 0) {
		return ctx.Err()
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, slots chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-slots:
		}
		if ctx.Err() != nil {
			return
		}

		item, wait := r.frontier.Next()
		if item == nil {
			slots <- struct{}{}
			if r.drained() {
				return
			}
			r.pause(ctx, wait)
			continue
		}

		r.inFlight.Add(1)
		r.process(ctx, item)
		r.inFlight.Add(-1)
		slots <- struct{}{}
		metrics.SetFrontierDepth(r.frontier.PendingLen())
	}
}

// process owns the throttle slot the frontier acquired for this item and
// releases it when the fetch finishes.
func (r *Runner) process(ctx context.Context, item *frontier.Item) {
	defer r.throttle.Release(item.Host)

	result := r.pipeline.Fetch(ctx, item.URL, item.Intent)
	r.throttle.RecordOutcome(item.Host, !result.Failed())

	if result.Failed() {
		r.frontier.MarkFailed(item, result.ErrorKind())
		return
	}

	if r.cfg.DiscoverLinks && len(result.Outcome.Body) > 0 {
		r.enqueueLinks(item, result.Outcome)
	}
	r.frontier.MarkDone(item)
}

func (r *Runner) enqueueLinks(item *frontier.Item, outcome crawler.FetchOutcome) {
	links := ExtractLinks(outcome.URL, outcome.Body)
	added := 0
	for _, link := range links {
		err := r.frontier.Enqueue(link, frontier.Options{
			Depth:  item.Depth + 1,
			Intent: crawler.FreshFetch,
		})
		if err == nil {
			added++
		}
	}
	if added > 0 {
		r.logger.Debug("discovered links",
			zap.String("url", outcome.URL),
			zap.Int("found", len(links)),
			zap.Int("enqueued", added))
	}
}

// drained reports whether no work remains anywhere.
func (r *Runner) drained() bool {
	return r.frontier.PendingLen() == 0 && r.inFlight.Load() == 0
}

func (r *Runner) pause(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		wait = r.cfg.IdlePause
	}
	// Jitter spreads worker wakeups so they do not stampede the frontier.
	wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// watchPressure shrinks the pool to MinWorkers while the memory sampler
// reports pressure and restores it afterwards.
func (r *Runner) watchPressure(ctx context.Context, slots chan struct{}) {
	parked := 0
	maxParked := r.cfg.Workers - r.cfg.MinWorkers
	for {
		select {
		case <-ctx.Done():
			return
		case under, ok := <-r.resilience.Pressure():
			if !ok {
				return
			}
			if under {
				for parked < maxParked {
					select {
					case <-slots:
						parked++
					case <-ctx.Done():
						return
					}
				}
				r.logger.Warn("memory pressure, worker pool reduced",
					zap.Int("workers", r.cfg.Workers-parked))
			} else {
				for parked > 0 {
					slots <- struct{}{}
					parked--
				}
				r.logger.Info("memory pressure cleared, worker pool restored",
					zap.Int("workers", r.cfg.Workers))
			}
			metrics.SetWorkerPoolSize(r.cfg.Workers - parked)
		}
	}
}

func (r *Runner) emit(evt events.Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}
