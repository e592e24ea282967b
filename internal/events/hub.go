package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink consumes event batches. Implementations must honor ctx deadlines and
// tolerate concurrent Close.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the producer-side view of the Hub.
type Emitter interface {
	Emit(evt Event)
}

// Config controls hub buffering.
type Config struct {
	BufferSize   int
	MaxBatch     int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Logger       *zap.Logger
}

const (
	defaultBufferSize   = 2048
	defaultMaxBatch     = 256
	defaultMaxBatchWait = 250 * time.Millisecond
	defaultSinkTimeout  = 5 * time.Second
)

// Hub fans events out to its sinks in batches. Emit never blocks the
// caller; when the buffer is full the event is dropped and counted.
type Hub struct {
	cfg     Config
	sinks   []Sink
	eventCh chan Event
	dropped atomic.Int64
	closed  atomic.Bool
	logger  *zap.Logger

	closeOnce sync.Once
	doneCh    chan struct{}
}

// NewHub starts the batching loop over the provided sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		eventCh: make(chan Event, cfg.BufferSize),
		logger:  logger,
		doneCh:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit enqueues an event without blocking. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid event", zap.Error(err))
		return
	}
	select {
	case h.eventCh <- evt:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were shed under load.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close flushes buffered events and closes the sinks.
func (h *Hub) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.eventCh)
		select {
		case <-h.doneCh:
		case <-ctx.Done():
		}
		for _, s := range h.sinks {
			if err := s.Close(ctx); err != nil {
				h.logger.Warn("sink close failed", zap.Error(err))
			}
		}
	})
	return nil
}

func (h *Hub) run() {
	defer close(h.doneCh)

	batch := make([]Event, 0, h.cfg.MaxBatch)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		h.dispatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case evt, ok := <-h.eventCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatch {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(h.cfg.MaxBatchWait)
			}
		case <-timer.C:
			flush()
			timer.Reset(h.cfg.MaxBatchWait)
		}
	}
}

func (h *Hub) dispatch(batch []Event) {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("sink consume failed", zap.Error(err), zap.Int("batch", len(batch)))
		}
		cancel()
	}
}
