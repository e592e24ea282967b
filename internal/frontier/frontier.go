// Package frontier owns the crawl frontier: admission, deduplication,
// priority ordering, and the retry/finalization lifecycle of queue items.
package frontier

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/throttle"
)

// Status is the lifecycle state of an Item.
type Status string

// Item statuses. Done and failed are terminal; terminal items move to the
// archive and free their dedup key.
const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in-flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// ErrDuplicate is returned when an enqueue collides with a known URL and no
// override applies.
var ErrDuplicate = errors.New("frontier: duplicate url")

// Item is one unit of crawl work.
type Item struct {
	URL      string
	Key      string
	Host     string
	Depth    int
	Priority int
	Status   Status
	Attempts int
	Intent   crawler.VisitIntent

	seq       uint64
	heapIndex int
}

// Options control a single enqueue.
type Options struct {
	Depth    int
	Priority int
	Intent   crawler.VisitIntent
	// Revisit permits re-enqueueing a URL that already finished. It never
	// violates key uniqueness among non-terminal items.
	Revisit bool
}

// Admitter is the slice of the throttle manager the frontier consults
// before releasing work.
type Admitter interface {
	TryAdmit(host string) throttle.Admission
}

// Config tunes the frontier.
type Config struct {
	// MaxAttempts caps transient retries before an item finalizes failed.
	MaxAttempts int
	// MaxDepth rejects discovery beyond this depth. Zero means unlimited.
	MaxDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Manager is the queue manager. All state is owned behind one mutex; the
// frontier's operations are fast-path only and never block on I/O.
type Manager struct {
	cfg      Config
	admitter Admitter
	emitter  events.Emitter
	clock    crawler.Clock
	logger   *zap.Logger
	runID    string

	mu      sync.Mutex
	pending itemHeap
	byKey   map[string]*Item
	archive map[string]Status
	seq     uint64
}

// New builds a Manager. The admitter gates Next; the emitter receives
// finalization events.
func New(cfg Config, admitter Admitter, emitter events.Emitter, clock crawler.Clock, logger *zap.Logger, runID string) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		admitter: admitter,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		runID:    runID,
		byKey:    make(map[string]*Item),
		archive:  make(map[string]Status),
	}
}

// Enqueue normalizes and admits a URL into the frontier.
//
// Dedup rules: the normalized key is unique among non-terminal items; a URL
// in the archive is rejected unless opts.Revisit is set. Cache-seeded
// intents always survive: against a live duplicate the existing item is
// upgraded to the cache-seeded intent, against an archived one a fresh item
// is enqueued. A cache-derived seed is never silently dropped.
func (m *Manager) Enqueue(rawURL string, opts Options) error {
	key, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	host := crawler.HostOf(key)
	if m.cfg.MaxDepth > 0 && opts.Depth > m.cfg.MaxDepth {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, live := m.byKey[key]; live {
		if opts.Intent.CacheSeeded() && !existing.Intent.CacheSeeded() {
			existing.Intent = opts.Intent
			m.logger.Debug("upgraded live item to cache-seeded intent", zap.String("url", key))
			return nil
		}
		return ErrDuplicate
	}
	if _, seen := m.archive[key]; seen && !opts.Revisit && !opts.Intent.CacheSeeded() {
		return ErrDuplicate
	}

	m.seq++
	item := &Item{
		URL:      key,
		Key:      key,
		Host:     host,
		Depth:    opts.Depth,
		Priority: opts.Priority,
		Status:   StatusPending,
		Intent:   opts.Intent,
		seq:      m.seq,
	}
	m.byKey[key] = item
	heap.Push(&m.pending, item)
	metrics.SetFrontierDepth(m.pending.Len())
	return nil
}

// Next returns the highest-priority pending item whose host is currently
// admitted, marking it in-flight. When nothing is admissible it returns nil
// and a suggested wait before polling again; callers should back off, not
// spin. The admitted item's throttle slot belongs to the caller and must be
// released after the fetch.
func (m *Manager) Next() (*Item, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending.Len() == 0 {
		return nil, 250 * time.Millisecond
	}

	var skipped []*Item
	var item *Item
	minRetry := time.Duration(0)

	for m.pending.Len() > 0 {
		candidate := heap.Pop(&m.pending).(*Item)
		adm := m.admitter.TryAdmit(candidate.Host)
		if adm.Admitted {
			item = candidate
			break
		}
		skipped = append(skipped, candidate)
		if minRetry == 0 || (adm.RetryAfter > 0 && adm.RetryAfter < minRetry) {
			minRetry = adm.RetryAfter
		}
	}
	for _, s := range skipped {
		heap.Push(&m.pending, s)
	}
	metrics.SetFrontierDepth(m.pending.Len())

	if item == nil {
		if minRetry <= 0 {
			minRetry = 250 * time.Millisecond
		}
		return nil, minRetry
	}
	item.Status = StatusInFlight
	return item, 0
}

// MarkDone finalizes an item successfully.
func (m *Manager) MarkDone(item *Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.Status = StatusDone
	m.archiveLocked(item)
}

// MarkFailed records a failed attempt. Transient kinds requeue until the
// attempt cap; everything else, and capped items, finalize as failed and are
// reported on the event stream. Nothing fails silently.
func (m *Manager) MarkFailed(item *Item, kind crawler.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item.Attempts++
	if kind.Transient() && item.Attempts < m.cfg.MaxAttempts {
		item.Status = StatusPending
		m.seq++
		item.seq = m.seq // retries go behind peers of equal priority
		heap.Push(&m.pending, item)
		metrics.SetFrontierDepth(m.pending.Len())
		return
	}

	item.Status = StatusFailed
	m.archiveLocked(item)
	if m.emitter != nil {
		m.emitter.Emit(events.Event{
			Kind:      events.KindItemFinalized,
			RunID:     m.runID,
			TS:        m.clock.Now(),
			Host:      item.Host,
			URL:       item.URL,
			ErrorKind: kind,
			Attempts:  item.Attempts,
		})
	}
}

// archiveLocked moves a terminal item out of the live key space.
func (m *Manager) archiveLocked(item *Item) {
	delete(m.byKey, item.Key)
	m.archive[item.Key] = item.Status
}

// PendingLen reports the number of pending items.
func (m *Manager) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending.Len()
}

// ArchivedStatus reports the terminal status recorded for a URL key.
func (m *Manager) ArchivedStatus(key string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.archive[key]
	return st, ok
}

// itemHeap orders items by priority (higher first), then depth (shallower
// first), then insertion order.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].Depth != h[j].Depth {
		return h[i].Depth < h[j].Depth
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *itemHeap) Push(x any) {
	item := x.(*Item)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}
