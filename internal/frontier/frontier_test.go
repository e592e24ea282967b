package frontier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/throttle"
)

type admitAll struct{}

func (admitAll) TryAdmit(string) throttle.Admission {
	return throttle.Admission{Admitted: true}
}

type admitNone struct{}

func (admitNone) TryAdmit(string) throttle.Admission {
	return throttle.Admission{RetryAfter: 5 * time.Second, Reason: throttle.ReasonCircuitOpen}
}

type hostAdmitter struct {
	blocked map[string]bool
}

func (a hostAdmitter) TryAdmit(host string) throttle.Admission {
	if a.blocked[host] {
		return throttle.Admission{RetryAfter: time.Second}
	}
	return throttle.Admission{Admitted: true}
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *captureEmitter) Emit(evt events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestManager(admitter Admitter, emitter events.Emitter) *Manager {
	return New(Config{MaxAttempts: 3}, admitter, emitter, fixedClock{now: time.Unix(5000, 0)}, zap.NewNop(), "run-1")
}

func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitAll{}, nil)

	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))
	err := m.Enqueue("https://EXAMPLE.org/a#frag", Options{})
	require.ErrorIs(t, err, ErrDuplicate, "normalized duplicates are rejected")
	require.Equal(t, 1, m.PendingLen())
}

func TestNextOrdersByPriorityDepthInsertion(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitAll{}, nil)

	require.NoError(t, m.Enqueue("https://example.org/low", Options{Priority: 1, Depth: 2}))
	require.NoError(t, m.Enqueue("https://example.org/high", Options{Priority: 5, Depth: 3}))
	require.NoError(t, m.Enqueue("https://example.org/shallow", Options{Priority: 1, Depth: 0}))
	require.NoError(t, m.Enqueue("https://example.org/tie-first", Options{Priority: 1, Depth: 2}))

	var got []string
	for {
		item, _ := m.Next()
		if item == nil {
			break
		}
		got = append(got, item.URL)
	}
	require.Equal(t, []string{
		"https://example.org/high",
		"https://example.org/shallow",
		"https://example.org/low",
		"https://example.org/tie-first",
	}, got)
}

func TestNextReturnsNilWhenNothingAdmissible(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitNone{}, nil)
	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))

	item, wait := m.Next()
	require.Nil(t, item)
	require.Equal(t, 5*time.Second, wait, "caller should back off, not spin")
	require.Equal(t, 1, m.PendingLen(), "unadmitted items stay pending")
}

func TestNextSkipsBlockedHost(t *testing.T) {
	t.Parallel()

	m := newTestManager(hostAdmitter{blocked: map[string]bool{"blocked.example.org": true}}, nil)
	require.NoError(t, m.Enqueue("https://blocked.example.org/a", Options{Priority: 9}))
	require.NoError(t, m.Enqueue("https://open.example.org/b", Options{Priority: 1}))

	item, _ := m.Next()
	require.NotNil(t, item)
	require.Equal(t, "open.example.org", item.Host, "lower-priority work on an open host beats blocked work")
}

func TestCacheSeededEnqueueSurvivesTerminalDuplicate(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitAll{}, nil)

	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))
	item, _ := m.Next()
	require.NotNil(t, item)
	m.MarkDone(item)

	// Plain re-enqueue of a finished URL is rejected...
	require.ErrorIs(t, m.Enqueue("https://example.org/a", Options{}), ErrDuplicate)

	// ...but a cache-derived seed is never dropped.
	require.NoError(t, m.Enqueue("https://example.org/a", Options{Intent: crawler.CacheThenDiscover}))
	seeded, _ := m.Next()
	require.NotNil(t, seeded)
	require.Equal(t, crawler.CacheThenDiscover, seeded.Intent)
}

func TestCacheSeededEnqueueUpgradesLiveDuplicate(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitAll{}, nil)

	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))
	require.NoError(t, m.Enqueue("https://example.org/a", Options{Intent: crawler.CacheThenDiscover}))
	require.Equal(t, 1, m.PendingLen(), "key stays unique among live items")

	item, _ := m.Next()
	require.NotNil(t, item)
	require.Equal(t, crawler.CacheThenDiscover, item.Intent, "live duplicate inherits the cache-seeded intent")
}

func TestRevisitAllowsArchivedURL(t *testing.T) {
	t.Parallel()

	m := newTestManager(admitAll{}, nil)

	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))
	item, _ := m.Next()
	m.MarkDone(item)

	require.NoError(t, m.Enqueue("https://example.org/a", Options{Revisit: true}))
	require.Equal(t, 1, m.PendingLen())
}

func TestMarkFailedRetriesTransientKinds(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	m := New(Config{MaxAttempts: 3}, admitAll{}, emitter, fixedClock{now: time.Unix(5000, 0)}, zap.NewNop(), "run-1")

	require.NoError(t, m.Enqueue("https://example.org/a", Options{}))

	for attempt := 1; attempt <= 2; attempt++ {
		item, _ := m.Next()
		require.NotNil(t, item)
		m.MarkFailed(item, crawler.ErrKindTimeout)
		require.Equal(t, 1, m.PendingLen(), "transient failures requeue under the cap")
	}

	item, _ := m.Next()
	require.NotNil(t, item)
	m.MarkFailed(item, crawler.ErrKindTimeout)

	require.Equal(t, 0, m.PendingLen())
	status, ok := m.ArchivedStatus("https://example.org/a")
	require.True(t, ok)
	require.Equal(t, StatusFailed, status)

	require.Len(t, emitter.events, 1, "finalized failures are reported, never dropped")
	require.Equal(t, events.KindItemFinalized, emitter.events[0].Kind)
	require.Equal(t, crawler.ErrKindTimeout, emitter.events[0].ErrorKind)
	require.Equal(t, 3, emitter.events[0].Attempts)
}

func TestMarkFailedFinalizesHardKindsImmediately(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	m := New(Config{MaxAttempts: 3}, admitAll{}, emitter, fixedClock{now: time.Unix(5000, 0)}, zap.NewNop(), "run-1")

	require.NoError(t, m.Enqueue("https://example.org/paywalled", Options{}))
	item, _ := m.Next()
	m.MarkFailed(item, crawler.ErrKindValidationHard)

	require.Equal(t, 0, m.PendingLen(), "hard validation failures are not retried locally")
	require.Len(t, emitter.events, 1)
}

func TestMaxDepthRejectsDeepDiscovery(t *testing.T) {
	t.Parallel()

	m := New(Config{MaxDepth: 2}, admitAll{}, nil, fixedClock{}, zap.NewNop(), "run-1")
	require.NoError(t, m.Enqueue("https://example.org/deep", Options{Depth: 3}))
	require.Equal(t, 0, m.PendingLen())
}
