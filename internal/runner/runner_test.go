package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/frontier"
	"github.com/crawlkit/crawld/internal/hash/sha256"
	"github.com/crawlkit/crawld/internal/pipeline"
	"github.com/crawlkit/crawld/internal/resilience"
	"github.com/crawlkit/crawld/internal/storage/memory"
	"github.com/crawlkit/crawld/internal/throttle"
	"github.com/crawlkit/crawld/internal/validate"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type mapFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
}

func newMapFetcher() *mapFetcher {
	return &mapFetcher{
		pages: map[string]string{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *mapFetcher) Fetch(_ context.Context, rawURL string) (crawler.FetchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if err, ok := f.errs[rawURL]; ok {
		return crawler.FetchOutcome{}, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return crawler.FetchOutcome{}, fmt.Errorf("dial tcp: lookup: no such host")
	}
	return crawler.FetchOutcome{
		URL:        rawURL,
		FinalURL:   rawURL,
		Host:       crawler.HostOf(rawURL),
		Source:     crawler.SourceNetwork,
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
		Bytes:      int64(len(body)),
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (f *mapFetcher) callCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
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

func (e *captureEmitter) byKind(kind events.Kind) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, evt := range e.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

func pageWithLinks(links ...string) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString(strings.Repeat("content filler ", 64))
	for _, link := range links {
		sb.WriteString(fmt.Sprintf(`<a href=%q>link</a>`, link))
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

type testRig struct {
	runner   *Runner
	frontier *frontier.Manager
	fetcher  *mapFetcher
	pages    *memory.PageStore
	emitter  *captureEmitter
}

func newRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	clock := systemClock{}
	logger := zap.NewNop()
	emitter := &captureEmitter{}
	fetcher := newMapFetcher()
	pages := memory.NewPageStore()

	rs := resilience.New(resilience.Config{}, clock, logger, nil)
	th := throttle.New(throttle.Config{
		DefaultRPS: 200,
		Burst:      50,
		MaxRPS:     400,
		MaxPerHost: 4,
	}, rs)
	fr := frontier.New(frontier.Config{MaxAttempts: 2}, th, emitter, clock, logger, "run-test")

	pl, err := pipeline.New(pipeline.Config{}, pipeline.Deps{
		Local:      fetcher,
		Validator:  validate.New(validate.Config{}),
		Resilience: rs,
		Pages:      pages,
		Hasher:     sha256.New(),
		Clock:      clock,
		Emitter:    emitter,
		Logger:     logger,
		RunID:      "run-test",
	})
	require.NoError(t, err)

	cfg.IdlePause = 20 * time.Millisecond
	r, err := New(cfg, fr, th, pl, rs, emitter, clock, logger, "run-test")
	require.NoError(t, err)

	return &testRig{runner: r, frontier: fr, fetcher: fetcher, pages: pages, emitter: emitter}
}

func TestRunDrainsSeededFrontier(t *testing.T) {
	rig := newRig(t, Config{Workers: 4})
	rig.fetcher.pages["https://example.org/"] = pageWithLinks()
	require.NoError(t, rig.frontier.Enqueue("https://example.org/", frontier.Options{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rig.runner.Run(ctx))

	require.Equal(t, 1, rig.pages.Len())
	require.Len(t, rig.emitter.byKind(events.KindRunStarted), 1)
	require.Len(t, rig.emitter.byKind(events.KindRunFinished), 1)
	require.Len(t, rig.emitter.byKind(events.KindFetchDone), 1)
}

func TestRunDiscoversSameHostLinks(t *testing.T) {
	rig := newRig(t, Config{Workers: 4, DiscoverLinks: true})
	rig.fetcher.pages["https://example.org/"] = pageWithLinks("/a", "/b", "https://other.example/ignored")
	rig.fetcher.pages["https://example.org/a"] = pageWithLinks()
	rig.fetcher.pages["https://example.org/b"] = pageWithLinks()

	require.NoError(t, rig.frontier.Enqueue("https://example.org/", frontier.Options{}))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, rig.runner.Run(ctx))

	require.Equal(t, 3, rig.pages.Len())
	require.Equal(t, 1, rig.fetcher.callCount("https://example.org/a"))
	require.Equal(t, 1, rig.fetcher.callCount("https://example.org/b"))
	require.Zero(t, rig.fetcher.callCount("https://other.example/ignored"))
}

func TestTransientFailureRetriesThenFinalizes(t *testing.T) {
	rig := newRig(t, Config{Workers: 2})
	rig.fetcher.errs["https://example.org/flaky"] = fmt.Errorf("dial tcp: i/o timeout")

	require.NoError(t, rig.frontier.Enqueue("https://example.org/flaky", frontier.Options{}))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, rig.runner.Run(ctx))

	require.Equal(t, 2, rig.fetcher.callCount("https://example.org/flaky"))
	finalized := rig.emitter.byKind(events.KindItemFinalized)
	require.Len(t, finalized, 1)
	require.Equal(t, crawler.ErrKindTimeout, finalized[0].ErrorKind)
}

func TestRunReturnsContextErrorWhenCancelled(t *testing.T) {
	rig := newRig(t, Config{Workers: 1})
	rig.fetcher.pages["https://example.org/"] = pageWithLinks()
	require.NoError(t, rig.frontier.Enqueue("https://example.org/", frontier.Options{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := rig.runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestExtractLinks(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/about">about</a>
		<a href="https://example.org/pricing?b=2&a=1">pricing</a>
		<a href="https://other.example/external">external</a>
		<a href="#fragment">fragment</a>
		<a href="mailto:team@example.org">mail</a>
		<a href="/about">duplicate</a>
	</body></html>`)

	links := ExtractLinks("https://example.org/", body)
	require.Equal(t, []string{
		"https://example.org/about",
		"https://example.org/pricing?a=1&b=2",
	}, links)
}

func TestExtractLinksBadBase(t *testing.T) {
	require.Nil(t, ExtractLinks("not a url", []byte("<a href='/x'>x</a>")))
}
