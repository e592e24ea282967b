package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
)

// ErrHeadlessDisabled indicates headless fetching is disabled in this build
// or configuration.
var ErrHeadlessDisabled = errors.New("headless fetcher disabled")

// HeadlessConfig controls the chromedp renderer.
type HeadlessConfig struct {
	UserAgent string
	// MaxConcurrency caps simultaneous tabs; zero disables the renderer.
	MaxConcurrency int
	// NavTimeout bounds a single page render. It must stay below the
	// pipeline's outer fetch budget so a cancelled render never leaks.
	NavTimeout time.Duration
}

// Headless renders pages in a shared headless Chrome. Each fetch gets its
// own tab and timeout.
type Headless struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sem           chan struct{}
	timeout       time.Duration
	userAgent     string
	clock         crawler.Clock
	logger        *zap.Logger
}

// NewHeadless starts the browser and returns the renderer.
func NewHeadless(cfg HeadlessConfig, clock crawler.Clock, logger *zap.Logger) (*Headless, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrHeadlessDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Headless{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           make(chan struct{}, cfg.MaxConcurrency),
		timeout:       cfg.NavTimeout,
		userAgent:     cfg.UserAgent,
		clock:         clock,
		logger:        logger,
	}, nil
}

// Close tears down the browser and allocator.
func (h *Headless) Close() error {
	if h == nil {
		return nil
	}
	h.browserCancel()
	h.allocCancel()
	return nil
}

// Fetch renders rawURL with JavaScript enabled and returns the DOM snapshot.
func (h *Headless) Fetch(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	if h == nil {
		return crawler.FetchOutcome{}, ErrHeadlessDisabled
	}

	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	case <-ctx.Done():
		return crawler.FetchOutcome{}, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(h.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, h.timeout)
	defer cancelTask()
	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	meta := &renderMeta{headers: make(http.Header)}
	listenForDocument(tabCtx, meta)

	start := h.clock.Now()
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if h.userAgent != "" {
		tasks = append(chromedp.Tasks{emulation.SetUserAgentOverride(h.userAgent)}, tasks...)
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return crawler.FetchOutcome{}, fmt.Errorf("chromedp run: %w", err)
	}

	body := []byte(html)
	return crawler.FetchOutcome{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		Host:       crawler.HostOf(rawURL),
		Source:     crawler.SourceHeadless,
		StatusCode: meta.status(),
		Headers:    meta.headersCopy(),
		Body:       body,
		Bytes:      int64(len(body)),
		Duration:   h.clock.Now().Sub(start),
		FetchedAt:  start,
	}, nil
}

type renderMeta struct {
	once       sync.Once
	mu         sync.Mutex
	statusCode int
	headers    http.Header
	url        string
}

func (m *renderMeta) finalURL(raw string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url == "" {
		return raw
	}
	return m.url
}

func (m *renderMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusCode == 0 {
		return http.StatusOK
	}
	return m.statusCode
}

func (m *renderMeta) headersCopy() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(http.Header, len(m.headers))
	for k, v := range m.headers {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

func listenForDocument(tabCtx context.Context, meta *renderMeta) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.mu.Lock()
			defer meta.mu.Unlock()
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
			for k, v := range resp.Response.Headers {
				meta.headers.Add(k, fmt.Sprint(v))
			}
		})
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
