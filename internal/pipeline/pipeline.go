// Package pipeline orchestrates a single URL visit: cache consultation,
// network fetch (local or through a remote worker), content validation,
// the bounded headless fallback, persistence, and resilience reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/fetch"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/resilience"
	"github.com/crawlkit/crawld/internal/validate"
)

// Config controls one pipeline instance.
type Config struct {
	// FetchTimeout is the hard outer budget for one visit, fallback included.
	FetchTimeout time.Duration
	// HeadlessTimeout bounds the headless attempt. It must stay below
	// FetchTimeout so a stuck browser cannot consume the whole budget.
	HeadlessTimeout time.Duration
	// HeadlessHosts enables the soft-failure headless retry per host.
	// Empty means every host is eligible.
	HeadlessHosts []string
	// TLSFingerprintHosts are hosts known to reset connections from plain
	// HTTP clients. A reset there earns one headless attempt.
	TLSFingerprintHosts []string
	// Topic names the broker topic recorded on terminal events.
	Topic string
}

func (c Config) withDefaults() Config {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.HeadlessTimeout <= 0 || c.HeadlessTimeout >= c.FetchTimeout {
		c.HeadlessTimeout = c.FetchTimeout / 2
	}
	return c
}

// RemoteRouter picks the fetcher for a host. Returning nil selects the
// local fetcher.
type RemoteRouter interface {
	FetcherFor(host string) crawler.Fetcher
}

// RemoteRouterFunc adapts a function to RemoteRouter.
type RemoteRouterFunc func(host string) crawler.Fetcher

// FetcherFor implements RemoteRouter.
func (f RemoteRouterFunc) FetcherFor(host string) crawler.Fetcher {
	return f(host)
}

// Pipeline drives one visit end to end. All network problems come back as
// a FetchOutcome with an ErrorKind; the error return is reserved for
// configuration mistakes.
type Pipeline struct {
	cfg        Config
	local      crawler.Fetcher
	headless   crawler.Fetcher
	remote     RemoteRouter
	validator  *validate.Service
	resilience *resilience.Service
	cache      crawler.PageCache
	pages      crawler.PageStore
	blobs      crawler.BlobStore
	hasher     crawler.Hasher
	clock      crawler.Clock
	emitter    events.Emitter
	logger     *zap.Logger
	runID      string

	headlessHosts map[string]bool
	tlsHosts      map[string]bool
}

// Deps collects the pipeline collaborators.
type Deps struct {
	Local      crawler.Fetcher
	Headless   crawler.Fetcher
	Remote     RemoteRouter
	Validator  *validate.Service
	Resilience *resilience.Service
	// Cache is the optional body-carrying cache in front of Pages.
	Cache   crawler.PageCache
	Pages   crawler.PageStore
	Blobs   crawler.BlobStore
	Hasher  crawler.Hasher
	Clock   crawler.Clock
	Emitter events.Emitter
	Logger  *zap.Logger
	RunID   string
}

// New validates the collaborators and builds a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Local == nil {
		return nil, errors.New("local fetcher is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("validator is required")
	}
	if deps.Resilience == nil {
		return nil, errors.New("resilience service is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:           cfg,
		local:         deps.Local,
		headless:      deps.Headless,
		remote:        deps.Remote,
		validator:     deps.Validator,
		resilience:    deps.Resilience,
		cache:         deps.Cache,
		pages:         deps.Pages,
		blobs:         deps.Blobs,
		hasher:        deps.Hasher,
		clock:         deps.Clock,
		emitter:       deps.Emitter,
		logger:        logging.Component(deps.Logger, "pipeline"),
		runID:         deps.RunID,
		headlessHosts: hostSet(cfg.HeadlessHosts),
		tlsHosts:      hostSet(cfg.TLSFingerprintHosts),
	}
	if p.headless == nil {
		p.headless = fetch.NewNoopHeadless()
	}
	return p, nil
}

// Result pairs the outcome with its validation verdict.
type Result struct {
	Outcome crawler.FetchOutcome
	Verdict crawler.Verdict
}

// Failed reports whether the visit ended in any failure.
func (r Result) Failed() bool {
	return r.Outcome.Failed()
}

// ErrorKind returns the failure kind, folding in validation verdicts.
func (r Result) ErrorKind() crawler.ErrorKind {
	if r.Outcome.ErrorKind != crawler.ErrKindNone {
		return r.Outcome.ErrorKind
	}
	return r.Verdict.ErrorKind()
}

// Fetch runs one visit. The intent decides cache behavior; everything else
// follows from what the transport and validator report.
func (p *Pipeline) Fetch(ctx context.Context, rawURL string, intent crawler.VisitIntent) Result {
	host := crawler.HostOf(rawURL)

	if intent.AllowsCache() {
		if cached := p.loadCached(ctx, rawURL); cached != nil {
			verdict := crawler.Verdict{Classification: crawler.ClassOK}
			if len(cached.Body) > 0 {
				verdict = p.validator.Validate(*cached)
			}
			p.emitResult(*cached, verdict)
			return Result{Outcome: *cached, Verdict: verdict}
		}
		if intent == crawler.CacheOnly {
			outcome := crawler.FetchOutcome{
				URL:       rawURL,
				FinalURL:  rawURL,
				Host:      host,
				Source:    crawler.SourceCache,
				FetchedAt: p.clock.Now(),
				ErrorKind: crawler.ErrKindValidationHard,
				ErrorText: "no cached copy",
			}
			p.emitResult(outcome, crawler.Verdict{Classification: crawler.ClassHardFailure, Reason: "no cached copy"})
			return Result{
				Outcome: outcome,
				Verdict: crawler.Verdict{Classification: crawler.ClassHardFailure, Reason: "no cached copy"},
			}
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	result := p.networkVisit(fetchCtx, rawURL, host)
	p.report(result)
	p.persist(ctx, result)
	p.emitResult(result.Outcome, result.Verdict)
	return result
}

// networkVisit performs the network fetch plus at most one headless
// escalation, and validates whatever came back.
func (p *Pipeline) networkVisit(ctx context.Context, rawURL, host string) Result {
	fetcher := p.local
	if p.remote != nil {
		if remote := p.remote.FetcherFor(host); remote != nil {
			fetcher = remote
		}
	}

	outcome, err := fetcher.Fetch(ctx, rawURL)
	if err != nil {
		kind := crawler.ClassifyError(err)
		if kind == crawler.ErrKindReset && p.tlsHosts[host] {
			// Hosts that fingerprint TLS reset plain clients; a real
			// browser gets through. One attempt, never more.
			if fallback, ok := p.tryHeadless(ctx, rawURL, crawler.SourceHeadlessFallback); ok {
				return fallback
			}
		}
		return Result{
			Outcome: p.failureOutcome(rawURL, host, kind, err),
			Verdict: crawler.Verdict{Classification: crawler.ClassHardFailure, Reason: string(kind)},
		}
	}

	verdict := p.validator.Validate(outcome)
	if verdict.Classification == crawler.ClassSoftFailure && p.headlessAllowed(host) {
		if fallback, ok := p.tryHeadless(ctx, rawURL, crawler.SourceHeadlessFallback); ok {
			return fallback
		}
	}
	return Result{Outcome: outcome, Verdict: verdict}
}

// tryHeadless runs the one-shot browser attempt. ok is false when headless
// fetching is disabled or the attempt itself failed, in which case the
// caller falls back to its original outcome.
func (p *Pipeline) tryHeadless(ctx context.Context, rawURL string, source crawler.FetchSource) (Result, bool) {
	headlessCtx, cancel := context.WithTimeout(ctx, p.cfg.HeadlessTimeout)
	defer cancel()

	outcome, err := p.headless.Fetch(headlessCtx, rawURL)
	if errors.Is(err, fetch.ErrHeadlessDisabled) {
		return Result{}, false
	}
	if err != nil {
		p.logger.Warn("headless attempt failed",
			zap.String("url", rawURL),
			zap.Error(err))
		return Result{}, false
	}
	outcome.Source = source
	verdict := p.validator.Validate(outcome)
	return Result{Outcome: outcome, Verdict: verdict}, true
}

func (p *Pipeline) headlessAllowed(host string) bool {
	if len(p.headlessHosts) == 0 {
		return true
	}
	return p.headlessHosts[host]
}

// report feeds the terminal outcome into the circuit breaker and beats the
// heartbeat on success.
func (p *Pipeline) report(result Result) {
	host := result.Outcome.Host
	if host == "" {
		return
	}
	if kind := result.ErrorKind(); kind != crawler.ErrKindNone {
		p.resilience.RecordFailure(host, kind)
		return
	}
	p.resilience.RecordSuccess(host)
}

// persist archives the body and upserts the fetch record. Failures here
// are logged, not propagated: storage trouble must not fail the visit.
func (p *Pipeline) persist(ctx context.Context, result Result) {
	outcome := result.Outcome
	if outcome.Failed() || !result.Verdict.OK() {
		return
	}

	record := crawler.PageRecord{
		RunID:      p.runID,
		URL:        outcome.URL,
		Host:       outcome.Host,
		StatusCode: outcome.StatusCode,
		Source:     outcome.Source,
		Headers:    outcome.Headers,
		FetchedAt:  outcome.FetchedAt,
		DurationMs: outcome.Duration.Milliseconds(),
		Bytes:      outcome.Bytes,
	}
	if len(outcome.Body) > 0 && p.hasher != nil {
		hash, err := p.hasher.Hash(outcome.Body)
		if err != nil {
			p.logger.Error("hash body failed", zap.String("url", outcome.URL), zap.Error(err))
		} else {
			record.ContentHash = hash
			if p.blobs != nil {
				uri, err := p.blobs.PutObject(ctx, p.blobPath(hash), contentType(outcome), outcome.Body)
				if err != nil {
					p.logger.Error("archive body failed", zap.String("url", outcome.URL), zap.Error(err))
				} else {
					record.BlobURI = uri
				}
			}
		}
	}

	if p.pages != nil {
		if err := p.pages.UpsertFetchRecord(ctx, record); err != nil {
			p.logger.Error("upsert fetch record failed", zap.String("url", outcome.URL), zap.Error(err))
		}
	}
	if p.cache != nil {
		if err := p.cache.Store(ctx, outcome); err != nil {
			p.logger.Warn("cache write failed", zap.String("url", outcome.URL), zap.Error(err))
		}
	}
}

func (p *Pipeline) blobPath(hash string) string {
	return fmt.Sprintf("%s/pages/%s", p.runID, hash)
}

func (p *Pipeline) emitResult(outcome crawler.FetchOutcome, verdict crawler.Verdict) {
	if p.emitter == nil {
		return
	}
	evt := events.Event{
		RunID:      p.runID,
		TS:         p.clock.Now(),
		Host:       outcome.Host,
		URL:        outcome.URL,
		Source:     outcome.Source,
		StatusCode: outcome.StatusCode,
		Bytes:      outcome.Bytes,
		Duration:   outcome.Duration,
	}
	if outcome.Failed() || !verdict.OK() {
		evt.Kind = events.KindFetchFailed
		evt.ErrorKind = outcome.ErrorKind
		if evt.ErrorKind == crawler.ErrKindNone {
			evt.ErrorKind = verdict.ErrorKind()
		}
		evt.Note = verdict.Reason
	} else {
		evt.Kind = events.KindFetchDone
	}
	p.emitter.Emit(evt)
}

func (p *Pipeline) loadCached(ctx context.Context, rawURL string) *crawler.FetchOutcome {
	for _, store := range []crawler.PageStore{p.cache, p.pages} {
		if store == nil {
			continue
		}
		cached, err := store.LoadCachedPage(ctx, rawURL)
		if err != nil {
			p.logger.Warn("cache lookup failed", zap.String("url", rawURL), zap.Error(err))
			continue
		}
		if cached != nil {
			return cached
		}
	}
	return nil
}

func (p *Pipeline) failureOutcome(rawURL, host string, kind crawler.ErrorKind, err error) crawler.FetchOutcome {
	return crawler.FetchOutcome{
		URL:       rawURL,
		FinalURL:  rawURL,
		Host:      host,
		Source:    crawler.SourceNetwork,
		FetchedAt: p.clock.Now(),
		ErrorKind: kind,
		ErrorText: err.Error(),
	}
}

func contentType(outcome crawler.FetchOutcome) string {
	if ct := outcome.Headers.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html"
}

func hostSet(hosts []string) map[string]bool {
	if len(hosts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		set[h] = true
	}
	return set
}
