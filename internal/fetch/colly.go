// Package fetch implements the local fetchers: a Colly-backed network
// fetcher and a chromedp-backed headless renderer.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
)

// CollyConfig controls the network fetcher.
type CollyConfig struct {
	UserAgent       string
	RequestTimeout  time.Duration
	MaxConnsPerHost int
}

func (c CollyConfig) withDefaults() CollyConfig {
	if c.UserAgent == "" {
		c.UserAgent = "crawld/1.0 (+https://github.com/crawlkit/crawld)"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = 4
	}
	return c
}

// Colly implements crawler.Fetcher over a shared collector that is cloned
// per fetch. Rate pacing happens upstream in the throttle manager, so the
// collector itself carries no limit rules.
type Colly struct {
	base   *colly.Collector
	clock  crawler.Clock
	logger *zap.Logger
}

// NewColly builds the network fetcher.
func NewColly(cfg CollyConfig, clock crawler.Clock, logger *zap.Logger) *Colly {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Colly{base: base, clock: clock, logger: logger}
}

type collyResult struct {
	status   int
	headers  http.Header
	body     []byte
	finalURL string
	err      error
}

// Fetch retrieves rawURL over plain HTTP and returns the outcome. Transport
// errors are returned alongside a zero outcome for the caller to classify.
func (f *Colly) Fetch(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	collector := f.base.Clone()
	resultCh := make(chan collyResult, 1)
	var once sync.Once
	send := func(res collyResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			for k, v := range *r.Headers {
				cp := make([]string, len(v))
				copy(cp, v)
				headers[k] = cp
			}
		}
		send(collyResult{
			status:   r.StatusCode,
			headers:  headers,
			body:     append([]byte(nil), r.Body...),
			finalURL: r.Request.URL.String(),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("colly fetch failed")
		}
		res := collyResult{err: err}
		if r != nil {
			res.status = r.StatusCode
		}
		send(res)
	})

	start := f.clock.Now()
	if err := collector.Visit(rawURL); err != nil {
		return crawler.FetchOutcome{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return crawler.FetchOutcome{}, err
		}
		if res.err != nil {
			return crawler.FetchOutcome{}, res.err
		}
		return crawler.FetchOutcome{
			URL:        rawURL,
			FinalURL:   res.finalURL,
			Host:       crawler.HostOf(rawURL),
			Source:     crawler.SourceNetwork,
			StatusCode: res.status,
			Headers:    res.headers,
			Body:       res.body,
			Bytes:      int64(len(res.body)),
			Duration:   f.clock.Now().Sub(start),
			FetchedAt:  start,
		}, nil
	default:
		return crawler.FetchOutcome{}, errors.New("fetch produced no result")
	}
}
