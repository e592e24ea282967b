package fetch

import (
	"context"

	"github.com/crawlkit/crawld/internal/crawler"
)

// NoopHeadless satisfies crawler.Fetcher in builds where headless Chrome is
// unavailable. Every fetch reports ErrHeadlessDisabled so the pipeline can
// skip the fallback path.
type NoopHeadless struct{}

// NewNoopHeadless creates the stub.
func NewNoopHeadless() *NoopHeadless {
	return &NoopHeadless{}
}

// Fetch always fails with ErrHeadlessDisabled.
func (NoopHeadless) Fetch(context.Context, string) (crawler.FetchOutcome, error) {
	return crawler.FetchOutcome{}, ErrHeadlessDisabled
}
