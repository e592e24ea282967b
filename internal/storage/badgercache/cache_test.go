package badgercache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestStoreAndLoad(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	outcome := crawler.FetchOutcome{
		URL:        "https://example.org/a",
		FinalURL:   "https://example.org/a",
		Host:       "example.org",
		Source:     crawler.SourceNetwork,
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<html>hello</html>"),
		FetchedAt:  time.Now().UTC(),
	}
	require.NoError(t, cache.Store(ctx, outcome))

	got, err := cache.LoadCachedPage(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, crawler.SourceCache, got.Source)
	require.Equal(t, outcome.Body, got.Body)
	require.Equal(t, int64(len(outcome.Body)), got.Bytes)
	require.Equal(t, "text/html", got.Headers.Get("Content-Type"))
}

func TestLoadMiss(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.LoadCachedPage(context.Background(), "https://example.org/missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpsertFetchRecordMetadataOnly(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	record := crawler.PageRecord{
		URL:        "https://example.org/b",
		Host:       "example.org",
		StatusCode: 200,
		FetchedAt:  time.Now().UTC(),
	}
	require.NoError(t, cache.UpsertFetchRecord(ctx, record))

	got, err := cache.LoadCachedPage(ctx, "https://example.org/b")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got.Body)
	require.Equal(t, 200, got.StatusCode)
}
