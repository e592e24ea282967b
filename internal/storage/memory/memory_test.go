package memory

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

func TestPageStoreRoundTrip(t *testing.T) {
	store := NewPageStore()
	ctx := context.Background()

	record := crawler.PageRecord{
		URL:        "https://example.org/a",
		Host:       "example.org",
		StatusCode: 200,
		Source:     crawler.SourceNetwork,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		FetchedAt:  time.Now().UTC(),
		Bytes:      10,
	}
	require.NoError(t, store.UpsertFetchRecord(ctx, record))
	require.Equal(t, 1, store.Len())

	got, err := store.LoadCachedPage(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, crawler.SourceCache, got.Source)
	require.Equal(t, "example.org", got.Host)
}

func TestPageStoreServesBody(t *testing.T) {
	store := NewPageStore()
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, crawler.FetchOutcome{
		URL:  "https://example.org/a",
		Host: "example.org",
		Body: []byte("<html></html>"),
	}))

	got, err := store.LoadCachedPage(ctx, "https://example.org/a")
	require.NoError(t, err)
	require.Equal(t, []byte("<html></html>"), got.Body)
	require.Equal(t, int64(13), got.Bytes)
}

func TestPageStoreMiss(t *testing.T) {
	store := NewPageStore()

	got, err := store.LoadCachedPage(context.Background(), "https://example.org/nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBlobStore(t *testing.T) {
	store := NewBlobStore()

	uri, err := store.PutObject(context.Background(), "pages/abc", "text/html", []byte("data"))
	require.NoError(t, err)
	require.Equal(t, "memory://pages/abc", uri)

	data, ok := store.Get("pages/abc")
	require.True(t, ok)
	require.Equal(t, []byte("data"), data)
	require.Equal(t, 1, store.Len())
}
