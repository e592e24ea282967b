package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func TestCollyFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := NewColly(CollyConfig{RequestTimeout: 5 * time.Second}, realClock{}, zap.NewNop())
	outcome, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, outcome.StatusCode)
	require.Equal(t, crawler.SourceNetwork, outcome.Source)
	require.Contains(t, string(outcome.Body), "hello")
	require.Equal(t, int64(len(outcome.Body)), outcome.Bytes)
	require.Equal(t, "text/html", outcome.Headers.Get("Content-Type"))
}

func TestCollyFetchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := NewColly(CollyConfig{RequestTimeout: 5 * time.Second}, realClock{}, zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err, "colly surfaces non-2xx as errors for the caller to classify")
}

func TestCollyFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	f := NewColly(CollyConfig{RequestTimeout: time.Second}, realClock{}, zap.NewNop())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
}

func TestNoopHeadless(t *testing.T) {
	t.Parallel()

	_, err := NewNoopHeadless().Fetch(context.Background(), "https://example.org")
	require.ErrorIs(t, err, ErrHeadlessDisabled)
}

func TestNewHeadlessDisabledWithoutConcurrency(t *testing.T) {
	t.Parallel()

	_, err := NewHeadless(HeadlessConfig{MaxConcurrency: 0}, realClock{}, zap.NewNop())
	require.ErrorIs(t, err, ErrHeadlessDisabled)
}
