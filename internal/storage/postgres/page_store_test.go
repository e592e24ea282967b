package postgres

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

func TestUpsertFetchRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	record := crawler.PageRecord{
		RunID:       "run-1",
		URL:         "https://example.org/a",
		Host:        "example.org",
		StatusCode:  200,
		Source:      crawler.SourceNetwork,
		ContentHash: "abc123",
		BlobURI:     "mem://pages/abc123",
		Headers:     http.Header{"Content-Type": {"text/html"}},
		FetchedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		DurationMs:  120,
		Bytes:       4096,
	}

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			record.URL, record.Host, record.RunID, record.StatusCode,
			string(record.Source), record.ContentHash, record.BlobURI,
			pgxmock.AnyArg(), record.FetchedAt, record.DurationMs, record.Bytes,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertFetchRecord(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFetchRecordRequiresURL(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	err = store.UpsertFetchRecord(context.Background(), crawler.PageRecord{})
	require.Error(t, err)
}

func TestLoadCachedPage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	fetchedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"host", "status_code", "headers", "fetched_at", "bytes"}).
		AddRow("example.org", 200, []byte(`{"Content-Type":["text/html"]}`), fetchedAt, int64(4096))

	mock.ExpectQuery("SELECT host, status_code, headers, fetched_at, bytes").
		WithArgs("https://example.org/a").
		WillReturnRows(rows)

	outcome, err := store.LoadCachedPage(context.Background(), "https://example.org/a")
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, crawler.SourceCache, outcome.Source)
	require.Equal(t, "example.org", outcome.Host)
	require.Equal(t, 200, outcome.StatusCode)
	require.Equal(t, "text/html", outcome.Headers.Get("Content-Type"))
	require.Equal(t, int64(4096), outcome.Bytes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCachedPageMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "pages")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT host, status_code, headers, fetched_at, bytes").
		WithArgs("https://example.org/missing").
		WillReturnError(pgx.ErrNoRows)

	outcome, err := store.LoadCachedPage(context.Background(), "https://example.org/missing")
	require.NoError(t, err)
	require.Nil(t, outcome)
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "pages; DROP TABLE pages")
	require.Error(t, err)
}
