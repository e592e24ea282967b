// Package postgres provides the Postgres-backed page store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlkit/crawld/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool for the page store.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the pool surface the store needs; pgxmock satisfies it.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PageStore persists fetch records and serves cached page lookups. The
// newest record per URL acts as the cached copy.
type PageStore struct {
	pool  querier
	table string
}

// New connects a pool and returns the store.
func New(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool, primarily for tests.
func NewWithPool(pool querier, table string) (*PageStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "pages"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{pool: pool, table: table}, nil
}

// Close releases the pool.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertFetchRecord inserts or refreshes the row for the record's URL.
func (s *PageStore) UpsertFetchRecord(ctx context.Context, record crawler.PageRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("page store is not configured")
	}
	if record.URL == "" {
		return fmt.Errorf("record url is required")
	}
	headersJSON, err := json.Marshal(headerMap(record.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	url, host, run_id, status_code, source, content_hash, blob_uri,
	headers, fetched_at, duration_ms, bytes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (url) DO UPDATE SET
	host = EXCLUDED.host,
	run_id = EXCLUDED.run_id,
	status_code = EXCLUDED.status_code,
	source = EXCLUDED.source,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri,
	headers = EXCLUDED.headers,
	fetched_at = EXCLUDED.fetched_at,
	duration_ms = EXCLUDED.duration_ms,
	bytes = EXCLUDED.bytes`, s.table)

	args := []any{
		record.URL,
		record.Host,
		record.RunID,
		record.StatusCode,
		string(record.Source),
		record.ContentHash,
		record.BlobURI,
		headersJSON,
		record.FetchedAt,
		record.DurationMs,
		record.Bytes,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert fetch record: %w", err)
	}
	return nil
}

// LoadCachedPage returns the stored record for a URL as a cache-sourced
// outcome, or nil when no row exists. Bodies live in the blob store, so the
// returned outcome carries metadata only unless a body cache sits in front.
func (s *PageStore) LoadCachedPage(ctx context.Context, rawURL string) (*crawler.FetchOutcome, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("page store is not configured")
	}
	query := fmt.Sprintf(`
SELECT host, status_code, headers, fetched_at, bytes
FROM %s WHERE url = $1`, s.table)

	var (
		host        string
		statusCode  int
		headersJSON []byte
		fetchedAt   time.Time
		bytes       int64
	)
	err := s.pool.QueryRow(ctx, query, rawURL).Scan(&host, &statusCode, &headersJSON, &fetchedAt, &bytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached page: %w", err)
	}

	headers := http.Header{}
	if len(headersJSON) > 0 {
		var m map[string][]string
		if err := json.Unmarshal(headersJSON, &m); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
		headers = http.Header(m)
	}

	return &crawler.FetchOutcome{
		URL:        rawURL,
		FinalURL:   rawURL,
		Host:       host,
		Source:     crawler.SourceCache,
		StatusCode: statusCode,
		Headers:    headers,
		Bytes:      bytes,
		FetchedAt:  fetchedAt,
	}, nil
}

func headerMap(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
