// Package badgercache stores full page bodies in an embedded Badger
// database so cache-seeded runs can replay pages without network access.
package badgercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Config controls the embedded cache.
type Config struct {
	Path     string
	InMemory bool
	TTL      time.Duration
	Logger   *zap.Logger
}

type cachedPage struct {
	URL        string              `json:"url"`
	FinalURL   string              `json:"finalUrl"`
	Host       string              `json:"host"`
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
	FetchedAt  time.Time           `json:"fetchedAt"`
}

// Cache is a body-carrying page cache backed by Badger. It satisfies
// crawler.PageStore so it can sit in front of the durable store.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

// Open initializes the database at cfg.Path, or in memory for tests.
func Open(cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage.cache.path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Cache{db: db, ttl: cfg.TTL, logger: logger}, nil
}

// Close shuts the database down.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Store remembers the full outcome, body included, under its URL.
func (c *Cache) Store(ctx context.Context, outcome crawler.FetchOutcome) error {
	page := cachedPage{
		URL:        outcome.URL,
		FinalURL:   outcome.FinalURL,
		Host:       outcome.Host,
		StatusCode: outcome.StatusCode,
		Headers:    outcome.Headers,
		Body:       outcome.Body,
		FetchedAt:  outcome.FetchedAt,
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal cached page: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(outcome.URL), data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// UpsertFetchRecord stores record metadata without a body. Callers that
// have the body use Store instead.
func (c *Cache) UpsertFetchRecord(ctx context.Context, record crawler.PageRecord) error {
	return c.Store(ctx, crawler.FetchOutcome{
		URL:        record.URL,
		FinalURL:   record.URL,
		Host:       record.Host,
		StatusCode: record.StatusCode,
		Headers:    record.Headers,
		FetchedAt:  record.FetchedAt,
	})
}

// LoadCachedPage returns the cached outcome or nil on a miss.
func (c *Cache) LoadCachedPage(ctx context.Context, rawURL string) (*crawler.FetchOutcome, error) {
	var page cachedPage
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rawURL))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &page)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cached page: %w", err)
	}
	return &crawler.FetchOutcome{
		URL:        page.URL,
		FinalURL:   page.FinalURL,
		Host:       page.Host,
		Source:     crawler.SourceCache,
		StatusCode: page.StatusCode,
		Headers:    http.Header(page.Headers),
		Body:       page.Body,
		Bytes:      int64(len(page.Body)),
		FetchedAt:  page.FetchedAt,
	}, nil
}

// RunGC triggers a value-log garbage collection pass.
func (c *Cache) RunGC() {
	for {
		if err := c.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}
