// Package memory holds in-process storage backends used in tests and
// single-binary runs.
package memory

import (
	"context"
	"sync"

	"github.com/crawlkit/crawld/internal/crawler"
)

// PageStore keeps fetch records in a map keyed by URL.
type PageStore struct {
	mu      sync.RWMutex
	records map[string]crawler.PageRecord
	bodies  map[string][]byte
}

func NewPageStore() *PageStore {
	return &PageStore{
		records: make(map[string]crawler.PageRecord),
		bodies:  make(map[string][]byte),
	}
}

func (s *PageStore) UpsertFetchRecord(ctx context.Context, record crawler.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.URL] = record
	return nil
}

// Store keeps the full outcome, body included, so LoadCachedPage can
// replay it.
func (s *PageStore) Store(ctx context.Context, outcome crawler.FetchOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[outcome.URL] = crawler.PageRecord{
		URL:        outcome.URL,
		Host:       outcome.Host,
		StatusCode: outcome.StatusCode,
		Headers:    outcome.Headers,
		FetchedAt:  outcome.FetchedAt,
		Bytes:      outcome.Bytes,
	}
	s.bodies[outcome.URL] = append([]byte(nil), outcome.Body...)
	return nil
}

func (s *PageStore) LoadCachedPage(ctx context.Context, rawURL string) (*crawler.FetchOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[rawURL]
	if !ok {
		return nil, nil
	}
	outcome := &crawler.FetchOutcome{
		URL:        record.URL,
		FinalURL:   record.URL,
		Host:       record.Host,
		Source:     crawler.SourceCache,
		StatusCode: record.StatusCode,
		Headers:    record.Headers,
		Bytes:      record.Bytes,
		FetchedAt:  record.FetchedAt,
	}
	if body, ok := s.bodies[rawURL]; ok {
		outcome.Body = append([]byte(nil), body...)
		outcome.Bytes = int64(len(body))
	}
	return outcome, nil
}

// Len reports the number of stored records.
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
