// Package events carries the typed outcome stream emitted by the fetch
// pipeline and execution loop. Subscribers (logging, metrics, brokers)
// attach as sinks on the hub instead of being called inline.
package events

import (
	"errors"
	"time"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Kind labels the lifecycle milestone an Event represents.
type Kind string

// Event kinds.
const (
	KindFetchDone     Kind = "FETCH_DONE"
	KindFetchFailed   Kind = "FETCH_FAILED"
	KindItemFinalized Kind = "ITEM_FINALIZED"
	KindCircuitOpened Kind = "CIRCUIT_OPENED"
	KindRunStarted    Kind = "RUN_STARTED"
	KindRunFinished   Kind = "RUN_FINISHED"
)

// Event is a single outcome milestone. Terminal failures always reach the
// stream; nothing fails silently.
type Event struct {
	Kind       Kind
	RunID      string
	TS         time.Time
	Host       string
	URL        string
	Source     crawler.FetchSource
	StatusCode int
	Bytes      int64
	Duration   time.Duration
	ErrorKind  crawler.ErrorKind
	Attempts   int
	Note       string
}

// Validate performs coarse checks before an event enters the hub.
func (e Event) Validate() error {
	if e.Kind == "" {
		return errors.New("event kind is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindFetchDone, KindFetchFailed, KindItemFinalized, KindCircuitOpened:
		if e.Host == "" {
			return errors.New("host is required for host-scoped events")
		}
	case KindRunStarted, KindRunFinished:
	default:
		return errors.New("unknown event kind")
	}
	return nil
}
