package sinks

import (
	"context"
	"fmt"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/events"
)

// PublisherSink forwards terminal outcome events to an external broker via
// the Publisher collaborator. Non-terminal events are skipped to keep topic
// volume proportional to finished work.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
}

// NewPublisherSink wires a publisher and topic to the sink interface.
func NewPublisherSink(publisher crawler.Publisher, topic string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic}
}

// Consume publishes terminal events.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.publisher == nil || s.topic == "" {
		return nil
	}
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindFetchDone, events.KindItemFinalized:
		default:
			continue
		}
		payload := map[string]any{
			"kind":       string(evt.Kind),
			"run_id":     evt.RunID,
			"url":        evt.URL,
			"host":       evt.Host,
			"source":     string(evt.Source),
			"status":     evt.StatusCode,
			"bytes":      evt.Bytes,
			"error_kind": string(evt.ErrorKind),
			"attempts":   evt.Attempts,
			"timestamp":  evt.TS.UTC(),
		}
		if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
			return fmt.Errorf("publish outcome event: %w", err)
		}
	}
	return nil
}

// Close implements Sink.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
