package sinks

import (
	"context"

	"github.com/crawlkit/crawld/internal/events"
	"github.com/crawlkit/crawld/internal/metrics"
)

// PrometheusSink forwards event batches into the shared collectors.
type PrometheusSink struct{}

// NewPrometheusSink initializes the collectors and returns the sink.
func NewPrometheusSink() *PrometheusSink {
	metrics.Init()
	return &PrometheusSink{}
}

// Consume updates counters and histograms for each event.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindFetchDone:
			metrics.ObserveFetch(evt.Host, string(evt.Source), evt.Bytes, evt.Duration)
		case events.KindFetchFailed, events.KindItemFinalized:
			metrics.ObserveFailure(evt.Host, string(evt.ErrorKind))
		}
	}
	return nil
}

// Close implements Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
