// Package sinks provides event sink implementations for the hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/events"
)

// LogSink writes structured logs for each event. Useful in development and
// as the always-on observability floor.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event with structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("host", evt.Host),
			zap.String("url", evt.URL),
			zap.String("source", string(evt.Source)),
			zap.Int("status", evt.StatusCode),
			zap.Int64("bytes", evt.Bytes),
			zap.Duration("dur", evt.Duration),
			zap.Int("attempts", evt.Attempts),
		}
		if evt.ErrorKind != "" {
			fields = append(fields, zap.String("error_kind", string(evt.ErrorKind)))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Kind {
		case events.KindFetchFailed, events.KindItemFinalized, events.KindCircuitOpened:
			s.logger.Warn(string(evt.Kind), fields...)
		default:
			s.logger.Info(string(evt.Kind), fields...)
		}
	}
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
