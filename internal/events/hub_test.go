package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *captureSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fetchDone(host string) Event {
	return Event{
		Kind:   KindFetchDone,
		TS:     time.Now(),
		Host:   host,
		URL:    "https://" + host + "/",
		Source: crawler.SourceNetwork,
	}
}

func TestHubDeliversToSinks(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)

	for i := 0; i < 5; i++ {
		hub.Emit(fetchDone("example.org"))
	}

	require.Eventually(t, func() bool {
		return sink.count() == 5
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
	require.True(t, sink.closed)
}

func TestHubDropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: 10 * time.Millisecond}, sink)
	defer hub.Close(context.Background())

	hub.Emit(Event{Kind: KindFetchDone}) // missing timestamp and host
	hub.Emit(fetchDone("example.org"))

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHubNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()

	slow := &captureSink{}
	hub := NewHub(Config{BufferSize: 1, MaxBatch: 1, MaxBatchWait: time.Hour}, slow)
	defer hub.Close(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Emit(fetchDone("example.org"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}
	require.Greater(t, hub.Dropped(), int64(0))
}

func TestHubFlushesOnClose(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(Config{MaxBatchWait: time.Hour}, sink)

	hub.Emit(fetchDone("example.org"))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, 1, sink.count(), "buffered events flush on close")
}
