// Package memory holds an in-process publisher for tests and the memory
// backend, where outcome notifications stay inspectable instead of leaving
// the process.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded outcome notification.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records every notification in publish order, per topic and
// overall.
type Publisher struct {
	mu      sync.RWMutex
	all     []Message
	byTopic map[string][]Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{byTopic: make(map[string][]Message)}
}

// Publish records the notification and returns its position as a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := Message{Topic: topic, Payload: payload}
	p.all = append(p.all, msg)
	p.byTopic[topic] = append(p.byTopic[topic], msg)
	return fmt.Sprintf("memory-%d", len(p.all)), nil
}

// Messages returns every recorded notification in publish order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.all))
	copy(out, p.all)
	return out
}

// MessagesFor returns the notifications published to one topic.
func (p *Publisher) MessagesFor(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msgs := p.byTopic[topic]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
