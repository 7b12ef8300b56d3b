package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Broker is an in-process topic pub/sub. Payloads are JSON encoded once
// per publish. A subscriber whose buffer is full misses the message.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch chan []byte
}

// NewBroker creates a broker whose subscriber channels hold buffer messages.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{subs: make(map[string]map[*subscription]struct{}), buffer: buffer}
}

// Subscribe registers for topic. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	sub := &subscription{ch: make(chan []byte, b.buffer)}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], sub)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of subscribers of topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broker publish %s: %w", topic, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- data:
		default:
		}
	}
	return nil
}
