package notify

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker for tests and single-node
// deployments. Messages are dropped for subscribers whose buffer is full
// rather than blocking the publisher.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Message
	nextID int
	closed bool
}

var _ Broker = (*MemoryBroker)(nil)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 16

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan Message)}
}

// Publish sends payload to all current subscribers of topic.
func (b *MemoryBroker) Publish(ctx context.Context, topic, payload string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
	return nil
}

// Subscribe returns a buffered channel of messages for topic.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, context.Canceled
	}

	id := b.nextID
	b.nextID++

	ch := make(chan Message, subscriberBuffer)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan Message)
	}
	b.subs[topic][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[topic][id]; ok {
			delete(b.subs[topic], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

// Close releases all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
	return nil
}
