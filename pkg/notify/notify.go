// Package notify provides topic-based fan-out for capabilities that want
// to tell other observers about state changes (UI refreshes, cross-session
// signals). The orchestrator never touches this package directly; it is
// capability-internal infrastructure.
package notify

import "context"

// Message is a single published notification.
type Message struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// Broker is a publish/subscribe fan-out. Implementations must be safe
// for concurrent use. Delivery is best-effort: a slow subscriber may
// miss messages, and publishing to a topic with no subscribers is not
// an error.
type Broker interface {
	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic, payload string) error

	// Subscribe returns a channel of messages for topic and a cancel
	// function that releases the subscription and closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error)

	// Close releases all broker resources.
	Close() error
}
