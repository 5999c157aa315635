package notify

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "announcements")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := b.Publish(ctx, "announcements", "hello"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Topic != "announcements" {
			t.Errorf("Topic = %q, want %q", msg.Topic, "announcements")
		}
		if msg.Payload != "hello" {
			t.Errorf("Payload = %q, want %q", msg.Payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBrokerTopicIsolation(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "topic-a")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := b.Publish(ctx, "topic-b", "elsewhere"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on topic-a: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	var chans []<-chan Message
	for i := 0; i < 3; i++ {
		ch, cancel, err := b.Subscribe(ctx, "fan")
		if err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
		defer cancel()
		chans = append(chans, ch)
	}

	if err := b.Publish(ctx, "fan", "broadcast"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for i, ch := range chans {
		select {
		case msg := <-ch:
			if msg.Payload != "broadcast" {
				t.Errorf("subscriber %d: Payload = %q, want %q", i, msg.Payload, "broadcast")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestMemoryBrokerCancelStopsDelivery(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	ch, cancel, err := b.Subscribe(ctx, "ephemeral")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()

	// Channel is closed after cancel.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	if err := b.Publish(ctx, "ephemeral", "late"); err != nil {
		t.Fatalf("Publish() after cancel error = %v", err)
	}
}

func TestMemoryBrokerClose(t *testing.T) {
	b := NewMemoryBroker()

	ctx := context.Background()
	ch, _, err := b.Subscribe(ctx, "closing")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel closed after broker Close")
	}
	if _, _, err := b.Subscribe(ctx, "closing"); err == nil {
		t.Error("expected Subscribe after Close to fail")
	}
}
