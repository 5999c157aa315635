package openaicompat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wispchat/wisp/pkg/provider"
)

// collectEvents runs ParseSSEStream over raw SSE text and returns all
// emitted events.
func collectEvents(t *testing.T, raw string) []provider.Event {
	t.Helper()
	ch := make(chan provider.Event, 64)
	ParseSSEStream(context.Background(), strings.NewReader(raw), ch)
	close(ch)

	var events []provider.Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}

func TestParseSSEStreamContent(t *testing.T) {
	raw := `data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}

data: {"choices":[{"index":0,"delta":{"content":"Hello"}}]}

data: {"choices":[{"index":0,"delta":{"content":" world"}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	events := collectEvents(t, raw)

	var text strings.Builder
	var done *provider.Event
	for i := range events {
		switch events[i].Type {
		case provider.EventTextDelta:
			text.WriteString(events[i].Delta)
		case provider.EventDone:
			done = &events[i]
		case provider.EventError:
			t.Fatalf("unexpected error event: %v", events[i].Err)
		}
	}

	if text.String() != "Hello world" {
		t.Errorf("content = %q, want %q", text.String(), "Hello world")
	}
	if done == nil {
		t.Fatal("missing Done event")
	}
	if done.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want %q", done.FinishReason, "stop")
	}
}

func TestParseSSEStreamToolCall(t *testing.T) {
	raw := `data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"roll_dice","arguments":"{\"si"}}]}}]}

data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"des\":6}"}}]}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: [DONE]

`
	events := collectEvents(t, raw)

	var args strings.Builder
	var name, callID string
	var done *provider.Event
	for i := range events {
		switch events[i].Type {
		case provider.EventToolCallDelta:
			args.WriteString(events[i].Delta)
			if events[i].FunctionName != "" {
				name = events[i].FunctionName
			}
			callID = events[i].ToolCallID
		case provider.EventDone:
			done = &events[i]
		}
	}

	if name != "roll_dice" {
		t.Errorf("function name = %q, want %q", name, "roll_dice")
	}
	if callID != "call_abc" {
		t.Errorf("tool call id = %q, want %q", callID, "call_abc")
	}
	if args.String() != `{"sides":6}` {
		t.Errorf("arguments = %q, want %q", args.String(), `{"sides":6}`)
	}
	if done == nil || done.FinishReason != "tool_calls" {
		t.Fatalf("Done = %+v, want finish_reason tool_calls", done)
	}
}

func TestParseSSEStreamUsageTrailer(t *testing.T) {
	raw := `data: {"choices":[{"index":0,"delta":{"content":"hi"}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}

data: [DONE]

`
	events := collectEvents(t, raw)

	var dones []provider.Event
	for _, e := range events {
		if e.Type == provider.EventDone {
			dones = append(dones, e)
		}
	}
	if len(dones) != 1 {
		t.Fatalf("got %d Done events, want 1", len(dones))
	}
	if dones[0].Usage == nil {
		t.Fatal("Done event missing usage from trailer chunk")
	}
	if dones[0].Usage.TotalTokens != 12 {
		t.Errorf("TotalTokens = %d, want 12", dones[0].Usage.TotalTokens)
	}
	if dones[0].FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want %q", dones[0].FinishReason, "stop")
	}
}

func TestParseSSEStreamMalformedChunkSkipped(t *testing.T) {
	raw := `data: {not json}

data: {"choices":[{"index":0,"delta":{"content":"ok"}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	events := collectEvents(t, raw)

	var text string
	for _, e := range events {
		if e.Type == provider.EventError {
			t.Fatalf("unexpected error event: %v", e.Err)
		}
		if e.Type == provider.EventTextDelta {
			text += e.Delta
		}
	}
	if text != "ok" {
		t.Errorf("content = %q, want %q", text, "ok")
	}
}

func TestParseSSEStreamEndWithoutSentinel(t *testing.T) {
	raw := `data: {"choices":[{"index":0,"delta":{"content":"partial"}}]}

data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

`
	events := collectEvents(t, raw)

	last := events[len(events)-1]
	if last.Type != provider.EventDone {
		t.Fatalf("last event type = %v, want Done", last.Type)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 3); got != "abc..." {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("ab", 3); got != "ab" {
		t.Errorf("Truncate = %q", got)
	}
}

// A consumer that stops receiving must not strand the stream reader:
// once the context is canceled, a blocked send is abandoned and
// ParseSSEStream returns.
func TestParseSSEStreamAbandonedConsumer(t *testing.T) {
	var raw strings.Builder
	for i := 0; i < 32; i++ {
		raw.WriteString(`data: {"choices":[{"index":0,"delta":{"content":"x"}}]}` + "\n\n")
	}
	raw.WriteString("data: [DONE]\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan provider.Event)

	done := make(chan struct{})
	go func() {
		ParseSSEStream(ctx, strings.NewReader(raw.String()), ch)
		close(done)
	}()

	// Take one event, then walk away without draining the rest.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ParseSSEStream still blocked after cancellation")
	}
}
