package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/provider"
)

// ParseSSEStream reads Chat Completions SSE chunks from body, translates
// each chunk to provider events, and sends them on ch. The channel is NOT
// closed by this function; the caller is responsible for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// Malformed chunks are logged and skipped. Context cancellation stops
// reading immediately, including while a send is blocked on a consumer
// that stopped receiving.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	st := &streamState{}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()

		// SSE lines that don't start with "data: " are ignored
		// (empty lines, comments starting with ":").
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		if payload == "[DONE]" {
			st.flushDone(ctx, ch)
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", Truncate(payload, 200),
			)
			continue
		}

		if !TranslateChunk(ctx, &chunk, st, ch) {
			return
		}
	}

	// Scanner error (e.g., connection dropped).
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return
		}
		send(ctx, ch, provider.Event{
			Type: provider.EventError,
			Err:  api.NewServerError("SSE stream read error: " + err.Error()),
		})
		return
	}

	// Stream ended without the [DONE] sentinel; flush any pending finish.
	st.flushDone(ctx, ch)
}

// send delivers ev on ch unless ctx is canceled first. Returns false
// when the send was abandoned.
func send(ctx context.Context, ch chan<- provider.Event, ev provider.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamState carries tool call identity and the pending finish across
// chunks of one stream. The Done event is held until the usage-only
// trailer chunk or the [DONE] sentinel so it can carry token usage.
type streamState struct {
	toolCallID   string
	functionName string
	sawToolCall  bool

	finishReason string
	finishSeen   bool
	usage        *provider.Usage
	doneSent     bool
}

// flushDone emits the pending Done event exactly once.
func (st *streamState) flushDone(ctx context.Context, ch chan<- provider.Event) bool {
	if st.doneSent || !st.finishSeen {
		return true
	}
	st.doneSent = true
	return send(ctx, ch, provider.Event{
		Type:         provider.EventDone,
		FinishReason: st.finishReason,
		Usage:        st.usage,
	})
}

// TranslateChunk converts a single ChatCompletionChunk into zero or more
// provider events sent on ch. Returns false when the consumer's context
// was canceled mid-send.
func TranslateChunk(ctx context.Context, chunk *ChatCompletionChunk, st *streamState, ch chan<- provider.Event) bool {
	if chunk.Usage != nil {
		st.usage = usageFrom(chunk.Usage)
	}

	if len(chunk.Choices) == 0 {
		// Usage-only trailer chunk: the finish reason arrived earlier.
		return st.flushDone(ctx, ch)
	}

	choice := chunk.Choices[0]
	delta := choice.Delta

	if choice.FinishReason != nil {
		st.finishSeen = true
		st.finishReason = *choice.FinishReason
		// Held until the usage trailer or the [DONE] sentinel.
		return true
	}

	if len(delta.ToolCalls) > 0 {
		for _, tc := range delta.ToolCalls {
			event := provider.Event{
				Type:  provider.EventToolCallDelta,
				Delta: tc.Function.Arguments,
			}
			if !st.sawToolCall {
				// First tool call chunk carries the id and function name.
				st.sawToolCall = true
				st.toolCallID = tc.ID
				st.functionName = tc.Function.Name
				event.FunctionName = tc.Function.Name
			}
			event.ToolCallID = st.toolCallID
			if !send(ctx, ch, event) {
				return false
			}
		}
		return true
	}

	if delta.Content != nil && *delta.Content != "" {
		return send(ctx, ch, provider.Event{
			Type:  provider.EventTextDelta,
			Delta: *delta.Content,
		})
	}

	// Role-only chunks (first chunk of a message) and empty deltas carry
	// no information the decoder needs; skip them.
	return true
}

func usageFrom(u *ChatUsage) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// Truncate limits a string to maxLen characters for log output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
