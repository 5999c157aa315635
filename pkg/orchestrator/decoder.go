package orchestrator

import (
	"encoding/json"
	"strings"

	"github.com/wispchat/wisp/pkg/provider"
)

// DecoderState tracks where the decoder is within one model response.
type DecoderState int

const (
	// StateIdle means no delta has arrived yet.
	StateIdle DecoderState = iota
	// StateStreamingContent means plain content is being accumulated.
	StateStreamingContent
	// StateStreamingToolCall means a tool call is in progress and
	// content deltas are suppressed.
	StateStreamingToolCall
	// StateToolCallComplete means the stream ended with finish reason
	// "tool_calls"; the argument buffer is frozen for parsing.
	StateToolCallComplete
	// StateInterrupted means the stream ended with some other finish
	// reason while a tool call was in progress.
	StateInterrupted
)

// StreamDecoder consumes provider events for one completion request and
// separates plain content from an in-progress tool call. One call is in
// flight at a time, so argument fragments concatenate in delivery order.
type StreamDecoder struct {
	state        DecoderState
	content      strings.Builder
	callID       string
	functionName string
	args         strings.Builder
	finishReason string
	usage        *provider.Usage
}

// NewStreamDecoder returns a decoder in the Idle state.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{state: StateIdle}
}

// Feed consumes one provider event and returns the content text to
// forward immediately, or "" when the event produced none. Content is
// suppressed once a tool call has been detected.
func (d *StreamDecoder) Feed(ev provider.Event) string {
	switch ev.Type {
	case provider.EventTextDelta:
		if d.state == StateStreamingToolCall || ev.Delta == "" {
			return ""
		}
		d.state = StateStreamingContent
		d.content.WriteString(ev.Delta)
		return ev.Delta

	case provider.EventToolCallDelta:
		if d.functionName == "" && ev.FunctionName != "" {
			d.functionName = ev.FunctionName
		}
		if d.callID == "" && ev.ToolCallID != "" {
			d.callID = ev.ToolCallID
		}
		d.args.WriteString(ev.Delta)
		d.state = StateStreamingToolCall
		return ""

	case provider.EventDone:
		d.finishReason = ev.FinishReason
		if ev.Usage != nil {
			d.usage = ev.Usage
		}
		if d.state == StateStreamingToolCall {
			if ev.FinishReason == "tool_calls" {
				d.state = StateToolCallComplete
			} else {
				d.state = StateInterrupted
			}
		}
		return ""
	}
	return ""
}

// State returns the current decoder state.
func (d *StreamDecoder) State() DecoderState { return d.state }

// ToolCallComplete reports whether the stream ended with a complete
// tool call ready for execution.
func (d *StreamDecoder) ToolCallComplete() bool { return d.state == StateToolCallComplete }

// Interrupted reports whether the stream ended mid tool call with a
// finish reason other than "tool_calls".
func (d *StreamDecoder) Interrupted() bool { return d.state == StateInterrupted }

// Content returns the accumulated plain content.
func (d *StreamDecoder) Content() string { return d.content.String() }

// ToolCall returns the captured function name, call id, and the frozen
// raw argument buffer.
func (d *StreamDecoder) ToolCall() (name, callID, rawArgs string) {
	return d.functionName, d.callID, d.args.String()
}

// FinishReason returns the terminal finish reason the backend reported.
func (d *StreamDecoder) FinishReason() string { return d.finishReason }

// Usage returns token usage when the backend reported it.
func (d *StreamDecoder) Usage() *provider.Usage { return d.usage }

// ParseArguments parses a frozen argument buffer into an object. Some
// llama.cpp server builds emit the same argument object twice back to
// back; only the first complete object, found by brace-depth scanning,
// is parsed. Any failure yields an empty object rather than an error.
func ParseArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	candidate := raw
	if first := firstJSONObject(raw); first != "" {
		candidate = first
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(candidate), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// firstJSONObject returns the first complete top-level JSON object in s
// by brace-depth scanning, or "" when none closes. Braces inside string
// literals are skipped.
func firstJSONObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
