// Package provider abstracts the inference backends the orchestrator
// streams completions from.
package provider

import (
	"context"

	"github.com/wispchat/wisp/pkg/api"
)

// Provider abstracts an LLM inference backend. Each adapter handles its
// own backend protocol internally.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete performs non-streaming inference. Used for auxiliary
	// generations such as conversation titles.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs streaming inference. The returned channel receives
	// Event values and is closed by the provider when the stream
	// completes or errors.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// ListModels returns available models from the backend.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Close releases provider resources.
	Close() error
}

// Request is the backend-facing request, stripped of transport and
// storage concerns.
type Request struct {
	Model    string
	Messages []api.Turn
	Tools    []ToolDefinition
	Params   api.SamplingParams
	Stream   bool
}

// ToolDefinition describes one callable function to the backend.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the backend's complete non-streaming response.
type Response struct {
	Content      string
	FinishReason string
	Model        string
	Usage        Usage
}

// Usage holds token accounting for one request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// EventType classifies a streaming event from the backend.
type EventType int

const (
	EventTextDelta    EventType = iota // incremental text content
	EventToolCallDelta                 // incremental tool call arguments
	EventDone                          // stream finished
	EventError                         // stream error
)

// Event is a single streaming event from the backend.
type Event struct {
	// Type indicates what kind of event this is.
	Type EventType

	// Delta contains incremental text or argument data.
	Delta string

	// ToolCallID is the identifier for the tool call.
	ToolCallID string

	// FunctionName is populated on the first event of a tool call.
	FunctionName string

	// FinishReason is populated on the Done event ("stop", "length",
	// "tool_calls", ...). Empty when the backend never reported one.
	FinishReason string

	// Usage is populated on the Done event when the backend reports it.
	Usage *Usage

	// Err is populated if the stream encountered an error.
	Err error
}

// ModelInfo holds information about a model served by the provider.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
