// Package capability defines the invocable units a model may call during
// a response, and the registry that tracks which of them are enabled.
package capability

import (
	"context"
	"time"
)

// ChunkKind classifies a piece of streamed handler output.
type ChunkKind string

const (
	// ChunkAssistant text extends the visible assistant reply.
	ChunkAssistant ChunkKind = "assistant"
	// ChunkSystem text becomes an out-of-band system notice.
	ChunkSystem ChunkKind = "system"
	// ChunkContext text becomes an out-of-band context notice.
	ChunkContext ChunkKind = "context"
)

// Chunk is one unit of output from a streaming handler.
type Chunk struct {
	Kind ChunkKind
	Text string
}

// Metadata carries run-scoped details passed to handlers that declare
// SupportsMetadata. It is an opt-in declared at registration, never
// inferred at call time.
type Metadata struct {
	TurnIndex      int
	ConversationID string
	Timestamp      time.Time
}

// Invocation is one matched call against a capability.
type Invocation struct {
	CallID       string
	Name         string
	RawArguments string
	Arguments    map[string]any

	// Metadata is non-nil only for capabilities with SupportsMetadata.
	Metadata *Metadata
}

// Handler is the closed set of handler shapes. Exactly Plain and
// ChunkStream implement it.
type Handler interface {
	isHandler()
}

// Plain computes a single result string. System or context text staged
// on the ResponseContext is flushed after the handler returns.
type Plain func(ctx context.Context, inv Invocation, rc *ResponseContext) (string, error)

func (Plain) isHandler() {}

// ChunkStream emits a sequence of chunks on out and returns when the
// sequence ends. The caller owns and drains the channel; the handler
// must not close it.
type ChunkStream func(ctx context.Context, inv Invocation, out chan<- Chunk) error

func (ChunkStream) isHandler() {}

// Schema describes a capability to the model.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Capability is a named invocable unit. The orchestrator reads enabled
// snapshots and evaluates Condition per iteration; loading and toggling
// happen in the registry.
type Capability struct {
	ID     string
	Schema Schema

	// Enabled is the default state used when no persisted toggle exists.
	Enabled bool

	// Auto capabilities run every iteration before status reporting
	// instead of at model request. Their Handler must be Plain.
	Auto bool

	// OneTime capabilities are offered at most once per run.
	OneTime bool

	// SupportsMetadata opts the handler into receiving Metadata.
	SupportsMetadata bool

	Handler Handler

	// Condition gates availability for one iteration. A nil Condition
	// means always available; errors exclude the capability silently.
	Condition func(ctx context.Context) (bool, error)

	// Status contributes a line to the status block. Empty output or an
	// error contributes nothing.
	Status func(ctx context.Context) (string, error)

	// Cleanup runs best-effort when a run finishes, whatever the outcome.
	Cleanup func(ctx context.Context) error
}
