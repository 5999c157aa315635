package transport

import (
	"context"

	"github.com/wispchat/wisp/pkg/api"
)

// EventSink is the ordered receiver of orchestration events. The
// orchestrator emits events in strict generation order; the sink turns
// them into a wire format. A sink must treat event types it does not
// recognize as opaque pass-through data.
type EventSink interface {
	Emit(ctx context.Context, event api.Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event api.Event) error

// Emit calls f.
func (f EventSinkFunc) Emit(ctx context.Context, event api.Event) error {
	return f(ctx, event)
}
