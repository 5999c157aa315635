package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/persona"
	"github.com/wispchat/wisp/pkg/transport"
)

// Result text used when a handler routed its output elsewhere.
const (
	systemRoutedResult = "Tool output sent as system message"
	chunkStreamResult  = "Tool output streamed into the response"
)

// flushState tracks whether assistant text is still accumulating or has
// been flushed ahead of an out-of-band block.
type flushState int

const (
	accumulatingAssistant flushState = iota
	flushedForSystem
)

// InvokeResult is the terminal bundle of one capability execution.
type InvokeResult struct {
	// ResultText becomes the synthetic tool turn's content.
	ResultText string

	// AssistantText is the run's accumulated assistant text after the
	// execution, reset whenever a flush boundary closed the segment.
	AssistantText string

	// SystemText and ContextText carry out-of-band notices produced
	// during execution, already placeholder-substituted.
	SystemText  string
	ContextText string
}

// ToolInvoker executes matched capabilities, normalizing the two handler
// shapes into one ordered event sequence on the sink.
type ToolInvoker struct {
	names  persona.Names
	sink   transport.EventSink
	logger *slog.Logger
}

// NewToolInvoker returns an invoker emitting to sink and substituting
// placeholders with names.
func NewToolInvoker(names persona.Names, sink transport.EventSink, logger *slog.Logger) *ToolInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolInvoker{names: names, sink: sink, logger: logger}
}

// UnknownResult is the sentinel bundle for a name no capability matches.
// The model sees the mismatch as a tool result, never as a run failure.
func UnknownResult(name, assistantText string) InvokeResult {
	return InvokeResult{
		ResultText:    fmt.Sprintf("Unknown function: %s", name),
		AssistantText: assistantText,
	}
}

// Match finds the capability the model addressed by schema name.
// A nil return means the unknown-capability outcome, not an error.
func Match(name string, caps []*capability.Capability) *capability.Capability {
	for _, c := range caps {
		if c.Schema.Name == name {
			return c
		}
	}
	return nil
}

// Execute runs one capability. assistantText is the assistant text
// accumulated so far this run; the returned bundle carries its updated
// value after any flush boundaries.
func (ti *ToolInvoker) Execute(ctx context.Context, c *capability.Capability, inv capability.Invocation, assistantText string) (InvokeResult, error) {
	switch h := c.Handler.(type) {
	case capability.Plain:
		return ti.executePlain(ctx, h, inv, assistantText)
	case capability.ChunkStream:
		return ti.executeChunkStream(ctx, h, inv, assistantText)
	default:
		return InvokeResult{}, fmt.Errorf("capability %q has no executable handler", c.ID)
	}
}

func (ti *ToolInvoker) executePlain(ctx context.Context, h capability.Plain, inv capability.Invocation, assistantText string) (InvokeResult, error) {
	rc := capability.NewResponseContext()
	result, err := h(ctx, inv, rc)
	if err != nil {
		return InvokeResult{}, err
	}

	res := InvokeResult{ResultText: result, AssistantText: assistantText}

	if sys := rc.System(); sys != "" {
		sys = ti.names.Substitute(sys)
		var ferr error
		res.AssistantText, ferr = ti.flushAssistant(ctx, res.AssistantText)
		if ferr != nil {
			return InvokeResult{}, ferr
		}
		if err := ti.emit(ctx, api.Event{Type: api.EventSystemDelta, Content: sys}); err != nil {
			return InvokeResult{}, err
		}
		if err := ti.emit(ctx, api.Event{Type: api.EventSystemComplete, Content: sys}); err != nil {
			return InvokeResult{}, err
		}
		res.SystemText = sys
		res.ResultText = systemRoutedResult
	}

	if cx := rc.Context(); cx != "" {
		cx = ti.names.Substitute(cx)
		if err := ti.emit(ctx, api.Event{Type: api.EventContextDelta, Content: cx}); err != nil {
			return InvokeResult{}, err
		}
		if err := ti.emit(ctx, api.Event{Type: api.EventContextComplete, Content: cx}); err != nil {
			return InvokeResult{}, err
		}
		res.ContextText = cx
	}

	return res, nil
}

// executeChunkStream drains a chunk-sequence handler. Assistant chunks
// extend the visible reply; contiguous system or context runs flush as
// one completion event when the run ends. The first out-of-band chunk
// closes any accumulated assistant segment so ordering between
// narration and notices is preserved.
func (ti *ToolInvoker) executeChunkStream(ctx context.Context, h capability.ChunkStream, inv capability.Invocation, assistantText string) (InvokeResult, error) {
	out := make(chan capability.Chunk, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- h(ctx, inv, out)
		close(out)
	}()

	res := InvokeResult{AssistantText: assistantText}
	state := accumulatingAssistant
	var sysRun, ctxRun []string
	var sysAll, ctxAll []string

	flushSystem := func() error {
		if len(sysRun) == 0 {
			return nil
		}
		combined := ti.names.Substitute(strings.Join(sysRun, ""))
		sysRun = nil
		sysAll = append(sysAll, combined)
		return ti.emit(ctx, api.Event{Type: api.EventSystemComplete, Content: combined})
	}
	flushContext := func() error {
		if len(ctxRun) == 0 {
			return nil
		}
		combined := ti.names.Substitute(strings.Join(ctxRun, ""))
		ctxRun = nil
		ctxAll = append(ctxAll, combined)
		return ti.emit(ctx, api.Event{Type: api.EventContextComplete, Content: combined})
	}

	// Drain fully even on a mid-stream emit failure so the handler
	// goroutine never blocks on a send.
	var emitErr error
	for chunk := range out {
		if emitErr != nil {
			continue
		}
		switch chunk.Kind {
		case capability.ChunkSystem:
			if err := flushContext(); err != nil {
				emitErr = err
				continue
			}
			if state == accumulatingAssistant {
				res.AssistantText, emitErr = ti.flushAssistant(ctx, res.AssistantText)
				if emitErr != nil {
					continue
				}
				state = flushedForSystem
			}
			sysRun = append(sysRun, chunk.Text)
			emitErr = ti.emit(ctx, api.Event{Type: api.EventSystemDelta, Content: chunk.Text})

		case capability.ChunkContext:
			if err := flushSystem(); err != nil {
				emitErr = err
				continue
			}
			if state == accumulatingAssistant {
				res.AssistantText, emitErr = ti.flushAssistant(ctx, res.AssistantText)
				if emitErr != nil {
					continue
				}
				state = flushedForSystem
			}
			ctxRun = append(ctxRun, chunk.Text)
			emitErr = ti.emit(ctx, api.Event{Type: api.EventContextDelta, Content: chunk.Text})

		default: // assistant
			if err := flushSystem(); err != nil {
				emitErr = err
				continue
			}
			if err := flushContext(); err != nil {
				emitErr = err
				continue
			}
			state = accumulatingAssistant
			text := ti.names.Substitute(chunk.Text)
			res.AssistantText += text
			emitErr = ti.emit(ctx, api.Event{Type: api.EventContentDelta, Content: text})
		}
	}

	herr := <-errc
	if emitErr != nil {
		return InvokeResult{}, emitErr
	}
	if herr != nil {
		return InvokeResult{}, herr
	}
	if err := flushSystem(); err != nil {
		return InvokeResult{}, err
	}
	if err := flushContext(); err != nil {
		return InvokeResult{}, err
	}

	res.SystemText = strings.Join(sysAll, "\n")
	res.ContextText = strings.Join(ctxAll, "\n")
	res.ResultText = chunkStreamResult
	return res, nil
}

// flushAssistant closes the current assistant segment when it holds any
// visible text, returning the reset accumulator.
func (ti *ToolInvoker) flushAssistant(ctx context.Context, assistantText string) (string, error) {
	if strings.TrimSpace(assistantText) == "" {
		return assistantText, nil
	}
	if err := ti.emit(ctx, api.Event{Type: api.EventAssistantComplete, Content: assistantText}); err != nil {
		return assistantText, err
	}
	return "", nil
}

func (ti *ToolInvoker) emit(ctx context.Context, ev api.Event) error {
	return ti.sink.Emit(ctx, ev)
}
