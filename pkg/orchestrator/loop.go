package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/observability"
	"github.com/wispchat/wisp/pkg/persona"
	"github.com/wispchat/wisp/pkg/provider"
	"github.com/wispchat/wisp/pkg/transport"
)

// ToolErrorPolicy decides what happens when a capability's primary
// handler returns an error.
type ToolErrorPolicy string

const (
	// ToolErrorAbort ends the run with a single Error event.
	ToolErrorAbort ToolErrorPolicy = "abort"
	// ToolErrorReport turns the error into the tool result and lets the
	// loop continue, matching how condition and status errors behave.
	ToolErrorReport ToolErrorPolicy = "report"
)

// DefaultToolBudget is the per-response cap on distinct capabilities.
const DefaultToolBudget = 3

// Config holds per-loop settings shared by every run.
type Config struct {
	// Model is the backend model identifier sent with each request.
	Model string

	// ToolBudget caps the count of distinct capabilities used in one
	// response. Reaching it empties the availability prompt but never
	// stops the loop. Zero means DefaultToolBudget.
	ToolBudget int

	// ToolErrorPolicy defaults to ToolErrorAbort.
	ToolErrorPolicy ToolErrorPolicy
}

// Registry is the capability snapshot accessor the loop consumes.
type Registry interface {
	Enabled() []*capability.Capability
}

// Loop ties the assembler, decoder, and invoker together across the
// iterations of one response. Safe for concurrent runs: all per-run
// state lives in Run's frame.
type Loop struct {
	provider provider.Provider
	registry Registry
	resolver *persona.Resolver
	cfg      Config
	logger   *slog.Logger
}

// NewLoop builds a Loop. resolver may be nil, in which case placeholder
// substitution uses the default speaker names.
func NewLoop(p provider.Provider, reg Registry, resolver *persona.Resolver, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = DefaultToolBudget
	}
	if cfg.ToolErrorPolicy == "" {
		cfg.ToolErrorPolicy = ToolErrorAbort
	}
	return &Loop{provider: p, registry: reg, resolver: resolver, cfg: cfg, logger: logger}
}

// RunRequest describes one orchestration run.
type RunRequest struct {
	ConversationID string
	History        []api.Turn
	Params         api.SamplingParams
}

// Run executes one full response cycle, emitting ordered events to sink
// and returning the final assistant text. Cleanup hooks of every enabled
// capability fire exactly once on every exit path, including error and
// cancellation.
func (l *Loop) Run(ctx context.Context, req RunRequest, sink transport.EventSink) (final string, err error) {
	names := persona.Names{User: persona.DefaultUserName, Char: persona.DefaultCharName}
	if l.resolver != nil {
		names = l.resolver.Resolve(ctx)
	}
	// Every log record of this run carries its identity.
	log := l.logger.With("run_id", api.NewRunID())
	asm := NewPromptAssembler(log)
	invoker := NewToolInvoker(names, sink, log)

	history := append([]api.Turn(nil), req.History...)
	var toolsUsed []string
	var toolRecords []string
	assistantText := ""
	iterations := 0
	outcome := "error"

	defer func() {
		l.runCleanups(context.WithoutCancel(ctx), log)
		observability.RunsTotal.WithLabelValues(outcome).Inc()
		if iterations > 0 {
			observability.RunIterations.Observe(float64(iterations))
		}
	}()

	if err := sink.Emit(ctx, api.Event{Type: api.EventStart}); err != nil {
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			outcome = "canceled"
			return "", l.fail(ctx, log, sink, err)
		}

		enabled := l.registry.Enabled()
		statusBlock := asm.BuildStatusBlock(ctx, enabled)

		var callable []*capability.Capability
		budgetLeft := distinctUsed(toolsUsed) < l.cfg.ToolBudget
		if budgetLeft {
			callable = asm.Callable(ctx, enabled, toolsUsed)
		}

		messages := make([]api.Turn, 0, len(history)+2)
		messages = append(messages, api.Turn{Role: api.RoleSystem, Content: statusBlock})
		if budgetLeft {
			messages = append(messages, api.Turn{Role: api.RoleSystem, Content: BuildAvailabilityPrompt(callable)})
		}
		messages = append(messages, stripAssembled(history)...)

		// Substitution operates on this copy only; stored history keeps
		// its placeholders.
		for i := range messages {
			messages[i].Content = names.Substitute(messages[i].Content)
		}

		preq := &provider.Request{
			Model:    l.cfg.Model,
			Messages: messages,
			Tools:    ToolDefinitions(callable),
			Params:   req.Params,
			Stream:   true,
		}

		start := time.Now()
		events, serr := l.provider.Stream(ctx, preq)
		if serr != nil {
			observability.ProviderRequestsTotal.WithLabelValues(l.provider.Name(), l.cfg.Model, "error").Inc()
			return "", l.fail(ctx, log, sink, serr)
		}
		iterations++

		dec := NewStreamDecoder()
		for ev := range events {
			if ev.Type == provider.EventError {
				observability.ProviderRequestsTotal.WithLabelValues(l.provider.Name(), l.cfg.Model, "error").Inc()
				return "", l.fail(ctx, log, sink, ev.Err)
			}
			if delta := dec.Feed(ev); delta != "" {
				assistantText += delta
				if err := sink.Emit(ctx, api.Event{Type: api.EventContentDelta, Content: delta}); err != nil {
					return "", err
				}
			}
		}
		observability.ProviderRequestsTotal.WithLabelValues(l.provider.Name(), l.cfg.Model, "ok").Inc()
		observability.ProviderLatency.WithLabelValues(l.provider.Name(), l.cfg.Model).Observe(time.Since(start).Seconds())
		if u := dec.Usage(); u != nil {
			observability.ProviderTokensTotal.WithLabelValues(l.provider.Name(), l.cfg.Model, "input").Add(float64(u.PromptTokens))
			observability.ProviderTokensTotal.WithLabelValues(l.provider.Name(), l.cfg.Model, "output").Add(float64(u.CompletionTokens))
		}

		switch {
		case dec.ToolCallComplete():
			assistantText, history, toolsUsed, toolRecords, err = l.handleToolCall(
				ctx, log, dec, invoker, names, req, enabled, assistantText, history, toolsUsed, toolRecords, sink,
			)
			if err != nil {
				return "", err
			}

		case dec.Interrupted():
			name, _, raw := dec.ToolCall()
			log.Warn("tool call interrupted before completion",
				"function", name,
				"finish_reason", dec.FinishReason(),
				"arguments", raw,
			)

		default:
			outcome = "ok"
			if err := sink.Emit(ctx, api.Event{Type: api.EventComplete, Content: assistantText}); err != nil {
				return "", err
			}
			return assistantText, nil
		}
	}
}

// handleToolCall executes one completed tool call and appends the
// synthetic turns recording it. It returns the updated per-run state.
func (l *Loop) handleToolCall(
	ctx context.Context,
	log *slog.Logger,
	dec *StreamDecoder,
	invoker *ToolInvoker,
	names persona.Names,
	req RunRequest,
	enabled []*capability.Capability,
	assistantText string,
	history []api.Turn,
	toolsUsed []string,
	toolRecords []string,
	sink transport.EventSink,
) (string, []api.Turn, []string, []string, error) {
	name, callID, raw := dec.ToolCall()
	if callID == "" {
		callID = api.NewCallID()
	}
	args := ParseArguments(raw)

	var result InvokeResult
	matched := Match(name, enabled)
	if matched == nil {
		log.Warn("model requested unknown capability", "function", name)
		result = UnknownResult(name, assistantText)
		observability.CapabilityExecutionsTotal.WithLabelValues(name, "unknown").Inc()
	} else {
		inv := capability.Invocation{
			CallID:       callID,
			Name:         name,
			RawArguments: raw,
			Arguments:    args,
		}
		if matched.SupportsMetadata {
			inv.Metadata = &capability.Metadata{
				TurnIndex:      len(history),
				ConversationID: req.ConversationID,
				Timestamp:      time.Now(),
			}
		}

		var xerr error
		result, xerr = invoker.Execute(ctx, matched, inv, assistantText)
		if xerr != nil {
			observability.CapabilityExecutionsTotal.WithLabelValues(matched.ID, "error").Inc()
			if l.cfg.ToolErrorPolicy != ToolErrorReport {
				return "", nil, nil, nil, l.fail(ctx, log, sink, xerr)
			}
			log.Warn("capability handler failed, reporting to model",
				"capability", matched.ID, "error", xerr)
			result = InvokeResult{
				ResultText:    fmt.Sprintf("Tool error: %v", xerr),
				AssistantText: assistantText,
			}
		} else {
			observability.CapabilityExecutionsTotal.WithLabelValues(matched.ID, "ok").Inc()
		}
	}

	usedID := name
	if matched != nil {
		usedID = matched.ID
	}
	toolsUsed = append(toolsUsed, usedID)

	toolRecords = append(toolRecords, fmt.Sprintf("[%s] You called `%s` with parameters: %s.",
		time.Now().Format(time.RFC3339), name, formatParams(args)))

	history = stripToolRecords(history)
	history = append(history, api.Turn{
		Role:    api.RoleSystem,
		Content: toolRecordPrefix + "\n" + strings.Join(toolRecords, "\n"),
	})
	history = append(history, api.Turn{
		Role:      api.RoleAssistant,
		ToolCalls: []api.ToolCallRecord{{ID: callID, Name: name, Arguments: raw}},
	})
	history = append(history, api.Turn{
		Role:       api.RoleTool,
		Content:    names.Substitute(result.ResultText),
		ToolCallID: callID,
	})
	if result.SystemText != "" {
		history = append(history, api.Turn{Role: api.RoleSystem, Content: result.SystemText})
	}
	if result.ContextText != "" {
		history = append(history, api.Turn{Role: api.RoleTool, Content: result.ContextText})
	}

	return result.AssistantText, history, toolsUsed, toolRecords, nil
}

// RunToCompletion drains the event stream internally and returns only
// the final text, for callers that never present intermediate events.
func (l *Loop) RunToCompletion(ctx context.Context, req RunRequest) (string, error) {
	discard := transport.EventSinkFunc(func(context.Context, api.Event) error { return nil })
	return l.Run(ctx, req, discard)
}

// fail emits a single Error event and returns err. Content already
// delivered to the sink is not retracted.
func (l *Loop) fail(ctx context.Context, log *slog.Logger, sink transport.EventSink, err error) error {
	emitCtx := context.WithoutCancel(ctx)
	if emitErr := sink.Emit(emitCtx, api.Event{Type: api.EventError, Message: err.Error()}); emitErr != nil {
		log.Warn("failed to emit error event", "error", emitErr)
	}
	return err
}

// runCleanups fires every enabled capability's cleanup hook. Failures
// are logged and never block sibling cleanups.
func (l *Loop) runCleanups(ctx context.Context, log *slog.Logger) {
	for _, c := range l.registry.Enabled() {
		if c.Cleanup == nil {
			continue
		}
		if err := c.Cleanup(ctx); err != nil {
			log.Warn("capability cleanup failed", "capability", c.ID, "error", err)
		}
	}
}

// distinctUsed counts distinct non-empty ids in the usage list.
func distinctUsed(toolsUsed []string) int {
	seen := make(map[string]struct{}, len(toolsUsed))
	for _, id := range toolsUsed {
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	return len(seen)
}

// formatParams renders parsed arguments for the tool-call record, with
// keys sorted for stable output.
func formatParams(args map[string]any) string {
	if len(args) == 0 {
		return "(no parameters)"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(args[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%q", fmt.Sprint(args[k])))
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, ", ")
}
