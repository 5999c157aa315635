package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/provider"
)

const (
	availabilityHeader = "You have access to the following tool(s):"

	usageInstruction = "Use tool calls only when there is a good reason. " +
		"If you have any tools which help you think or reason, use them often. " +
		"When you have enough information to respond, stop making tool calls and respond to the user."

	statusOpen     = "\n---\n<STATUS_DASHBOARD>\n"
	statusClose    = "\n</STATUS_DASHBOARD>\n---"
	statusSentinel = "(No status reported)\n---"

	toolRecordPrefix = "Tool Call(s) Made:"
)

// PromptAssembler builds the per-iteration status block and availability
// prompt from registry snapshots. All capability hooks it touches run
// best-effort; a hook failure excludes that capability from the output
// for this iteration and nothing more.
type PromptAssembler struct {
	logger *slog.Logger
}

// NewPromptAssembler returns an assembler logging hook failures to logger.
func NewPromptAssembler(logger *slog.Logger) *PromptAssembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptAssembler{logger: logger}
}

// BuildStatusBlock runs each capability's auto behavior (when flagged)
// and status reporter, best-effort, and wraps the collected lines in the
// dashboard delimiters. With zero reporting capabilities it returns the
// canonical sentinel, never an empty string.
func (a *PromptAssembler) BuildStatusBlock(ctx context.Context, caps []*capability.Capability) string {
	var lines []string
	for _, c := range caps {
		if c.Condition != nil {
			ok, err := c.Condition(ctx)
			if err != nil {
				a.logger.Debug("capability condition failed, excluding from status",
					"capability", c.ID, "error", err)
				continue
			}
			_ = ok // a false condition gates callability, not status
		}

		if c.Auto {
			a.runAuto(ctx, c)
		}

		if c.Status == nil {
			continue
		}
		line, err := c.Status(ctx)
		if err != nil {
			a.logger.Debug("capability status reporter failed",
				"capability", c.ID, "error", err)
			continue
		}
		if line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return statusSentinel
	}
	return statusOpen + strings.Join(lines, "\n") + statusClose
}

// runAuto invokes an auto capability's handler before status reporting.
// Only Plain handlers qualify; results and errors are discarded.
func (a *PromptAssembler) runAuto(ctx context.Context, c *capability.Capability) {
	h, ok := c.Handler.(capability.Plain)
	if !ok {
		return
	}
	inv := capability.Invocation{Name: c.Schema.Name, Arguments: map[string]any{}}
	if _, err := h(ctx, inv, capability.NewResponseContext()); err != nil {
		a.logger.Debug("auto capability failed", "capability", c.ID, "error", err)
	}
}

// Callable returns the capabilities the model may invoke this iteration:
// those with a handler, not auto, whose condition holds, and not already
// used when one-time. Condition errors exclude silently.
func (a *PromptAssembler) Callable(ctx context.Context, caps []*capability.Capability, toolsUsed []string) []*capability.Capability {
	var out []*capability.Capability
	for _, c := range caps {
		if c.Handler == nil || c.Auto {
			continue
		}
		if c.OneTime && slices.Contains(toolsUsed, c.ID) {
			continue
		}
		if c.Condition != nil {
			ok, err := c.Condition(ctx)
			if err != nil {
				a.logger.Debug("capability condition failed, excluding from availability",
					"capability", c.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// BuildAvailabilityPrompt renders the availability prompt for the given
// callable set: a header, one line per capability, and the fixed
// usage-discretion instruction.
func BuildAvailabilityPrompt(callable []*capability.Capability) string {
	lines := make([]string, 0, len(callable)+2)
	lines = append(lines, availabilityHeader)
	for _, c := range callable {
		lines = append(lines, fmt.Sprintf("- %s(...): %s", c.Schema.Name, c.Schema.Description))
	}
	lines = append(lines, usageInstruction)
	return strings.Join(lines, "\n")
}

// ToolDefinitions converts the callable set into backend tool definitions.
func ToolDefinitions(callable []*capability.Capability) []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(callable))
	for _, c := range callable {
		defs = append(defs, provider.ToolDefinition{
			Name:        c.Schema.Name,
			Description: c.Schema.Description,
			Parameters:  c.Schema.Parameters,
		})
	}
	return defs
}

// stripAssembled filters out the system messages a prior iteration
// injected: availability prompts and status blocks, identified by their
// content signatures. They are re-inserted fresh each iteration, never
// accumulated.
func stripAssembled(history []api.Turn) []api.Turn {
	out := make([]api.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == api.RoleSystem && isAssembled(t.Content) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isAssembled(content string) bool {
	return strings.Contains(content, "tool(s):") ||
		strings.Contains(content, "<STATUS_DASHBOARD>") ||
		content == statusSentinel
}

// stripToolRecords removes the synthetic tool-call record message so an
// updated one can replace it.
func stripToolRecords(history []api.Turn) []api.Turn {
	out := make([]api.Turn, 0, len(history))
	for _, t := range history {
		if t.Role == api.RoleSystem && strings.HasPrefix(t.Content, toolRecordPrefix) {
			continue
		}
		out = append(out, t)
	}
	return out
}
