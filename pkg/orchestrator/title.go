package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/provider"
)

// FallbackTitle names conversations when generation yields nothing usable.
const FallbackTitle = "New Chat"

const titleMaxLen = 50

const titleInstruction = "Generate a short, descriptive title for this conversation " +
	"based on the exchange below. Respond with the title only, no quotes and no punctuation " +
	"at the end, at most a few words."

// GenerateTitle produces a short conversation title from the first
// exchange with a one-shot non-streaming completion. Any failure falls
// back to FallbackTitle; title generation never surfaces errors.
func GenerateTitle(ctx context.Context, p provider.Provider, model, userMessage, assistantMessage string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	req := &provider.Request{
		Model: model,
		Messages: []api.Turn{
			{Role: api.RoleSystem, Content: titleInstruction},
			{Role: api.RoleUser, Content: userMessage},
			{Role: api.RoleAssistant, Content: assistantMessage},
			{Role: api.RoleUser, Content: "Title:"},
		},
		Params: api.DefaultSuggestionParams(),
	}

	resp, err := p.Complete(ctx, req)
	if err != nil {
		logger.Warn("title generation failed", "error", err)
		return FallbackTitle
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if title == "" {
		return FallbackTitle
	}
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimSpace(string(runes[:titleMaxLen]))
	}
	return title
}
