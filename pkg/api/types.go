package api

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Turn is a single entry in a conversation history. The orchestrator
// receives an ordered sequence of turns and appends synthetic turns
// (tool-call records, tool results, system/context notices) as it runs.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on synthetic assistant turns that record a
	// tool invocation, per the Chat Completions convention.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role turn back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCallRecord captures a completed tool call on an assistant turn.
// Arguments holds the raw argument text exactly as the model produced it.
type ToolCallRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// SamplingParams is the full sampling parameter set forwarded with every
// completion request.
type SamplingParams struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	MaxTokens        int     `json:"max_tokens"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty"`
	Seed             *int    `json:"seed,omitempty"`
}

// DefaultChatParams returns the sampling defaults for regular chat.
func DefaultChatParams() SamplingParams {
	return SamplingParams{
		Temperature: 1.0,
		TopP:        1.0,
		MaxTokens:   1000,
	}
}

// DefaultSuggestionParams returns sampling defaults tuned for short
// prompt suggestions: slightly creative, tightly capped.
func DefaultSuggestionParams() SamplingParams {
	return SamplingParams{
		Temperature:      0.7,
		TopP:             0.97,
		MaxTokens:        100,
		FrequencyPenalty: 0.2,
		PresencePenalty:  0.2,
	}
}
