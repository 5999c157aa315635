package openaicompat

import (
	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/provider"
)

// TranslateToChat converts a provider request into the Chat Completions
// wire format.
func TranslateToChat(req *provider.Request) *ChatCompletionRequest {
	chatReq := &ChatCompletionRequest{
		Model:            req.Model,
		Messages:         translateMessages(req.Messages),
		Temperature:      &req.Params.Temperature,
		TopP:             &req.Params.TopP,
		MaxTokens:        &req.Params.MaxTokens,
		FrequencyPenalty: &req.Params.FrequencyPenalty,
		PresencePenalty:  &req.Params.PresencePenalty,
		Seed:             req.Params.Seed,
		Stream:           req.Stream,
	}

	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, ChatTool{
			Type: "function",
			Function: ChatFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	if req.Stream {
		chatReq.StreamOptions = &ChatStreamOptions{IncludeUsage: true}
	}
	return chatReq
}

// translateMessages converts conversation turns into chat messages,
// carrying tool call records and tool result linkage through.
func translateMessages(turns []api.Turn) []ChatMessage {
	messages := make([]ChatMessage, 0, len(turns))
	for _, turn := range turns {
		msg := ChatMessage{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, tc := range turn.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ChatToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: ChatFunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}
	return messages
}
