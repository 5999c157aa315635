package builtin

import (
	"context"
	"fmt"

	"github.com/wispchat/wisp/pkg/capability"
)

// Narrate returns the one-time capability that injects narrator prose as
// a system notice mid-response.
func Narrate() *capability.Capability {
	return &capability.Capability{
		ID: "narrate",
		Schema: capability.Schema{
			Name:        "narrate",
			Description: "Insert narration to enrich the storytelling, emphasizing high-quality writing that advances the plot in clever, surprising, or emotionally engaging ways. Always end the narration with a list of key insights.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"narration_text": map[string]any{
						"type":        "string",
						"description": "Narrative prose that enhances the scene, ending with a list of key insights that may help the user advance the plot.",
					},
				},
				"required": []any{"narration_text"},
			},
		},
		Enabled: true,
		OneTime: true,
		Handler: capability.ChunkStream(func(ctx context.Context, inv capability.Invocation, out chan<- capability.Chunk) error {
			text, _ := inv.Arguments["narration_text"].(string)
			chunk := capability.Chunk{
				Kind: capability.ChunkSystem,
				Text: fmt.Sprintf("[NARRATOR]\n\n%s*", text),
			}
			select {
			case out <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	}
}
