package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/notify"
)

// AnnounceTopic is the broker topic announcements publish to.
const AnnounceTopic = "announcements"

// Announce returns the capability that broadcasts a message to other
// observers through the notify broker. It opts into metadata so the
// announcement carries its originating conversation.
func Announce(broker notify.Broker) *capability.Capability {
	return &capability.Capability{
		ID: "announce",
		Schema: capability.Schema{
			Name:        "announce",
			Description: "Broadcast a short announcement to all connected observers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "The announcement text",
					},
				},
				"required": []any{"message"},
			},
		},
		Enabled:          true,
		SupportsMetadata: true,
		Handler: capability.Plain(func(ctx context.Context, inv capability.Invocation, rc *capability.ResponseContext) (string, error) {
			message, _ := inv.Arguments["message"].(string)

			payload := map[string]any{"message": message}
			if inv.Metadata != nil {
				payload["conversation_id"] = inv.Metadata.ConversationID
				payload["turn_index"] = inv.Metadata.TurnIndex
				payload["timestamp"] = inv.Metadata.Timestamp
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				return "", fmt.Errorf("encoding announcement: %w", err)
			}
			if err := broker.Publish(ctx, AnnounceTopic, string(encoded)); err != nil {
				return "", fmt.Errorf("publishing announcement: %w", err)
			}
			return "Announcement broadcast.", nil
		}),
	}
}
