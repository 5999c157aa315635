package transport

import (
	"context"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/capability"
	"github.com/wispchat/wisp/pkg/provider"
	"github.com/wispchat/wisp/pkg/storage"
)

// ChatRequest is one inbound chat message. An empty ConversationID
// starts a new conversation.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Responder runs one orchestration cycle for a chat request, emitting
// ordered events to sink. The transport owns the wire framing; the
// responder owns everything else.
type Responder interface {
	Respond(ctx context.Context, req *ChatRequest, sink EventSink) error
}

// CapabilityManager exposes the registry operations the HTTP surface
// needs: listing and toggling, per capability or per source.
type CapabilityManager interface {
	List() []capability.Entry
	SetEnabled(ctx context.Context, id string, enabled bool) error
	SetSourceEnabled(ctx context.Context, source string, enabled bool) error
}

// ConversationReader is the conversation surface the HTTP adapter
// serves directly.
type ConversationReader interface {
	GetConversation(ctx context.Context, id string) (*storage.Conversation, error)
	History(ctx context.Context, id string) ([]api.Turn, error)
	ListConversations(ctx context.Context) ([]*storage.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
}

// ModelLister lists the models the configured backend serves.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.ModelInfo, error)
}
