package storage

import (
	"context"

	"github.com/wispchat/wisp/pkg/api"
)

// KV is a simple JSON-valued key-value store. Capabilities use it for
// their own keyed state; the rest of the application uses it for
// settings persistence. Implementations must be safe for concurrent use.
type KV interface {
	// Get retrieves the value stored under key and unmarshals it into
	// dest. Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string, dest any) error

	// Set stores value under key, overwriting any existing value.
	Set(ctx context.Context, key string, value any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// GetString reads a string value from kv, returning fallback when the
// key is missing or unreadable.
func GetString(ctx context.Context, kv KV, key, fallback string) string {
	var v string
	if err := kv.Get(ctx, key, &v); err != nil {
		return fallback
	}
	return v
}

// GetStrings reads a string slice from kv, returning nil when the key
// is missing or unreadable.
func GetStrings(ctx context.Context, kv KV, key string) []string {
	var v []string
	if err := kv.Get(ctx, key, &v); err != nil {
		return nil
	}
	return v
}

// Conversation holds conversation metadata. Turns are stored separately
// and retrieved via History.
type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
}

// ConversationStore persists conversations and their ordered turn
// history. Implementations must be safe for concurrent use; any mutual
// exclusion over shared keys required by concurrent orchestration runs
// belongs here, not in the orchestrator.
type ConversationStore interface {
	// CreateConversation creates a conversation with the given title and
	// returns it with a fresh ID.
	CreateConversation(ctx context.Context, title string) (*Conversation, error)

	// GetConversation retrieves conversation metadata by ID.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// SetTitle updates a conversation's title.
	SetTitle(ctx context.Context, id, title string) error

	// AppendTurns appends turns to a conversation's history in order.
	AppendTurns(ctx context.Context, id string, turns []api.Turn) error

	// History returns the full ordered turn history of a conversation.
	History(ctx context.Context, id string) ([]api.Turn, error)

	// ListConversations returns all conversations, newest first.
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// DeleteConversation removes a conversation and its turns.
	DeleteConversation(ctx context.Context, id string) error
}
