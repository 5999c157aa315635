// Package memory provides in-memory implementations of storage.KV and
// storage.ConversationStore for testing and lightweight deployments.
// All data is lost when the process restarts.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/storage"
)

// KV is an in-memory key-value store. Values are stored as marshaled
// JSON so Get/Set round-trip identically to the postgres implementation.
type KV struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

var _ storage.KV = (*KV)(nil)

// NewKV creates an empty in-memory KV store.
func NewKV() *KV {
	return &KV{entries: make(map[string][]byte)}
}

// Get retrieves and unmarshals the value stored under key.
func (s *KV) Get(ctx context.Context, key string, dest any) error {
	s.mu.RLock()
	raw, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return storage.ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}

// Set stores value under key, overwriting any existing value.
func (s *KV) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[key] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// conversation holds a stored conversation and its turns.
type conversation struct {
	meta  storage.Conversation
	turns []api.Turn
}

// ConversationStore is an in-memory storage.ConversationStore.
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// NewConversationStore creates an empty in-memory conversation store.
func NewConversationStore() *ConversationStore {
	return &ConversationStore{conversations: make(map[string]*conversation)}
}

// CreateConversation creates a conversation with a fresh UUID.
func (s *ConversationStore) CreateConversation(ctx context.Context, title string) (*storage.Conversation, error) {
	meta := storage.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().Unix(),
	}

	s.mu.Lock()
	s.conversations[meta.ID] = &conversation{meta: meta}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

// GetConversation retrieves conversation metadata by ID.
func (s *ConversationStore) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := c.meta
	return &out, nil
}

// SetTitle updates a conversation's title.
func (s *ConversationStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.meta.Title = title
	return nil
}

// AppendTurns appends turns to a conversation's history.
func (s *ConversationStore) AppendTurns(ctx context.Context, id string, turns []api.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.turns = append(c.turns, turns...)
	return nil
}

// History returns a copy of the conversation's ordered turn history.
func (s *ConversationStore) History(ctx context.Context, id string) ([]api.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]api.Turn, len(c.turns))
	copy(out, c.turns)
	return out, nil
}

// ListConversations returns all conversations, newest first.
func (s *ConversationStore) ListConversations(ctx context.Context) ([]*storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		meta := c.meta
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// DeleteConversation removes a conversation and its turns.
func (s *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}
