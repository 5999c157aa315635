// Package settings persists user-tunable runtime settings in the KV
// store, falling back to defaults when nothing has been saved.
package settings

import (
	"context"
	"fmt"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/storage"
)

const paramsKey = "sampling_params"

// Store reads and writes settings through a storage.KV.
type Store struct {
	kv storage.KV
}

// NewStore returns a Store backed by kv.
func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

// Params returns the persisted sampling parameters, or the chat
// defaults when none are stored.
func (s *Store) Params(ctx context.Context) api.SamplingParams {
	var p api.SamplingParams
	if err := s.kv.Get(ctx, paramsKey, &p); err != nil {
		return api.DefaultChatParams()
	}
	return p
}

// SetParams persists sampling parameters after validation.
func (s *Store) SetParams(ctx context.Context, p api.SamplingParams) error {
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", p.MaxTokens)
	}
	if p.Temperature < 0 {
		return fmt.Errorf("temperature must not be negative, got %v", p.Temperature)
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %v", p.TopP)
	}
	if err := s.kv.Set(ctx, paramsKey, p); err != nil {
		return fmt.Errorf("persisting sampling params: %w", err)
	}
	return nil
}
