// Package chat glues conversation storage, settings, and the
// orchestration loop into the responder the transport serves.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/orchestrator"
	"github.com/wispchat/wisp/pkg/provider"
	"github.com/wispchat/wisp/pkg/settings"
	"github.com/wispchat/wisp/pkg/storage"
	"github.com/wispchat/wisp/pkg/transport"
)

// Service handles chat requests end to end: it resolves the
// conversation, appends the user turn, runs the orchestration loop, and
// persists what came back.
type Service struct {
	store    storage.ConversationStore
	settings *settings.Store
	loop     *orchestrator.Loop
	provider provider.Provider
	model    string
	logger   *slog.Logger
}

var _ transport.Responder = (*Service)(nil)

// NewService wires a chat service.
func NewService(store storage.ConversationStore, set *settings.Store, loop *orchestrator.Loop, p provider.Provider, model string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		settings: set,
		loop:     loop,
		provider: p,
		model:    model,
		logger:   logger,
	}
}

// Respond runs one orchestration cycle for req, streaming events to
// sink. The user turn is persisted before the run, the assistant turn
// after; a failed run persists the user turn only.
func (s *Service) Respond(ctx context.Context, req *transport.ChatRequest, sink transport.EventSink) error {
	conv, created, err := s.resolveConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}

	userTurn := api.Turn{Role: api.RoleUser, Content: req.Message}
	if err := s.store.AppendTurns(ctx, conv.ID, []api.Turn{userTurn}); err != nil {
		return fmt.Errorf("appending user turn: %w", err)
	}

	history, err := s.store.History(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	final, err := s.loop.Run(ctx, orchestrator.RunRequest{
		ConversationID: conv.ID,
		History:        history,
		Params:         s.settings.Params(ctx),
	}, sink)
	if err != nil {
		return err
	}

	// Persistence failures after a delivered response are logged, not
	// surfaced: the client already has the content.
	if err := s.store.AppendTurns(ctx, conv.ID, []api.Turn{{Role: api.RoleAssistant, Content: final}}); err != nil {
		s.logger.Error("failed to persist assistant turn",
			"conversation", conv.ID, "error", err)
	}

	if created {
		title := orchestrator.GenerateTitle(ctx, s.provider, s.model, req.Message, final, s.logger)
		if err := s.store.SetTitle(ctx, conv.ID, title); err != nil {
			s.logger.Warn("failed to set conversation title",
				"conversation", conv.ID, "error", err)
		}
	}

	return nil
}

// resolveConversation loads the addressed conversation, creating a new
// one when no id was given. created reports whether this request
// started the conversation.
func (s *Service) resolveConversation(ctx context.Context, id string) (conv *storage.Conversation, created bool, err error) {
	if id == "" {
		conv, err = s.store.CreateConversation(ctx, orchestrator.FallbackTitle)
		if err != nil {
			return nil, false, fmt.Errorf("creating conversation: %w", err)
		}
		return conv, true, nil
	}

	conv, err = s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("loading conversation %s: %w", id, err)
	}
	return conv, false, nil
}
