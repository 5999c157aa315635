package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wispchat/wisp/pkg/api"
	"github.com/wispchat/wisp/pkg/observability"
	"github.com/wispchat/wisp/pkg/storage"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		MaxBodySize:     1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// Server serves the chat API over HTTP with SSE streaming for chat
// responses, and manages the full lifecycle including graceful shutdown.
type Server struct {
	responder     Responder
	capabilities  CapabilityManager
	conversations ConversationReader
	models        ModelLister

	httpServer *http.Server
	mux        *http.ServeMux
	config     ServerConfig
	logger     *slog.Logger
}

// NewServer wires the service interfaces into an HTTP server.
// capabilities, conversations, and models may be nil; their routes then
// return 501.
func NewServer(responder Responder, capabilities CapabilityManager, conversations ConversationReader, models ModelLister, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		responder:     responder,
		capabilities:  capabilities,
		conversations: conversations,
		models:        models,
		mux:           http.NewServeMux(),
		config:        cfg,
		logger:        logger,
	}

	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("GET /v1/capabilities", s.handleListCapabilities)
	s.mux.HandleFunc("PUT /v1/capabilities/{id}", s.handleToggleCapability)
	s.mux.HandleFunc("PUT /v1/capability-sources/{name}", s.handleToggleSource)
	s.mux.HandleFunc("GET /v1/conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /v1/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /v1/models", s.handleListModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the full http.Handler including metrics middleware.
// Use this to test with httptest.
func (s *Server) Handler() http.Handler {
	return observability.MetricsMiddleware(s.mux)
}

// handleChat handles POST /v1/chat: runs one orchestration cycle and
// streams its events to the client as SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", s.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return
		}
		WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return
	}
	if req.Message == "" {
		WriteErrorResponse(w,
			api.NewInvalidRequestError("message", "message must not be empty"),
			http.StatusBadRequest,
		)
		return
	}

	sink := NewSSEWriter(w)
	if err := s.responder.Respond(r.Context(), &req, sink); err != nil {
		s.writeResponderError(w, sink, err)
	}
}

// writeResponderError reports a responder failure. Once streaming has
// begun the orchestrator has already emitted its Error event, so only
// the pre-stream case gets a JSON error body.
func (s *Server) writeResponderError(w http.ResponseWriter, sink *SSEWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}

	if sink.Started() {
		if !sink.Completed() {
			_ = sink.Emit(context.Background(), api.Event{Type: api.EventError, Message: apiErr.Message})
		}
		return
	}
	WriteAPIError(w, apiErr)
}

func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.capabilities == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "capability management is not available"), http.StatusNotImplemented)
		return
	}

	type capabilityView struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Source      string `json:"source"`
		Enabled     bool   `json:"enabled"`
		OneTime     bool   `json:"one_time,omitempty"`
		Auto        bool   `json:"auto,omitempty"`
	}

	entries := s.capabilities.List()
	out := make([]capabilityView, 0, len(entries))
	for _, e := range entries {
		out = append(out, capabilityView{
			ID:          e.Capability.ID,
			Name:        e.Capability.Schema.Name,
			Description: e.Capability.Schema.Description,
			Source:      e.Source,
			Enabled:     e.Enabled,
			OneTime:     e.Capability.OneTime,
			Auto:        e.Capability.Auto,
		})
	}
	writeJSON(w, map[string]any{"capabilities": out})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggleCapability(w http.ResponseWriter, r *http.Request) {
	if s.capabilities == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "capability management is not available"), http.StatusNotImplemented)
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()), http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := s.capabilities.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		s.writeStorageError(w, err, "capability "+id)
		return
	}
	writeJSON(w, map[string]any{"id": id, "enabled": req.Enabled})
}

func (s *Server) handleToggleSource(w http.ResponseWriter, r *http.Request) {
	if s.capabilities == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "capability management is not available"), http.StatusNotImplemented)
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()), http.StatusBadRequest)
		return
	}

	name := r.PathValue("name")
	if err := s.capabilities.SetSourceEnabled(r.Context(), name, req.Enabled); err != nil {
		s.writeStorageError(w, err, "capability source "+name)
		return
	}
	writeJSON(w, map[string]any{"source": name, "enabled": req.Enabled})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "conversation storage is not available"), http.StatusNotImplemented)
		return
	}

	convs, err := s.conversations.ListConversations(r.Context())
	if err != nil {
		s.writeStorageError(w, err, "conversations")
		return
	}
	writeJSON(w, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "conversation storage is not available"), http.StatusNotImplemented)
		return
	}

	id := r.PathValue("id")
	conv, err := s.conversations.GetConversation(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, err, "conversation "+id)
		return
	}
	history, err := s.conversations.History(r.Context(), id)
	if err != nil {
		s.writeStorageError(w, err, "conversation "+id)
		return
	}
	writeJSON(w, map[string]any{"conversation": conv, "history": history})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "conversation storage is not available"), http.StatusNotImplemented)
		return
	}

	id := r.PathValue("id")
	if err := s.conversations.DeleteConversation(r.Context(), id); err != nil {
		s.writeStorageError(w, err, "conversation "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		WriteErrorResponse(w, api.NewInvalidRequestError("", "model listing is not available"), http.StatusNotImplemented)
		return
	}

	models, err := s.models.ListModels(r.Context())
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			WriteAPIError(w, apiErr)
		} else {
			WriteAPIError(w, api.NewServerError(err.Error()))
		}
		return
	}
	writeJSON(w, map[string]any{"models": models})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// writeStorageError maps storage errors onto the API error surface.
func (s *Server) writeStorageError(w http.ResponseWriter, err error, subject string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteAPIError(w, api.NewNotFoundError(subject+" not found"))
	default:
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			WriteAPIError(w, apiErr)
		} else {
			WriteAPIError(w, api.NewServerError(err.Error()))
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the server and blocks until a shutdown signal
// (SIGINT or SIGTERM) is received, then shuts down gracefully within
// the configured timeout.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx, nil)
}

// ServeOn starts the server on the given listener. Used for testing.
func (s *Server) ServeOn(ln net.Listener) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		var err error
		if ln != nil {
			err = s.httpServer.Serve(ln)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
