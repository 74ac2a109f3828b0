// Package api provides HTTP handlers and the main API server logic for ScreenPipe.
//
// It exposes RESTful endpoints for starting screening interviews, relaying
// patient messages into the session engine, and reading back session state,
// item responses, evidence integrity, and the audit log.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/engine"
	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// Server configuration defaults.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the interview engine to the HTTP surface.
type Server struct {
	eng  *engine.Engine
	addr string
}

// NewServer creates an API server over the given engine.
func NewServer(eng *engine.Engine, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{eng: eng, addr: cfg.Addr}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /sessions", s.startSessionHandler)
	mux.HandleFunc("GET /sessions", s.listSessionsHandler)
	mux.HandleFunc("GET /sessions/{conversationID}", s.getSessionHandler)
	mux.HandleFunc("POST /sessions/{conversationID}/messages", s.postMessageHandler)
	mux.HandleFunc("GET /sessions/{conversationID}/responses", s.getResponsesHandler)
	mux.HandleFunc("GET /sessions/{conversationID}/integrity", s.getIntegrityHandler)
	mux.HandleFunc("GET /sessions/{conversationID}/events", s.getEventsHandler)
	mux.HandleFunc("POST /sessions/{conversationID}/report/complete", s.completeReportHandler)
	return mux
}

// Run serves the API until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

// statusForError maps engine and store sentinel errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSessionExists),
		errors.Is(err, models.ErrVersionConflict),
		errors.Is(err, models.ErrSessionNotActive),
		errors.Is(err, models.ErrSessionTerminated),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyConversationID),
		errors.Is(err, models.ErrEmptyPatientText),
		errors.Is(err, models.ErrUnknownItem),
		errors.Is(err, models.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrOracleFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
