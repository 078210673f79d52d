// Package server exposes the support agent over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nstogner/solemate/pkg/controller"
	"github.com/nstogner/solemate/pkg/domain"
	"github.com/nstogner/solemate/pkg/store"
	"github.com/nstogner/solemate/pkg/tools"
)

// Agent is the turn controller as the server uses it.
type Agent interface {
	HandleMessage(ctx context.Context, threadID, text string) (*controller.Reply, error)
	Resume(ctx context.Context, threadID string, d controller.Decision) (*controller.Reply, error)
	Respond(ctx context.Context, threadID, text string) *controller.Reply
	Thread(ctx context.Context, threadID string) (*domain.Thread, error)
	Tools() []tools.Declaration
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

var _ Agent = (*controller.Controller)(nil)

// Server serves the chat API.
type Server struct {
	agent   Agent
	threads store.ThreadStore
	srv     *http.Server
}

// New creates a new Server.
func New(agent Agent, threads store.ThreadStore) *Server {
	return &Server{agent: agent, threads: threads}
}

// Handler returns the routed API with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/threads", s.handleListThreads)
	mux.HandleFunc("POST /api/threads", s.handleCreateThread)
	mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)

	// Turns
	mux.HandleFunc("POST /api/threads/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("POST /api/threads/{id}/confirmation", s.handleConfirmation)

	mux.HandleFunc("GET /api/tools", s.handleListTools)

	// WebSocket
	mux.HandleFunc("/api/threads/{id}/chat", s.handleChatWebSocket)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.corsMiddleware(s.logMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting web server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API Error", "error", err)
	} else {
		slog.Warn("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": controller.ErrorText(err)})
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProtocol), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyResponse), errors.Is(err, domain.ErrStepLimit):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
