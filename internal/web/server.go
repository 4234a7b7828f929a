// Package web provides the HTTP and websocket surface of the board.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/madhatter5501/blaze/internal/auth"
	"github.com/madhatter5501/blaze/internal/hub"
	"github.com/madhatter5501/blaze/kanban"
)

// ClientIDHeader names the realtime connection that issued a mutation.
const ClientIDHeader = "X-Client-ID"

// Server is the board API server.
type Server struct {
	svc      *kanban.Service
	hub      *hub.Hub
	auth     *auth.Checker
	logger   *slog.Logger
	markdown goldmark.Markdown

	mu           sync.Mutex
	server       *http.Server
	stopped      bool
	shutdownOnce sync.Once
}

// NewServer creates a server over svc. Events from svc's store must be
// published to h for realtime clients to see them.
func NewServer(svc *kanban.Service, h *hub.Hub, checker *auth.Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:      svc,
		hub:      h,
		auth:     checker,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/auth", s.apiLogin)

	// Board
	mux.HandleFunc("GET /api/board", s.requireAuth(s.apiGetBoard))
	mux.HandleFunc("GET /api/board/stats", s.requireAuth(s.apiGetStats))
	mux.HandleFunc("GET /api/columns", s.requireAuth(s.apiGetColumns))
	mux.HandleFunc("POST /api/columns/{column}/archive", s.requireAuth(s.apiArchiveColumn))

	// Cards
	mux.HandleFunc("GET /api/cards", s.requireAuth(s.apiListCards))
	mux.HandleFunc("POST /api/cards", s.requireAuth(s.apiCreateCard))
	mux.HandleFunc("GET /api/cards/{id}", s.requireAuth(s.apiGetCard))
	mux.HandleFunc("PUT /api/cards/{id}", s.requireAuth(s.apiUpdateCard))
	mux.HandleFunc("DELETE /api/cards/{id}", s.requireAuth(s.apiDeleteCard))
	mux.HandleFunc("GET /api/cards/{id}/description", s.requireAuth(s.apiGetDescription))
	mux.HandleFunc("PATCH /api/cards/{id}/move", s.requireAuth(s.apiMoveCard))
	mux.HandleFunc("PATCH /api/cards/{id}/archive", s.requireAuth(s.apiArchiveCard))
	mux.HandleFunc("PATCH /api/cards/{id}/unarchive", s.requireAuth(s.apiUnarchiveCard))

	// Agent workflow
	mux.HandleFunc("GET /api/agent/ready", s.requireAuth(s.apiAgentReady))
	mux.HandleFunc("POST /api/cards/{id}/agent-progress", s.requireAuth(s.apiAgentProgress))
	mux.HandleFunc("PATCH /api/cards/{id}/agent-status", s.requireAuth(s.apiAgentStatus))
	mux.HandleFunc("POST /api/cards/{id}/criteria/{index}/check", s.requireAuth(s.apiCheckCriterion))

	// Realtime
	mux.HandleFunc("GET /ws", s.handleWS)

	return s.withLogging(mux)
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// at once if Shutdown was already called.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Websocket connections manage their own write deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Starting board server", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown disconnects realtime clients and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.hub.Close()
	})

	s.mu.Lock()
	s.stopped = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}

// withLogging wraps a handler with request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Check(auth.BearerToken(r)); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.jsonError(w, "Invalid or missing token", http.StatusUnauthorized)
			return
		}
		if id := r.Header.Get(ClientIDHeader); id != "" {
			r = r.WithContext(kanban.WithOrigin(r.Context(), id))
		}
		next(w, r)
	}
}

// writeError maps a service error to a status code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *kanban.ValidationError
	var perr *kanban.PersistenceError

	switch {
	case errors.Is(err, kanban.ErrNotFound):
		s.jsonError(w, "Card not found", http.StatusNotFound)
	case errors.As(err, &verr):
		s.jsonError(w, verr.Error(), http.StatusBadRequest)
	case errors.As(err, &perr):
		s.jsonError(w, "Failed to save board", http.StatusInternalServerError)
	default:
		s.logger.Error("Request failed", "error", err)
		s.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	s.jsonStatus(w, data, http.StatusOK)
}

func (s *Server) jsonStatus(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
