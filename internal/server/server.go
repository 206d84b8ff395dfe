package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"ragchat/config"
	"ragchat/internal/port"
	"ragchat/internal/usecase"
)

// Chain answers a question against conversation memory, streaming answer
// tokens to onToken.
type Chain interface {
	Run(ctx context.Context, question string, memory port.Memory, onToken port.TokenHandler) (*usecase.ChainResult, error)
}

// Deps are the collaborators of a Server. All fields are required.
type Deps struct {
	Config   *config.Config
	Index    port.VectorIndex
	Chain    Chain
	Sessions port.SessionStore
	Logger   *slog.Logger
}

// Server serves the chat API.
type Server struct {
	cfg      *config.Config
	index    port.VectorIndex
	chain    Chain
	sessions port.SessionStore
	logger   *slog.Logger
	router   chi.Router
}

func New(deps Deps) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("server: config is required")
	case deps.Index == nil:
		return nil, fmt.Errorf("server: vector index is required")
	case deps.Chain == nil:
		return nil, fmt.Errorf("server: chain is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("server: session store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      deps.Config,
		index:    deps.Index,
		chain:    deps.Chain,
		sessions: deps.Sessions,
		logger:   logger,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.CleanPath)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post(s.cfg.Server.ChatPath, s.handleChat)
	r.Delete(s.cfg.Server.ChatPath+"/sessions/{id}", s.handleDeleteSession)
	return r
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns an http.Server for the configured address.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		s.logger.Error("index stats failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"index":  stats,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		s.logger.Error("failed to delete session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, msgErrProcessing)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// requestLogger logs one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
