// Package server exposes the memory engine over HTTP: the JSON API, the
// websocket event feed, and health reporting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/engramlabs/engram/internal/engine"
	"github.com/engramlabs/engram/internal/events"
	"github.com/engramlabs/engram/internal/export"
	"github.com/engramlabs/engram/internal/logging"
	"github.com/engramlabs/engram/internal/storage"
	"github.com/engramlabs/engram/pkg/types"
)

// Engine is the facade surface the HTTP layer consumes.
type Engine interface {
	StoreRich(ctx context.Context, userID, content string, opts engine.StoreOptions) (string, error)
	RecallRich(ctx context.Context, userID, query string, opts engine.RecallOptions) ([]engine.ScoredMemory, error)
	IngestConversation(ctx context.Context, sessionKey, userID string, messages []types.Message) error
	GetProfile(ctx context.Context, userID, query, sessionKey string) (*types.Profile, error)
	GetStats(ctx context.Context, userID string) (*types.UserStats, error)
	ExportMemories(ctx context.Context, userID string) (*types.Export, error)
	ArchiveMemory(ctx context.Context, id string) error
	Decay(ctx context.Context, userID string) (types.DecayReport, error)
	Reflect(ctx context.Context, userID string) (types.ReflectReport, error)
	MergeEntities(ctx context.Context, userID string) (int, error)
	IsDegraded() bool
}

// Options configures the HTTP server.
type Options struct {
	Host      string
	Port      int
	RateLimit float64 // Requests per second per client
	RateBurst int
}

// Server serves the engram HTTP API.
type Server struct {
	engine      Engine
	broadcaster *events.Broadcaster
	exporter    *export.Service // optional; nil disables snapshot writes
	opts        Options
	httpServer  *http.Server
	log         *logrus.Entry
}

// New builds the server. The broadcaster feeds /ws; exporter may be nil,
// in which case GET /api/export returns the payload without writing a
// snapshot file.
func New(eng Engine, broadcaster *events.Broadcaster, exporter *export.Service, opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	s := &Server{
		engine:      eng,
		broadcaster: broadcaster,
		exporter:    exporter,
		opts:        opts,
		log:         logging.Component("server"),
	}

	handler := loggingMiddleware(s.routes(), s.log)
	handler = rateLimitMiddleware(handler, newClientLimiter(opts.RateLimit, opts.RateBurst))

	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until the context is cancelled. It returns the
// bound address, useful with port 0.
func (s *Server) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("server stopped unexpectedly")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("server shutdown incomplete")
		}
	}()

	bound := listener.Addr().String()
	s.log.WithField("addr", bound).Info("http server listening")
	return bound, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/memories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleStore(w, r)
	})
	mux.HandleFunc("/api/memories/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleSearch(w, r)
	})
	mux.HandleFunc("/api/memories/{id}/archive", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleArchive(w, r)
	})
	mux.HandleFunc("/api/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleIngest(w, r)
	})
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleProfile(w, r)
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleStats(w, r)
	})
	mux.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleExport(w, r)
	})
	mux.HandleFunc("/api/maintenance/decay", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleDecay(w, r)
	})
	mux.HandleFunc("/api/maintenance/reflect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleReflect(w, r)
	})
	mux.HandleFunc("/api/maintenance/merge", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleMerge(w, r)
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleHealth(w, r)
	})
	mux.HandleFunc("/ws", s.handleWebsocket)

	return mux
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := engine.StoreOptions{
		Sector:     types.Sector(req.Sector),
		Tags:       req.Tags,
		SessionKey: req.SessionKey,
		ValidUntil: req.ValidUntil,
	}
	if req.EventAt != nil {
		opts.EventAt = *req.EventAt
	}

	id, err := s.engine.StoreRich(r.Context(), req.UserID, req.Content, opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storeResponse{ID: id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.engine.RecallRich(r.Context(), req.UserID, req.Query, engine.RecallOptions{
		Limit:       req.Limit,
		Sectors:     req.sectors(),
		MinStrength: req.MinStrength,
		GraphDepth:  req.GraphDepth,
		Tag:         req.Tag,
		Timeframe:   req.Timeframe,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if results == nil {
		results = []engine.ScoredMemory{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Degraded: s.engine.IsDegraded()})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.ArchiveMemory(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.IngestConversation(r.Context(), req.SessionKey, req.UserID, req.Messages); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profile, err := s.engine.GetProfile(r.Context(), q.Get("user_id"), q.Get("query"), q.Get("session_key"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	stats, err := s.engine.GetStats(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if s.exporter != nil {
		path, payload, err := s.exporter.Snapshot(r.Context(), userID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exportResponse{Snapshot: path, Export: payload})
		return
	}

	payload, err := s.engine.ExportMemories(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Export: payload})
}

func (s *Server) handleDecay(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	report, err := s.engine.Decay(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decayResponse{Archived: report.Archived, Reinforced: report.Reinforced})
}

func (s *Server) handleReflect(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	report, err := s.engine.Reflect(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reflectResponse{Reflected: report.Reflected, Compressed: report.Compressed})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	merged, err := s.engine.MergeEntities(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mergeResponse{Merged: merged})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Degraded: s.engine.IsDegraded()}
	if resp.Degraded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
