package dashboard

import (
	"encoding/json"
	"honeyguard/internal/types"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// BlockLister lists recorded blocks, newest first
type BlockLister interface {
	List() []types.BlockRecord
}

// Server is the read-only dashboard API
type Server struct {
	store   EventStore
	blocks  BlockLister
	stream  http.Handler
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the dashboard. stream serves /ws and may be nil.
func NewServer(store EventStore, blocks BlockLister, stream http.Handler, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		blocks:  blocks,
		stream:  stream,
		logger:  logger,
		started: time.Now(),
	}
}

// Handler returns the dashboard routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/events", s.handleAPIEvents)
	mux.HandleFunc("GET /api/v1/decisions", s.handleAPIDecisions)
	mux.HandleFunc("GET /api/v1/blocked", s.handleAPIBlocked)
	mux.HandleFunc("GET /api/v1/stats", s.handleAPIStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.stream != nil {
		mux.Handle("GET /ws", s.stream)
	}
	return mux
}

// NewHTTPServer wraps the dashboard routes in a server bound to addr
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), parseLimit(r))
	if err != nil {
		s.fail(w, "list events", err)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleAPIDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.store.ListDecisions(r.Context(), parseLimit(r))
	if err != nil {
		s.fail(w, "list decisions", err)
		return
	}
	writeJSON(w, decisions)
}

func (s *Server) handleAPIBlocked(w http.ResponseWriter, r *http.Request) {
	blocked := s.blocks.List()
	if blocked == nil {
		blocked = []types.BlockRecord{}
	}
	writeJSON(w, blocked)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.fail(w, "get stats", err)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.logger.Error("dashboard query failed", "op", op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
