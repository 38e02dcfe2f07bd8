package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	feedpulse "github.com/hupe1980/feedpulse"
	"github.com/hupe1980/feedpulse/model"
)

// Server handles HTTP requests against an engine.
type Server struct {
	engine *feedpulse.Engine
	logger *feedpulse.Logger
	server *http.Server
}

// New creates the HTTP server for an engine.
func New(cfg HTTPConfig, engine *feedpulse.Engine, logger *feedpulse.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/events", s.handleIngest)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/feeds", s.handleListFeeds)
	mux.HandleFunc("POST /api/feeds", s.handleRegisterFeed)
	mux.HandleFunc("GET /api/feeds/{id}", s.handleFeed)
	mux.HandleFunc("GET /api/dashboard/stats", s.handleStats)
	mux.HandleFunc("GET /api/dashboard/velocity", s.handleVelocity)
	mux.HandleFunc("GET /api/wal", s.handleListWAL)
	mux.HandleFunc("GET /api/wal/entry", s.handleReadWAL)
	mux.HandleFunc("POST /api/wal/apply", s.handleApplyWAL)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr)

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(env)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var invalid *feedpulse.ErrInvalidPayload

	switch {
	case errors.Is(err, feedpulse.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, feedpulse.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}

	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

// clientID identifies a client for rate limiting by its remote address.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}

	return def
}

func queryFloat(r *http.Request, name string, def float32) float32 {
	if raw := r.URL.Query().Get(name); raw != "" {
		if f, err := strconv.ParseFloat(raw, 32); err == nil {
			return float32(f)
		}
	}

	return def
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	ack, err := s.engine.Ingest(r.Context(), clientID(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, ack)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "missing query parameter q"})
		return
	}

	resp, err := s.engine.Search(q).
		Weights(queryFloat(r, "alpha", 0.5), queryFloat(r, "beta", 0.5)).
		Limit(queryInt(r, "limit", 10)).
		Threshold(queryFloat(r, "threshold", 0.3)).
		Execute(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, resp)
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.Feeds(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, states)
}

func (s *Server) handleRegisterFeed(w http.ResponseWriter, r *http.Request) {
	var feed model.Feed
	if err := json.NewDecoder(r.Body).Decode(&feed); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: fmt.Sprintf("decode request: %v", err)})
		return
	}

	if err := s.engine.RegisterFeed(r.Context(), feed); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
		return
	}

	writeData(w, feed)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Feed(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, state)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.DashboardStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, stats)
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.Velocity(r.Context(), queryInt(r, "hours", 24))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, points)
}

func (s *Server) handleListWAL(w http.ResponseWriter, r *http.Request) {
	keys, next, err := s.engine.ListWAL(r.Context(), r.URL.Query().Get("after"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, map[string]any{"keys": keys, "next": next})
}

func (s *Server) handleReadWAL(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "missing query parameter key"})
		return
	}

	ev, err := s.engine.ReadWAL(r.Context(), key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, ev)
}

func (s *Server) handleApplyWAL(w http.ResponseWriter, r *http.Request) {
	progress, err := s.engine.ApplyWAL(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeData(w, progress)
}
