package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blackms/swarm-core/internal/config"
	"github.com/blackms/swarm-core/internal/infrastructure/pool"
	"github.com/blackms/swarm-core/internal/shared"
)

// Swarm is the read side exposed over HTTP.
type Swarm interface {
	Source
	Snapshot() shared.SwarmMetrics
	ListAgents() []shared.AgentView
	RoleHealth() []pool.RoleMetrics
}

// Server exposes metrics, agents, role health and the event stream over HTTP.
type Server struct {
	swarm  Swarm
	hub    *Hub
	cfg    config.StreamConfig
	logger *slog.Logger
}

func NewServer(swarm Swarm, cfg config.StreamConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		swarm:  swarm,
		hub:    NewHub(logger),
		cfg:    cfg,
		logger: logger.With("component", "http"),
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /api/roles", s.handleRoles)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /ws", s.hub)
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.hub.Forward(ctx, s.swarm)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.swarm.Snapshot())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.swarm.ListAgents())
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.swarm.RoleHealth())
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
