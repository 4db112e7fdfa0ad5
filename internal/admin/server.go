// Package admin serves the observation surface: health and status endpoints
// plus a WebSocket event feed. It reads bridge state, it never drives it.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/linebridge/internal/bridge"
	"github.com/flemzord/linebridge/internal/core"
)

func init() {
	core.RegisterModule(&Server{})
}

// StatusSource is the surface the admin server needs from the bridge.
type StatusSource interface {
	Status() bridge.Status
}

// healthChecker is implemented by responders that can probe their backend.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the admin HTTP module.
type Server struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger

	status StatusSource
	events *bridge.Hub
	health healthChecker

	server *http.Server
	ln     net.Listener
}

// ModuleInfo implements core.Module.
func (s *Server) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "admin.http",
		New: func() core.Module { return &Server{} },
	}
}

// Configure implements core.Configurable.
func (s *Server) Configure(node *yaml.Node) error {
	if err := node.Decode(&s.config); err != nil {
		return err
	}
	s.config.defaults()
	return s.config.parse()
}

// Provision implements core.Provisioner.
func (s *Server) Provision(ctx *core.AppContext) error {
	s.appCtx = ctx
	s.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (s *Server) Validate() error {
	return s.config.validate()
}

// Start implements core.Starter. It resolves optional services from the
// registry — the server degrades gracefully when the bridge or responder is
// absent — and starts listening.
func (s *Server) Start() error {
	if svc, ok := s.appCtx.Service("bridge.control"); ok {
		if src, ok := svc.(StatusSource); ok {
			s.status = src
		}
	}
	if svc, ok := s.appCtx.Service("bridge.events"); ok {
		if hub, ok := svc.(*bridge.Hub); ok {
			s.events = hub
		}
	}
	if svc, ok := s.appCtx.Service("responder"); ok {
		if hc, ok := svc.(healthChecker); ok {
			s.health = hc
		}
	}

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.readTimeout,
		WriteTimeout: s.config.writeTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.config.Listen)
	if err != nil {
		return errors.New("admin: listen failed: " + err.Error())
	}
	s.ln = ln

	go func() {
		s.logger.Info("admin listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.shutdownTimeout)
	defer cancel()

	s.logger.Info("admin shutting down")
	return s.server.Shutdown(shutdownCtx)
}

// buildRouter constructs the chi mux with all routes wired.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth())
	r.Get("/status", s.handleStatus())

	// Event feed — only mounted when a bridge hub is available.
	if s.events != nil {
		r.Get("/ws/events", s.handleEvents())
	}

	return r
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Bridge    string `json:"bridge,omitempty"`
	Responder string `json:"responder,omitempty"`
}

// handleHealth returns 200 while the bridge runs and its responder (if any)
// answers, 503 otherwise.
func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		if s.status != nil {
			resp.Bridge = s.status.Status().State
			if resp.Bridge != "running" {
				resp.Status = "degraded"
			}
		}

		if s.health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.health.HealthCheck(ctx); err != nil {
				resp.Responder = err.Error()
				resp.Status = "degraded"
			} else {
				resp.Responder = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleStatus returns the full bridge snapshot.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if s.status == nil {
			http.Error(w, "bridge not available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.status.Status())
	}
}
