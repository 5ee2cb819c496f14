package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/atriumhq/atrium/internal/metrics"
	"github.com/atriumhq/atrium/pkg/mount"
	"github.com/atriumhq/atrium/pkg/plugin"
)

// AdminSecretHeader authenticates host-operator requests to the /internal
// surface.
const AdminSecretHeader = "X-Atrium-Admin-Secret"

// QuarantineFunc transitions a plugin into quarantine. Wired to the daemon
// so the transition also strips hooks and revokes tokens.
type QuarantineFunc func(ctx context.Context, pluginID string) error

// Config holds server configuration.
type Config struct {
	Port        int
	AdminSecret string
	Registry    *plugin.Registry
	Mounter     *mount.Mounter
	Enforcer    *Enforcer
	Quarantine  QuarantineFunc
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Server is the HTTP host for mounted plugin routes and the operator
// surface. Plugin routes bind through the mount.Router interface before
// Start; once the server is listening the route table is frozen.
type Server struct {
	port        int
	adminSecret string
	registry    *plugin.Registry
	mounter     *mount.Mounter
	enforcer    *Enforcer
	quarantine  QuarantineFunc
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	broadcaster *EventBroadcaster
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	mux     *http.ServeMux
	started bool
	server  *http.Server
}

// NewServer creates a gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.AdminSecret == "" {
		return nil, fmt.Errorf("admin secret is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("plugin registry is required")
	}
	if cfg.Enforcer == nil {
		return nil, fmt.Errorf("enforcer is required")
	}

	s := &Server{
		port:        cfg.Port,
		adminSecret: cfg.AdminSecret,
		registry:    cfg.Registry,
		mounter:     cfg.Mounter,
		enforcer:    cfg.Enforcer,
		quarantine:  cfg.Quarantine,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With().Str("component", "gateway").Logger(),
		broadcaster: NewEventBroadcaster(cfg.Logger),
		mux:         http.NewServeMux(),
		upgrader:    websocket.Upgrader{},
	}

	s.registerBuiltinRoutes()

	return s, nil
}

// Broadcaster returns the audit event broadcaster, for wiring as the audit
// logger's observer.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Handle implements mount.Router: it binds a plugin route behind the
// enforcement middleware. Fails once the server has started serving —
// mounting strictly precedes traffic.
func (s *Server) Handle(route mount.Route, handler http.Handler) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot bind %s %s: server already started", route.Method, route.FullPath)
	}

	defer func() {
		// ServeMux panics on conflicting patterns; a plugin's route clash is
		// that plugin's failure, not the host's.
		if rec := recover(); rec != nil {
			err = fmt.Errorf("route conflict: %v", rec)
		}
	}()

	pattern := route.Method + " " + route.FullPath
	s.mux.Handle(pattern, s.enforcer.Wrap(route, handler))
	return nil
}

func (s *Server) registerBuiltinRoutes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("GET /internal/plugins", s.requireAdmin(s.handleListPlugins))
	s.mux.HandleFunc("POST /internal/plugins/{id}/quarantine", s.requireAdmin(s.handleQuarantine))
	s.mux.HandleFunc("GET /internal/events", s.requireAdmin(s.handleEvents))
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(AdminSecretHeader) != s.adminSecret {
			writeError(w, http.StatusUnauthorized, "Unauthorized", "admin secret required")
			return
		}
		next(w, r)
	}
}

// pluginSummary is the operator view of one registry entry.
type pluginSummary struct {
	ID      string        `json:"id"`
	Version string        `json:"version"`
	Tier    string        `json:"tier"`
	Status  plugin.Status `json:"status"`
	Granted []string      `json:"granted_capabilities"`
	Mounted bool          `json:"mounted"`
	Routes  []mount.Route `json:"routes,omitempty"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	var summaries []pluginSummary
	for _, entry := range s.registry.All() {
		summary := pluginSummary{
			ID:      entry.ID,
			Version: entry.Manifest.Version,
			Tier:    string(entry.Manifest.Tier),
			Status:  entry.Status,
			Granted: entry.GrantedCapabilities,
		}
		if s.mounter != nil && s.mounter.IsMounted(entry.ID) {
			summary.Mounted = true
			for _, route := range s.mounter.AllRoutes() {
				if route.PluginID == entry.ID {
					summary.Routes = append(summary.Routes, route)
				}
			}
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": summaries})
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("id")
	if _, ok := s.registry.Get(pluginID); !ok {
		writeError(w, http.StatusNotFound, CodePluginNotFound, "unknown plugin")
		return
	}
	if s.quarantine == nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "quarantine not configured")
		return
	}
	if err := s.quarantine(r.Context(), pluginID); err != nil {
		s.logger.Error().Err(err).Str("plugin_id", pluginID).Msg("Quarantine failed")
		writeError(w, http.StatusInternalServerError, CodeInternalError, "quarantine failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"plugin_id": pluginID, "status": string(plugin.StatusQuarantined)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Event stream upgrade failed")
		return
	}

	s.broadcaster.Add(conn)

	// Drain reads until the client hangs up; events flow one way.
	go func() {
		defer s.broadcaster.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Start begins serving. Every plugin must be mounted before this is called;
// Handle rejects bindings afterwards.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	s.logger.Info().Int("port", s.port).Msg("Gateway server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Handler returns the composed handler. Testing support.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mux
}

// Freeze marks the route table as frozen without listening. Testing support
// for the startup barrier.
func (s *Server) Freeze() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.CloseAll()

	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
