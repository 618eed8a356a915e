package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ja2mqtt/internal/bridge"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/ja2mqtt/internal/journal"
	"github.com/nerrad567/ja2mqtt/internal/process"
	"github.com/nerrad567/ja2mqtt/internal/rules"
)

// gracefulShutdownTimeout bounds in-flight requests on shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ChannelEvents is the websocket channel carrying every bridged event.
const ChannelEvents = "events"

// HealthSource provides the current bridge health document.
type HealthSource interface {
	Message() bridge.HealthMessage
}

// Deps holds the dependencies of the status server. Only Config, Logger
// and Health are required.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Version string

	Health      HealthSource
	Definitions *rules.Definitions
	Journal     journal.Repository

	// Tasks reports supervised task state for /api/v1/status.
	Tasks func() []process.Stats

	// DBStats reports journal connection pool statistics.
	DBStats func() sql.DBStats

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server is the read-only HTTP status server.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	version     string
	health      HealthSource
	definitions *rules.Definitions
	journal     journal.Repository
	tasks       func() []process.Stats
	dbStats     func() sql.DBStats
	gatherer    prometheus.Gatherer
	hub         *Hub
	startTime   time.Time

	mu   sync.Mutex
	addr net.Addr
}

// New creates a status server. It does not listen until Run is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Health == nil {
		return nil, fmt.Errorf("health source is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		version:     deps.Version,
		health:      deps.Health,
		definitions: deps.Definitions,
		journal:     deps.Journal,
		tasks:       deps.Tasks,
		dbStats:     deps.DBStats,
		gatherer:    gatherer,
		hub:         NewHub(deps.Logger),
		startTime:   time.Now(),
	}, nil
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Observe broadcasts a bridged event to websocket clients subscribed to
// the events channel. It satisfies bridge.Observer.
func (s *Server) Observe(ev bridge.Event) {
	s.hub.Broadcast(ChannelEvents, ev)
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Addr returns the listening address once Run has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down status server: %w", err)
	}
	return nil
}
