package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mosys-billing/tvfleet/internal/device"
	"github.com/mosys-billing/tvfleet/internal/dispatch"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
	"github.com/mosys-billing/tvfleet/internal/infrastructure/logging"
	"github.com/mosys-billing/tvfleet/internal/scan"
	"github.com/mosys-billing/tvfleet/internal/transport"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// OverlaySettings reads and writes the saved overlay text.
// *store.Documents satisfies it.
type OverlaySettings interface {
	OverlayText(ctx context.Context) (string, error)
	SetOverlayText(ctx context.Context, text string) error
}

// HealthChecker is an optional dependency reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies of one backend's API server.
type Deps struct {
	Backend    transport.Kind
	Port       int
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Dispatcher *dispatch.Dispatcher
	Scanner    *scan.Scanner
	Settings   OverlaySettings
	Version    string

	// Checks are named dependencies reported by GET /health.
	Checks map[string]HealthChecker
}

// Server is the HTTP API of one backend service. Each backend listens on
// its own port with the same routes.
type Server struct {
	backend    transport.Kind
	port       int
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	registry   *device.Registry
	dispatcher *dispatch.Dispatcher
	scanner    *scan.Scanner
	settings   OverlaySettings
	checks     map[string]HealthChecker
	version    string

	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
}

// New creates a server and hooks registry and dispatcher events into the
// WebSocket hub. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Scanner == nil {
		return nil, fmt.Errorf("scanner is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("overlay settings are required")
	}

	s := &Server{
		backend:    deps.Backend,
		port:       deps.Port,
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		scanner:    deps.Scanner,
		settings:   deps.Settings,
		checks:     deps.Checks,
		version:    deps.Version,
		hub:        NewHub(deps.WS, deps.Logger),
	}

	s.registry.OnChange(s.broadcastDeviceEvent)
	s.dispatcher.OnOutcome(s.broadcastOutcome)
	s.scanner.OnComplete(s.broadcastScan)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start launches the hub and the HTTP listener in the background.
// The listen socket is bound before Start returns so a busy port is
// reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close shuts the listener down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server was started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
