package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/motion-core/internal/analysis"
	"github.com/nerrad567/motion-core/internal/control"
	"github.com/nerrad567/motion-core/internal/infrastructure/config"
	"github.com/nerrad567/motion-core/internal/infrastructure/logging"
	"github.com/nerrad567/motion-core/internal/motion"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the control surface the API exposes. *control.Service
// implements it.
type Controller interface {
	Analyze(ctx context.Context, text string, autoplay bool) (*control.AnalyzeResult, error)
	Play(ctx context.Context, set motion.MovementSet) error
	PlayAnalysis(ctx context.Context, id string) (*analysis.Record, error)
	Stop(ctx context.Context) error
	Status() control.Status
	DeviceStatus() control.DeviceStatus
	Analyses(ctx context.Context, limit int) ([]analysis.Record, error)
	Analysis(ctx context.Context, id string) (*analysis.Record, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Control  Controller
	// Hub, when set, is used instead of a server-owned hub so the control
	// service can broadcast to it before the server starts.
	Hub *Hub
	// Panel, when set, is mounted at /panel/ and the root redirects to it.
	Panel   http.Handler
	Version string
}

// Server is the HTTP API server for Motion Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	control Controller
	version string
	tickets *ticketStore
	panel   http.Handler

	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
	addr        string
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Control == nil {
		return nil, fmt.Errorf("controller is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		control: deps.Control,
		version: deps.Version,
		tickets: newTicketStore(),
		panel:   deps.Panel,
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.hub.SetSnapshot(s.snapshot)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), the ticket cleanup loop and
// the HTTP listener in the background. The listener is bound before Start
// returns so a port conflict is reported to the caller.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.addr = ln.Addr().String()

	s.logger.Info("API server listening",
		"address", s.addr,
		"auth", s.authEnabled(),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address once started.
func (s *Server) Addr() string {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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

// snapshot supplies the current value of a state channel to new subscribers.
func (s *Server) snapshot(channel string) (any, bool) {
	switch channel {
	case control.EventPlaybackState:
		return s.control.Status().Playback, true
	case control.EventDeviceState:
		return s.control.DeviceStatus(), true
	default:
		return nil, false
	}
}
