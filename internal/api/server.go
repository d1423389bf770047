package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/scanlink/internal/capture"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/discovery"
	"github.com/nerrad567/scanlink/internal/events"
	"github.com/nerrad567/scanlink/internal/infrastructure/config"
	"github.com/nerrad567/scanlink/internal/infrastructure/logging"
	"github.com/nerrad567/scanlink/internal/pairing"
	"github.com/nerrad567/scanlink/internal/scanner"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Discovery is the discovery controller as seen by the API.
type Discovery interface {
	StartDiscovery(ctx context.Context, filterPrefix *string) error
	StopDiscovery(ctx context.Context) error
	ClearCache()
	SetFilter(prefix *string)
	Filter() *string
	Devices() []device.PeripheralRecord
	Status() discovery.Status
	RadioEnabled(ctx context.Context) (bool, error)
}

// Pairing is the pairing orchestrator as seen by the API.
type Pairing interface {
	Pair(ctx context.Context, address string) (string, error)
	StopPairing()
	Current() (pairing.Attempt, bool)
}

// Capture is the capture session manager as seen by the API.
type Capture interface {
	StartSession(ctx context.Context) error
	StopSession(ctx context.Context) error
	GoodBeep() error
	BadBeep() error
	UpdateScannerName(ctx context.Context, name string) error
	ForgetScanner(ctx context.Context) error
	ForgetSavedScanners(ctx context.Context) error
	CurrentScanner(ctx context.Context) (*scanner.Record, error)
	Status() capture.Status
	Router() *capture.Router
}

// ScanHistory lists recent scans.
type ScanHistory interface {
	Recent(ctx context.Context, limit int) ([]scanner.ScanEntry, error)
}

// ScannerStamp reports when the saved scanner was last written.
// scanner.SQLiteRepository satisfies it.
type ScannerStamp interface {
	UpdatedAt(ctx context.Context) (time.Time, error)
}

// EventSource delivers events to the WebSocket hub. events.Bus satisfies
// it.
type EventSource interface {
	Subscribe(fn func(events.Event)) (unsubscribe func())
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Discovery Discovery
	Pairing   Pairing
	Capture   Capture
	Events    EventSource

	// Scans is optional; without it GET /scanner/scans returns 503.
	Scans ScanHistory

	// Stamp is optional; with it GET /scanner carries updated_at.
	Stamp ScannerStamp

	// DefaultFilter applies to discovery requests that carry no filter.
	DefaultFilter string

	Version string
}

// Server is the HTTP API server for scanlink.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	discovery     Discovery
	pairing       Pairing
	capture       Capture
	events        EventSource
	scans         ScanHistory
	stamp         ScannerStamp
	defaultFilter string
	version       string
	server        *http.Server
	listener      net.Listener
	hub           *Hub
	unsubscribe   func()
	cancel        context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Discovery == nil {
		return nil, fmt.Errorf("discovery controller is required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing orchestrator is required")
	}
	if deps.Capture == nil {
		return nil, fmt.Errorf("capture manager is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		discovery:     deps.Discovery,
		pairing:       deps.Pairing,
		capture:       deps.Capture,
		events:        deps.Events,
		scans:         deps.Scans,
		stamp:         deps.Stamp,
		defaultFilter: deps.DefaultFilter,
		version:       deps.Version,
	}
	s.hub = NewHub(s.wsCfg, s.logger, s.capture.Router())
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware. Start
// serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays events from the event source to it,
// and launches the HTTP listener in a background goroutine. The server can
// be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.events != nil {
		s.unsubscribe = s.events.Subscribe(s.hub.Relay)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
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
