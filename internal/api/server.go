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

	"github.com/nerrad567/vimrgb-core/internal/hardware"
	"github.com/nerrad567/vimrgb-core/internal/history"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/config"
	"github.com/nerrad567/vimrgb-core/internal/infrastructure/logging"
	"github.com/nerrad567/vimrgb-core/internal/layout"
	"github.com/nerrad567/vimrgb-core/internal/session"
	"github.com/nerrad567/vimrgb-core/internal/updater"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SessionService is the session surface the API drives.
// Satisfied by *session.Session.
type SessionService interface {
	OnModeChanged(mode string)
	Reload(ctx context.Context) error
	Status() session.Status
	Layout(mode string) (layout.Layout, error)
	Modes() []string
	Devices() []hardware.Device
}

// HistoryReader queries the apply history. Satisfied by
// *history.SQLiteRepository.
type HistoryReader interface {
	Recent(ctx context.Context, f history.Filter) ([]history.Entry, error)
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Session SessionService

	// Optional.
	History HistoryReader
	Checks  map[string]HealthChecker
	DB      *sql.DB

	Version string
}

// Server is the HTTP control API.
//
// It serves session status, mode changes and reloads over REST and streams
// applied layouts to WebSocket clients. It implements session.Observer so
// it can be registered with the session directly.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	session   SessionService
	history   HistoryReader
	checks    map[string]HealthChecker
	db        *sql.DB
	version   string
	hub       *Hub
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from construction so results delivered before Start are simply
// broadcast to nobody.
//
// Parameters:
//   - deps: Logger and Session are required; the rest is optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("session is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		session:   deps.Session,
		history:   deps.History,
		checks:    deps.Checks,
		db:        deps.DB,
		version:   deps.Version,
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
		startTime: time.Now(),
	}
	s.hub.snapshot = func() any { return s.session.Status() }
	return s, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens synchronously so a port conflict is reported here rather
// than only logged.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: If the listener cannot be bound or the server is running
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding api listener on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// LayoutApplied broadcasts res on ChannelLayoutApplied, followed by a
// fresh session snapshot on ChannelSessionStatus when anyone listens.
func (s *Server) LayoutApplied(res updater.Result) {
	s.hub.Broadcast(ChannelLayoutApplied, newLayoutEvent(res))
	if s.hub.HasSubscribers(ChannelSessionStatus) {
		s.hub.Broadcast(ChannelSessionStatus, s.session.Status())
	}
}

// layoutEvent is the payload of a layout.applied broadcast.
type layoutEvent struct {
	Mode       string    `json:"mode"`
	Outcome    string    `json:"outcome"`
	LEDs       int       `json:"leds"`
	Attempts   int       `json:"attempts"`
	QueueWait  float64   `json:"queue_wait_ms"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

func newLayoutEvent(res updater.Result) layoutEvent {
	ev := layoutEvent{
		Mode:       res.Mode,
		Outcome:    string(res.Outcome),
		LEDs:       res.LEDs,
		Attempts:   res.Attempts,
		QueueWait:  float64(res.QueueWait.Microseconds()) / 1000,
		DurationMS: float64(res.Duration.Microseconds()) / 1000,
		At:         res.At,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}
