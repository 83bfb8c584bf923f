package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/pgdesk/internal/gateway"
	"github.com/nerrad567/pgdesk/internal/history"
	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
	"github.com/nerrad567/pgdesk/internal/infrastructure/database"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/infrastructure/mqtt"
	"github.com/nerrad567/pgdesk/internal/metrics"
	"github.com/nerrad567/pgdesk/internal/pgembed"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Commands is the UI command set the server dispatches to.
// *actions.Actions satisfies it.
type Commands interface {
	RunQueryFormat(ctx context.Context, statement string, format gateway.Format) (string, error)
	WriteTerminal(data string) error
	ResizeTerminal(rows, cols uint16) error
	TerminalSize() (rows, cols uint16, err error)
}

// Engine reports the state of the embedded database engine.
// *pgembed.Handle satisfies it.
type Engine interface {
	Stats() pgembed.Stats
	IsRunning() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Metrics       config.MetricsConfig
	Logger        *logging.Logger
	Commands      Commands
	DefaultFormat gateway.Format // used when a query request names no format
	Engine        Engine         // optional: engine endpoint reports unavailable
	History       history.Repository
	HistoryDB     *database.DB // optional: pool stats in the metrics response
	MQTT          *mqtt.Client
	Prometheus    *metrics.Metrics
	ExternalHub   *Hub // If set, the server uses this hub instead of creating its own
	Version       string
}

// Server is the HTTP API server for pgdesk.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	metricsCfg    config.MetricsConfig
	logger        *logging.Logger
	commands      Commands
	defaultFormat gateway.Format
	engine        Engine
	history       history.Repository
	historyDB     *database.DB
	mqtt          *mqtt.Client
	prom          *metrics.Metrics
	version       string
	startTime     time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
	closeOnce   sync.Once
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("commands are required")
	}
	if deps.DefaultFormat == "" {
		deps.DefaultFormat = gateway.FormatPipe
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		metricsCfg:    deps.Metrics,
		logger:        deps.Logger,
		commands:      deps.Commands,
		defaultFormat: deps.DefaultFormat,
		engine:        deps.Engine,
		history:       deps.History,
		historyDB:     deps.HistoryDB,
		mqtt:          deps.MQTT,
		prom:          deps.Prometheus,
		version:       deps.Version,
		startTime:     time.Now(),
	}

	// The terminal pump emits into the hub before the server starts, so
	// serve wiring usually creates it up front.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub events are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves HTTP in a background goroutine.
//
// Binding happens before Start returns, so a port conflict is reported
// here rather than logged later. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

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
// then forcefully closes remaining connections. Safe to call more than once.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
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
