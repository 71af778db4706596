package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DeKaN/ha-boneco/internal/bridges/ble"
	"github.com/DeKaN/ha-boneco/internal/device"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/config"
	"github.com/DeKaN/ha-boneco/internal/infrastructure/logging"
	"github.com/DeKaN/ha-boneco/internal/pairing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceBridge is the running side of paired devices.
// Implemented by *ble.Bridge.
type DeviceBridge interface {
	Devices() []ble.DeviceStatus
	Device(address string) (ble.DeviceStatus, error)
	Execute(address string, cmd ble.Command) error
	Refresh(ctx context.Context, address string) error
	RemoveEntry(address string) error
	DeviceCounts() ble.DeviceCounts
}

// EntryStore is the persisted side of paired devices.
// Implemented by *device.Registry.
type EntryStore interface {
	GetByAddress(ctx context.Context, address string) (*device.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
}

// HistoryReader reads recorded snapshots.
type HistoryReader interface {
	GetHistory(ctx context.Context, entryID string, limit int) ([]device.HistoryEntry, error)
}

// PairingService runs pairing flows. NewPairingService adapts a
// *pairing.Manager.
type PairingService interface {
	Discovered(ctx context.Context) ([]pairing.Discovery, error)
	StartFlow(ctx context.Context, address string) (pairing.Status, error)
	RetryFlow(id string) (pairing.Status, error)
	Cancel(id string) error
	FlowStatus(id string) (pairing.Status, bool)
	List() []pairing.Status
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   DeviceBridge
	Entries  EntryStore
	History  HistoryReader
	Pairing  PairingService
	Audit    AuditLog // optional; mutating calls are not recorded when nil
	Hub      *Hub     // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	bridge  DeviceBridge
	entries EntryStore
	history HistoryReader
	pairing PairingService
	audit   AuditLog
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("device bridge is required")
	}
	if deps.Entries == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if deps.History == nil {
		return nil, fmt.Errorf("history reader is required")
	}
	if deps.Pairing == nil {
		return nil, fmt.Errorf("pairing service is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		entries: deps.Entries,
		history: deps.History,
		pairing: deps.Pairing,
		audit:   deps.Audit,
		version: deps.Version,
		hub:     deps.Hub,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub when none was injected, builds the router and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	if s.secCfg.JWT.Secret == "" {
		s.logger.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
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

// HealthCheck verifies the API server is running.
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

// Hub returns the WebSocket hub, nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}
