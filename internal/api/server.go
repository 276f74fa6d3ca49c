package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/fieldunit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-fieldlink/internal/scheduler"
	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// FieldUnits is the discovery manager as seen by the API.
type FieldUnits interface {
	Enabled() bool
	Devices() []fieldunit.DeviceInfo
	DiscoveredDevices() []fieldunit.DiscoveredDevice
	RegisteredDevices() []fieldunit.Capabilities
	Device(address string) (fieldunit.DeviceInfo, error)
	TrustDevice(ctx context.Context, address string) error
	UntrustDevice(ctx context.Context, address string) error
	TriggerScan() error
}

// TrustStore exposes persisted device records.
type TrustStore interface {
	ListKnown(ctx context.Context) ([]trust.Device, error)
	Delete(ctx context.Context, mac string) error
	ListRegistrationAttempts(ctx context.Context, mac string, limit int) ([]trust.RegistrationAttempt, error)
}

// CommandScheduler accepts operator commands and reports queues.
type CommandScheduler interface {
	Submit(ctx context.Context, deviceID string, req scheduler.CommandRequest) (scheduler.QueuedCommand, error)
	QueueStatus(ctx context.Context, deviceID string) (scheduler.QueueStatus, error)
	Pending(ctx context.Context, deviceID string) ([]scheduler.QueuedCommand, error)
	Devices(ctx context.Context) []scheduler.QueueStatus
}

// AuditLog records operator actions (optional).
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// EventSource delivers every bus message to a listener.
type EventSource interface {
	Listen(l mqtt.Listener) (remove func())
}

// HealthChecker is implemented by infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	FieldUnits FieldUnits
	Trust      TrustStore
	Scheduler  CommandScheduler
	Audit      AuditLog                 // optional: actions are not recorded without it
	Events     EventSource              // optional: live relay is off without it
	Metrics    http.Handler             // optional: served at /metrics
	Health     map[string]HealthChecker // optional: reported by /health
	Version    string
}

// Server is the operator HTTP API.
//
// It serves device and queue views, trust decisions, scan requests and
// command submission, and relays bus events to websocket clients.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	fieldUnits FieldUnits
	trust      TrustStore
	scheduler  CommandScheduler
	auditLog   AuditLog
	events     EventSource
	metrics    http.Handler
	health     map[string]HealthChecker
	version    string
	startTime  time.Time

	server   *http.Server
	hub      *Hub
	tickets  *ticketStore
	unlisten func()
	cancel   context.CancelFunc
}

// New creates an API server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.FieldUnits == nil {
		return nil, fmt.Errorf("field unit manager is required")
	}
	if deps.Trust == nil {
		return nil, fmt.Errorf("trust store is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("command scheduler is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		fieldUnits: deps.FieldUnits,
		trust:      deps.Trust,
		scheduler:  deps.Scheduler,
		auditLog:   deps.Audit,
		events:     deps.Events,
		metrics:    deps.Metrics,
		health:     deps.Health,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        NewHub(deps.WS, deps.Logger),
		tickets:    newTicketStore(),
	}, nil
}

// Start launches the websocket hub, the bus relay and the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if s.events != nil {
		s.unlisten = s.events.Listen(s.relayEvent)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close stops the relay and hub and shuts the listener down, waiting up
// to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.unlisten != nil {
		s.unlisten()
	}
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
