package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fieldlink/internal/auth"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket authenticates with a single-use ticket, not a bearer token.
		r.Get(s.wsPath(), s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))

				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/discovered", s.handleListDiscovered)
				r.Get("/devices/registered", s.handleListRegistered)
				r.Get("/devices/known", s.handleListKnown)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/devices/{id}/queue", s.handleGetQueue)
				r.Get("/queues", s.handleListQueues)
				r.Get("/discovery", s.handleDiscoveryStatus)
				r.Get("/audit", s.handleListAudit)
			})

			r.Group(func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceTrust))

				r.Post("/devices/{id}/trust", s.handleTrustDevice)
				r.Post("/devices/{id}/untrust", s.handleUntrustDevice)
				r.Delete("/devices/{id}", s.handleForgetDevice)
			})

			r.With(requirePermission(auth.PermDiscoveryScan)).Post("/discovery/scan", s.handleTriggerScan)
			r.With(requirePermission(auth.PermCommandSend)).Post("/devices/{id}/commands", s.handleSendCommand)
		})
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth reports the server version, whether discovery is running
// and the state of each infrastructure dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"discovery":      s.fieldUnits.Enabled(),
		"ws_clients":     s.hub.ClientCount(),
		"checks":         checks,
	})
}
