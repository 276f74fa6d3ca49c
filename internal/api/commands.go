package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/scheduler"
)

// handleSendCommand queues a command for a field unit. Critical commands
// are sent at once and answered with 200; everything else waits for the
// device's command window and is answered with 202.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req scheduler.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := s.scheduler.Submit(r.Context(), deviceID, req)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}

	s.logger.Info("command submitted",
		"device_id", deviceID,
		"action", cmd.Action,
		"priority", cmd.Priority.String(),
		"command_id", cmd.ID,
	)
	s.recordAudit(r, audit.ActionCommand, deviceID, map[string]any{
		"command_id": cmd.ID,
		"action":     cmd.Action,
		"priority":   cmd.Priority.String(),
	})

	status, state := http.StatusAccepted, "queued"
	if cmd.Priority == scheduler.PriorityCritical {
		status, state = http.StatusOK, "sent"
	}
	writeJSON(w, status, map[string]any{"status": state, "command": cmd})
}

// handleGetQueue returns a device's queue status and pending commands.
func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	if strings.TrimSpace(deviceID) == "" {
		writeBadRequest(w, "device id is required")
		return
	}

	status, err := s.scheduler.QueueStatus(r.Context(), deviceID)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}
	pending, err := s.scheduler.Pending(r.Context(), deviceID)
	if err != nil {
		s.writeCommandError(w, deviceID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status, "pending": pending})
}

// handleListQueues returns the queue status of every tracked device.
func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues := s.scheduler.Devices(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"queues": queues, "count": len(queues)})
}

func (s *Server) writeCommandError(w http.ResponseWriter, deviceID string, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidDevice),
		errors.Is(err, scheduler.ErrInvalidAction),
		errors.Is(err, scheduler.ErrInvalidPayload),
		errors.Is(err, scheduler.ErrInvalidPriority):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, scheduler.ErrDispatchFailed):
		s.logger.Warn("command dispatch failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeDispatchFailed, err.Error())
	case errors.Is(err, scheduler.ErrSchedulerStopped):
		writeUnavailable(w, "scheduler is stopped")
	default:
		s.logger.Error("command operation failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "command operation failed")
	}
}
