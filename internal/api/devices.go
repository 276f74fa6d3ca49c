package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/fieldunit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

const (
	defaultAttemptLimit = 20
	maxAttemptLimit     = 200
)

// handleListDevices returns every device seen since start with its
// registration state.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.fieldUnits.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleListDiscovered returns devices awaiting a trust decision or
// registration.
func (s *Server) handleListDiscovered(w http.ResponseWriter, _ *http.Request) {
	devices := s.fieldUnits.DiscoveredDevices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleListRegistered returns the capability records of registered units.
func (s *Server) handleListRegistered(w http.ResponseWriter, _ *http.Request) {
	devices := s.fieldUnits.RegisteredDevices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleListKnown returns every persisted device record, trusted or not.
func (s *Server) handleListKnown(w http.ResponseWriter, r *http.Request) {
	devices, err := s.trust.ListKnown(r.Context())
	if err != nil {
		s.logger.Error("listing known devices", "error", err)
		writeInternalError(w, "failed to list known devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device and its recent registration attempts.
//
// Query parameters:
//   - attempts: number of registration attempts to include (default 20)
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "id")

	info, err := s.fieldUnits.Device(address)
	if err != nil {
		s.writeDeviceError(w, err)
		return
	}

	limit := defaultAttemptLimit
	if raw := r.URL.Query().Get("attempts"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			writeBadRequest(w, "attempts must be a non-negative integer")
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	attempts := []trust.RegistrationAttempt{}
	if limit > 0 {
		attempts, err = s.trust.ListRegistrationAttempts(r.Context(), info.Address, limit)
		if err != nil {
			s.logger.Error("listing registration attempts", "address", info.Address, "error", err)
			writeInternalError(w, "failed to list registration attempts")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device":   info,
		"attempts": attempts,
	})
}

// handleTrustDevice marks a device trusted and starts registration. A
// device that has not been sighted yet is trusted and registers on its
// next advertisement, reported as 202.
func (s *Server) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "id")

	err := s.fieldUnits.TrustDevice(r.Context(), address)
	var hsErr *fieldunit.HandshakeError
	switch {
	case err == nil:
		s.recordAudit(r, audit.ActionTrust, address, map[string]any{"outcome": "registered"})
		writeJSON(w, http.StatusOK, map[string]string{"address": address, "status": "registered"})
	case errors.Is(err, fieldunit.ErrDeviceNotSeen):
		s.recordAudit(r, audit.ActionTrust, address, map[string]any{"outcome": "pending_sighting"})
		writeJSON(w, http.StatusAccepted, map[string]string{"address": address, "status": "trusted"})
	case errors.As(err, &hsErr):
		// Trust was recorded before the handshake ran.
		s.recordAudit(r, audit.ActionTrust, address, map[string]any{"outcome": string(hsErr.Stage)})
		s.logger.Warn("registration failed", "address", address, "stage", hsErr.Stage, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeHandshakeFailed, err.Error())
	case errors.Is(err, fieldunit.ErrHandshakeInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, "registration already in progress")
	default:
		s.writeDeviceError(w, err)
	}
}

// handleUntrustDevice revokes trust. A live link stays up until it drops.
func (s *Server) handleUntrustDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "id")

	if err := s.fieldUnits.UntrustDevice(r.Context(), address); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionUntrust, address, nil)
	writeJSON(w, http.StatusOK, map[string]string{"address": address, "status": "untrusted"})
}

// handleForgetDevice deletes the persisted record for a device.
func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "id")

	normalized, err := trust.NormalizeAddress(address)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.trust.Delete(r.Context(), normalized); err != nil {
		s.writeDeviceError(w, err)
		return
	}
	s.recordAudit(r, audit.ActionForget, normalized, nil)
	w.WriteHeader(http.StatusNoContent)
}

// writeDeviceError maps field unit and trust store errors to responses.
func (s *Server) writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trust.ErrInvalidAddress):
		writeBadRequest(w, err.Error())
	case errors.Is(err, fieldunit.ErrDeviceNotFound), errors.Is(err, trust.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, fieldunit.ErrNotTrusted):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Error("device operation failed", "error", err)
		writeInternalError(w, "device operation failed")
	}
}
