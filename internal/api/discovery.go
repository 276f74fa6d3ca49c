package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/fieldunit"
)

// handleDiscoveryStatus reports whether discovery is running and how many
// devices are in each view.
func (s *Server) handleDiscoveryStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    s.fieldUnits.Enabled(),
		"discovered": len(s.fieldUnits.DiscoveredDevices()),
		"registered": len(s.fieldUnits.RegisteredDevices()),
	})
}

// handleTriggerScan requests an immediate scan. The scan runs in the
// background; results arrive as device_discovered events.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	if err := s.fieldUnits.TriggerScan(); err != nil {
		if errors.Is(err, fieldunit.ErrDiscoveryDisabled) {
			writeUnavailable(w, "discovery is disabled")
			return
		}
		s.logger.Error("triggering scan", "error", err)
		writeInternalError(w, "failed to trigger scan")
		return
	}
	s.recordAudit(r, audit.ActionScan, "", nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scan_requested"})
}
