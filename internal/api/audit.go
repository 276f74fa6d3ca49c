package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
)

// recordAudit stores an operator action. Failures are logged and never
// fail the request that caused them.
func (s *Server) recordAudit(r *http.Request, action, target string, details map[string]any) {
	if s.auditLog == nil {
		return
	}
	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	e := &audit.Entry{
		Action:  action,
		Target:  target,
		Subject: subject,
		Source:  audit.SourceAPI,
		Details: details,
	}
	if err := s.auditLog.Record(r.Context(), e); err != nil {
		s.logger.Warn("failed to record audit entry", "action", action, "target", target, "error", err)
	}
}

// handleListAudit returns recorded operator actions, newest first.
//
// Query parameters:
//   - action: trust, untrust, forget, scan or command
//   - target: MAC address or device id
//   - limit, offset: pagination (default 50, max 200)
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeUnavailable(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.auditLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
