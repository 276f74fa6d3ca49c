package scheduler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders outbound commands. Critical bypasses duty-cycle gating.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts a priority name in any case. An empty string
// selects Normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

// MarshalText encodes the priority name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// QueuedCommand is an outbound command waiting for its device's window.
type QueuedCommand struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   Priority        `json:"priority"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

func newCommand(deviceID, action string, payload json.RawMessage, priority Priority, now, expiresAt time.Time) QueuedCommand {
	return QueuedCommand{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Action:     action,
		Payload:    payload,
		Priority:   priority,
		EnqueuedAt: now,
		ExpiresAt:  expiresAt,
	}
}

// Expired reports whether the command may no longer be sent.
func (c QueuedCommand) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// QueueStatus is a read-only view of one device's queue and window.
type QueueStatus struct {
	DeviceID         string        `json:"device_id"`
	Depth            int           `json:"depth"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	Mode             Mode          `json:"mode"`

	// TimeUntilWindow is nil when the window is open or its timing is unknown.
	TimeUntilWindow *time.Duration `json:"time_until_window,omitempty"`
}

// commandFrame is the compact wire form of a command:
// {p, t:"cmd", i: device_id, s: unix seconds, d: {action, ...payload}}.
type commandFrame struct {
	Protocol  string         `json:"p"`
	Type      string         `json:"t"`
	DeviceID  string         `json:"i"`
	Timestamp int64          `json:"s"`
	Data      map[string]any `json:"d"`
}

// EncodeFrame renders cmd as a compact command frame. Object payloads are
// merged into the data block; any other payload is carried under "data".
func EncodeFrame(cmd QueuedCommand, now time.Time) ([]byte, error) {
	data := map[string]any{}
	if len(cmd.Payload) > 0 && string(cmd.Payload) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(cmd.Payload, &obj); err == nil {
			for k, v := range obj {
				data[k] = v
			}
		} else {
			var v any
			if err := json.Unmarshal(cmd.Payload, &v); err != nil {
				return nil, fmt.Errorf("decoding payload: %w", err)
			}
			data["data"] = v
		}
	}
	data["action"] = cmd.Action

	return json.Marshal(commandFrame{
		Protocol:  "ssp/1.0",
		Type:      "cmd",
		DeviceID:  cmd.DeviceID,
		Timestamp: now.Unix(),
		Data:      data,
	})
}
