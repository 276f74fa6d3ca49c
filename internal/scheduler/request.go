package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CommandRequest is the JSON body accepted from operators and from the
// command topic of the message bus.
type CommandRequest struct {
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority string          `json:"priority,omitempty"`

	// TTLSeconds overrides the configured command TTL when positive.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// DecodeCommandRequest parses a command request document.
func DecodeCommandRequest(data []byte) (CommandRequest, error) {
	var req CommandRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return CommandRequest{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return req, nil
}

// Submit schedules req for deviceID.
func (s *Scheduler) Submit(ctx context.Context, deviceID string, req CommandRequest) (QueuedCommand, error) {
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return QueuedCommand{}, err
	}
	if req.TTLSeconds > 0 {
		expiresAt := s.now().Add(time.Duration(req.TTLSeconds) * time.Second)
		return s.SendCommandWithExpiry(ctx, deviceID, req.Action, req.Payload, priority, expiresAt)
	}
	return s.SendCommand(ctx, deviceID, req.Action, req.Payload, priority)
}
