package scheduler

import (
	"encoding/json"
	"time"
)

// Topic is the logical bus topic for scheduler diagnostics.
const Topic = "scheduler_event"

// Scheduler event kinds.
const (
	EventCommandQueued       = "command_queued"
	EventCommandSentCritical = "command_sent_critical"
	EventWindowOpen          = "cmd_window_open"
	EventWindowImminent      = "cmd_window_imminent"
	EventWindowScheduled     = "cmd_window_scheduled"
	EventBatchStart          = "batch_start"
	EventCommandSent         = "command_sent"
	EventCommandsExpired     = "commands_expired"
	EventBatchComplete       = "batch_complete"
	EventError               = "error"
)

// emit publishes {event, device_id, timestamp, ...details} on Topic and
// hands the event to the recorder. Failures are logged, never returned.
func (s *Scheduler) emit(event, deviceID string, details map[string]any) {
	now := s.now()

	payload := make(map[string]any, len(details)+3)
	for k, v := range details {
		payload[k] = v
	}
	payload["event"] = event
	payload["device_id"] = deviceID
	payload["timestamp"] = now.Unix()

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding scheduler event", "event", event, "error", err)
		return
	}
	if err := s.bus.Publish(Topic, data); err != nil {
		s.logger.Warn("publishing scheduler event", "event", event, "device_id", deviceID, "error", err)
	}

	if s.recorder != nil {
		if err := s.recorder.RecordSchedulerEvent(deviceID, event, details, now); err != nil {
			s.logger.Debug("recording scheduler event", "event", event, "error", err)
		}
	}
}

func secondsOf(d time.Duration) int64 {
	return int64(d / time.Second)
}
