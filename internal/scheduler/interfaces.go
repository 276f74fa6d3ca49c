package scheduler

import (
	"context"
	"time"
)

// Sender writes an encoded command frame to a device.
type Sender interface {
	SendCommand(ctx context.Context, deviceID string, frame []byte) error
}

// Bus is the publish side of the hub message bus.
type Bus interface {
	Publish(topic string, payload []byte) error
}

// EventRecorder keeps scheduler events as time-series history.
type EventRecorder interface {
	RecordSchedulerEvent(deviceID, event string, details map[string]any, at time.Time) error
}

// Metrics receives scheduler counters.
type Metrics interface {
	CommandQueued(priority string)
	CommandDispatched(priority string)
	CommandsExpired(count int)
	DispatchFailed()
	QueueDepth(deviceID string, depth int)
}

// Logger is the logging contract used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) CommandQueued(string)     {}
func (noopMetrics) CommandDispatched(string) {}
func (noopMetrics) CommandsExpired(int)      {}
func (noopMetrics) DispatchFailed()          {}
func (noopMetrics) QueueDepth(string, int)   {}
