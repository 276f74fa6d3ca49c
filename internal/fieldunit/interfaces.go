package fieldunit

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

// Bus is the publish side of the hub message bus. Topics are logical
// names (e.g. "device_registered" or a device id); the implementation maps
// them onto its transport.
type Bus interface {
	Publish(topic string, payload []byte) error
}

// TrustStore is the subset of the trust store discovery needs.
type TrustStore interface {
	RecordDiscovery(ctx context.Context, mac, name string, rssi int16) (bool, error)
	IsTrusted(ctx context.Context, mac string) (bool, error)
	Trust(ctx context.Context, mac, name string) error
	Untrust(ctx context.Context, mac string) error
	UpdateMetadata(ctx context.Context, mac, deviceType, firmware string) error
	RecordRegistrationAttempt(ctx context.Context, attempt trust.RegistrationAttempt) error
}

// TelemetryObserver receives every telemetry document from a registered
// device, in arrival order, on the device's listener goroutine.
type TelemetryObserver interface {
	ObserveTelemetry(ctx context.Context, deviceID string, doc []byte)
}

// TelemetryRecorder stores telemetry readings as time-series points.
type TelemetryRecorder interface {
	RecordTelemetry(deviceID string, fields map[string]any, at time.Time) error
}

// Metrics receives discovery counters. All methods must be cheap.
type Metrics interface {
	ScanCompleted(newDevices int, err error)
	HandshakeFinished(stage string)
	TelemetryReceived(deviceID string)
	ReassemblyDropped(reason string)
	Reconnected(address string)
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

func (noopMetrics) ScanCompleted(int, error) {}
func (noopMetrics) HandshakeFinished(string) {}
func (noopMetrics) TelemetryReceived(string) {}
func (noopMetrics) ReassemblyDropped(string) {}
func (noopMetrics) Reconnected(string)       {}
