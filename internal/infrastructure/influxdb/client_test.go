package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/influxdb"
)

// testConfig points at the hub's local InfluxDB (see configs/config.yaml).
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "fieldlink-dev-token",
		Org:           "graylogic",
		Bucket:        "fieldunits",
		BatchSize:     50,
		FlushInterval: 1,
	}
}

// connectOrSkip returns a live client or skips when no server is reachable.
func connectOrSkip(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(cfg)
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") != "" {
			t.Fatalf("Connect() error = %v", err)
		}
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // double close is a no-op
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); err == nil {
		t.Fatal("Connect() should fail when nothing listens on the port")
	}
}

func TestConnect_BatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		batchSize     int
		flushInterval int
	}{
		{"configured", 50, 1},
		{"zero falls back to defaults", 0, 0},
		{"negative falls back to defaults", -5, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.BatchSize = tt.batchSize
			cfg.FlushInterval = tt.flushInterval

			client := connectOrSkip(t, cfg)
			if !client.IsConnected() {
				t.Error("IsConnected() = false after Connect()")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.HealthCheck(ctx); err != nil {
				t.Errorf("HealthCheck() error = %v", err)
			}

			cancelled, stop := context.WithCancel(context.Background())
			stop()
			if err := client.HealthCheck(cancelled); err == nil {
				t.Error("HealthCheck() with cancelled context should fail")
			}
		})
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

// captureErrors collects asynchronous write failures.
func captureErrors(client *influxdb.Client) func() error {
	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

func TestRecordTelemetry(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	lastErr := captureErrors(client)

	fields := map[string]any{"temperature": 21.5, "relay": true}
	if err := client.RecordTelemetry("esp32-test-01", fields, time.Now()); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	if err := lastErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestRecordSchedulerEvent(t *testing.T) {
	client := connectOrSkip(t, testConfig())
	lastErr := captureErrors(client)

	details := map[string]any{"queue_size": 2, "action": "toggle", "priority": "HIGH"}
	if err := client.RecordSchedulerEvent("esp32-test-01", "command_queued", details, time.Now()); err != nil {
		t.Fatalf("RecordSchedulerEvent() error = %v", err)
	}
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	if err := lastErr(); err != nil {
		t.Errorf("write error = %v", err)
	}
}

func TestRecord_NotConnected(t *testing.T) {
	var client *influxdb.Client

	if err := client.RecordTelemetry("esp32-01", map[string]any{"t": 1.0}, time.Now()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("RecordTelemetry() error = %v, want ErrNotConnected", err)
	}
	if err := client.RecordSchedulerEvent("esp32-01", "error", nil, time.Now()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("RecordSchedulerEvent() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	client := connectOrSkip(t, testConfig())

	if err := client.RecordTelemetry("close-test", map[string]any{"v": 1.0}, time.Now()); err != nil {
		t.Fatalf("RecordTelemetry() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true for nil client")
	}
}
