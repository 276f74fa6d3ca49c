package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-fieldlink/internal/fieldunit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/scheduler"
)

var (
	_ fieldunit.Metrics = (*Metrics)(nil)
	_ scheduler.Metrics = (*Metrics)(nil)
)

func TestScanCompleted(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ScanCompleted(2, nil)
	m.ScanCompleted(1, nil)
	m.ScanCompleted(5, errors.New("adapter gone"))

	if got := testutil.ToFloat64(m.ScansTotal.WithLabelValues(resultSuccess)); got != 2 {
		t.Errorf("successful scans = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ScansTotal.WithLabelValues(resultError)); got != 1 {
		t.Errorf("failed scans = %v, want 1", got)
	}
	// Failed scans never count devices.
	if got := testutil.ToFloat64(m.DevicesDiscovered); got != 3 {
		t.Errorf("devices discovered = %v, want 3", got)
	}
}

func TestSchedulerCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.CommandQueued("HIGH")
	m.CommandQueued("HIGH")
	m.CommandDispatched("HIGH")
	m.CommandsExpired(3)
	m.DispatchFailed()
	m.QueueDepth("esp32-01", 4)
	m.QueueDepth("esp32-01", 1)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"queued", m.CommandsQueued.WithLabelValues("HIGH"), 2},
		{"dispatched", m.CommandsDispatched.WithLabelValues("HIGH"), 1},
		{"expired", m.ExpiredTotal, 3},
		{"failures", m.DispatchFailures, 1},
		{"depth", m.QueueDepthGauge.WithLabelValues("esp32-01"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestLinkCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.HandshakeFinished("registered")
	m.HandshakeFinished("write")
	m.TelemetryReceived("esp32-01")
	m.ReassemblyDropped("stale")
	m.Reconnected("AA:BB:CC:DD:EE:FF")

	if got := testutil.ToFloat64(m.HandshakesTotal.WithLabelValues("write")); got != 1 {
		t.Errorf("write handshakes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TelemetryTotal.WithLabelValues("esp32-01")); got != 1 {
		t.Errorf("telemetry = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReassemblyDrops.WithLabelValues("stale")); got != 1 {
		t.Errorf("stale drops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReconnectsTotal.WithLabelValues("AA:BB:CC:DD:EE:FF")); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("second New() on the same registry did not panic")
		}
	}()
	New(reg)
}
