// Package metrics exposes discovery and scheduling counters to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const metricPrefix = "fieldlink_"

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics bundles the field unit collectors. It satisfies the metrics
// interfaces of both the discovery manager and the command scheduler.
type Metrics struct {
	ScansTotal         *prometheus.CounterVec
	DevicesDiscovered  prometheus.Counter
	HandshakesTotal    *prometheus.CounterVec
	TelemetryTotal     *prometheus.CounterVec
	ReassemblyDrops    *prometheus.CounterVec
	ReconnectsTotal    *prometheus.CounterVec
	CommandsQueued     *prometheus.CounterVec
	CommandsDispatched *prometheus.CounterVec
	ExpiredTotal       prometheus.Counter
	DispatchFailures   prometheus.Counter
	QueueDepthGauge    *prometheus.GaugeVec
}

// New constructs the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scans_total",
				Help: "Total radio scans by result",
			},
			[]string{"result"},
		),
		DevicesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "devices_discovered_total",
			Help: "Field units seen for the first time",
		}),
		HandshakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "handshakes_total",
				Help: "Registration handshakes by outcome",
			},
			[]string{"outcome"},
		),
		TelemetryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_messages_total",
				Help: "Telemetry documents received by device",
			},
			[]string{"device_id"},
		),
		ReassemblyDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reassembly_dropped_total",
				Help: "Notification buffers dropped by reason",
			},
			[]string{"reason"},
		),
		ReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconnects_total",
				Help: "Successful reconnections by device address",
			},
			[]string{"address"},
		),
		CommandsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_queued_total",
				Help: "Commands queued by priority",
			},
			[]string{"priority"},
		),
		CommandsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_dispatched_total",
				Help: "Commands written to devices by priority",
			},
			[]string{"priority"},
		),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "commands_expired_total",
			Help: "Queued commands dropped after expiry",
		}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "dispatch_failures_total",
			Help: "Command writes that failed",
		}),
		QueueDepthGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Pending commands per device",
			},
			[]string{"device_id"},
		),
	}
	reg.MustRegister(
		m.ScansTotal,
		m.DevicesDiscovered,
		m.HandshakesTotal,
		m.TelemetryTotal,
		m.ReassemblyDrops,
		m.ReconnectsTotal,
		m.CommandsQueued,
		m.CommandsDispatched,
		m.ExpiredTotal,
		m.DispatchFailures,
		m.QueueDepthGauge,
	)
	return m
}

// ScanCompleted records one scan.
func (m *Metrics) ScanCompleted(newDevices int, err error) {
	if err != nil {
		m.ScansTotal.WithLabelValues(resultError).Inc()
		return
	}
	m.ScansTotal.WithLabelValues(resultSuccess).Inc()
	m.DevicesDiscovered.Add(float64(newDevices))
}

// HandshakeFinished records a handshake outcome ("registered" or a failure stage).
func (m *Metrics) HandshakeFinished(stage string) {
	m.HandshakesTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) TelemetryReceived(deviceID string) {
	m.TelemetryTotal.WithLabelValues(deviceID).Inc()
}

func (m *Metrics) ReassemblyDropped(reason string) {
	m.ReassemblyDrops.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnected(address string) {
	m.ReconnectsTotal.WithLabelValues(address).Inc()
}

func (m *Metrics) CommandQueued(priority string) {
	m.CommandsQueued.WithLabelValues(priority).Inc()
}

func (m *Metrics) CommandDispatched(priority string) {
	m.CommandsDispatched.WithLabelValues(priority).Inc()
}

func (m *Metrics) CommandsExpired(count int) {
	m.ExpiredTotal.Add(float64(count))
}

func (m *Metrics) DispatchFailed() {
	m.DispatchFailures.Inc()
}

func (m *Metrics) QueueDepth(deviceID string, depth int) {
	m.QueueDepthGauge.WithLabelValues(deviceID).Set(float64(depth))
}
