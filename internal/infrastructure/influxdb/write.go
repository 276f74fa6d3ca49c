package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry      = "fieldunit_telemetry"
	MeasurementSchedulerEvent = "fieldunit_scheduler_event"
)

// RecordTelemetry stores one telemetry reading. Each numeric or boolean
// sensor value becomes a field of a single point tagged with the device id.
// Readings with no usable fields are skipped.
//
// The point is queued on the batched write API; delivery failures are
// reported later through SetOnError, not here.
//
// Parameters:
//   - deviceID: Registered field unit id, stored as the device_id tag
//   - fields: Decoded telemetry values keyed by field name
//   - at: Reading time (the hub receive time when the unit sends none)
//
// Returns:
//   - error: ErrNotConnected after Close, nil otherwise
//
// Example:
//
//	influx.RecordTelemetry("esp32-kitchen-01", map[string]any{"temperature": 21.5}, time.Now())
//	// fieldunit_telemetry,device_id=esp32-kitchen-01 temperature=21.5
func (c *Client) RecordTelemetry(deviceID string, fields map[string]any, at time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	point := telemetryPoint(deviceID, fields, at)
	if point == nil {
		return nil
	}
	c.writeAPI.WritePoint(point)
	return nil
}

// RecordSchedulerEvent stores one command scheduler event.
func (c *Client) RecordSchedulerEvent(deviceID, event string, details map[string]any, at time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(schedulerEventPoint(deviceID, event, details, at))
	return nil
}

func telemetryPoint(deviceID string, fields map[string]any, at time.Time) *write.Point {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case float64, float32, int, int64, bool:
			out[k] = val
		}
	}
	if len(out) == 0 {
		return nil
	}
	return write.NewPoint(MeasurementTelemetry, map[string]string{"device_id": deviceID}, out, at)
}

// schedulerEventPoint keeps the event kind as a tag so history can be
// filtered by it; details become fields, with non-scalar values stringified.
func schedulerEventPoint(deviceID, event string, details map[string]any, at time.Time) *write.Point {
	fields := make(map[string]any, len(details)+1)
	for k, v := range details {
		switch val := v.(type) {
		case string, bool, float64, float32, int, int64, uint64:
			fields[k] = val
		case time.Duration:
			fields[k] = val.Seconds()
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	// A point needs at least one field.
	fields["count"] = 1

	return write.NewPoint(
		MeasurementSchedulerEvent,
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		fields,
		at,
	)
}
