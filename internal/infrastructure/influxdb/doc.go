// Package influxdb stores field unit history in InfluxDB.
//
// Two measurements are written:
//   - fieldunit_telemetry: one point per telemetry document, tagged by
//     device_id, with each sensor value as a field
//   - fieldunit_scheduler_event: one point per command scheduler event,
//     tagged by device_id and event
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// The client satisfies fieldunit.TelemetryRecorder and
// scheduler.EventRecorder and is passed to both at startup.
//
// Writes are batched (batch_size, flush_interval) and never block the
// caller; failures are reported through SetOnError.
package influxdb
