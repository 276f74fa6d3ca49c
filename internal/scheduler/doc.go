// Package scheduler releases outbound commands to field units according to
// each device's duty cycle.
//
// Field units sleep most of the time and only listen for commands during a
// short window they announce in their telemetry ({mode, cmd_in, cmd_dur}).
// Commands are queued per device, highest priority first and FIFO within a
// priority, and drained as one batch whenever a telemetry report says the
// window is open. Expired commands are swept before each batch and never
// sent. Critical commands skip the queue and go out immediately.
//
// Every device is served by its own actor goroutine, so one device's batch
// never blocks another's. Diagnostic events are published on the
// "scheduler_event" topic as {event, device_id, timestamp, ...details}.
package scheduler
