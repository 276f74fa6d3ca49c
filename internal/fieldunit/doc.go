// Package fieldunit discovers, registers and listens to low-power radio
// field units.
//
// A Manager owns the radio adapter. It scans periodically, records every
// sighting in the trust store and announces new untrusted devices on the
// bus so an operator can decide whether to trust them. Trusted devices are
// registered through a handshake:
//
//	connect → discover services → locate characteristics → subscribe
//	→ send capabilities request → await reply
//
// Once subscribed, a listener goroutine owns the telemetry stream for the
// lifetime of the process. It reassembles chunked notifications into JSON
// documents, completes registration when the capabilities reply arrives and
// republishes telemetry on the device's own bus topic. When the link drops
// the listener reconnects after a fixed delay, indefinitely.
//
// Discovered, registering and registered devices share one arena keyed by
// address, so the views returned by DiscoveredDevices and RegisteredDevices
// are always consistent.
package fieldunit
