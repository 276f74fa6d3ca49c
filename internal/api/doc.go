// Package api implements the operator HTTP API and WebSocket relay for the
// field unit hub.
//
// This package provides:
//   - REST endpoints for discovered, registered and known field units
//   - Trust decisions and on-demand scans
//   - Command submission and queue inspection for the duty-cycle scheduler
//   - A WebSocket hub relaying bus events (discovery, registration,
//     scheduler diagnostics and telemetry)
//   - JWT bearer authentication with ticket-based WebSocket auth
//
// # Security
//
// Every route except /health, /metrics and the WebSocket upgrade requires an
// operator token (see "fieldlink token"). Viewers may read; operators may
// also trust devices, trigger scans and send commands. WebSocket clients
// exchange their token for a single-use ticket so it never appears in a URL.
//
// # Graceful Degradation
//
// The server runs without MQTT: bus events still reach WebSocket clients
// through the in-process bus, and commands still reach the radio.
package api
