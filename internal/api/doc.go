// Package api implements the HTTP API and WebSocket server of one fleet
// backend.
//
// Each backend (ADB or CEC) runs its own Server on its own port with the
// same routes:
//   - /devices for registering, editing, removing and listing displays
//   - /command for immediate, batch and delayed commands
//   - /scan for network discovery
//   - /media/{address} and /overlay for ADB-only media and overlays
//   - /ws for live registry, outcome and scan events
//
// Errors are JSON objects with status, code and message. Validation
// problems, conflicts and unknown commands are 400; a missing device or
// timer is 404; a command that reached the device and failed is 500 with
// code transport_failure.
package api
