// Package transport sends control commands to displays through an
// external tool.
//
// Two adapters exist, selected by Kind:
//
//   - ADB runs "adb -s <addr>:5555 shell input keyevent ..." and also
//     supports media push/playback and the countdown overlay.
//   - CEC pipes "tx <header>:<bytes>" into "cec-client -s -d 1" and can
//     query power status.
//
// Each adapter owns a fixed command table; unknown names fail Resolve with
// ErrInvalidCommand before any process is started. Send returns a typed
// Outcome instead of an error: success, timeout, process_failure, or
// unavailable when the tool is not installed.
package transport
