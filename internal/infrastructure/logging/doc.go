// Package logging builds the slog-based logger every tvfleet component
// writes through. Entries carry the service name and build version, and
// backends add their own fields with With:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.With("backend", "cec").Info("monitor started", "devices", 4)
package logging
