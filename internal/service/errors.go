package service

import "errors"

var (
	// ErrInvalidOptions is returned by New when a required option is missing.
	ErrInvalidOptions = errors.New("service: invalid options")

	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("service: stopped")

	// ErrInvalidCommandMessage is returned for an unreadable MQTT command payload.
	ErrInvalidCommandMessage = errors.New("service: invalid command message")
)
