package transport

import "errors"

var (
	// ErrInvalidCommand is returned when a command name is not in the
	// adapter's command table.
	ErrInvalidCommand = errors.New("transport: invalid command")

	// ErrUnknownKind is returned for a backend kind other than adb or cec.
	ErrUnknownKind = errors.New("transport: unknown kind")

	// ErrUnsupported is returned when a backend lacks an optional capability.
	ErrUnsupported = errors.New("transport: operation not supported by backend")
)
