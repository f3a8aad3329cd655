package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no record exists for an address.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when an address is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when validation fails. ErrInvalidName and
	// ErrInvalidAddress are always wrapped together with it.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAddress is returned when an address is neither an IPv4
	// address nor a valid hostname.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrStaleUpdate is returned by ApplyHealth when the calling monitor task
	// has been retired or its address no longer exists.
	ErrStaleUpdate = errors.New("device: stale health update")
)
