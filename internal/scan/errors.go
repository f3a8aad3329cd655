package scan

import "errors"

var (
	// ErrInvalidRange is returned for a malformed subnet or octet range.
	ErrInvalidRange = errors.New("scan: invalid range")

	// ErrRangeTooLarge is returned when a range spans more than MaxSpan.
	ErrRangeTooLarge = errors.New("scan: range too large")

	// ErrScanInProgress is returned when a sweep is already running.
	ErrScanInProgress = errors.New("scan: scan already in progress")

	// ErrNoResults is returned when no sweep has completed yet.
	ErrNoResults = errors.New("scan: no results")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scan: scanner closed")
)
