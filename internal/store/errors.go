package store

import "errors"

var (
	// ErrNotFound is returned when a document has never been saved.
	ErrNotFound = errors.New("store: document not found")

	// ErrInvalidKey is returned for keys outside [a-z0-9_-] path segments.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt document")
)
