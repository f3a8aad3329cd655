package process

import "errors"

var (
	// ErrBinaryNotFound is returned when the executable is not on PATH or
	// not executable. No process was started.
	ErrBinaryNotFound = errors.New("process: binary not found")

	// ErrTimeout is returned when the run exceeded its deadline and the
	// process group was killed.
	ErrTimeout = errors.New("process: timed out")

	// ErrExitStatus is returned when the process exited non-zero.
	ErrExitStatus = errors.New("process: non-zero exit")

	// ErrInvalidRequest is returned for a request without a binary.
	ErrInvalidRequest = errors.New("process: invalid request")
)
