package dispatch

import "errors"

var (
	// ErrNoAddresses is returned when a batch names no addresses.
	ErrNoAddresses = errors.New("dispatch: no addresses given")

	// ErrInvalidDelay is returned when a delay is not in (0, MaxDelay].
	ErrInvalidDelay = errors.New("dispatch: invalid delay")

	// ErrInvalidSeconds is returned when an overlay duration is not positive.
	ErrInvalidSeconds = errors.New("dispatch: invalid overlay duration")

	// ErrInvalidFilename is returned when an upload has no usable file name.
	ErrInvalidFilename = errors.New("dispatch: invalid file name")

	// ErrTimerNotFound is returned when cancelling an unknown or fired timer.
	ErrTimerNotFound = errors.New("dispatch: timer not found")

	// ErrTransferFailed is returned when copying media to a display fails.
	ErrTransferFailed = errors.New("dispatch: media transfer failed")

	// ErrPlaybackFailed is returned when media was copied but could not be opened.
	ErrPlaybackFailed = errors.New("dispatch: media playback failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)
