package pipeline

import "errors"

var (
	// ErrAlreadyRunning is returned when starting a component twice
	ErrAlreadyRunning = errors.New("already running")
	// ErrEndOfStream signals that a finite source has no more frames
	ErrEndOfStream = errors.New("end of stream")
	// ErrMalformedFrame marks a captured frame that cannot be used
	ErrMalformedFrame = errors.New("malformed frame")
)
