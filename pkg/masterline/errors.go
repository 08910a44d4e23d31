package masterline

import "errors"

var (
	// ErrStreamNotFound means the stream ID is unknown or already closed.
	ErrStreamNotFound = errors.New("masterline: stream not found")

	// ErrClosed means the service has been shut down.
	ErrClosed = errors.New("masterline: service closed")
)
