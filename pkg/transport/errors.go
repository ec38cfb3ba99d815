package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed binding.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNotStarted is returned when an operation requires a started binding.
	ErrNotStarted = errors.New("transport: not started")

	// ErrInvalidAddress is returned for an unusable remote endpoint.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrFrameTooLarge is returned when a frame exceeds the medium's limit.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrLinkAckTimeout is returned by serial Send when the interface never
	// confirmed the frame at the FT1.2 link level.
	ErrLinkAckTimeout = errors.New("transport: FT1.2 acknowledge timeout")

	// ErrNoDevice is returned when no matching serial or USB device exists.
	ErrNoDevice = errors.New("transport: no such device")
)
