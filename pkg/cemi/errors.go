package cemi

import "fmt"

// DecodeErrorKind categorizes frame decode failures so callers can pick the
// right recovery: wait for more bytes, drop the frame, or skip an unknown
// message code without tearing down the connection.
type DecodeErrorKind int

const (
	// Truncated means the buffer ended before the declared frame did.
	// Only meaningful on stream transports where more bytes may follow.
	Truncated DecodeErrorKind = iota

	// Malformed means the frame is structurally invalid and must be
	// discarded.
	Malformed

	// UnsupportedMessageCode means the message code is not recognized.
	// Forward compatible: discard the frame and continue.
	UnsupportedMessageCode
)

// String returns the kind's name.
func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case Malformed:
		return "malformed"
	case UnsupportedMessageCode:
		return "unsupported message code"
	default:
		return "unknown"
	}
}

// DecodeError describes a failure to decode wire octets into a Frame.
type DecodeError struct {
	Kind   DecodeErrorKind
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("cemi: %s frame", e.Kind)
	}
	return fmt.Sprintf("cemi: %s frame: %s", e.Kind, e.Detail)
}

func errTruncated(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: Truncated, Detail: fmt.Sprintf(format, args...)}
}

func errMalformed(format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: Malformed, Detail: fmt.Sprintf(format, args...)}
}

// IsDecodeError reports whether err is a DecodeError of the given kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Kind == kind
}
