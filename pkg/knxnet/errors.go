package knxnet

import (
	"errors"
	"fmt"
)

// Packet errors.
var (
	// ErrTruncated is returned when a datagram ends before its declared
	// length. On a datagram medium the packet is dropped; on a stream
	// medium the caller may wait for more bytes.
	ErrTruncated = errors.New("knxnet: truncated packet")

	// ErrMalformed is returned when a packet is structurally invalid and
	// must be discarded.
	ErrMalformed = errors.New("knxnet: malformed packet")
)

func errPacketTruncated(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTruncated, fmt.Sprintf(format, args...))
}

func errPacketMalformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// UnsupportedServiceError is returned by Unpack for service families this
// implementation does not handle. Receivers log and skip such packets;
// they are not a reason to drop a connection.
type UnsupportedServiceError struct {
	Type ServiceType
}

func (e *UnsupportedServiceError) Error() string {
	return fmt.Sprintf("knxnet: unsupported service %s", e.Type)
}

// Status is a KNXnet/IP error code carried in connect, connection-state and
// tunneling acknowledge responses.
type Status uint8

// Status codes (KNX Standard 03_08_01, Section 5.6).
const (
	StatusNoError           Status = 0x00
	StatusHostProtocolType  Status = 0x01
	StatusVersionNotSupport Status = 0x02
	StatusSequenceNumber    Status = 0x04
	StatusConnectionType    Status = 0x22
	StatusConnectionOption  Status = 0x23
	StatusNoMoreConnections Status = 0x24
	StatusDataConnection    Status = 0x26
	StatusKNXConnection     Status = 0x27
	StatusTunnelingLayer    Status = 0x29
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNoError:
		return "no error"
	case StatusHostProtocolType:
		return "unsupported host protocol"
	case StatusVersionNotSupport:
		return "unsupported protocol version"
	case StatusSequenceNumber:
		return "sequence number out of order"
	case StatusConnectionType:
		return "unsupported connection type"
	case StatusConnectionOption:
		return "unsupported connection option"
	case StatusNoMoreConnections:
		return "no more connections"
	case StatusDataConnection:
		return "data connection error"
	case StatusKNXConnection:
		return "KNX connection error"
	case StatusTunnelingLayer:
		return "unsupported tunneling layer"
	default:
		return fmt.Sprintf("status 0x%02X", uint8(s))
	}
}
