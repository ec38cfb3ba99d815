package link

import (
	"errors"
	"fmt"

	"github.com/qgb1151521/calimero-core/pkg/knxnet"
)

var (
	// ErrClosed is returned by operations on a closed link, and by sends
	// that were still waiting for an acknowledge when the link closed.
	ErrClosed = errors.New("link: closed")

	// ErrSendBusy is returned under SendReject when a send is already
	// awaiting its acknowledge.
	ErrSendBusy = errors.New("link: send already pending")

	// ErrQueueFull is returned under SendQueue when the send queue is at
	// capacity.
	ErrQueueFull = errors.New("link: send queue full")

	// ErrConnectTimeout is returned when the server never answers the
	// connection request within the configured attempts.
	ErrConnectTimeout = errors.New("link: connect timed out")
)

// ConnectError is returned when the server refuses a connection request.
type ConnectError struct {
	Status knxnet.Status
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("link: connect refused: %v", e.Status)
}
