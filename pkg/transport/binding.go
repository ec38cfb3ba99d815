package transport

// EventKind discriminates binding events.
type EventKind int

const (
	// EventReceived delivers one inbound frame.
	EventReceived EventKind = iota
	// EventClosed signals that the medium closed and no further events
	// will follow.
	EventClosed
	// EventError signals a medium fault. The binding is unusable
	// afterwards; an EventClosed follows.
	EventError
)

// String returns the kind's name.
func (k EventKind) String() string {
	switch k {
	case EventReceived:
		return "received"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single occurrence on a binding: an inbound frame or a change
// of medium status.
type Event struct {
	Kind EventKind
	Data []byte // set for EventReceived
	Err  error  // set for EventError
}

// Binding moves opaque octet frames across one physical or logical medium.
// Exactly one consumer owns a binding at a time; the connection engine's
// run loop is the sole reader of Events and the sole caller of Send.
//
// Start begins the receive loop. Events is closed after the final
// EventClosed. Close is idempotent.
type Binding interface {
	Start() error
	Send(data []byte) error
	Events() <-chan Event
	Close() error
}

// eventBufferSize is the depth of a binding's event channel. Deep enough to
// absorb bursts while the consumer handles a previous event; the consumer
// is a dedicated loop, so sustained backpressure means it is gone.
const eventBufferSize = 32
