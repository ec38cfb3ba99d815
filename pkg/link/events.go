package link

import (
	"sync"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
)

// State is the connection state of a link.
type State int

// Connection states. Closed is terminal; a closed link is never reused.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateDisconnecting
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason says why a link reached the Closed state.
type CloseReason int

// Close reasons surfaced in LinkClosed events.
const (
	// ReasonLocalClose is a caller-initiated close.
	ReasonLocalClose CloseReason = iota
	// ReasonConnectFailed means the connect handshake timed out or was
	// refused by the server.
	ReasonConnectFailed
	// ReasonAckTimeout means a send exhausted its retransmissions without
	// an acknowledge.
	ReasonAckTimeout
	// ReasonHeartbeatLost means the server stopped answering connection
	// state probes.
	ReasonHeartbeatLost
	// ReasonProtocolViolation means the peer broke the sequence contract.
	ReasonProtocolViolation
	// ReasonMediumFault means the transport binding failed underneath the
	// connection.
	ReasonMediumFault
	// ReasonPeerClose means the server sent a disconnect request.
	ReasonPeerClose
)

// String returns the reason name.
func (r CloseReason) String() string {
	switch r {
	case ReasonLocalClose:
		return "local close"
	case ReasonConnectFailed:
		return "connect failed"
	case ReasonAckTimeout:
		return "acknowledge timeout"
	case ReasonHeartbeatLost:
		return "heartbeat lost"
	case ReasonProtocolViolation:
		return "protocol violation"
	case ReasonMediumFault:
		return "medium fault"
	case ReasonPeerClose:
		return "closed by peer"
	default:
		return "unknown"
	}
}

// Event is a link event delivered to subscribers. The concrete types are
// FrameReceived, FrameConfirmed, LinkDegraded and LinkClosed.
type Event interface {
	linkEvent()
}

// FrameReceived delivers one inbound application frame.
type FrameReceived struct {
	Frame *cemi.Frame
}

// FrameConfirmed reports that the send carrying the given sequence counter
// was acknowledged by the peer.
type FrameConfirmed struct {
	Seq uint8
}

// LinkDegraded reports a recoverable condition: the link stays usable but
// lost or delayed traffic.
type LinkDegraded struct {
	Reason string
}

// LinkClosed is the final event on a link. The subscriber channel is closed
// after its delivery.
type LinkClosed struct {
	Reason CloseReason
	Err    error // underlying cause, may be nil
}

func (FrameReceived) linkEvent()  {}
func (FrameConfirmed) linkEvent() {}
func (LinkDegraded) linkEvent()   {}
func (LinkClosed) linkEvent()     {}

// DefaultSubscriberBuffer is the event buffer per subscriber when the
// caller passes no explicit size.
const DefaultSubscriberBuffer = 32

// Subscription is one subscriber's event stream. Events arrive in wire
// order; the channel is closed after LinkClosed.
type Subscription struct {
	// C delivers the link's events.
	C <-chan Event

	c chan Event
}

// subscribers fans link events out to any number of subscriptions. The
// publishing side never blocks; a stalled subscriber loses its oldest
// undelivered event first.
type subscribers struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[*Subscription]struct{})}
}

func (s *subscribers) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	sub := &Subscription{c: make(chan Event, buffer)}
	sub.C = sub.c

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.c)
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

func (s *subscribers) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	close(sub.c)
}

func (s *subscribers) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.c <- ev:
		default:
			select {
			case <-sub.c:
			default:
			}
			sub.c <- ev
		}
	}
}

// closeAll delivers the final event to every subscriber and closes their
// channels. Later subscribe calls return an already-closed subscription.
func (s *subscribers) closeAll(final Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		select {
		case sub.c <- final:
		default:
			select {
			case <-sub.c:
			default:
			}
			sub.c <- final
		}
		close(sub.c)
		delete(s.subs, sub)
	}
}
