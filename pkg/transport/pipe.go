package transport

import "sync"

// Pipe is an in-memory binding connected to a peer Pipe. It exists for
// deterministic tests of the connection engine without sockets or devices.
type Pipe struct {
	peer   *Pipe
	events chan Event

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewPipe creates a connected pair of in-memory bindings. Frames sent on
// one end arrive as EventReceived on the other.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{events: make(chan Event, eventBufferSize)}
	b := &Pipe{events: make(chan Event, eventBufferSize)}
	a.peer = b
	b.peer = a
	return a, b
}

// Start marks the binding as running.
func (p *Pipe) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	return nil
}

// Send delivers the frame to the peer end. Frames sent to a closed peer
// are silently dropped, mirroring datagram semantics.
func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	out := make([]byte, len(data))
	copy(out, data)
	p.peer.inject(Event{Kind: EventReceived, Data: out})
	return nil
}

// Events returns the event channel. It is closed after EventClosed.
func (p *Pipe) Events() <-chan Event {
	return p.events
}

// Close closes this end. The peer keeps running, like a remote socket
// that stops answering.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.events <- Event{Kind: EventClosed}
	close(p.events)
	return nil
}

// Fail injects a medium fault on this end, as if the device vanished.
func (p *Pipe) Fail(err error) {
	p.inject(Event{Kind: EventError, Err: err})
}

func (p *Pipe) inject(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
