package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// MaxDatagramSize bounds a single KNXnet/IP datagram. The protocol caps the
// total length at 16 bits; real frames stay far below typical MTUs.
const MaxDatagramSize = 1432

// UDPConfig configures the point-to-point UDP binding used for tunneling.
type UDPConfig struct {
	// RemoteAddr is the server's control endpoint, e.g. "192.168.1.10:3671".
	// Required unless Conn and Remote are injected.
	RemoteAddr string

	// ListenAddr is the local address to bind, default ":0" (ephemeral).
	ListenAddr string

	// Conn is an optional pre-existing packet connection, used by tests to
	// substitute an in-memory pair.
	Conn net.PacketConn

	// Remote overrides the resolved remote address when Conn is injected.
	Remote net.Addr

	// LoggerFactory creates the binding's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// UDP is the unicast datagram binding for KNXnet/IP tunneling. One binding
// speaks to exactly one server endpoint for the lifetime of a connection.
type UDP struct {
	conn   net.PacketConn
	remote net.Addr
	events chan Event
	wg     sync.WaitGroup
	log    logging.LeveledLogger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewUDP creates the binding and opens the local socket.
func NewUDP(config UDPConfig) (*UDP, error) {
	u := &UDP{
		conn:   config.Conn,
		remote: config.Remote,
		events: make(chan Event, eventBufferSize),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.remote == nil {
		if config.RemoteAddr == "" {
			return nil, ErrInvalidAddress
		}
		remote, err := net.ResolveUDPAddr("udp4", config.RemoteAddr)
		if err != nil {
			return nil, err
		}
		u.remote = remote
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp4", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// LocalAddr returns the bound local address, used to build the HPAI
// announced in connection requests.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// RemoteAddr returns the server endpoint.
func (u *UDP) RemoteAddr() net.Addr {
	return u.remote
}

// Start begins the receive loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.started {
		return ErrAlreadyStarted
	}
	u.started = true

	if u.log != nil {
		u.log.Infof("starting UDP binding %s -> %s", u.conn.LocalAddr(), u.remote)
	}

	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Send transmits one datagram to the server endpoint.
func (u *UDP) Send(data []byte) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.mu.Unlock()

	if len(data) > MaxDatagramSize {
		return ErrFrameTooLarge
	}

	_, err := u.conn.WriteTo(data, u.remote)
	if err != nil {
		if u.log != nil {
			u.log.Warnf("send failed: %v", err)
		}
		return err
	}
	return nil
}

// Events returns the event channel. It is closed after EventClosed.
func (u *UDP) Events() <-chan Event {
	return u.events
}

// Close shuts the socket down and waits for the receive loop to drain.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	started := u.started
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("closing UDP binding")
	}

	u.conn.SetReadDeadline(time.Now())
	err := u.conn.Close()

	if started {
		u.wg.Wait()
	} else {
		u.deliver(Event{Kind: EventClosed})
		close(u.events)
	}
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()
	defer func() {
		u.deliver(Event{Kind: EventClosed})
		close(u.events)
	}()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			u.mu.Lock()
			closed := u.closed
			u.mu.Unlock()
			if closed {
				return
			}
			if u.log != nil {
				u.log.Errorf("read error: %v", err)
			}
			u.deliver(Event{Kind: EventError, Err: err})
			return
		}
		if n == 0 {
			continue
		}

		// The server may answer from a separate data endpoint port, so no
		// source filtering beyond logging.
		if u.log != nil {
			u.log.Debugf("received %d bytes from %v", n, addr)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		u.deliver(Event{Kind: EventReceived, Data: data})
	}
}

// deliver enqueues an event, dropping the oldest pending one if the
// consumer has stalled. The consumer is a dedicated loop; dropping beats
// blocking the socket reader.
func (u *UDP) deliver(ev Event) {
	select {
	case u.events <- ev:
	default:
		select {
		case <-u.events:
		default:
		}
		u.events <- ev
		if u.log != nil {
			u.log.Warn("event queue overflow, dropped oldest frame")
		}
	}
}
