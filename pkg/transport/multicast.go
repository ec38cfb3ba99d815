package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/net/ipv4"
)

// MulticastConfig configures the multicast binding used for KNXnet/IP
// routing and discovery.
type MulticastConfig struct {
	// GroupAddr is the multicast group, default "224.0.23.12:3671".
	GroupAddr string

	// Interface restricts the binding to one network interface. Nil lets
	// the kernel choose.
	Interface *net.Interface

	// Loopback controls whether the socket sees its own sends. Off by
	// default; the routing link would otherwise receive every frame it
	// multicasts.
	Loopback bool

	// HopLimit is the multicast TTL, default 16 per the routing standard.
	HopLimit int

	// LoggerFactory creates the binding's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Multicast is the connectionless datagram binding for KNXnet/IP routing.
// Every send goes to the group; every group datagram (from any router) is
// delivered upward.
type Multicast struct {
	conn   *ipv4.PacketConn
	base   net.PacketConn
	group  *net.UDPAddr
	events chan Event
	wg     sync.WaitGroup
	log    logging.LeveledLogger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewMulticast joins the routing multicast group.
func NewMulticast(config MulticastConfig) (*Multicast, error) {
	groupAddr := config.GroupAddr
	if groupAddr == "" {
		groupAddr = "224.0.23.12:3671"
	}
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, err
	}

	m := &Multicast{
		group:  group,
		events: make(chan Event, eventBufferSize),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("transport-mcast")
	}

	base, err := net.ListenPacket("udp4", groupAddr)
	if err != nil {
		return nil, err
	}
	m.base = base

	pc := ipv4.NewPacketConn(base)
	if err := pc.JoinGroup(config.Interface, &net.UDPAddr{IP: group.IP}); err != nil {
		base.Close()
		return nil, err
	}
	if err := pc.SetMulticastLoopback(config.Loopback); err != nil && m.log != nil {
		m.log.Warnf("setting multicast loopback: %v", err)
	}
	hops := config.HopLimit
	if hops == 0 {
		hops = 16
	}
	if err := pc.SetMulticastTTL(hops); err != nil && m.log != nil {
		m.log.Warnf("setting multicast TTL: %v", err)
	}
	if config.Interface != nil {
		if err := pc.SetMulticastInterface(config.Interface); err != nil {
			base.Close()
			return nil, err
		}
	}
	m.conn = pc

	return m, nil
}

// Group returns the multicast group endpoint.
func (m *Multicast) Group() *net.UDPAddr {
	return m.group
}

// Start begins the receive loop.
func (m *Multicast) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	if m.log != nil {
		m.log.Infof("joined multicast group %s", m.group)
	}

	m.wg.Add(1)
	go m.readLoop()
	return nil
}

// Send multicasts one datagram to the group.
func (m *Multicast) Send(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	if len(data) > MaxDatagramSize {
		return ErrFrameTooLarge
	}

	_, err := m.conn.WriteTo(data, nil, m.group)
	if err != nil && m.log != nil {
		m.log.Warnf("multicast send failed: %v", err)
	}
	return err
}

// Events returns the event channel. It is closed after EventClosed.
func (m *Multicast) Events() <-chan Event {
	return m.events
}

// Close leaves the group and shuts the socket down.
func (m *Multicast) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	m.conn.LeaveGroup(nil, &net.UDPAddr{IP: m.group.IP})
	m.base.SetReadDeadline(time.Now())
	err := m.base.Close()

	if started {
		m.wg.Wait()
	} else {
		m.deliver(Event{Kind: EventClosed})
		close(m.events)
	}
	return err
}

func (m *Multicast) readLoop() {
	defer m.wg.Done()
	defer func() {
		m.deliver(Event{Kind: EventClosed})
		close(m.events)
	}()

	buf := make([]byte, MaxDatagramSize)
	for {
		n, _, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			m.mu.Lock()
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			if m.log != nil {
				m.log.Errorf("read error: %v", err)
			}
			m.deliver(Event{Kind: EventError, Err: err})
			return
		}
		if n == 0 {
			continue
		}

		if m.log != nil {
			m.log.Debugf("received %d bytes from %v", n, addr)
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		m.deliver(Event{Kind: EventReceived, Data: data})
	}
}

func (m *Multicast) deliver(ev Event) {
	select {
	case m.events <- ev:
	default:
		select {
		case <-m.events:
		default:
		}
		m.events <- ev
		if m.log != nil {
			m.log.Warn("event queue overflow, dropped oldest frame")
		}
	}
}
