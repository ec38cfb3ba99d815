// Package secure implements the KNX IP Secure session layer. A Session
// wraps a plain datagram binding: it runs the Curve25519 handshake, then
// encrypts every outbound KNXnet/IP datagram into a secure wrapper and
// decrypts inbound wrappers, so a tunneling connection on top never sees
// the encryption.
package secure

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/qgb1151521/calimero-core/pkg/knxnet"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// Defaults for the session configuration.
const (
	// DefaultUserID is the authenticated user. User 1 is the management
	// user; tunneling users start at 2.
	DefaultUserID = 2

	// DefaultHandshakeTimeout bounds the session handshake.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultKeepAliveInterval keeps an idle session alive. Servers drop
	// sessions after 60 seconds without traffic.
	DefaultKeepAliveInterval = 55 * time.Second
)

var (
	// ErrHandshakeTimeout is returned when the server does not complete
	// the session handshake in time.
	ErrHandshakeTimeout = errors.New("secure: handshake timeout")

	// ErrAuthRejected is returned when the server refuses the
	// authentication.
	ErrAuthRejected = errors.New("secure: authentication rejected")

	// ErrReplay is returned for a wrapper whose sequence number does not
	// advance.
	ErrReplay = errors.New("secure: sequence number reused")

	// ErrSessionMismatch is returned for a wrapper carrying a foreign
	// session identifier.
	ErrSessionMismatch = errors.New("secure: wrong session identifier")
)

// Config configures a secure session.
type Config struct {
	// UserKey authenticates the user, derived with UserKey from the user
	// password. Required, 16 octets.
	UserKey []byte

	// DeviceAuthKey verifies the server, derived with DeviceAuthKey from
	// the device authentication code. Required, 16 octets.
	DeviceAuthKey []byte

	// UserID selects the user to authenticate as, default DefaultUserID.
	UserID uint8

	// Serial is the client's KNX serial number, sent in every wrapper.
	Serial [6]byte

	// HandshakeTimeout bounds the handshake, default
	// DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is the idle keep-alive period, default
	// DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration

	// LoggerFactory creates the session's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.UserID == 0 {
		c.UserID = DefaultUserID
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
}

// Session is a secure binding layered over a plain one. It satisfies
// transport.Binding; Start blocks until the session is authenticated.
type Session struct {
	inner  transport.Binding
	config Config
	log    logging.LeveledLogger

	events chan transport.Event
	stop   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	closed     bool
	forwarding bool
	sessionID  uint16
	key        []byte
	sendSeq    uint64
	recvSeq    uint64
	haveRecv   bool
}

// NewSession creates a secure session over the given binding.
func NewSession(inner transport.Binding, config Config) (*Session, error) {
	if len(config.UserKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(config.DeviceAuthKey) != KeySize {
		return nil, ErrInvalidKeySize
	}
	config.applyDefaults()

	s := &Session{
		inner:  inner,
		config: config,
		events: make(chan transport.Event, 32),
		stop:   make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("secure")
	}
	return s, nil
}

// Start starts the inner binding and runs the session handshake. It
// returns once the server accepted the authentication.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return transport.ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if err := s.inner.Start(); err != nil {
		return err
	}
	if err := s.handshake(); err != nil {
		s.inner.Close()
		return err
	}

	s.mu.Lock()
	s.forwarding = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.forward()
	go s.keepAlive()
	return nil
}

// Send encrypts one datagram into a secure wrapper and sends it.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if s.key == nil {
		s.mu.Unlock()
		return transport.ErrNotStarted
	}
	packet, err := s.wrapLocked(data)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Send(packet)
}

// Events returns the event channel carrying decrypted datagrams.
func (s *Session) Events() <-chan transport.Event {
	return s.events
}

// LocalAddr exposes the inner binding's local address when it has one.
func (s *Session) LocalAddr() net.Addr {
	if inner, ok := s.inner.(interface{ LocalAddr() net.Addr }); ok {
		return inner.LocalAddr()
	}
	return nil
}

// Close notifies the server and closes the inner binding.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	forwarding := s.forwarding
	var packet []byte
	if forwarding {
		packet, _ = s.wrapLocked(knxnet.Pack(&knxnet.SessionStatus{Status: knxnet.StatusClose}))
	}
	s.mu.Unlock()

	if packet != nil {
		s.inner.Send(packet)
	}
	close(s.stop)
	err := s.inner.Close()
	s.wg.Wait()
	if !forwarding {
		// No forward goroutine ran, nothing closed the event channel.
		close(s.events)
	}
	return err
}

// handshake runs the session request, authenticate and status exchange.
// It is the sole reader of the inner event channel until it returns.
func (s *Session) handshake() error {
	kp, err := generateKeyPair()
	if err != nil {
		return err
	}

	request := &knxnet.SessionRequest{Control: knxnet.HPAI{Proto: knxnet.ProtoUDP}}
	request.PublicKey = kp.public
	if err := s.inner.Send(knxnet.Pack(request)); err != nil {
		return err
	}

	deadline := time.After(s.config.HandshakeTimeout)

	response, err := s.awaitResponse(deadline)
	if err != nil {
		return err
	}

	key, err := kp.sessionKey(response.PublicKey)
	if err != nil {
		return err
	}
	pubXor := xorPublic(kp.public, response.PublicKey)

	mac, err := handshakeMAC(s.config.DeviceAuthKey, responseMACInput(response.SessionID, pubXor))
	if err != nil {
		return err
	}
	if mac != response.MAC {
		return ErrAuthFailed
	}

	s.mu.Lock()
	s.sessionID = response.SessionID
	s.key = key
	s.mu.Unlock()

	auth := &knxnet.SessionAuthenticate{UserID: s.config.UserID}
	auth.MAC, err = handshakeMAC(s.config.UserKey, authenticateMACInput(s.config.UserID, pubXor))
	if err != nil {
		return err
	}

	s.mu.Lock()
	packet, err := s.wrapLocked(knxnet.Pack(auth))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.inner.Send(packet); err != nil {
		return err
	}

	return s.awaitAuthStatus(deadline)
}

func (s *Session) awaitResponse(deadline <-chan time.Time) (*knxnet.SessionResponse, error) {
	for {
		select {
		case <-deadline:
			return nil, ErrHandshakeTimeout

		case ev, ok := <-s.inner.Events():
			if !ok {
				return nil, transport.ErrClosed
			}
			if ev.Kind == transport.EventError {
				return nil, ev.Err
			}
			if ev.Kind != transport.EventReceived {
				continue
			}

			svc, err := knxnet.Unpack(ev.Data)
			if err != nil {
				continue
			}
			switch svc := svc.(type) {
			case *knxnet.SessionResponse:
				return svc, nil
			case *knxnet.SessionStatus:
				return nil, fmt.Errorf("secure: handshake refused: %v", svc.Status)
			}
		}
	}
}

func (s *Session) awaitAuthStatus(deadline <-chan time.Time) error {
	for {
		select {
		case <-deadline:
			return ErrHandshakeTimeout

		case ev, ok := <-s.inner.Events():
			if !ok {
				return transport.ErrClosed
			}
			if ev.Kind == transport.EventError {
				return ev.Err
			}
			if ev.Kind != transport.EventReceived {
				continue
			}

			svc, err := knxnet.Unpack(ev.Data)
			if err != nil {
				continue
			}

			// The status answering the authentication arrives wrapped.
			var status *knxnet.SessionStatus
			switch svc := svc.(type) {
			case *knxnet.SecureWrapper:
				plain, err := s.unwrap(svc)
				if err != nil {
					return err
				}
				inner, err := knxnet.Unpack(plain)
				if err != nil {
					continue
				}
				status, _ = inner.(*knxnet.SessionStatus)
			case *knxnet.SessionStatus:
				status = svc
			}
			if status == nil {
				continue
			}

			if status.Status != knxnet.StatusAuthSuccess {
				return fmt.Errorf("%w: %v", ErrAuthRejected, status.Status)
			}
			return nil
		}
	}
}

// forward decrypts inbound wrappers and republishes them as plain events.
func (s *Session) forward() {
	defer s.wg.Done()
	defer close(s.events)

	for ev := range s.inner.Events() {
		switch ev.Kind {
		case transport.EventError, transport.EventClosed:
			s.emit(ev)
			continue
		}

		svc, err := knxnet.Unpack(ev.Data)
		if err != nil {
			if s.log != nil {
				s.log.Debugf("dropping datagram: %v", err)
			}
			continue
		}
		wrapper, ok := svc.(*knxnet.SecureWrapper)
		if !ok {
			if s.log != nil {
				s.log.Debugf("dropping unwrapped %v", svc.Service())
			}
			continue
		}

		plain, err := s.unwrap(wrapper)
		if err != nil {
			if s.log != nil {
				s.log.Warnf("dropping wrapper: %v", err)
			}
			continue
		}

		if inner, err := knxnet.Unpack(plain); err == nil {
			if status, ok := inner.(*knxnet.SessionStatus); ok {
				s.handleStatus(status)
				continue
			}
		}
		s.emit(transport.Event{Kind: transport.EventReceived, Data: plain})
	}
}

func (s *Session) handleStatus(status *knxnet.SessionStatus) {
	switch status.Status {
	case knxnet.StatusKeepAlive:
		// Server acknowledged a keep-alive.
	case knxnet.StatusClose, knxnet.StatusTimeout, knxnet.StatusUnauthenticated:
		if s.log != nil {
			s.log.Infof("session ended by server: %v", status.Status)
		}
		s.emit(transport.Event{Kind: transport.EventError, Err: fmt.Errorf("secure: session ended: %v", status.Status)})
		s.inner.Close()
	}
}

// keepAlive sends a wrapped status frame on an idle interval so the server
// does not expire the session.
func (s *Session) keepAlive() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Send(knxnet.Pack(&knxnet.SessionStatus{Status: knxnet.StatusKeepAlive})); err != nil {
				return
			}
		}
	}
}

func (s *Session) emit(ev transport.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// wrapLocked encrypts one datagram into a packed secure wrapper. The
// caller holds s.mu.
func (s *Session) wrapLocked(data []byte) ([]byte, error) {
	var seq [6]byte
	putSeq(seq[:], s.sendSeq)
	s.sendSeq++

	total := knxnet.HeaderSize + secureWrapperOverhead + len(data)
	aad := wrapperAAD(s.sessionID, total)

	ciphertext, err := sealFrame(s.key, seq, s.config.Serial, 0, aad, data)
	if err != nil {
		return nil, err
	}
	return knxnet.Pack(&knxnet.SecureWrapper{
		SessionID:  s.sessionID,
		Seq:        seq,
		Serial:     s.config.Serial,
		Ciphertext: ciphertext,
	}), nil
}

// unwrap decrypts one wrapper and enforces the monotonic sequence number.
func (s *Session) unwrap(w *knxnet.SecureWrapper) ([]byte, error) {
	s.mu.Lock()
	key := s.key
	sessionID := s.sessionID
	s.mu.Unlock()

	if w.SessionID != sessionID {
		return nil, ErrSessionMismatch
	}

	total := knxnet.HeaderSize + secureWrapperFixedSize + len(w.Ciphertext)
	aad := wrapperAAD(w.SessionID, total)

	plain, err := openFrame(key, w.Seq, w.Serial, w.Tag, aad, w.Ciphertext)
	if err != nil {
		return nil, err
	}

	seq := binary.BigEndian.Uint64(append([]byte{0, 0}, w.Seq[:]...))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRecv && seq <= s.recvSeq {
		return nil, ErrReplay
	}
	s.recvSeq = seq
	s.haveRecv = true
	return plain, nil
}

// secureWrapperFixedSize is the wrapper body before the ciphertext:
// session identifier, sequence information, serial and tag.
const secureWrapperFixedSize = 16

// secureWrapperOverhead is the wrapper body size beyond the enclosed
// datagram.
const secureWrapperOverhead = secureWrapperFixedSize + macSize

// wrapperAAD is the associated data of a wrapper MAC: the wrapper's own
// KNXnet/IP header plus the session identifier.
func wrapperAAD(sessionID uint16, totalLength int) []byte {
	aad := make([]byte, knxnet.HeaderSize+2)
	aad[0] = knxnet.HeaderSize
	aad[1] = knxnet.ProtocolVersion
	binary.BigEndian.PutUint16(aad[2:4], uint16(knxnet.SecureWrapperService))
	binary.BigEndian.PutUint16(aad[4:6], uint16(totalLength))
	binary.BigEndian.PutUint16(aad[6:8], sessionID)
	return aad
}

// responseMACInput is the MAC input of a session response: its header,
// the session identifier and the XOR of both public values.
func responseMACInput(sessionID uint16, pubXor []byte) []byte {
	total := knxnet.HeaderSize + 2 + knxnet.PublicKeySize + knxnet.MACSize
	input := make([]byte, knxnet.HeaderSize+2, knxnet.HeaderSize+2+len(pubXor))
	input[0] = knxnet.HeaderSize
	input[1] = knxnet.ProtocolVersion
	binary.BigEndian.PutUint16(input[2:4], uint16(knxnet.SessionResponseService))
	binary.BigEndian.PutUint16(input[4:6], uint16(total))
	binary.BigEndian.PutUint16(input[6:8], sessionID)
	return append(input, pubXor...)
}

// authenticateMACInput is the MAC input of a session authenticate: its
// header, the reserved octet, the user and the XOR of both public values.
func authenticateMACInput(userID uint8, pubXor []byte) []byte {
	total := knxnet.HeaderSize + 2 + knxnet.MACSize
	input := make([]byte, knxnet.HeaderSize+2, knxnet.HeaderSize+2+len(pubXor))
	input[0] = knxnet.HeaderSize
	input[1] = knxnet.ProtocolVersion
	binary.BigEndian.PutUint16(input[2:4], uint16(knxnet.SessionAuthenticateService))
	binary.BigEndian.PutUint16(input[4:6], uint16(total))
	input[6] = 0x00
	input[7] = userID
	return append(input, pubXor...)
}

// putSeq encodes a 48-bit sequence number big-endian.
func putSeq(dst []byte, seq uint64) {
	for i := 5; i >= 0; i-- {
		dst[i] = byte(seq)
		seq >>= 8
	}
}
