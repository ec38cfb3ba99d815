package transport

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"
	"go.bug.st/serial"
)

// SerialConfig configures the FT1.2 serial binding.
type SerialConfig struct {
	// Device is the serial device path, e.g. "/dev/ttyAMA0".
	Device string

	// BaudRate defaults to 19200, the FT1.2 standard rate.
	BaudRate int

	// AckTimeout is how long to wait for the interface's link-level
	// acknowledge before repeating a frame. Default 50ms.
	AckTimeout time.Duration

	// SendRetries is the number of repeats after a missing acknowledge.
	// Default 3.
	SendRetries int

	// Port injects an open port, used by tests. When set, Device and
	// BaudRate are ignored.
	Port io.ReadWriteCloser

	// LoggerFactory creates the binding's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

func (c *SerialConfig) applyDefaults() {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 50 * time.Millisecond
	}
	if c.SendRetries == 0 {
		c.SendRetries = 3
	}
}

// Serial is the FT1.2 binding for serial cEMI interfaces. The FT1.2 frame
// count bit, checksumming, link acknowledges and stream resynchronization
// all live here; the layer above sees plain cEMI frames.
type Serial struct {
	config SerialConfig
	port   io.ReadWriteCloser
	events chan Event
	ackCh  chan struct{}
	wg     sync.WaitGroup
	log    logging.LeveledLogger

	mu            sync.Mutex
	started       bool
	closed        bool
	frameCountBit bool
	writeMu       sync.Mutex
}

// NewSerial opens the serial device in 8E1 mode at the configured rate.
func NewSerial(config SerialConfig) (*Serial, error) {
	config.applyDefaults()

	s := &Serial{
		config: config,
		port:   config.Port,
		events: make(chan Event, eventBufferSize),
		ackCh:  make(chan struct{}, 1),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-serial")
	}

	if s.port == nil {
		if config.Device == "" {
			return nil, ErrNoDevice
		}
		port, err := serial.Open(config.Device, &serial.Mode{
			BaudRate: config.BaudRate,
			DataBits: 8,
			Parity:   serial.EvenParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, err
		}
		s.port = port
	}

	return s, nil
}

// Start resets the remote link and begins the receive loop.
func (s *Serial) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	if s.log != nil {
		s.log.Infof("starting FT1.2 binding on %s", s.config.Device)
	}

	if _, err := s.port.Write(encodeFT12Reset()); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Send transmits one cEMI frame inside an FT1.2 variable frame and waits
// for the interface's link acknowledge, repeating up to the configured
// retry count. The frame count bit only toggles on a confirmed exchange.
func (s *Serial) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	fcb := s.frameCountBit
	s.mu.Unlock()

	frame, err := encodeFT12(data, fcb)
	if err != nil {
		return err
	}

	// Serialize senders so acknowledge pairing stays unambiguous.
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Drop a stale acknowledge from a previous timed-out exchange.
	select {
	case <-s.ackCh:
	default:
	}

	for attempt := 0; attempt <= s.config.SendRetries; attempt++ {
		if attempt > 0 && s.log != nil {
			s.log.Debugf("repeating FT1.2 frame, attempt %d", attempt+1)
		}
		if _, err := s.port.Write(frame); err != nil {
			return err
		}

		timer := time.NewTimer(s.config.AckTimeout)
		select {
		case <-s.ackCh:
			timer.Stop()
			s.mu.Lock()
			s.frameCountBit = !s.frameCountBit
			s.mu.Unlock()
			return nil
		case <-timer.C:
		}
	}

	return ErrLinkAckTimeout
}

// Events returns the event channel. It is closed after EventClosed.
func (s *Serial) Events() <-chan Event {
	return s.events
}

// Close shuts the port down and waits for the receive loop to drain.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	err := s.port.Close()

	if started {
		s.wg.Wait()
	} else {
		s.deliver(Event{Kind: EventClosed})
		close(s.events)
	}
	return err
}

func (s *Serial) readLoop() {
	defer s.wg.Done()
	defer func() {
		s.deliver(Event{Kind: EventClosed})
		close(s.events)
	}()

	r := bufio.NewReader(s.port)
	for {
		tok, err := readFT12Token(r)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if s.log != nil {
				s.log.Errorf("read error: %v", err)
			}
			s.deliver(Event{Kind: EventError, Err: err})
			return
		}

		switch {
		case tok.ack:
			select {
			case s.ackCh <- struct{}{}:
			default:
			}

		case tok.reset:
			if s.log != nil {
				s.log.Debug("received FT1.2 reset/fixed frame")
			}
			s.writeAck()

		default:
			// User data from the interface: acknowledge at the link level,
			// then hand the cEMI payload upward.
			s.writeAck()
			s.deliver(Event{Kind: EventReceived, Data: tok.payload})
		}
	}
}

func (s *Serial) writeAck() {
	if _, err := s.port.Write([]byte{ft12Ack}); err != nil && s.log != nil {
		s.log.Warnf("writing FT1.2 acknowledge: %v", err)
	}
}

func (s *Serial) deliver(ev Event) {
	select {
	case s.events <- ev:
	default:
		select {
		case <-s.events:
		default:
		}
		s.events <- ev
		if s.log != nil {
			s.log.Warn("event queue overflow, dropped oldest frame")
		}
	}
}
