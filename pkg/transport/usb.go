package transport

import (
	"sync"

	"github.com/karalabe/hid"
	"github.com/pion/logging"
)

// HIDDevice is the slice of a HID device handle this binding needs.
// *hid.Device satisfies it; tests substitute an in-memory fake.
type HIDDevice interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// USBConfig configures the KNX USB binding.
type USBConfig struct {
	// VendorID/ProductID select the interface device. Zero values match
	// the first KNX USB interface found.
	VendorID  uint16
	ProductID uint16

	// Device injects an open HID device, used by tests.
	Device HIDDevice

	// LoggerFactory creates the binding's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// USB is the binding for KNX USB interfaces. The medium is message
// oriented, so no byte-level framing is needed, but cEMI frames larger
// than one HID report arrive segmented and are reassembled here.
type USB struct {
	device HIDDevice
	events chan Event
	wg     sync.WaitGroup
	log    logging.LeveledLogger

	mu      sync.Mutex
	writeMu sync.Mutex
	started bool
	closed  bool
}

// NewUSB opens the HID device.
func NewUSB(config USBConfig) (*USB, error) {
	u := &USB{
		device: config.Device,
		events: make(chan Event, eventBufferSize),
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-usb")
	}

	if u.device == nil {
		infos := hid.Enumerate(config.VendorID, config.ProductID)
		if len(infos) == 0 {
			return nil, ErrNoDevice
		}
		device, err := infos[0].Open()
		if err != nil {
			return nil, err
		}
		u.device = device
		if u.log != nil {
			u.log.Infof("opened KNX USB interface %04x:%04x", infos[0].VendorID, infos[0].ProductID)
		}
	}

	return u, nil
}

// Start begins the report read loop.
func (u *USB) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if u.started {
		return ErrAlreadyStarted
	}
	u.started = true

	u.wg.Add(1)
	go u.readLoop()
	return nil
}

// Send segments one cEMI frame into HID reports and writes them in order.
func (u *USB) Send(data []byte) error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.mu.Unlock()

	reports, err := packReports(data)
	if err != nil {
		return err
	}

	// Reports of one frame must not interleave with another send.
	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	for _, report := range reports {
		if _, err := u.device.Write(report); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the event channel. It is closed after EventClosed.
func (u *USB) Events() <-chan Event {
	return u.events
}

// Close shuts the device down and waits for the read loop to drain.
func (u *USB) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	started := u.started
	u.mu.Unlock()

	err := u.device.Close()

	if started {
		u.wg.Wait()
	} else {
		u.deliver(Event{Kind: EventClosed})
		close(u.events)
	}
	return err
}

func (u *USB) readLoop() {
	defer u.wg.Done()
	defer func() {
		u.deliver(Event{Kind: EventClosed})
		close(u.events)
	}()

	var assembler reportAssembler
	buf := make([]byte, hidReportSize)

	for {
		n, err := u.device.Read(buf)
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

		frame, err := assembler.feed(buf[:n])
		if err != nil {
			// A bad report drops at most one partial frame, never the link.
			if u.log != nil {
				u.log.Warnf("discarding HID report: %v", err)
			}
			continue
		}
		if frame == nil {
			continue
		}

		u.deliver(Event{Kind: EventReceived, Data: frame})
	}
}

func (u *USB) deliver(ev Event) {
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
