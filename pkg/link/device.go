package link

import (
	"sync"

	"github.com/pion/logging"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// DeviceConfig configures a direct cEMI link over a serial or USB
// interface.
type DeviceConfig struct {
	// Params supplies the confirmation timeout (AckTimeout) and queue
	// bound; the other fields are unused on a direct link.
	Params Params

	// SendPolicy decides what Send does while a confirmation is
	// outstanding. Default SendBlock.
	SendPolicy SendPolicy

	// QueueSize bounds the send queue under SendQueue.
	QueueSize int

	// LoggerFactory creates the link's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Device is a direct cEMI link: frames travel over the binding without a
// KNXnet/IP wrapper, as on serial FT1.2 and USB interfaces. There is no
// KNXnet/IP handshake; medium-level reliability lives in the binding.
// Lock-step pairing happens against the interface's L_Data.con
// confirmations instead of tunneling acknowledges. A missing confirmation
// degrades the link rather than closing it: the medium-level exchange
// already succeeded, only the bus-side outcome is unknown.
type Device struct {
	config  DeviceConfig
	binding transport.Binding
	subs    *subscribers
	log     logging.LeveledLogger

	cmds     chan *sendCmd
	closeReq chan chan error
	done     chan struct{}

	mu    sync.Mutex
	state State

	rt      *retryTimer
	pending *sendCmd
	queue   []*sendCmd
}

// OpenDevice starts a direct link over the given binding. The binding is
// owned by the link from here on.
func OpenDevice(binding transport.Binding, config DeviceConfig) (*Device, error) {
	config.Params.applyDefaults()
	if config.QueueSize == 0 {
		config.QueueSize = DefaultQueueSize
	}

	d := &Device{
		config:   config,
		binding:  binding,
		subs:     newSubscribers(),
		cmds:     make(chan *sendCmd),
		closeReq: make(chan chan error),
		done:     make(chan struct{}),
		state:    StateOpen,
		rt:       newRetryTimer(),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("link-device")
	}

	if err := binding.Start(); err != nil {
		binding.Close()
		return nil, err
	}

	go d.run()
	return d, nil
}

// State returns the current link state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers an event subscriber.
func (d *Device) Subscribe(buffer int) *Subscription {
	return d.subs.subscribe(buffer)
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *Device) Unsubscribe(sub *Subscription) {
	d.subs.unsubscribe(sub)
}

// Send transmits one application frame. Under SendBlock it returns after
// the interface confirms the frame or the confirmation wait expires.
func (d *Device) Send(frame *cemi.Frame) error {
	cmd := &sendCmd{frame: frame, result: make(chan error, 1)}

	select {
	case d.cmds <- cmd:
	case <-d.done:
		return ErrClosed
	}

	select {
	case err := <-cmd.result:
		return err
	case <-d.done:
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close releases the binding. Close is idempotent.
func (d *Device) Close() error {
	result := make(chan error, 1)
	select {
	case d.closeReq <- result:
	case <-d.done:
		return nil
	}

	select {
	case err := <-result:
		return err
	case <-d.done:
		return nil
	}
}

func (d *Device) run() {
	events := d.binding.Events()
	for d.State() != StateClosed {
		select {
		case ev, ok := <-events:
			if !ok {
				d.teardown(ReasonMediumFault, nil)
				continue
			}
			d.handleBindingEvent(ev)

		case cmd := <-d.cmds:
			d.handleSend(cmd)

		case result := <-d.closeReq:
			d.teardown(ReasonLocalClose, nil)
			result <- nil

		case e := <-d.rt.C:
			if d.rt.valid(e) {
				d.handleConfirmTimeout()
			}
		}
	}
}

func (d *Device) handleSend(cmd *sendCmd) {
	if d.State() != StateOpen {
		cmd.finish(ErrClosed)
		return
	}

	if d.pending == nil {
		d.transmit(cmd)
		return
	}

	switch d.config.SendPolicy {
	case SendReject:
		cmd.finish(ErrSendBusy)
	case SendQueue:
		if len(d.queue) >= d.config.QueueSize {
			cmd.finish(ErrQueueFull)
			return
		}
		d.queue = append(d.queue, cmd)
		cmd.finish(nil)
	default:
		d.queue = append(d.queue, cmd)
	}
}

func (d *Device) transmit(cmd *sendCmd) {
	if err := d.binding.Send(cemi.Encode(cmd.frame)); err != nil {
		cmd.finish(err)
		d.teardown(ReasonMediumFault, err)
		return
	}
	d.pending = cmd
	d.rt.arm(opAck, d.config.Params.AckTimeout)

	if d.config.SendPolicy == SendQueue {
		cmd.finish(nil)
	}
}

func (d *Device) handleConfirmTimeout() {
	if d.log != nil {
		d.log.Warnf("no L_Data.con within %v", d.config.Params.AckTimeout)
	}
	d.subs.publish(LinkDegraded{Reason: "data confirmation missing"})
	d.releasePending(nil)
}

func (d *Device) releasePending(err error) {
	if d.pending != nil {
		d.pending.finish(err)
		d.pending = nil
	}
	d.rt.disarm()

	if len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.transmit(next)
	}
}

func (d *Device) handleBindingEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventError:
		d.teardown(ReasonMediumFault, ev.Err)

	case transport.EventClosed:
		d.teardown(ReasonMediumFault, nil)

	case transport.EventReceived:
		frame, err := cemi.Decode(ev.Data)
		if err != nil {
			if d.log != nil {
				d.log.Warnf("dropping cEMI frame: %v", err)
			}
			return
		}
		d.handleFrame(frame)
	}
}

func (d *Device) handleFrame(frame *cemi.Frame) {
	switch frame.Code {
	case cemi.LDataCon:
		if d.pending == nil {
			return
		}
		if frame.ConfirmError {
			d.subs.publish(LinkDegraded{Reason: "transmission failed on the bus"})
			d.releasePending(nil)
			return
		}
		d.subs.publish(FrameConfirmed{})
		d.releasePending(nil)

	case cemi.LDataInd:
		d.subs.publish(FrameReceived{Frame: frame})

	default:
		if d.log != nil {
			d.log.Debugf("ignoring %v", frame.Code)
		}
	}
}

func (d *Device) teardown(reason CloseReason, err error) {
	if d.State() == StateClosed {
		return
	}
	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()

	d.rt.disarm()
	if d.pending != nil {
		d.pending.finish(ErrClosed)
		d.pending = nil
	}
	for _, cmd := range d.queue {
		cmd.finish(ErrClosed)
	}
	d.queue = nil

	if d.log != nil {
		d.log.Infof("device link closed: %v", reason)
	}

	d.subs.closeAll(LinkClosed{Reason: reason, Err: err})
	d.binding.Close()
	close(d.done)
}
