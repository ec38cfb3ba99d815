package link

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
	"github.com/qgb1151521/calimero-core/pkg/knxnet"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// TunnelConfig configures a tunneling link.
type TunnelConfig struct {
	// RemoteAddr is the server's control endpoint, e.g. "192.168.1.10:3671".
	RemoteAddr string

	// ListenAddr is the local address to bind, default ":0".
	ListenAddr string

	// Layer selects the tunneling layer, default TunnelLinkLayer.
	Layer knxnet.TunnelLayer

	// Params are the connection's timeouts and retry counts.
	Params Params

	// SendPolicy decides what Send does while an acknowledge is
	// outstanding. Default SendBlock.
	SendPolicy SendPolicy

	// QueueSize bounds the send queue under SendQueue.
	QueueSize int

	// Binding injects a transport, used by tests. When nil a UDP binding
	// to RemoteAddr is opened.
	Binding transport.Binding

	// LoggerFactory creates the link's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

func (c *TunnelConfig) applyDefaults() {
	c.Params.applyDefaults()
	if c.Layer == 0 {
		c.Layer = knxnet.TunnelLinkLayer
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// sendCmd is one caller send travelling into the run loop. result carries
// the outcome back; under SendQueue it is answered at enqueue time.
type sendCmd struct {
	frame   *cemi.Frame
	result  chan error
	replied bool
}

func (c *sendCmd) finish(err error) {
	if c.replied {
		return
	}
	c.replied = true
	c.result <- err
}

// pendingAck is the single in-flight send. packet keeps the exact encoded
// datagram so a retransmission repeats identical bytes under the same
// sequence counter.
type pendingAck struct {
	cmd     *sendCmd
	seq     uint8
	packet  []byte
	retries int
}

// Tunnel is a KNXnet/IP tunneling link. One run loop goroutine owns the
// connection state, sequence counters and pending acknowledge; callers
// interact through channels and are never blocked on network round-trips
// except inside Send under the blocking policy.
type Tunnel struct {
	config  TunnelConfig
	binding transport.Binding
	subs    *subscribers
	log     logging.LeveledLogger

	cmds     chan *sendCmd
	closeReq chan chan error
	done     chan struct{}

	mu      sync.Mutex
	state   State
	channel uint8
	knxAddr cemi.IndividualAddr

	// Run loop state, touched only by run and its handlers.
	rt            *retryTimer
	hb            *retryTimer
	sendSeq       uint8
	recvSeq       uint8
	pending       *pendingAck
	queue         []*sendCmd
	connectTries  int
	probes        int
	hpai          knxnet.HPAI
	connectResult chan<- error
	closeWaiters  []chan error
}

// Connect opens a tunneling connection and blocks until the handshake
// completes or fails. A failed connect reports ConnectError or
// ErrConnectTimeout and leaves no goroutines behind.
func Connect(config TunnelConfig) (*Tunnel, error) {
	config.applyDefaults()

	binding := config.Binding
	if binding == nil {
		udp, err := transport.NewUDP(transport.UDPConfig{
			RemoteAddr:    config.RemoteAddr,
			ListenAddr:    config.ListenAddr,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		binding = udp
	}

	t := &Tunnel{
		config:   config,
		binding:  binding,
		subs:     newSubscribers(),
		cmds:     make(chan *sendCmd),
		closeReq: make(chan chan error),
		done:     make(chan struct{}),
		state:    StateConnecting,
		rt:       newRetryTimer(),
		hb:       newRetryTimer(),
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("link-tunnel")
	}
	if local, ok := binding.(interface{ LocalAddr() net.Addr }); ok {
		t.hpai = knxnet.HPAIFromAddr(local.LocalAddr())
	}

	if err := binding.Start(); err != nil {
		binding.Close()
		return nil, err
	}

	result := make(chan error, 1)
	t.connectResult = result
	go t.run()

	if err := <-result; err != nil {
		return nil, err
	}
	return t, nil
}

// State returns the current connection state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Channel returns the connection identifier assigned by the server.
func (t *Tunnel) Channel() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channel
}

// KNXAddr returns the individual address the server assigned to this
// tunnel endpoint.
func (t *Tunnel) KNXAddr() cemi.IndividualAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.knxAddr
}

// Subscribe registers an event subscriber. A buffer of 0 selects the
// default size.
func (t *Tunnel) Subscribe(buffer int) *Subscription {
	return t.subs.subscribe(buffer)
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *Tunnel) Unsubscribe(sub *Subscription) {
	t.subs.unsubscribe(sub)
}

// Send transmits one application frame over the tunnel. Behavior while an
// acknowledge is outstanding follows the configured SendPolicy. A send
// still waiting when the link closes returns ErrClosed.
func (t *Tunnel) Send(frame *cemi.Frame) error {
	cmd := &sendCmd{frame: frame, result: make(chan error, 1)}

	select {
	case t.cmds <- cmd:
	case <-t.done:
		return ErrClosed
	}

	select {
	case err := <-cmd.result:
		return err
	case <-t.done:
		// The run loop may have answered just before exiting.
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Close disconnects gracefully: a disconnect request is sent and the link
// waits a bounded time for the response before releasing the transport
// either way. Close is idempotent.
func (t *Tunnel) Close() error {
	result := make(chan error, 1)
	select {
	case t.closeReq <- result:
	case <-t.done:
		return nil
	}

	select {
	case err := <-result:
		return err
	case <-t.done:
		return nil
	}
}

func (t *Tunnel) run() {
	t.sendConnectRequest()
	t.rt.arm(opConnect, t.config.Params.ConnectTimeout)

	events := t.binding.Events()
	for t.State() != StateClosed {
		select {
		case ev, ok := <-events:
			if !ok {
				t.teardown(ReasonMediumFault, nil)
				continue
			}
			t.handleBindingEvent(ev)

		case cmd := <-t.cmds:
			t.handleSend(cmd)

		case result := <-t.closeReq:
			t.handleClose(result)

		case e := <-t.rt.C:
			if t.rt.valid(e) {
				t.handleTimeout(e.op)
			}

		case e := <-t.hb.C:
			if t.hb.valid(e) {
				t.handleTimeout(e.op)
			}
		}
	}
}

func (t *Tunnel) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tunnel) sendConnectRequest() {
	packet := knxnet.Pack(&knxnet.ConnectRequest{
		Control: t.hpai,
		Data:    t.hpai,
		Layer:   t.config.Layer,
	})
	if err := t.binding.Send(packet); err != nil {
		t.teardown(ReasonMediumFault, err)
	}
}

func (t *Tunnel) sendHeartbeat() {
	packet := knxnet.Pack(&knxnet.ConnStateRequest{
		Channel: t.channel,
		Control: t.hpai,
	})
	if err := t.binding.Send(packet); err != nil {
		t.teardown(ReasonMediumFault, err)
	}
}

func (t *Tunnel) handleSend(cmd *sendCmd) {
	if t.State() != StateOpen {
		cmd.finish(ErrClosed)
		return
	}

	if t.pending == nil {
		t.transmit(cmd)
		return
	}

	switch t.config.SendPolicy {
	case SendReject:
		cmd.finish(ErrSendBusy)
	case SendQueue:
		if len(t.queue) >= t.config.QueueSize {
			cmd.finish(ErrQueueFull)
			return
		}
		t.queue = append(t.queue, cmd)
		cmd.finish(nil)
	default: // SendBlock: park the caller until its own acknowledge.
		t.queue = append(t.queue, cmd)
	}
}

func (t *Tunnel) transmit(cmd *sendCmd) {
	req := &knxnet.TunnelRequest{
		Channel: t.channel,
		Seq:     t.sendSeq,
		Payload: cemi.Encode(cmd.frame),
	}
	packet := knxnet.Pack(req)
	t.pending = &pendingAck{cmd: cmd, seq: t.sendSeq, packet: packet}

	if err := t.binding.Send(packet); err != nil {
		t.teardown(ReasonMediumFault, err)
		return
	}
	t.rt.arm(opAck, t.config.Params.AckTimeout)

	if t.config.SendPolicy == SendQueue {
		cmd.finish(nil)
	}
}

func (t *Tunnel) handleClose(result chan error) {
	t.closeWaiters = append(t.closeWaiters, result)
	if t.State() == StateDisconnecting {
		return
	}

	t.setState(StateDisconnecting)

	// Graceful close abandons the in-flight and queued sends; their
	// callers unblock now rather than after the disconnect exchange.
	t.rt.disarm()
	if t.pending != nil {
		t.pending.cmd.finish(ErrClosed)
		t.pending = nil
	}
	for _, cmd := range t.queue {
		cmd.finish(ErrClosed)
	}
	t.queue = nil

	packet := knxnet.Pack(&knxnet.DisconnectRequest{
		Channel: t.channel,
		Control: t.hpai,
	})
	if err := t.binding.Send(packet); err != nil {
		t.teardown(ReasonLocalClose, nil)
		return
	}
	t.hb.disarm()
	t.rt.arm(opDisconnect, t.config.Params.DisconnectTimeout)
}

func (t *Tunnel) handleTimeout(op timerOp) {
	params := t.config.Params
	switch op {
	case opConnect:
		t.connectTries++
		if t.connectTries <= params.ConnectRetries {
			if t.log != nil {
				t.log.Debugf("connect unanswered, attempt %d", t.connectTries+1)
			}
			t.sendConnectRequest()
			t.rt.arm(opConnect, params.ConnectTimeout)
			return
		}
		t.teardown(ReasonConnectFailed, ErrConnectTimeout)

	case opAck:
		p := t.pending
		if p.retries < params.SendRetries {
			p.retries++
			if t.log != nil {
				t.log.Debugf("acknowledge missing for seq %d, retransmission %d", p.seq, p.retries)
			}
			if err := t.binding.Send(p.packet); err != nil {
				t.teardown(ReasonMediumFault, err)
				return
			}
			t.rt.arm(opAck, params.AckTimeout)
			return
		}
		t.teardown(ReasonAckTimeout, fmt.Errorf("link: no acknowledge for seq %d after %d retransmissions", p.seq, p.retries))

	case opHeartbeatIdle:
		t.probes = 1
		t.sendHeartbeat()
		t.hb.arm(opHeartbeatProbe, params.HeartbeatTimeout)

	case opHeartbeatProbe:
		if t.probes < params.HeartbeatRetries {
			t.probes++
			t.sendHeartbeat()
			t.hb.arm(opHeartbeatProbe, params.HeartbeatTimeout)
			return
		}
		t.teardown(ReasonHeartbeatLost, fmt.Errorf("link: no connection state response after %d probes", t.probes))

	case opDisconnect:
		if t.log != nil {
			t.log.Debug("disconnect response missing, releasing transport")
		}
		t.teardown(ReasonLocalClose, nil)
	}
}

func (t *Tunnel) handleBindingEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventError:
		t.teardown(ReasonMediumFault, ev.Err)
	case transport.EventClosed:
		t.teardown(ReasonMediumFault, nil)
	case transport.EventReceived:
		svc, err := knxnet.Unpack(ev.Data)
		if err != nil {
			// A bad datagram never fails the connection.
			if t.log != nil {
				t.log.Debugf("dropping datagram: %v", err)
			}
			return
		}
		t.handleService(svc)
	}
}

func (t *Tunnel) handleService(svc knxnet.Service) {
	switch s := svc.(type) {
	case *knxnet.ConnectResponse:
		t.handleConnectResponse(s)

	case *knxnet.TunnelRequest:
		t.handleTunnelRequest(s)

	case *knxnet.TunnelAck:
		t.handleTunnelAck(s)

	case *knxnet.ConnStateResponse:
		if t.State() != StateOpen || s.Channel != t.channel {
			return
		}
		if s.Status != knxnet.StatusNoError {
			t.teardown(ReasonHeartbeatLost, fmt.Errorf("link: connection state response: %v", s.Status))
			return
		}
		t.probes = 0
		t.hb.arm(opHeartbeatIdle, t.config.Params.HeartbeatInterval)

	case *knxnet.DisconnectRequest:
		if s.Channel != t.channel {
			return
		}
		t.binding.Send(knxnet.Pack(&knxnet.DisconnectResponse{
			Channel: t.channel,
			Status:  knxnet.StatusNoError,
		}))
		t.teardown(ReasonPeerClose, nil)

	case *knxnet.DisconnectResponse:
		if t.State() == StateDisconnecting && s.Channel == t.channel {
			t.teardown(ReasonLocalClose, nil)
		}

	default:
		if t.log != nil {
			t.log.Debugf("ignoring %v", svc.Service())
		}
	}
}

func (t *Tunnel) handleConnectResponse(s *knxnet.ConnectResponse) {
	if t.State() != StateConnecting {
		return
	}
	if s.Status != knxnet.StatusNoError {
		t.teardown(ReasonConnectFailed, &ConnectError{Status: s.Status})
		return
	}

	t.mu.Lock()
	t.state = StateOpen
	t.channel = s.Channel
	t.knxAddr = s.KNXAddr
	t.mu.Unlock()

	t.sendSeq, t.recvSeq = 0, 0
	t.rt.disarm()
	t.hb.arm(opHeartbeatIdle, t.config.Params.HeartbeatInterval)

	if t.log != nil {
		t.log.Infof("tunnel open, channel %d, address %v", s.Channel, s.KNXAddr)
	}
	t.connectResult <- nil
	t.connectResult = nil
}

func (t *Tunnel) handleTunnelRequest(s *knxnet.TunnelRequest) {
	if t.State() != StateOpen || s.Channel != t.channel {
		return
	}

	switch ClassifySeq(t.recvSeq, s.Seq) {
	case SeqAccept:
		t.sendAck(s.Seq)
		t.recvSeq++
		t.markActivity()

		frame, err := cemi.Decode(s.Payload)
		if err != nil {
			// Malformed and unsupported payloads are absorbed; the
			// transport-level exchange already succeeded.
			if t.log != nil {
				t.log.Warnf("dropping cEMI payload: %v", err)
			}
			return
		}
		t.subs.publish(FrameReceived{Frame: frame})

	case SeqDuplicate:
		if t.log != nil {
			t.log.Debugf("duplicate seq %d, repeating acknowledge", s.Seq)
		}
		t.sendAck(s.Seq)

	case SeqViolation:
		t.teardown(ReasonProtocolViolation, fmt.Errorf("link: received seq %d, expected %d", s.Seq, t.recvSeq))
	}
}

func (t *Tunnel) handleTunnelAck(s *knxnet.TunnelAck) {
	if t.State() != StateOpen || t.pending == nil || s.Channel != t.channel {
		return
	}
	if s.Seq != t.pending.seq {
		if t.log != nil {
			t.log.Debugf("acknowledge for seq %d while %d pending", s.Seq, t.pending.seq)
		}
		return
	}
	if s.Status != knxnet.StatusNoError {
		// Treated like a missing acknowledge: the retransmission timer
		// decides the outcome.
		if t.log != nil {
			t.log.Warnf("acknowledge for seq %d carries status %v", s.Seq, s.Status)
		}
		return
	}

	t.rt.disarm()
	seq := t.pending.seq
	t.pending.cmd.finish(nil)
	t.pending = nil
	t.sendSeq++
	t.markActivity()

	t.subs.publish(FrameConfirmed{Seq: seq})

	if len(t.queue) > 0 {
		next := t.queue[0]
		t.queue = t.queue[1:]
		t.transmit(next)
	}
}

func (t *Tunnel) sendAck(seq uint8) {
	packet := knxnet.Pack(&knxnet.TunnelAck{
		Channel: t.channel,
		Seq:     seq,
		Status:  knxnet.StatusNoError,
	})
	if err := t.binding.Send(packet); err != nil {
		t.teardown(ReasonMediumFault, err)
	}
}

// markActivity pushes the heartbeat out: traffic proves the connection is
// alive. A probe already awaiting its response keeps waiting.
func (t *Tunnel) markActivity() {
	if t.probes == 0 {
		t.hb.arm(opHeartbeatIdle, t.config.Params.HeartbeatInterval)
	}
}

// teardown moves the machine to the terminal state exactly once: timers
// disarmed, waiters unblocked, subscribers notified, transport released.
func (t *Tunnel) teardown(reason CloseReason, err error) {
	if t.State() == StateClosed {
		return
	}
	t.setState(StateClosed)

	t.rt.disarm()
	t.hb.disarm()

	if t.pending != nil {
		t.pending.cmd.finish(ErrClosed)
		t.pending = nil
	}
	for _, cmd := range t.queue {
		cmd.finish(ErrClosed)
	}
	t.queue = nil

	if t.connectResult != nil {
		if err == nil {
			err = ErrConnectTimeout
		}
		t.connectResult <- err
		t.connectResult = nil
	}

	if t.log != nil {
		if err != nil {
			t.log.Infof("tunnel closed: %v: %v", reason, err)
		} else {
			t.log.Infof("tunnel closed: %v", reason)
		}
	}

	t.subs.closeAll(LinkClosed{Reason: reason, Err: err})
	t.binding.Close()

	for _, waiter := range t.closeWaiters {
		waiter <- nil
	}
	t.closeWaiters = nil

	close(t.done)
}
