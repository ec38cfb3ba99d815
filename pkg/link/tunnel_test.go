package link

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
	"github.com/qgb1151521/calimero-core/pkg/knxnet"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

const testChannel = 7

func testFrame(t *testing.T) *cemi.Frame {
	t.Helper()
	src, err := cemi.ParseIndividualAddr("1.1.10")
	if err != nil {
		t.Fatal(err)
	}
	dest, err := cemi.ParseGroupAddr("1/3/5")
	if err != nil {
		t.Fatal(err)
	}
	frame, err := cemi.GroupWrite(src, dest, []byte{0x01})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

// expectService reads the next datagram arriving at the scripted gateway
// and fails the test unless it carries the wanted service.
func expectService(t *testing.T, gw *transport.Pipe, want knxnet.ServiceType) knxnet.Service {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-gw.Events():
			if !ok {
				t.Fatalf("gateway binding closed while waiting for %v", want)
			}
			if ev.Kind != transport.EventReceived {
				continue
			}
			svc, err := knxnet.Unpack(ev.Data)
			if err != nil {
				t.Fatalf("gateway received bad datagram: %v", err)
			}
			if svc.Service() != want {
				t.Fatalf("gateway received %v, want %v", svc.Service(), want)
			}
			return svc
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

// expectNothing asserts that the gateway sees no datagram within the
// window.
func expectNothing(t *testing.T, gw *transport.Pipe, window time.Duration) {
	t.Helper()
	select {
	case ev := <-gw.Events():
		if ev.Kind == transport.EventReceived {
			svc, _ := knxnet.Unpack(ev.Data)
			t.Fatalf("unexpected datagram: %v", svc.Service())
		}
	case <-time.After(window):
	}
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed while waiting for an event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a link event")
		return nil
	}
}

func expectClosed(t *testing.T, sub *Subscription, reason CloseReason) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				t.Fatal("subscription closed without a LinkClosed event")
			}
			closed, ok := ev.(LinkClosed)
			if !ok {
				continue
			}
			if closed.Reason != reason {
				t.Fatalf("closed with %v, want %v", closed.Reason, reason)
			}
			return
		case <-deadline:
			t.Fatalf("timed out waiting for LinkClosed(%v)", reason)
		}
	}
}

// openTunnel connects a tunnel against a scripted gateway that accepts the
// handshake with channel 7. It returns the gateway's pipe end and the
// client's, the latter for injecting medium faults.
func openTunnel(t *testing.T, config TunnelConfig) (*Tunnel, *transport.Pipe, *transport.Pipe) {
	t.Helper()

	client, gw := transport.NewPipe()
	config.Binding = client

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		svc := expectService(t, gw, knxnet.ConnectRequestService)
		req := svc.(*knxnet.ConnectRequest)
		addr, _ := cemi.ParseIndividualAddr("1.1.250")
		gw.Send(knxnet.Pack(&knxnet.ConnectResponse{
			Channel: testChannel,
			Status:  knxnet.StatusNoError,
			Data:    req.Control,
			KNXAddr: addr,
		}))
	}()

	tun, err := Connect(config)
	<-accepted
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() {
		// Fault the medium instead of closing gracefully; the scripted
		// gateway of a finished test no longer answers disconnects.
		client.Fail(errors.New("test over"))
		select {
		case <-tun.done:
		case <-time.After(time.Second):
			t.Error("tunnel did not shut down")
		}
	})
	return tun, gw, client
}

func TestTunnelConnect(t *testing.T) {
	tun, _, _ := openTunnel(t, TunnelConfig{})

	if got := tun.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
	if got := tun.Channel(); got != testChannel {
		t.Errorf("Channel() = %d, want %d", got, testChannel)
	}
	if got := tun.KNXAddr().String(); got != "1.1.250" {
		t.Errorf("KNXAddr() = %s, want 1.1.250", got)
	}
}

func TestTunnelConnectRefused(t *testing.T) {
	client, gw := transport.NewPipe()

	go func() {
		svc := expectService(t, gw, knxnet.ConnectRequestService)
		req := svc.(*knxnet.ConnectRequest)
		gw.Send(knxnet.Pack(&knxnet.ConnectResponse{
			Channel: 0,
			Status:  knxnet.StatusNoMoreConnections,
			Data:    req.Control,
		}))
	}()

	_, err := Connect(TunnelConfig{Binding: client})
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want *ConnectError", err)
	}
	if connErr.Status != knxnet.StatusNoMoreConnections {
		t.Errorf("status = %v, want %v", connErr.Status, knxnet.StatusNoMoreConnections)
	}
}

func TestTunnelConnectTimeout(t *testing.T) {
	client, gw := transport.NewPipe()

	start := time.Now()
	_, err := Connect(TunnelConfig{
		Binding: client,
		Params:  Params{ConnectTimeout: 20 * time.Millisecond, ConnectRetries: 1},
	})
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("Connect() error = %v, want %v", err, ErrConnectTimeout)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up after %v, before the retry window", elapsed)
	}

	// The unanswered request was repeated once.
	expectService(t, gw, knxnet.ConnectRequestService)
	expectService(t, gw, knxnet.ConnectRequestService)
	expectNothing(t, gw, 30*time.Millisecond)
}

func TestTunnelSendSequence(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	// Acknowledged sends advance the sequence counter by exactly one.
	for want := uint8(0); want < 3; want++ {
		done := make(chan error, 1)
		go func() { done <- tun.Send(testFrame(t)) }()

		svc := expectService(t, gw, knxnet.TunnelRequestService)
		req := svc.(*knxnet.TunnelRequest)
		if req.Seq != want {
			t.Fatalf("request seq = %d, want %d", req.Seq, want)
		}
		if req.Channel != testChannel {
			t.Fatalf("request channel = %d, want %d", req.Channel, testChannel)
		}
		gw.Send(knxnet.Pack(&knxnet.TunnelAck{Channel: testChannel, Seq: req.Seq}))

		if err := <-done; err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		ev := nextEvent(t, sub)
		confirmed, ok := ev.(FrameConfirmed)
		if !ok {
			t.Fatalf("event = %#v, want FrameConfirmed", ev)
		}
		if confirmed.Seq != want {
			t.Errorf("confirmed seq = %d, want %d", confirmed.Seq, want)
		}
	}
}

func TestTunnelAckTimeoutRetransmits(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{
		Params: Params{AckTimeout: 20 * time.Millisecond, SendRetries: 1},
	})
	sub := tun.Subscribe(0)

	done := make(chan error, 1)
	go func() { done <- tun.Send(testFrame(t)) }()

	first := <-gw.Events()
	if first.Kind != transport.EventReceived {
		t.Fatalf("expected a datagram, got %v", first.Kind)
	}

	// Exactly one retransmission with identical bytes, same sequence.
	retrans := expectService(t, gw, knxnet.TunnelRequestService)
	if retrans.(*knxnet.TunnelRequest).Seq != 0 {
		t.Errorf("retransmission seq = %d, want 0", retrans.(*knxnet.TunnelRequest).Seq)
	}
	if !bytes.Equal(knxnet.Pack(retrans), first.Data) {
		t.Error("retransmission differs from the original datagram")
	}

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() error = %v, want %v", err, ErrClosed)
	}
	expectClosed(t, sub, ReasonAckTimeout)
	if got := tun.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}

	// Terminal state rejects further sends without blocking.
	if err := tun.Send(testFrame(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after close error = %v, want %v", err, ErrClosed)
	}
}

func inbound(t *testing.T, gw *transport.Pipe, seq uint8) {
	t.Helper()
	src, _ := cemi.ParseIndividualAddr("1.1.20")
	dest, _ := cemi.ParseGroupAddr("1/3/5")
	frame, err := cemi.NewFrame(cemi.LDataInd, src, cemi.GroupDest(dest), cemi.PriorityLow, []byte{0x00, 0x81})
	if err != nil {
		t.Fatal(err)
	}
	gw.Send(knxnet.Pack(&knxnet.TunnelRequest{
		Channel: testChannel,
		Seq:     seq,
		Payload: cemi.Encode(frame),
	}))
}

func TestTunnelDuplicateSuppression(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	// Deliver sequences 0..2 so the expected receive counter reaches 3.
	for seq := uint8(0); seq < 3; seq++ {
		inbound(t, gw, seq)
		ack := expectService(t, gw, knxnet.TunnelAckService)
		if got := ack.(*knxnet.TunnelAck).Seq; got != seq {
			t.Fatalf("acknowledge seq = %d, want %d", got, seq)
		}
		if _, ok := nextEvent(t, sub).(FrameReceived); !ok {
			t.Fatal("expected a FrameReceived event")
		}
	}

	// The previous sequence again: acknowledge is repeated, nothing is
	// redelivered and the expected counter stays put.
	inbound(t, gw, 2)
	ack := expectService(t, gw, knxnet.TunnelAckService)
	if got := ack.(*knxnet.TunnelAck).Seq; got != 2 {
		t.Fatalf("repeated acknowledge seq = %d, want 2", got)
	}

	inbound(t, gw, 3)
	expectService(t, gw, knxnet.TunnelAckService)
	if _, ok := nextEvent(t, sub).(FrameReceived); !ok {
		t.Fatal("expected the next frame to be delivered")
	}

	// Exactly four deliveries happened in total; the duplicate made none.
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTunnelSequenceViolationCloses(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	inbound(t, gw, 5) // expected 0
	expectClosed(t, sub, ReasonProtocolViolation)
	if got := tun.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestTunnelHeartbeat(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{
		Params: Params{
			HeartbeatInterval: 30 * time.Millisecond,
			HeartbeatTimeout:  20 * time.Millisecond,
			HeartbeatRetries:  2,
		},
	})
	sub := tun.Subscribe(0)

	// Idle link: a connection state probe appears and its response keeps
	// the connection open.
	probe := expectService(t, gw, knxnet.ConnStateRequestService)
	if got := probe.(*knxnet.ConnStateRequest).Channel; got != testChannel {
		t.Fatalf("probe channel = %d, want %d", got, testChannel)
	}
	gw.Send(knxnet.Pack(&knxnet.ConnStateResponse{Channel: testChannel, Status: knxnet.StatusNoError}))

	// Unanswered probes: two attempts, then the connection is lost.
	expectService(t, gw, knxnet.ConnStateRequestService)
	expectService(t, gw, knxnet.ConnStateRequestService)
	expectClosed(t, sub, ReasonHeartbeatLost)
}

func TestTunnelPeerDisconnect(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	gw.Send(knxnet.Pack(&knxnet.DisconnectRequest{Channel: testChannel}))

	resp := expectService(t, gw, knxnet.DisconnectResponseService)
	if got := resp.(*knxnet.DisconnectResponse).Status; got != knxnet.StatusNoError {
		t.Errorf("disconnect response status = %v", got)
	}
	expectClosed(t, sub, ReasonPeerClose)
	if got := tun.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}

func TestTunnelGracefulClose(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	done := make(chan error, 1)
	go func() { done <- tun.Close() }()

	req := expectService(t, gw, knxnet.DisconnectRequestService)
	if got := req.(*knxnet.DisconnectRequest).Channel; got != testChannel {
		t.Fatalf("disconnect channel = %d, want %d", got, testChannel)
	}
	gw.Send(knxnet.Pack(&knxnet.DisconnectResponse{Channel: testChannel, Status: knxnet.StatusNoError}))

	if err := <-done; err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	expectClosed(t, sub, ReasonLocalClose)

	// Close is idempotent.
	if err := tun.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestTunnelCloseWithoutResponse(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{
		Params: Params{DisconnectTimeout: 20 * time.Millisecond},
	})
	sub := tun.Subscribe(0)

	done := make(chan error, 1)
	go func() { done <- tun.Close() }()

	expectService(t, gw, knxnet.DisconnectRequestService)
	// No response: the transport is released after the bounded wait.
	if err := <-done; err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	expectClosed(t, sub, ReasonLocalClose)
}

func TestTunnelSendRejectPolicy(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{SendPolicy: SendReject})

	first := make(chan error, 1)
	go func() { first <- tun.Send(testFrame(t)) }()
	req := expectService(t, gw, knxnet.TunnelRequestService)

	if err := tun.Send(testFrame(t)); !errors.Is(err, ErrSendBusy) {
		t.Fatalf("second Send() error = %v, want %v", err, ErrSendBusy)
	}

	gw.Send(knxnet.Pack(&knxnet.TunnelAck{Channel: testChannel, Seq: req.(*knxnet.TunnelRequest).Seq}))
	if err := <-first; err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
}

func TestTunnelSendQueuePolicy(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{SendPolicy: SendQueue, QueueSize: 1})
	sub := tun.Subscribe(0)

	if err := tun.Send(testFrame(t)); err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
	if err := tun.Send(testFrame(t)); err != nil {
		t.Fatalf("queued Send() error: %v", err)
	}
	if err := tun.Send(testFrame(t)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third Send() error = %v, want %v", err, ErrQueueFull)
	}

	// Acknowledge both in-flight sends; the queued one follows the first
	// with the next sequence.
	for want := uint8(0); want < 2; want++ {
		req := expectService(t, gw, knxnet.TunnelRequestService)
		if got := req.(*knxnet.TunnelRequest).Seq; got != want {
			t.Fatalf("request seq = %d, want %d", got, want)
		}
		gw.Send(knxnet.Pack(&knxnet.TunnelAck{Channel: testChannel, Seq: want}))
		confirmed, ok := nextEvent(t, sub).(FrameConfirmed)
		if !ok {
			t.Fatal("expected a FrameConfirmed event")
		}
		if confirmed.Seq != want {
			t.Errorf("confirmed seq = %d, want %d", confirmed.Seq, want)
		}
	}
}

func TestTunnelAbsorbsBadDatagrams(t *testing.T) {
	tun, gw, _ := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	// Garbage, an unsupported service, and a tunneling request carrying a
	// malformed cEMI payload: none of them close the connection. The bad
	// payload still consumes its sequence number, the exchange succeeded
	// at the transport level.
	gw.Send([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	gw.Send(knxnet.Pack(&knxnet.SearchRequest{}))
	gw.Send(knxnet.Pack(&knxnet.TunnelRequest{Channel: testChannel, Seq: 0, Payload: []byte{0x11}}))
	expectService(t, gw, knxnet.TunnelAckService)

	inbound(t, gw, 1)
	expectService(t, gw, knxnet.TunnelAckService)
	if _, ok := nextEvent(t, sub).(FrameReceived); !ok {
		t.Fatal("expected a FrameReceived event")
	}
	if got := tun.State(); got != StateOpen {
		t.Errorf("State() = %v, want %v", got, StateOpen)
	}
}

func TestTunnelMediumFault(t *testing.T) {
	tun, _, client := openTunnel(t, TunnelConfig{})
	sub := tun.Subscribe(0)

	client.Fail(io.ErrUnexpectedEOF)

	expectClosed(t, sub, ReasonMediumFault)
	if got := tun.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
}
