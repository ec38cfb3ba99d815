package link

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/time/rate"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
	"github.com/qgb1151521/calimero-core/pkg/knxnet"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// RouterConfig configures a routing link.
type RouterConfig struct {
	// GroupAddr is the multicast group, default knxnet.DefaultMulticast.
	GroupAddr string

	// Interface restricts the link to one network interface.
	Interface *net.Interface

	// HopLimit is the multicast TTL, default 16.
	HopLimit int

	// SendLimit caps outbound frames per second, default
	// DefaultRoutingSendLimit. The cap is a protocol requirement for
	// shared-medium fairness, not a local tuning knob.
	SendLimit rate.Limit

	// Binding injects a transport, used by tests. When nil a multicast
	// binding on GroupAddr is opened.
	Binding transport.Binding

	// LoggerFactory creates the link's logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Router is a KNXnet/IP routing link. Routing is connectionless: there is
// no handshake, no sequence counters and no acknowledges, so the
// connection machine degenerates to an always-open state with outbound
// rate limiting. Congested routers are honored by pausing sends when a
// routing busy indication arrives.
type Router struct {
	binding transport.Binding
	limiter *rate.Limiter
	subs    *subscribers
	log     logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	busyUntil time.Time
}

// NewRouter joins the routing multicast group and starts delivering
// indications to subscribers.
func NewRouter(config RouterConfig) (*Router, error) {
	binding := config.Binding
	if binding == nil {
		mc, err := transport.NewMulticast(transport.MulticastConfig{
			GroupAddr:     config.GroupAddr,
			Interface:     config.Interface,
			HopLimit:      config.HopLimit,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		binding = mc
	}

	limit := config.SendLimit
	if limit == 0 {
		limit = DefaultRoutingSendLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		binding: binding,
		limiter: rate.NewLimiter(limit, int(limit)),
		subs:    newSubscribers(),
		ctx:     ctx,
		cancel:  cancel,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("link-router")
	}

	if err := binding.Start(); err != nil {
		cancel()
		binding.Close()
		return nil, err
	}

	r.wg.Add(1)
	go r.readLoop()
	return r, nil
}

// State returns StateOpen until the link is closed.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return StateClosed
	}
	return StateOpen
}

// Subscribe registers an event subscriber.
func (r *Router) Subscribe(buffer int) *Subscription {
	return r.subs.subscribe(buffer)
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Router) Unsubscribe(sub *Subscription) {
	r.subs.unsubscribe(sub)
}

// Send multicasts one application frame as a routing indication. It blocks
// while the rate limiter or a routing busy pause demands it.
func (r *Router) Send(frame *cemi.Frame) error {
	if r.State() == StateClosed {
		return ErrClosed
	}

	if err := r.limiter.Wait(r.ctx); err != nil {
		return ErrClosed
	}

	r.mu.Lock()
	pause := time.Until(r.busyUntil)
	r.mu.Unlock()
	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-r.ctx.Done():
			timer.Stop()
			return ErrClosed
		}
	}

	packet := knxnet.Pack(&knxnet.RoutingIndication{Payload: cemi.Encode(frame)})
	return r.binding.Send(packet)
}

// Close leaves the multicast group. Pending Send calls unblock with
// ErrClosed.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.binding.Close()
	r.wg.Wait()
	r.subs.closeAll(LinkClosed{Reason: ReasonLocalClose})
	return err
}

func (r *Router) readLoop() {
	defer r.wg.Done()

	for ev := range r.binding.Events() {
		switch ev.Kind {
		case transport.EventError:
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			r.cancel()
			r.subs.closeAll(LinkClosed{Reason: ReasonMediumFault, Err: ev.Err})
			return

		case transport.EventClosed:
			r.subs.closeAll(LinkClosed{Reason: ReasonLocalClose})
			return

		case transport.EventReceived:
			r.handleDatagram(ev.Data)
		}
	}
}

func (r *Router) handleDatagram(data []byte) {
	svc, err := knxnet.Unpack(data)
	if err != nil {
		// A single bad datagram on the group is dropped.
		if r.log != nil {
			r.log.Debugf("dropping datagram: %v", err)
		}
		return
	}

	switch s := svc.(type) {
	case *knxnet.RoutingIndication:
		frame, err := cemi.Decode(s.Payload)
		if err != nil {
			if r.log != nil {
				r.log.Warnf("dropping cEMI payload: %v", err)
			}
			return
		}
		r.subs.publish(FrameReceived{Frame: frame})

	case *knxnet.RoutingBusy:
		r.mu.Lock()
		until := time.Now().Add(s.WaitTime)
		if until.After(r.busyUntil) {
			r.busyUntil = until
		}
		r.mu.Unlock()
		if r.log != nil {
			r.log.Infof("router busy, pausing sends for %v", s.WaitTime)
		}
		r.subs.publish(LinkDegraded{Reason: fmt.Sprintf("router busy, sends paused %v", s.WaitTime)})

	case *knxnet.RoutingLostMessage:
		if r.log != nil {
			r.log.Warnf("router lost %d messages, device state 0x%02X", s.Lost, s.DeviceState)
		}
		r.subs.publish(LinkDegraded{Reason: fmt.Sprintf("router lost %d messages", s.Lost)})

	default:
		if r.log != nil {
			r.log.Debugf("ignoring %v", svc.Service())
		}
	}
}
