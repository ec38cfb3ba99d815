// Package discovery finds KNXnet/IP servers. Search multicasts a
// KNXnet/IP search request and collects the unicast answers; Describe asks
// one server for its self description. Servers that advertise themselves
// over DNS-SD are additionally reachable through Browse.
package discovery

import (
	"context"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/qgb1151521/calimero-core/pkg/knxnet"
	"github.com/qgb1151521/calimero-core/pkg/transport"
)

// DefaultSearchTimeout bounds a search round. KNX mandates that servers
// answer within one second; the margin covers slow networks.
const DefaultSearchTimeout = 3 * time.Second

// Endpoint is one discovered server.
type Endpoint struct {
	// Addr is the server's control endpoint.
	Addr *net.UDPAddr

	// Device is the server's device information block.
	Device knxnet.DeviceDIB

	// Services lists the supported service families.
	Services knxnet.SupportedServicesDIB
}

// SupportsTunneling reports whether the server accepts tunneling
// connections.
func (e *Endpoint) SupportsTunneling() bool {
	return e.Services.Supports(knxnet.FamilyTunneling)
}

// SupportsRouting reports whether the server participates in routing.
func (e *Endpoint) SupportsRouting() bool {
	return e.Services.Supports(knxnet.FamilyRouting)
}

// Config configures a Discoverer.
type Config struct {
	// Timeout bounds one search round, default DefaultSearchTimeout.
	Timeout time.Duration

	// Binding injects a transport, used by tests. When nil each search
	// opens a UDP binding aimed at the discovery multicast group.
	Binding transport.Binding

	// LoggerFactory creates the discoverer's logger. Nil disables
	// logging.
	LoggerFactory logging.LoggerFactory
}

// Discoverer locates KNXnet/IP servers on the local network.
type Discoverer struct {
	config Config
	log    logging.LeveledLogger
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(config Config) *Discoverer {
	if config.Timeout == 0 {
		config.Timeout = DefaultSearchTimeout
	}
	d := &Discoverer{config: config}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("discovery")
	}
	return d
}

// Search multicasts a search request and collects every server that
// answers before the timeout or the context ends. Duplicate answers from
// multihomed servers are folded by control endpoint.
func (d *Discoverer) Search(ctx context.Context) ([]Endpoint, error) {
	binding := d.config.Binding
	if binding == nil {
		udp, err := transport.NewUDP(transport.UDPConfig{
			RemoteAddr:    knxnet.DefaultMulticast,
			LoggerFactory: d.config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		binding = udp
	}
	defer binding.Close()

	if err := binding.Start(); err != nil {
		return nil, err
	}

	var discovery knxnet.HPAI
	if local, ok := binding.(interface{ LocalAddr() net.Addr }); ok {
		discovery = knxnet.HPAIFromAddr(local.LocalAddr())
	}
	if err := binding.Send(knxnet.Pack(&knxnet.SearchRequest{Discovery: discovery})); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	var endpoints []Endpoint
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return endpoints, nil

		case ev, ok := <-binding.Events():
			if !ok {
				return endpoints, nil
			}
			if ev.Kind == transport.EventError {
				return endpoints, ev.Err
			}
			if ev.Kind != transport.EventReceived {
				continue
			}

			svc, err := knxnet.Unpack(ev.Data)
			if err != nil {
				if d.log != nil {
					d.log.Debugf("dropping datagram: %v", err)
				}
				continue
			}
			resp, ok := svc.(*knxnet.SearchResponse)
			if !ok {
				continue
			}

			addr := resp.Control.Addr()
			if _, dup := seen[addr.String()]; dup {
				continue
			}
			seen[addr.String()] = struct{}{}

			if d.log != nil {
				d.log.Infof("found %v", resp)
			}
			endpoints = append(endpoints, Endpoint{
				Addr:     addr,
				Device:   resp.Device,
				Services: resp.Services,
			})
		}
	}
}

// Describe asks one server for its self description over unicast.
func (d *Discoverer) Describe(ctx context.Context, server string) (*knxnet.DescriptionResponse, error) {
	binding := d.config.Binding
	if binding == nil {
		udp, err := transport.NewUDP(transport.UDPConfig{
			RemoteAddr:    server,
			LoggerFactory: d.config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
		binding = udp
	}
	defer binding.Close()

	if err := binding.Start(); err != nil {
		return nil, err
	}

	var control knxnet.HPAI
	if local, ok := binding.(interface{ LocalAddr() net.Addr }); ok {
		control = knxnet.HPAIFromAddr(local.LocalAddr())
	}
	if err := binding.Send(knxnet.Pack(&knxnet.DescriptionRequest{Control: control})); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-binding.Events():
			if !ok {
				return nil, ErrNoResponse
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
			if resp, ok := svc.(*knxnet.DescriptionResponse); ok {
				return resp, nil
			}
		}
	}
}
