package discovery

import (
	"context"
	"net"

	"github.com/grandcat/zeroconf"
)

// ServiceKNXnetIP is the DNS-SD service type KNXnet/IP servers advertise.
const ServiceKNXnetIP = "_knxnet-ip._udp"

// DefaultDomain is the DNS-SD browse domain.
const DefaultDomain = "local."

// BrowsedService is one server found over DNS-SD. It carries less than a
// search response; follow up with Describe for the device blocks.
type BrowsedService struct {
	Instance string
	Host     string
	Port     int
	IPs      []net.IP
	Text     []string
}

// Addr returns the server's first address as a dialable endpoint, or nil
// when the advertisement carried no address.
func (s *BrowsedService) Addr() *net.UDPAddr {
	if len(s.IPs) == 0 {
		return nil
	}
	return &net.UDPAddr{IP: s.IPs[0], Port: s.Port}
}

// MDNSResolver is the slice of the DNS-SD resolver Browse needs;
// *zeroconf.Resolver satisfies it and tests substitute a fake.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Browse watches DNS-SD for KNXnet/IP server advertisements until the
// context ends. A nil resolver selects the system default.
func Browse(ctx context.Context, resolver MDNSResolver) (<-chan BrowsedService, error) {
	if resolver == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		resolver = zr
	}

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan BrowsedService)

	go func() {
		defer close(results)

		go func() {
			defer close(entries)
			resolver.Browse(ctx, ServiceKNXnetIP, DefaultDomain, entries)
		}()

		for entry := range entries {
			svc := BrowsedService{
				Instance: entry.Instance,
				Host:     entry.HostName,
				Port:     entry.Port,
				Text:     entry.Text,
			}
			for _, ip := range entry.AddrIPv4 {
				svc.IPs = append(svc.IPs, ip)
			}
			for _, ip := range entry.AddrIPv6 {
				svc.IPs = append(svc.IPs, ip)
			}

			select {
			case results <- svc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}
