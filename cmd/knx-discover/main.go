// knx-discover searches the local network for KNXnet/IP servers and
// prints what it finds.
//
// Usage:
//
//	knx-discover [options]
//
// Options:
//
//	-timeout  search duration (default: 3s)
//	-mdns     browse DNS-SD advertisements instead of multicast search
//	-v        verbose logging
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/qgb1151521/calimero-core/pkg/discovery"
)

func main() {
	timeout := flag.Duration("timeout", discovery.DefaultSearchTimeout, "search duration")
	mdns := flag.Bool("mdns", false, "browse DNS-SD advertisements instead of multicast search")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	var factory logging.LoggerFactory
	if *verbose {
		factory = logging.NewDefaultLoggerFactory()
	}

	if *mdns {
		browse(*timeout)
		return
	}

	d := discovery.NewDiscoverer(discovery.Config{
		Timeout:       *timeout,
		LoggerFactory: factory,
	})

	endpoints, err := d.Search(context.Background())
	if err != nil {
		log.Fatalf("Search failed: %v", err)
	}
	if len(endpoints) == 0 {
		fmt.Println("No KNXnet/IP servers found.")
		return
	}

	for _, ep := range endpoints {
		fmt.Printf("%s  %q  KNX address %s  [%s]\n",
			ep.Addr, ep.Device.Name, ep.Device.Addr, services(&ep))
	}
}

func services(ep *discovery.Endpoint) string {
	var s []string
	if ep.SupportsTunneling() {
		s = append(s, "tunneling")
	}
	if ep.SupportsRouting() {
		s = append(s, "routing")
	}
	if len(s) == 0 {
		return "core only"
	}
	return strings.Join(s, ", ")
}

func browse(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	results, err := discovery.Browse(ctx, nil)
	if err != nil {
		log.Fatalf("Browse failed: %v", err)
	}

	found := false
	for svc := range results {
		found = true
		fmt.Printf("%s  %q  host %s\n", svc.Addr(), svc.Instance, svc.Host)
	}
	if !found {
		fmt.Println("No DNS-SD advertisements found.")
	}
}
