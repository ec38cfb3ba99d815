// Package link implements the KNX connection engine: the state machine
// that opens a logical connection to a KNX interface, paces sends against
// the protocol's lock-step acknowledge contract, supervises the connection
// with heartbeats and tears it down on failure.
//
// Three link variants share the NetworkLink surface. Tunnel speaks
// KNXnet/IP tunneling to a server over UDP with the full
// connect/acknowledge/heartbeat/disconnect machinery. Router joins the
// KNXnet/IP routing multicast group, which is connectionless and only
// needs outbound rate limiting. Device drives a serial FT1.2 or USB
// interface with bare cEMI frames.
//
// Each link runs one goroutine that exclusively owns the connection state;
// callers talk to it over channels and receive frames and status changes
// as events through subscriptions. Closing is always terminal: the engine
// never reconnects on its own.
package link
