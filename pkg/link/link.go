package link

import (
	"github.com/qgb1151521/calimero-core/pkg/cemi"
)

// NetworkLink is the transport-agnostic link surface. All variants deliver
// inbound frames and status changes as events, in the order they were
// observed on the wire; a closed link rejects further sends immediately.
type NetworkLink interface {
	// Send transmits one application frame. Behavior while a previous
	// send is unconfirmed follows the configured SendPolicy.
	Send(*cemi.Frame) error

	// Subscribe registers an event sink. A buffer of 0 selects the
	// default size; the channel closes after LinkClosed.
	Subscribe(buffer int) *Subscription

	// Unsubscribe removes a subscriber and closes its channel.
	Unsubscribe(*Subscription)

	// State returns the current connection state.
	State() State

	// Close shuts the link down, releasing its transport. Close is
	// idempotent.
	Close() error
}

var (
	_ NetworkLink = (*Tunnel)(nil)
	_ NetworkLink = (*Router)(nil)
	_ NetworkLink = (*Device)(nil)
)
