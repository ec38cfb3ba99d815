package link

import "time"

// Timing and retry defaults mandated by KNX Standard 03_08_02/03_08_04 for
// KNXnet/IP tunneling. They are configurable per action kind, not global.
const (
	// DefaultConnectTimeout bounds the wait for a connect response.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultConnectRetries is how often an unanswered connect request is
	// repeated before giving up.
	DefaultConnectRetries = 1

	// DefaultAckTimeout bounds the wait for a tunneling acknowledge.
	DefaultAckTimeout = time.Second

	// DefaultSendRetries is how often an unacknowledged tunneling request
	// is retransmitted before the connection closes.
	DefaultSendRetries = 1

	// DefaultHeartbeatInterval is the idle time after which a connection
	// state probe is sent.
	DefaultHeartbeatInterval = 60 * time.Second

	// DefaultHeartbeatTimeout bounds the wait for one probe's response.
	DefaultHeartbeatTimeout = 10 * time.Second

	// DefaultHeartbeatRetries is the number of probes sent before the
	// connection is considered lost.
	DefaultHeartbeatRetries = 3

	// DefaultDisconnectTimeout bounds the wait for a disconnect response
	// during graceful close.
	DefaultDisconnectTimeout = 5 * time.Second

	// DefaultQueueSize bounds the send queue under SendQueue.
	DefaultQueueSize = 16

	// DefaultRoutingSendLimit is the outbound rate cap on a routing link,
	// in frames per second.
	DefaultRoutingSendLimit = 50
)

// Params holds per-action timeouts and retry counts. The zero value of a
// field selects its protocol default.
type Params struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ConnectRetries    int           `yaml:"connect_retries"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	SendRetries       int           `yaml:"send_retries"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatRetries  int           `yaml:"heartbeat_retries"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

func (p *Params) applyDefaults() {
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	if p.ConnectRetries == 0 {
		p.ConnectRetries = DefaultConnectRetries
	}
	if p.AckTimeout == 0 {
		p.AckTimeout = DefaultAckTimeout
	}
	if p.SendRetries == 0 {
		p.SendRetries = DefaultSendRetries
	}
	if p.HeartbeatInterval == 0 {
		p.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if p.HeartbeatTimeout == 0 {
		p.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if p.HeartbeatRetries == 0 {
		p.HeartbeatRetries = DefaultHeartbeatRetries
	}
	if p.DisconnectTimeout == 0 {
		p.DisconnectTimeout = DefaultDisconnectTimeout
	}
}

// SendPolicy decides what Send does while an acknowledge is outstanding.
// The lock-step protocol allows at most one unacknowledged send; the policy
// only chooses how callers experience that limit.
type SendPolicy int

const (
	// SendBlock makes Send wait until the frame is acknowledged or the
	// link closes.
	SendBlock SendPolicy = iota
	// SendReject makes Send return ErrSendBusy immediately.
	SendReject
	// SendQueue enqueues up to QueueSize frames and returns; the
	// acknowledge arrives later as a FrameConfirmed event.
	SendQueue
)

// String returns the policy name.
func (p SendPolicy) String() string {
	switch p {
	case SendBlock:
		return "block"
	case SendReject:
		return "reject"
	case SendQueue:
		return "queue"
	default:
		return "unknown"
	}
}
