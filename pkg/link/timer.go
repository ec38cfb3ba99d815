package link

import "time"

// timerOp tags which action a timer expiry belongs to, so the state
// machine can apply the retry policy of that action kind.
type timerOp int

const (
	opConnect timerOp = iota + 1
	opAck
	opHeartbeatIdle
	opHeartbeatProbe
	opDisconnect
)

func (op timerOp) String() string {
	switch op {
	case opConnect:
		return "connect"
	case opAck:
		return "acknowledge"
	case opHeartbeatIdle:
		return "heartbeat idle"
	case opHeartbeatProbe:
		return "heartbeat probe"
	case opDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

type timerExpiry struct {
	op  timerOp
	gen uint64
}

// retryTimer is a single-shot, rearmable deadline. Expirations arrive on C
// tagged with the armed operation; the generation counter voids fires that
// were already in flight when the timer was disarmed or rearmed. Go timers
// run on the monotonic clock, so wall-clock adjustment cannot cause retry
// storms.
//
// arm, disarm and the receive from C must all happen on the owning run
// loop; only the expiry callback runs concurrently.
type retryTimer struct {
	C     chan timerExpiry
	timer *time.Timer
	gen   uint64
}

func newRetryTimer() *retryTimer {
	return &retryTimer{C: make(chan timerExpiry, 1)}
}

func (rt *retryTimer) arm(op timerOp, d time.Duration) {
	rt.disarm()
	gen := rt.gen
	rt.timer = time.AfterFunc(d, func() {
		select {
		case rt.C <- timerExpiry{op: op, gen: gen}:
		default:
		}
	})
}

func (rt *retryTimer) disarm() {
	rt.gen++
	if rt.timer != nil {
		rt.timer.Stop()
		rt.timer = nil
	}
	// Drop a fire that slipped into the buffer before the stop; it would
	// otherwise block the channel slot for the next arming.
	select {
	case <-rt.C:
	default:
	}
}

// valid reports whether the expiry belongs to the currently armed deadline.
func (rt *retryTimer) valid(e timerExpiry) bool {
	return e.gen == rt.gen && rt.timer != nil
}
