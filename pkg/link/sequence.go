package link

// SeqResult classifies a received sequence counter against the expected
// one.
type SeqResult int

const (
	// SeqAccept means the counter matches and the frame is new.
	SeqAccept SeqResult = iota
	// SeqDuplicate means the counter is exactly one behind: the peer
	// retransmitted a frame whose acknowledge got lost. Acknowledge it
	// again, do not deliver it again.
	SeqDuplicate
	// SeqViolation means any other counter value. The protocol is strictly
	// lock-step, so this is unrecoverable for the connection.
	SeqViolation
)

// String returns the classification name.
func (r SeqResult) String() string {
	switch r {
	case SeqAccept:
		return "accept"
	case SeqDuplicate:
		return "duplicate"
	case SeqViolation:
		return "violation"
	default:
		return "unknown"
	}
}

// ClassifySeq compares a received sequence counter with the expected one
// under the modulo-256 lock-step rule. Only the exact expected value and
// its immediate predecessor are tolerated; there is no window.
func ClassifySeq(expected, got uint8) SeqResult {
	switch got {
	case expected:
		return SeqAccept
	case expected - 1:
		return SeqDuplicate
	default:
		return SeqViolation
	}
}
