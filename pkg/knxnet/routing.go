package knxnet

import (
	"encoding/binary"
	"time"
)

// DefaultMulticast is the well-known KNXnet/IP routing and discovery
// multicast endpoint.
const DefaultMulticast = "224.0.23.12:3671"

// RoutingIndication carries one cEMI frame on the routing multicast group.
// Routing is connectionless: there is no channel, no sequence counter and
// no acknowledgment at this layer.
type RoutingIndication struct {
	Payload []byte // encoded cEMI frame
}

// Service returns the service identifier.
func (*RoutingIndication) Service() ServiceType { return RoutingIndicationService }

func (r *RoutingIndication) packBody(buf []byte) []byte {
	return append(buf, r.Payload...)
}

func (r *RoutingIndication) unpackBody(body []byte) error {
	if len(body) == 0 {
		return errPacketTruncated("routing indication carries no cEMI frame")
	}
	r.Payload = append([]byte(nil), body...)
	return nil
}

// RoutingLostMessage announces that a router overflowed its queue and
// dropped frames. Receivers cannot recover the frames; the signal is
// surfaced so applications know traffic was lost.
type RoutingLostMessage struct {
	DeviceState uint8
	Lost        uint16
}

// Service returns the service identifier.
func (*RoutingLostMessage) Service() ServiceType { return RoutingLostMessageService }

func (r *RoutingLostMessage) packBody(buf []byte) []byte {
	return append(buf, 0x04, r.DeviceState, byte(r.Lost>>8), byte(r.Lost))
}

func (r *RoutingLostMessage) unpackBody(body []byte) error {
	if len(body) < 4 {
		return errPacketTruncated("lost message needs 4 octets, have %d", len(body))
	}
	r.DeviceState = body[1]
	r.Lost = binary.BigEndian.Uint16(body[2:4])
	return nil
}

// RoutingBusy asks senders on the multicast group to pause for the wait
// time to let a congested router drain its queue.
type RoutingBusy struct {
	DeviceState uint8
	WaitTime    time.Duration
	Control     uint16
}

// Service returns the service identifier.
func (*RoutingBusy) Service() ServiceType { return RoutingBusyService }

func (r *RoutingBusy) packBody(buf []byte) []byte {
	wait := uint16(r.WaitTime / time.Millisecond)
	return append(buf, 0x06, r.DeviceState,
		byte(wait>>8), byte(wait),
		byte(r.Control>>8), byte(r.Control))
}

func (r *RoutingBusy) unpackBody(body []byte) error {
	if len(body) < 6 {
		return errPacketTruncated("routing busy needs 6 octets, have %d", len(body))
	}
	r.DeviceState = body[1]
	r.WaitTime = time.Duration(binary.BigEndian.Uint16(body[2:4])) * time.Millisecond
	r.Control = binary.BigEndian.Uint16(body[4:6])
	return nil
}
