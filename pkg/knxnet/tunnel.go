package knxnet

// connHeaderSize is the size of the connection header preceding tunneling
// bodies: structure length, channel, sequence counter, status/reserved.
const connHeaderSize = 4

// TunnelRequest carries one cEMI frame over an established tunneling
// connection. Each direction numbers its requests with a modulo-256
// sequence counter; the peer acknowledges every request.
type TunnelRequest struct {
	Channel uint8
	Seq     uint8
	Payload []byte // encoded cEMI frame
}

// Service returns the service identifier.
func (*TunnelRequest) Service() ServiceType { return TunnelRequestService }

func (r *TunnelRequest) packBody(buf []byte) []byte {
	buf = append(buf, connHeaderSize, r.Channel, r.Seq, 0x00)
	return append(buf, r.Payload...)
}

func (r *TunnelRequest) unpackBody(body []byte) error {
	if len(body) < connHeaderSize {
		return errPacketTruncated("connection header needs %d octets, have %d", connHeaderSize, len(body))
	}
	if body[0] != connHeaderSize {
		return errPacketMalformed("connection header length %d", body[0])
	}
	r.Channel = body[1]
	r.Seq = body[2]
	r.Payload = append([]byte(nil), body[connHeaderSize:]...)
	return nil
}

// TunnelAck acknowledges a tunneling request, echoing its sequence counter.
type TunnelAck struct {
	Channel uint8
	Seq     uint8
	Status  Status
}

// Service returns the service identifier.
func (*TunnelAck) Service() ServiceType { return TunnelAckService }

func (a *TunnelAck) packBody(buf []byte) []byte {
	return append(buf, connHeaderSize, a.Channel, a.Seq, byte(a.Status))
}

func (a *TunnelAck) unpackBody(body []byte) error {
	if len(body) < connHeaderSize {
		return errPacketTruncated("connection header needs %d octets, have %d", connHeaderSize, len(body))
	}
	if body[0] != connHeaderSize {
		return errPacketMalformed("connection header length %d", body[0])
	}
	a.Channel = body[1]
	a.Seq = body[2]
	a.Status = Status(body[3])
	return nil
}
