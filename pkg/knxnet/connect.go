package knxnet

import (
	"encoding/binary"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
)

// Connection type codes used in the connection request information block.
const (
	// TunnelConnType requests a tunneling connection to the KNX network.
	TunnelConnType = 0x04
	// MgmtConnType requests a device management connection.
	MgmtConnType = 0x03
)

// TunnelLayer selects which layer a tunneling connection taps.
type TunnelLayer uint8

// Tunneling layers (KNX Standard 03_08_04, Section 4.4.3).
const (
	TunnelLinkLayer  TunnelLayer = 0x02
	TunnelRawLayer   TunnelLayer = 0x04
	TunnelBusmonitor TunnelLayer = 0x80
)

// ConnectRequest asks the server to allocate a new tunneling connection.
// Control is the endpoint for connection management traffic, Data the
// endpoint for tunneling traffic; for a single-socket client both are the
// same HPAI.
type ConnectRequest struct {
	Control HPAI
	Data    HPAI
	Layer   TunnelLayer
}

// Service returns the service identifier.
func (*ConnectRequest) Service() ServiceType { return ConnectRequestService }

func (r *ConnectRequest) packBody(buf []byte) []byte {
	buf = r.Control.pack(buf)
	buf = r.Data.pack(buf)
	// Connection request information: length, type, layer, reserved.
	return append(buf, 0x04, TunnelConnType, byte(r.Layer), 0x00)
}

func (r *ConnectRequest) unpackBody(body []byte) error {
	n, err := unpackHPAI(body, &r.Control)
	if err != nil {
		return err
	}
	m, err := unpackHPAI(body[n:], &r.Data)
	if err != nil {
		return err
	}
	cri := body[n+m:]
	if len(cri) < 4 {
		return errPacketTruncated("CRI needs 4 octets, have %d", len(cri))
	}
	if cri[0] != 0x04 || cri[1] != TunnelConnType {
		return errPacketMalformed("CRI %02X %02X", cri[0], cri[1])
	}
	r.Layer = TunnelLayer(cri[2])
	return nil
}

// ConnectResponse reports the outcome of a connection request. On success
// it carries the channel identifier allocated by the server, the server's
// data endpoint and the individual address assigned to the tunnel.
type ConnectResponse struct {
	Channel uint8
	Status  Status
	Data    HPAI
	KNXAddr cemi.IndividualAddr
}

// Service returns the service identifier.
func (*ConnectResponse) Service() ServiceType { return ConnectResponseService }

func (r *ConnectResponse) packBody(buf []byte) []byte {
	buf = append(buf, r.Channel, byte(r.Status))
	if r.Status != StatusNoError {
		return buf
	}
	buf = r.Data.pack(buf)
	// Connection response data: length, type, assigned individual address.
	return append(buf, 0x04, TunnelConnType, byte(r.KNXAddr>>8), byte(r.KNXAddr))
}

func (r *ConnectResponse) unpackBody(body []byte) error {
	if len(body) < 2 {
		return errPacketTruncated("connect response needs 2 octets, have %d", len(body))
	}
	r.Channel = body[0]
	r.Status = Status(body[1])
	if r.Status != StatusNoError {
		return nil
	}
	n, err := unpackHPAI(body[2:], &r.Data)
	if err != nil {
		return err
	}
	crd := body[2+n:]
	if len(crd) < 4 {
		return errPacketTruncated("CRD needs 4 octets, have %d", len(crd))
	}
	if crd[0] != 0x04 || crd[1] != TunnelConnType {
		return errPacketMalformed("CRD %02X %02X", crd[0], crd[1])
	}
	r.KNXAddr = cemi.IndividualAddr(binary.BigEndian.Uint16(crd[2:4]))
	return nil
}

// ConnStateRequest is the heartbeat probe: it asks the server to confirm
// that the identified connection is still alive.
type ConnStateRequest struct {
	Channel uint8
	Control HPAI
}

// Service returns the service identifier.
func (*ConnStateRequest) Service() ServiceType { return ConnStateRequestService }

func (r *ConnStateRequest) packBody(buf []byte) []byte {
	buf = append(buf, r.Channel, 0x00)
	return r.Control.pack(buf)
}

func (r *ConnStateRequest) unpackBody(body []byte) error {
	if len(body) < 2 {
		return errPacketTruncated("connection state request needs 2 octets, have %d", len(body))
	}
	r.Channel = body[0]
	_, err := unpackHPAI(body[2:], &r.Control)
	return err
}

// ConnStateResponse answers a heartbeat probe.
type ConnStateResponse struct {
	Channel uint8
	Status  Status
}

// Service returns the service identifier.
func (*ConnStateResponse) Service() ServiceType { return ConnStateResponseService }

func (r *ConnStateResponse) packBody(buf []byte) []byte {
	return append(buf, r.Channel, byte(r.Status))
}

func (r *ConnStateResponse) unpackBody(body []byte) error {
	if len(body) < 2 {
		return errPacketTruncated("connection state response needs 2 octets, have %d", len(body))
	}
	r.Channel = body[0]
	r.Status = Status(body[1])
	return nil
}

// DisconnectRequest initiates an orderly teardown of a connection. Either
// side may send it.
type DisconnectRequest struct {
	Channel uint8
	Control HPAI
}

// Service returns the service identifier.
func (*DisconnectRequest) Service() ServiceType { return DisconnectRequestService }

func (r *DisconnectRequest) packBody(buf []byte) []byte {
	buf = append(buf, r.Channel, 0x00)
	return r.Control.pack(buf)
}

func (r *DisconnectRequest) unpackBody(body []byte) error {
	if len(body) < 2 {
		return errPacketTruncated("disconnect request needs 2 octets, have %d", len(body))
	}
	r.Channel = body[0]
	_, err := unpackHPAI(body[2:], &r.Control)
	return err
}

// DisconnectResponse acknowledges a disconnect request.
type DisconnectResponse struct {
	Channel uint8
	Status  Status
}

// Service returns the service identifier.
func (*DisconnectResponse) Service() ServiceType { return DisconnectResponseService }

func (r *DisconnectResponse) packBody(buf []byte) []byte {
	return append(buf, r.Channel, byte(r.Status))
}

func (r *DisconnectResponse) unpackBody(body []byte) error {
	if len(body) < 2 {
		return errPacketTruncated("disconnect response needs 2 octets, have %d", len(body))
	}
	r.Channel = body[0]
	r.Status = Status(body[1])
	return nil
}
