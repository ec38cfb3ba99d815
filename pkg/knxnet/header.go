package knxnet

import (
	"encoding/binary"
	"fmt"
)

// ProtocolVersion is the KNXnet/IP protocol version carried in every header.
const ProtocolVersion = 0x10

// HeaderSize is the fixed size of the common KNXnet/IP header.
const HeaderSize = 6

// ServiceType identifies a KNXnet/IP service.
type ServiceType uint16

// Service identifiers (KNX Standard 03_08_01, Section 5.3).
const (
	SearchRequestService        ServiceType = 0x0201
	SearchResponseService       ServiceType = 0x0202
	DescriptionRequestService   ServiceType = 0x0203
	DescriptionResponseService  ServiceType = 0x0204
	ConnectRequestService       ServiceType = 0x0205
	ConnectResponseService      ServiceType = 0x0206
	ConnStateRequestService     ServiceType = 0x0207
	ConnStateResponseService    ServiceType = 0x0208
	DisconnectRequestService    ServiceType = 0x0209
	DisconnectResponseService   ServiceType = 0x020A
	TunnelRequestService        ServiceType = 0x0420
	TunnelAckService            ServiceType = 0x0421
	RoutingIndicationService    ServiceType = 0x0530
	RoutingLostMessageService   ServiceType = 0x0531
	RoutingBusyService          ServiceType = 0x0532
	SecureWrapperService        ServiceType = 0x0950
	SessionRequestService       ServiceType = 0x0951
	SessionResponseService      ServiceType = 0x0952
	SessionAuthenticateService  ServiceType = 0x0953
	SessionStatusService        ServiceType = 0x0954
	TimerNotifyService          ServiceType = 0x0955
)

// String returns the service name.
func (s ServiceType) String() string {
	switch s {
	case SearchRequestService:
		return "SearchRequest"
	case SearchResponseService:
		return "SearchResponse"
	case DescriptionRequestService:
		return "DescriptionRequest"
	case DescriptionResponseService:
		return "DescriptionResponse"
	case ConnectRequestService:
		return "ConnectRequest"
	case ConnectResponseService:
		return "ConnectResponse"
	case ConnStateRequestService:
		return "ConnectionStateRequest"
	case ConnStateResponseService:
		return "ConnectionStateResponse"
	case DisconnectRequestService:
		return "DisconnectRequest"
	case DisconnectResponseService:
		return "DisconnectResponse"
	case TunnelRequestService:
		return "TunnelingRequest"
	case TunnelAckService:
		return "TunnelingAck"
	case RoutingIndicationService:
		return "RoutingIndication"
	case RoutingLostMessageService:
		return "RoutingLostMessage"
	case RoutingBusyService:
		return "RoutingBusy"
	case SecureWrapperService:
		return "SecureWrapper"
	case SessionRequestService:
		return "SessionRequest"
	case SessionResponseService:
		return "SessionResponse"
	case SessionAuthenticateService:
		return "SessionAuthenticate"
	case SessionStatusService:
		return "SessionStatus"
	case TimerNotifyService:
		return "TimerNotify"
	default:
		return fmt.Sprintf("Service(0x%04X)", uint16(s))
	}
}

// Service is a KNXnet/IP service body that knows its identifier and how to
// serialize itself.
type Service interface {
	// Service returns the service identifier for the header.
	Service() ServiceType
	// packBody appends the body octets to buf and returns the result.
	packBody(buf []byte) []byte
}

// Pack serializes a service with its common header.
func Pack(s Service) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+32)
	buf = s.packBody(buf)

	buf[0] = HeaderSize
	buf[1] = ProtocolVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(s.Service()))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))

	return buf
}

// Unpack parses a complete datagram into a typed service. The header is
// validated first: length, version and declared total length must all hold.
func Unpack(data []byte) (Service, error) {
	if len(data) < HeaderSize {
		return nil, errPacketTruncated("header needs %d octets, have %d", HeaderSize, len(data))
	}
	if data[0] != HeaderSize {
		return nil, errPacketMalformed("header length %d", data[0])
	}
	if data[1] != ProtocolVersion {
		return nil, errPacketMalformed("protocol version 0x%02X", data[1])
	}

	service := ServiceType(binary.BigEndian.Uint16(data[2:4]))
	total := int(binary.BigEndian.Uint16(data[4:6]))
	if total < HeaderSize {
		return nil, errPacketMalformed("total length %d below header size", total)
	}
	if len(data) < total {
		return nil, errPacketTruncated("total length %d, have %d", total, len(data))
	}
	if len(data) > total {
		return nil, errPacketMalformed("total length %d, have %d", total, len(data))
	}

	body := data[HeaderSize:total]

	var s serviceUnpacker
	switch service {
	case SearchRequestService:
		s = &SearchRequest{}
	case SearchResponseService:
		s = &SearchResponse{}
	case DescriptionRequestService:
		s = &DescriptionRequest{}
	case DescriptionResponseService:
		s = &DescriptionResponse{}
	case ConnectRequestService:
		s = &ConnectRequest{}
	case ConnectResponseService:
		s = &ConnectResponse{}
	case ConnStateRequestService:
		s = &ConnStateRequest{}
	case ConnStateResponseService:
		s = &ConnStateResponse{}
	case DisconnectRequestService:
		s = &DisconnectRequest{}
	case DisconnectResponseService:
		s = &DisconnectResponse{}
	case TunnelRequestService:
		s = &TunnelRequest{}
	case TunnelAckService:
		s = &TunnelAck{}
	case RoutingIndicationService:
		s = &RoutingIndication{}
	case RoutingLostMessageService:
		s = &RoutingLostMessage{}
	case RoutingBusyService:
		s = &RoutingBusy{}
	case SecureWrapperService:
		s = &SecureWrapper{}
	case SessionRequestService:
		s = &SessionRequest{}
	case SessionResponseService:
		s = &SessionResponse{}
	case SessionAuthenticateService:
		s = &SessionAuthenticate{}
	case SessionStatusService:
		s = &SessionStatus{}
	case TimerNotifyService:
		s = &TimerNotify{}
	default:
		return nil, &UnsupportedServiceError{Type: service}
	}

	if err := s.unpackBody(body); err != nil {
		return nil, err
	}
	return s, nil
}

// serviceUnpacker is implemented by all service bodies this package can parse.
type serviceUnpacker interface {
	Service
	unpackBody(body []byte) error
}
