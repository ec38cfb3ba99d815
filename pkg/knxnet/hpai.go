package knxnet

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HostProtocol selects the transport protocol of a host protocol address.
type HostProtocol uint8

// Host protocol codes.
const (
	ProtoUDP HostProtocol = 0x01
	ProtoTCP HostProtocol = 0x02
)

// hpaiSize is the fixed size of an IPv4 host protocol address information
// structure.
const hpaiSize = 8

// HPAI is a host protocol address information structure: an IPv4 endpoint
// plus the host protocol it speaks. An all-zero address with protocol UDP is
// the NAT-traversal wildcard ("route back to the sender").
type HPAI struct {
	Proto HostProtocol
	IP    net.IP
	Port  uint16
}

// HPAIFromAddr derives an HPAI from a local socket address.
func HPAIFromAddr(addr net.Addr) HPAI {
	h := HPAI{Proto: ProtoUDP}
	if udp, ok := addr.(*net.UDPAddr); ok {
		h.IP = udp.IP.To4()
		h.Port = uint16(udp.Port)
	}
	return h
}

// String returns "proto ip:port".
func (h HPAI) String() string {
	proto := "udp"
	if h.Proto == ProtoTCP {
		proto = "tcp"
	}
	return fmt.Sprintf("%s %s:%d", proto, h.IP, h.Port)
}

// Addr returns the endpoint as a net.UDPAddr.
func (h HPAI) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: h.IP, Port: int(h.Port)}
}

// IsWildcard reports whether the HPAI is the NAT-traversal wildcard.
func (h HPAI) IsWildcard() bool {
	ip4 := h.IP.To4()
	return (ip4 == nil || ip4.Equal(net.IPv4zero.To4())) && h.Port == 0
}

func (h HPAI) pack(buf []byte) []byte {
	b := make([]byte, hpaiSize)
	b[0] = hpaiSize
	b[1] = byte(h.Proto)
	if ip4 := h.IP.To4(); ip4 != nil {
		copy(b[2:6], ip4)
	}
	binary.BigEndian.PutUint16(b[6:8], h.Port)
	return append(buf, b...)
}

// unpackHPAI parses an HPAI at the start of body, returning the number of
// octets consumed.
func unpackHPAI(body []byte, h *HPAI) (int, error) {
	if len(body) < hpaiSize {
		return 0, errPacketTruncated("HPAI needs %d octets, have %d", hpaiSize, len(body))
	}
	if body[0] != hpaiSize {
		return 0, errPacketMalformed("HPAI structure length %d", body[0])
	}
	proto := HostProtocol(body[1])
	if proto != ProtoUDP && proto != ProtoTCP {
		return 0, errPacketMalformed("HPAI host protocol 0x%02X", body[1])
	}
	h.Proto = proto
	h.IP = net.IP{body[2], body[3], body[4], body[5]}
	h.Port = binary.BigEndian.Uint16(body[6:8])
	return hpaiSize, nil
}
