package knxnet

import (
	"bytes"
	"fmt"

	"github.com/qgb1151521/calimero-core/pkg/cemi"
)

// Description information block types.
const (
	dibDeviceInfo        = 0x01
	dibSupportedServices = 0x02
)

// KNX medium codes reported in the device information block.
const (
	MediumTP1   = 0x02
	MediumPL110 = 0x04
	MediumRF    = 0x10
	MediumIP    = 0x20
)

// DeviceDIB is the device information block a server includes in search and
// description responses.
type DeviceDIB struct {
	Medium       uint8
	Status       uint8
	Addr         cemi.IndividualAddr
	ProjectID    uint16
	Serial       [6]byte
	RoutingMcast [4]byte
	MAC          [6]byte
	Name         string // friendly name, at most 30 octets
}

const deviceDIBSize = 54

func (d *DeviceDIB) pack(buf []byte) []byte {
	b := make([]byte, deviceDIBSize)
	b[0] = deviceDIBSize
	b[1] = dibDeviceInfo
	b[2] = d.Medium
	b[3] = d.Status
	b[4] = byte(d.Addr >> 8)
	b[5] = byte(d.Addr)
	b[6] = byte(d.ProjectID >> 8)
	b[7] = byte(d.ProjectID)
	copy(b[8:14], d.Serial[:])
	copy(b[14:18], d.RoutingMcast[:])
	copy(b[18:24], d.MAC[:])
	name := d.Name
	if len(name) > 30 {
		name = name[:30]
	}
	copy(b[24:54], name)
	return append(buf, b...)
}

func (d *DeviceDIB) unpack(body []byte) (int, error) {
	if len(body) < deviceDIBSize {
		return 0, errPacketTruncated("device DIB needs %d octets, have %d", deviceDIBSize, len(body))
	}
	if body[0] != deviceDIBSize || body[1] != dibDeviceInfo {
		return 0, errPacketMalformed("device DIB header %02X %02X", body[0], body[1])
	}
	d.Medium = body[2]
	d.Status = body[3]
	d.Addr = cemi.IndividualAddr(uint16(body[4])<<8 | uint16(body[5]))
	d.ProjectID = uint16(body[6])<<8 | uint16(body[7])
	copy(d.Serial[:], body[8:14])
	copy(d.RoutingMcast[:], body[14:18])
	copy(d.MAC[:], body[18:24])
	d.Name = string(bytes.TrimRight(body[24:54], "\x00"))
	return deviceDIBSize, nil
}

// ServiceFamily describes one supported service family and its version.
type ServiceFamily struct {
	ID      uint8
	Version uint8
}

// Service family identifiers.
const (
	FamilyCore       = 0x02
	FamilyManagement = 0x03
	FamilyTunneling  = 0x04
	FamilyRouting    = 0x05
)

// SupportedServicesDIB lists the service families a server implements.
type SupportedServicesDIB struct {
	Families []ServiceFamily
}

func (s *SupportedServicesDIB) pack(buf []byte) []byte {
	b := make([]byte, 2+2*len(s.Families))
	b[0] = byte(len(b))
	b[1] = dibSupportedServices
	for i, f := range s.Families {
		b[2+2*i] = f.ID
		b[3+2*i] = f.Version
	}
	return append(buf, b...)
}

func (s *SupportedServicesDIB) unpack(body []byte) (int, error) {
	if len(body) < 2 {
		return 0, errPacketTruncated("service DIB needs 2 octets, have %d", len(body))
	}
	size := int(body[0])
	if size < 2 || size%2 != 0 || len(body) < size || body[1] != dibSupportedServices {
		return 0, errPacketMalformed("service DIB header %02X %02X", body[0], body[1])
	}
	s.Families = nil
	for i := 2; i+1 < size; i += 2 {
		s.Families = append(s.Families, ServiceFamily{ID: body[i], Version: body[i+1]})
	}
	return size, nil
}

// Supports reports whether the family is present.
func (s *SupportedServicesDIB) Supports(family uint8) bool {
	for _, f := range s.Families {
		if f.ID == family {
			return true
		}
	}
	return false
}

// SearchRequest is multicast to the discovery endpoint; servers answer with
// a unicast SearchResponse to the discovery HPAI.
type SearchRequest struct {
	Discovery HPAI
}

// Service returns the service identifier.
func (*SearchRequest) Service() ServiceType { return SearchRequestService }

func (r *SearchRequest) packBody(buf []byte) []byte {
	return r.Discovery.pack(buf)
}

func (r *SearchRequest) unpackBody(body []byte) error {
	_, err := unpackHPAI(body, &r.Discovery)
	return err
}

// SearchResponse describes one server: its control endpoint, device info
// and supported service families.
type SearchResponse struct {
	Control  HPAI
	Device   DeviceDIB
	Services SupportedServicesDIB
}

// Service returns the service identifier.
func (*SearchResponse) Service() ServiceType { return SearchResponseService }

func (r *SearchResponse) packBody(buf []byte) []byte {
	buf = r.Control.pack(buf)
	buf = r.Device.pack(buf)
	return r.Services.pack(buf)
}

func (r *SearchResponse) unpackBody(body []byte) error {
	n, err := unpackHPAI(body, &r.Control)
	if err != nil {
		return err
	}
	m, err := r.Device.unpack(body[n:])
	if err != nil {
		return err
	}
	_, err = r.Services.unpack(body[n+m:])
	return err
}

// String renders a one-line summary for logs and CLI output.
func (r *SearchResponse) String() string {
	return fmt.Sprintf("%q %s at %s:%d", r.Device.Name, r.Device.Addr, r.Control.IP, r.Control.Port)
}

// DescriptionRequest asks a specific server for its self description.
type DescriptionRequest struct {
	Control HPAI
}

// Service returns the service identifier.
func (*DescriptionRequest) Service() ServiceType { return DescriptionRequestService }

func (r *DescriptionRequest) packBody(buf []byte) []byte {
	return r.Control.pack(buf)
}

func (r *DescriptionRequest) unpackBody(body []byte) error {
	_, err := unpackHPAI(body, &r.Control)
	return err
}

// DescriptionResponse carries the same blocks as a search response, minus
// the control endpoint.
type DescriptionResponse struct {
	Device   DeviceDIB
	Services SupportedServicesDIB
}

// Service returns the service identifier.
func (*DescriptionResponse) Service() ServiceType { return DescriptionResponseService }

func (r *DescriptionResponse) packBody(buf []byte) []byte {
	buf = r.Device.pack(buf)
	return r.Services.pack(buf)
}

func (r *DescriptionResponse) unpackBody(body []byte) error {
	n, err := r.Device.unpack(body)
	if err != nil {
		return err
	}
	_, err = r.Services.unpack(body[n:])
	return err
}
