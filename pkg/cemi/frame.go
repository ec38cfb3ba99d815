package cemi

import "fmt"

// MessageCode identifies the cEMI primitive carried by a frame.
type MessageCode uint8

// Link-layer message codes (KNX Standard 03_06_03, Section 4.1.5.3).
const (
	// LDataReq is a data transmit request from the client to the medium.
	LDataReq MessageCode = 0x11
	// LDataInd is a data indication: a frame observed on the medium.
	LDataInd MessageCode = 0x29
	// LDataCon is a data confirmation for a previous L_Data.req.
	LDataCon MessageCode = 0x2E
	// MPropReadReq is a management property read request.
	MPropReadReq MessageCode = 0xFC
	// MPropReadCon is a management property read confirmation.
	MPropReadCon MessageCode = 0xFB
	// MResetReq requests a reset of the cEMI server.
	MResetReq MessageCode = 0xF1
	// MResetInd indicates a completed reset of the cEMI server.
	MResetInd MessageCode = 0xF0
)

// String returns the standard primitive name.
func (c MessageCode) String() string {
	switch c {
	case LDataReq:
		return "L_Data.req"
	case LDataInd:
		return "L_Data.ind"
	case LDataCon:
		return "L_Data.con"
	case MPropReadReq:
		return "M_PropRead.req"
	case MPropReadCon:
		return "M_PropRead.con"
	case MResetReq:
		return "M_Reset.req"
	case MResetInd:
		return "M_Reset.ind"
	default:
		return fmt.Sprintf("0x%02X", uint8(c))
	}
}

func validMessageCode(c MessageCode) bool {
	switch c {
	case LDataReq, LDataInd, LDataCon, MPropReadReq, MPropReadCon, MResetReq, MResetInd:
		return true
	}
	return false
}

// Priority is the bus access priority of a frame.
type Priority uint8

// Frame priorities, highest first.
const (
	PrioritySystem Priority = 0
	PriorityUrgent Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "system"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// Control field 1 bit masks.
const (
	ctrl1StdFrame  = 0x80 // standard frame format
	ctrl1NoRepeat  = 0x20 // do not repeat on medium
	ctrl1SysBcast  = 0x10 // 0 = system broadcast, 1 = broadcast
	ctrl1PrioShift = 2    // priority occupies bits 2-3
	ctrl1AckReq    = 0x02 // request L2 acknowledge
	ctrl1ConfErr   = 0x01 // confirmation indicates an error
)

// Control field 2 bit masks.
const (
	ctrl2GroupDest = 0x80 // destination is a group address
	ctrl2HopShift  = 4    // hop count occupies bits 4-6
	ctrl2HopMask   = 0x07
)

// DefaultHopCount is the routing counter applied to new frames.
const DefaultHopCount = 6

// MaxPayload is the largest transport PDU a frame may carry. cEMI declares
// the NPDU length in a single octet counting the octets following the TPCI
// octet, bounding the TPDU to 255 octets total.
const MaxPayload = 255

// Frame is an immutable cEMI link-layer frame. Construct frames with
// NewFrame (outbound) or Decode (inbound); do not mutate a frame after
// construction or delivery.
//
// Data holds the transport PDU, i.e. the TPCI/APCI octets followed by the
// application payload. Its interpretation belongs to the datapoint layer;
// this package only validates its length.
type Frame struct {
	Code     MessageCode
	Priority Priority
	Source   IndividualAddr
	Dest     Addr
	HopCount uint8
	Repeat   bool
	// ConfirmError is set on an L_Data.con whose transmission failed.
	ConfirmError bool
	Data         []byte
}

// NewFrame constructs a validated outbound frame. The payload length is
// checked here so that Encode never fails for an in-model frame.
func NewFrame(code MessageCode, src IndividualAddr, dest Addr, prio Priority, data []byte) (*Frame, error) {
	if !validMessageCode(code) {
		return nil, fmt.Errorf("cemi: unknown message code 0x%02X", uint8(code))
	}
	if prio > PriorityLow {
		return nil, fmt.Errorf("cemi: invalid priority %d", uint8(prio))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("cemi: empty transport PDU")
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("cemi: transport PDU of %d octets exceeds maximum %d", len(data), MaxPayload)
	}
	f := &Frame{
		Code:     code,
		Priority: prio,
		Source:   src,
		Dest:     dest,
		HopCount: DefaultHopCount,
		Data:     make([]byte, len(data)),
	}
	copy(f.Data, data)
	return f, nil
}

// GroupWrite builds an L_Data.req carrying a group-value write APDU for the
// given group address. The value octets follow the 6-bit small-APCI rule:
// values up to 6 bits are folded into the APCI octet, longer values follow it.
func GroupWrite(src IndividualAddr, dest GroupAddr, value []byte) (*Frame, error) {
	const apciGroupWrite = 0x80
	var tpdu []byte
	if len(value) == 1 && value[0] <= 0x3F {
		tpdu = []byte{0x00, apciGroupWrite | value[0]}
	} else {
		tpdu = make([]byte, 2+len(value))
		tpdu[0] = 0x00
		tpdu[1] = apciGroupWrite
		copy(tpdu[2:], value)
	}
	return NewFrame(LDataReq, src, GroupDest(dest), PriorityLow, tpdu)
}

// String renders a short human-readable form for logging.
func (f *Frame) String() string {
	return fmt.Sprintf("%s %s->%s prio=%s len=%d", f.Code, f.Source, f.Dest, f.Priority, len(f.Data))
}
