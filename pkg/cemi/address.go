package cemi

import (
	"fmt"
	"strconv"
	"strings"
)

// IndividualAddr is a 16-bit KNX individual (physical) address identifying
// a single device: area (4 bits), line (4 bits), device (8 bits).
// Written as "area.line.device", e.g. "1.1.23".
type IndividualAddr uint16

// NewIndividualAddr builds an individual address from its subfields.
// Area and line must fit in 4 bits each.
func NewIndividualAddr(area, line, device uint8) (IndividualAddr, error) {
	if area > 0x0F {
		return 0, fmt.Errorf("cemi: area %d out of range (0-15)", area)
	}
	if line > 0x0F {
		return 0, fmt.Errorf("cemi: line %d out of range (0-15)", line)
	}
	return IndividualAddr(uint16(area)<<12 | uint16(line)<<8 | uint16(device)), nil
}

// ParseIndividualAddr parses "area.line.device" notation.
func ParseIndividualAddr(s string) (IndividualAddr, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("cemi: invalid individual address %q", s)
	}
	fields, err := parseAddrFields(parts, [3]uint16{15, 15, 255})
	if err != nil {
		return 0, fmt.Errorf("cemi: invalid individual address %q: %w", s, err)
	}
	return IndividualAddr(fields[0]<<12 | fields[1]<<8 | fields[2]), nil
}

// Area returns the 4-bit area subfield.
func (a IndividualAddr) Area() uint8 { return uint8(a >> 12) }

// Line returns the 4-bit line subfield.
func (a IndividualAddr) Line() uint8 { return uint8(a>>8) & 0x0F }

// Device returns the 8-bit device subfield.
func (a IndividualAddr) Device() uint8 { return uint8(a) }

// String returns the "area.line.device" notation.
func (a IndividualAddr) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// GroupAddr is a 16-bit KNX group address identifying a logical
// communication object. The 3-level interpretation is main (5 bits),
// middle (3 bits), sub (8 bits), written "main/middle/sub", e.g. "1/2/3".
// The raw 16-bit value is authoritative; the 3-level split is presentation
// only and free-form addressing uses the same value space.
type GroupAddr uint16

// NewGroupAddr builds a 3-level group address from its subfields.
func NewGroupAddr(main, middle, sub uint8) (GroupAddr, error) {
	if main > 0x1F {
		return 0, fmt.Errorf("cemi: main group %d out of range (0-31)", main)
	}
	if middle > 0x07 {
		return 0, fmt.Errorf("cemi: middle group %d out of range (0-7)", middle)
	}
	return GroupAddr(uint16(main)<<11 | uint16(middle)<<8 | uint16(sub)), nil
}

// ParseGroupAddr parses "main/middle/sub" notation.
func ParseGroupAddr(s string) (GroupAddr, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0, fmt.Errorf("cemi: invalid group address %q", s)
	}
	fields, err := parseAddrFields(parts, [3]uint16{31, 7, 255})
	if err != nil {
		return 0, fmt.Errorf("cemi: invalid group address %q: %w", s, err)
	}
	return GroupAddr(fields[0]<<11 | fields[1]<<8 | fields[2]), nil
}

// Main returns the 5-bit main group subfield.
func (a GroupAddr) Main() uint8 { return uint8(a >> 11) }

// Middle returns the 3-bit middle group subfield.
func (a GroupAddr) Middle() uint8 { return uint8(a>>8) & 0x07 }

// Sub returns the 8-bit sub group subfield.
func (a GroupAddr) Sub() uint8 { return uint8(a) }

// String returns the "main/middle/sub" notation.
func (a GroupAddr) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Main(), a.Middle(), a.Sub())
}

func parseAddrFields(parts []string, max [3]uint16) ([3]uint16, error) {
	var fields [3]uint16
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return fields, err
		}
		if uint16(v) > max[i] {
			return fields, fmt.Errorf("field %d out of range (0-%d)", i, max[i])
		}
		fields[i] = uint16(v)
	}
	return fields, nil
}

// Addr is a destination address together with its interpretation.
// The same 16-bit value space is shared by individual and group addresses;
// which one applies is carried in the frame's control field, never inferred
// from the value itself.
type Addr struct {
	Raw   uint16
	Group bool
}

// IndividualDest wraps an individual address as a frame destination.
func IndividualDest(a IndividualAddr) Addr {
	return Addr{Raw: uint16(a)}
}

// GroupDest wraps a group address as a frame destination.
func GroupDest(a GroupAddr) Addr {
	return Addr{Raw: uint16(a), Group: true}
}

// String renders the address in the notation matching its interpretation.
func (a Addr) String() string {
	if a.Group {
		return GroupAddr(a.Raw).String()
	}
	return IndividualAddr(a.Raw).String()
}
