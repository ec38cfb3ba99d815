package dpt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Family is the encoding family of a datapoint type. It selects the codec
// and the concrete Value type of a descriptor.
type Family uint8

// Encoding families.
const (
	FamilyBool    Family = iota // 1.x, 1 bit
	FamilyStep                  // 3.x, control and step code
	FamilyScaled                // 5.x, 8-bit unsigned with scaling
	FamilyFloat16               // 9.x, 16-bit float
	FamilyFloat32               // 14.x, 32-bit float
	FamilyTime                  // 10.001
	FamilyDate                  // 11.001
	FamilyString                // 16.x, 14 octets
)

// Descriptor describes one datapoint type: its identifier, its family and
// the family parameters. Descriptors come from the table in this package
// and are immutable.
type Descriptor struct {
	ID   string
	Name string
	Unit string

	family Family
	// scale converts a raw 5.x octet into engineering units.
	scale float64
	// ascii restricts a 16.x string to 7-bit characters.
	ascii bool
}

// Family returns the descriptor's encoding family.
func (d Descriptor) Family() Family { return d.family }

// String returns "id name".
func (d Descriptor) String() string { return d.ID + " " + d.Name }

// Format renders a decoded value with the descriptor's unit.
func (d Descriptor) Format(v Value) string { return formatValue(v, d.Unit) }

// stringPayloadSize is the fixed payload size of family 16.x.
const stringPayloadSize = 14

// Encode converts a typed value into datapoint octets. Values of up to
// 6 bits are returned as a single octet below 0x40, ready for folding into
// a small APCI.
func (d Descriptor) Encode(v Value) ([]byte, error) {
	switch d.family {
	case FamilyBool:
		b, ok := v.(Bool)
		if !ok {
			return nil, typeError(d, v)
		}
		if b {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil

	case FamilyStep:
		s, ok := v.(Step)
		if !ok {
			return nil, typeError(d, v)
		}
		if s.Code > 7 {
			return nil, fmt.Errorf("dpt: %s step code %d exceeds 7", d.ID, s.Code)
		}
		octet := s.Code
		if s.Increase {
			octet |= 0x08
		}
		return []byte{octet}, nil

	case FamilyScaled:
		s, ok := v.(Scaled)
		if !ok {
			return nil, typeError(d, v)
		}
		raw := math.Round(float64(s) / d.scale)
		if raw < 0 || raw > 255 {
			return nil, rangeError(d, float64(s))
		}
		return []byte{byte(raw)}, nil

	case FamilyFloat16:
		f, ok := v.(Float)
		if !ok {
			return nil, typeError(d, v)
		}
		bits, err := packFloat16(float64(f))
		if err != nil {
			return nil, fmt.Errorf("dpt: %s: %w", d.ID, err)
		}
		out := make([]byte, 2)
		binary.BigEndian.PutUint16(out, bits)
		return out, nil

	case FamilyFloat32:
		f, ok := v.(Float)
		if !ok {
			return nil, typeError(d, v)
		}
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, math.Float32bits(float32(f)))
		return out, nil

	case FamilyTime:
		t, ok := v.(TimeOfDay)
		if !ok {
			return nil, typeError(d, v)
		}
		if t.Weekday > 7 || t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
			return nil, fmt.Errorf("dpt: %s invalid time of day", d.ID)
		}
		return []byte{t.Weekday<<5 | t.Hour, t.Minute, t.Second}, nil

	case FamilyDate:
		dt, ok := v.(Date)
		if !ok {
			return nil, typeError(d, v)
		}
		if dt.Year < 1990 || dt.Year > 2089 || dt.Month < 1 || dt.Month > 12 || dt.Day < 1 || dt.Day > 31 {
			return nil, fmt.Errorf("dpt: %s invalid date", d.ID)
		}
		year := dt.Year % 100
		return []byte{dt.Day, dt.Month, byte(year)}, nil

	case FamilyString:
		s, ok := v.(String)
		if !ok {
			return nil, typeError(d, v)
		}
		if len(s) > stringPayloadSize {
			return nil, fmt.Errorf("dpt: %s string of %d characters exceeds %d", d.ID, len(s), stringPayloadSize)
		}
		out := make([]byte, stringPayloadSize)
		for i := 0; i < len(s); i++ {
			if d.ascii && s[i] > 0x7F {
				return nil, fmt.Errorf("dpt: %s character 0x%02X outside ASCII", d.ID, s[i])
			}
			out[i] = s[i]
		}
		return out, nil

	default:
		return nil, fmt.Errorf("dpt: unknown family %d", d.family)
	}
}

// Decode converts datapoint octets into a typed value.
func (d Descriptor) Decode(data []byte) (Value, error) {
	switch d.family {
	case FamilyBool:
		if len(data) != 1 {
			return nil, sizeError(d, 1, len(data))
		}
		return Bool(data[0]&0x01 != 0), nil

	case FamilyStep:
		if len(data) != 1 {
			return nil, sizeError(d, 1, len(data))
		}
		return Step{Increase: data[0]&0x08 != 0, Code: data[0] & 0x07}, nil

	case FamilyScaled:
		if len(data) != 1 {
			return nil, sizeError(d, 1, len(data))
		}
		return Scaled(float64(data[0]) * d.scale), nil

	case FamilyFloat16:
		if len(data) != 2 {
			return nil, sizeError(d, 2, len(data))
		}
		f, err := unpackFloat16(binary.BigEndian.Uint16(data))
		if err != nil {
			return nil, fmt.Errorf("dpt: %s: %w", d.ID, err)
		}
		return Float(f), nil

	case FamilyFloat32:
		if len(data) != 4 {
			return nil, sizeError(d, 4, len(data))
		}
		return Float(math.Float32frombits(binary.BigEndian.Uint32(data))), nil

	case FamilyTime:
		if len(data) != 3 {
			return nil, sizeError(d, 3, len(data))
		}
		t := TimeOfDay{
			Weekday: data[0] >> 5,
			Hour:    data[0] & 0x1F,
			Minute:  data[1] & 0x3F,
			Second:  data[2] & 0x3F,
		}
		if t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
			return nil, fmt.Errorf("dpt: %s invalid time of day", d.ID)
		}
		return t, nil

	case FamilyDate:
		if len(data) != 3 {
			return nil, sizeError(d, 3, len(data))
		}
		day := data[0] & 0x1F
		month := data[1] & 0x0F
		year := int(data[2] & 0x7F)
		if day < 1 || day > 31 || month < 1 || month > 12 || year > 99 {
			return nil, fmt.Errorf("dpt: %s invalid date", d.ID)
		}
		// Century window per the standard: 90 through 99 map to the 1990s.
		if year >= 90 {
			year += 1900
		} else {
			year += 2000
		}
		return Date{Year: year, Month: month, Day: day}, nil

	case FamilyString:
		if len(data) != stringPayloadSize {
			return nil, sizeError(d, stringPayloadSize, len(data))
		}
		end := len(data)
		for end > 0 && data[end-1] == 0 {
			end--
		}
		if d.ascii {
			for _, b := range data[:end] {
				if b > 0x7F {
					return nil, fmt.Errorf("dpt: %s character 0x%02X outside ASCII", d.ID, b)
				}
			}
		}
		return String(data[:end]), nil

	default:
		return nil, fmt.Errorf("dpt: unknown family %d", d.family)
	}
}

// float16 limits of the 9.x encoding.
const (
	float16Min = -671088.64
	float16Max = 670760.96
)

// packFloat16 encodes a value into the KNX 16-bit float format: a sign
// bit, a 4-bit exponent and an 11-bit two's complement mantissa scaled by
// 0.01.
func packFloat16(v float64) (uint16, error) {
	if v < float16Min || v > float16Max || math.IsNaN(v) {
		return 0, rangeErrorBare(v)
	}

	mantissa := v * 100
	exponent := 0
	for mantissa > 2047 || mantissa < -2048 {
		mantissa /= 2
		exponent++
	}
	m := int(math.Round(mantissa))
	if m > 2047 || m < -2048 {
		m /= 2
		exponent++
	}

	bits := uint16(exponent) << 11
	bits |= uint16(m) & 0x07FF
	if m < 0 {
		bits |= 0x8000
	}
	return bits, nil
}

// unpackFloat16 decodes the KNX 16-bit float format. 0x7FFF marks invalid
// data.
func unpackFloat16(bits uint16) (float64, error) {
	if bits == 0x7FFF {
		return 0, fmt.Errorf("invalid float16 data")
	}
	m := int(bits & 0x07FF)
	if bits&0x8000 != 0 {
		m -= 2048
	}
	exponent := int(bits>>11) & 0x0F
	return 0.01 * float64(m) * float64(int64(1)<<exponent), nil
}

func typeError(d Descriptor, v Value) error {
	return fmt.Errorf("dpt: %s cannot encode %T", d.ID, v)
}

func rangeError(d Descriptor, v float64) error {
	return fmt.Errorf("dpt: %s value %g out of range", d.ID, v)
}

func rangeErrorBare(v float64) error {
	return fmt.Errorf("value %g out of range", v)
}

func sizeError(d Descriptor, want, got int) error {
	return fmt.Errorf("dpt: %s needs %d octets, have %d", d.ID, want, got)
}
