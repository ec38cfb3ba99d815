package cemi

import "encoding/binary"

// Minimum on-wire size of an L_Data frame: message code, additional info
// length, two control fields, source, destination, NPDU length, TPCI octet.
const minLDataSize = 10

// Encode serializes the frame to its cEMI wire representation. Encoding is
// deterministic and total for frames built through NewFrame or Decode.
func Encode(f *Frame) []byte {
	switch f.Code {
	case LDataReq, LDataInd, LDataCon:
		return encodeLData(f)
	default:
		// Management primitives carry their service information verbatim.
		buf := make([]byte, 1+len(f.Data))
		buf[0] = byte(f.Code)
		copy(buf[1:], f.Data)
		return buf
	}
}

func encodeLData(f *Frame) []byte {
	buf := make([]byte, minLDataSize-1+len(f.Data))

	buf[0] = byte(f.Code)
	buf[1] = 0 // no additional info

	ctrl1 := byte(ctrl1StdFrame | ctrl1SysBcast)
	if !f.Repeat {
		ctrl1 |= ctrl1NoRepeat
	}
	ctrl1 |= byte(f.Priority) << ctrl1PrioShift
	if f.ConfirmError {
		ctrl1 |= ctrl1ConfErr
	}
	buf[2] = ctrl1

	ctrl2 := byte(f.HopCount&ctrl2HopMask) << ctrl2HopShift
	if f.Dest.Group {
		ctrl2 |= ctrl2GroupDest
	}
	buf[3] = ctrl2

	binary.BigEndian.PutUint16(buf[4:6], uint16(f.Source))
	binary.BigEndian.PutUint16(buf[6:8], f.Dest.Raw)

	// The NPDU length octet counts the octets following the TPCI octet.
	buf[8] = byte(len(f.Data) - 1)
	copy(buf[9:], f.Data)

	return buf
}

// Decode parses wire octets into a Frame. The returned error, if any, is a
// *DecodeError whose kind tells the caller whether to wait for more bytes,
// drop the frame, or skip an unknown message code.
func Decode(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, errTruncated("empty buffer")
	}

	code := MessageCode(data[0])
	if !validMessageCode(code) {
		return nil, &DecodeError{Kind: UnsupportedMessageCode, Detail: code.String()}
	}

	switch code {
	case LDataReq, LDataInd, LDataCon:
		return decodeLData(code, data)
	default:
		f := &Frame{Code: code, Data: make([]byte, len(data)-1)}
		copy(f.Data, data[1:])
		return f, nil
	}
}

func decodeLData(code MessageCode, data []byte) (*Frame, error) {
	if len(data) < 2 {
		return nil, errTruncated("need %d octets, have %d", minLDataSize, len(data))
	}

	addInfoLen := int(data[1])
	base := 2 + addInfoLen
	if len(data) < base+8 {
		return nil, errTruncated("need %d octets, have %d", base+8, len(data))
	}

	ctrl1 := data[base]
	ctrl2 := data[base+1]

	f := &Frame{
		Code:         code,
		Priority:     Priority(ctrl1 >> ctrl1PrioShift & 0x03),
		Repeat:       ctrl1&ctrl1NoRepeat == 0,
		ConfirmError: ctrl1&ctrl1ConfErr != 0,
		HopCount:     ctrl2 >> ctrl2HopShift & ctrl2HopMask,
		Source:       IndividualAddr(binary.BigEndian.Uint16(data[base+2 : base+4])),
		Dest: Addr{
			Raw:   binary.BigEndian.Uint16(data[base+4 : base+6]),
			Group: ctrl2&ctrl2GroupDest != 0,
		},
	}

	npduLen := int(data[base+6])
	tpduLen := npduLen + 1 // TPCI octet plus declared octets
	rest := data[base+7:]
	if len(rest) < tpduLen {
		return nil, errTruncated("NPDU declares %d octets, have %d", tpduLen, len(rest))
	}
	if len(rest) > tpduLen {
		return nil, errMalformed("NPDU declares %d octets, %d remain", tpduLen, len(rest))
	}

	f.Data = make([]byte, tpduLen)
	copy(f.Data, rest)

	return f, nil
}
