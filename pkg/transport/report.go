package transport

import (
	"encoding/binary"
	"fmt"
)

// KNX USB transfer protocol constants (KNX Standard 09_03_01). A cEMI frame
// travels in one or more 64-octet HID reports; frames longer than one
// report body are segmented and reassembled by packet-info markers.
const (
	hidReportSize = 64
	hidReportID   = 0x01

	// Packet type flags in the low nibble of the packet info octet.
	packetStart   = 0x1
	packetEnd     = 0x2
	packetPartial = 0x4

	// Transfer protocol header, present in the start packet only.
	transferVersion    = 0x00
	transferHeaderSize = 0x08
	protocolIDTunnel   = 0x01
	emiIDCEMI          = 0x03

	// Payload capacity per report: report size minus report ID, packet
	// info and data length octets.
	reportBodySize = hidReportSize - 3

	// The start packet additionally carries the transfer protocol header.
	startBodySize = reportBodySize - transferHeaderSize
)

// maxHIDPayload bounds a cEMI frame across the 5 sequence numbers the
// packet info octet can express.
const maxHIDPayload = startBodySize + 4*reportBodySize

// packReports segments one cEMI frame into HID reports. Every report is
// padded to the full report size as required by the HID profile.
func packReports(cemiFrame []byte) ([][]byte, error) {
	if len(cemiFrame) == 0 {
		return nil, fmt.Errorf("transport: empty HID payload")
	}
	if len(cemiFrame) > maxHIDPayload {
		return nil, ErrFrameTooLarge
	}

	var reports [][]byte
	remaining := cemiFrame
	seq := byte(1)

	for first := true; len(remaining) > 0 || first; first = false {
		report := make([]byte, hidReportSize)
		report[0] = hidReportID

		capacity := reportBodySize
		offset := 3
		if first {
			capacity = startBodySize
			// Transfer protocol header.
			report[3] = transferVersion
			report[4] = transferHeaderSize
			binary.BigEndian.PutUint16(report[5:7], uint16(len(cemiFrame)))
			report[7] = protocolIDTunnel
			report[8] = emiIDCEMI
			// Octets 9-10: manufacturer code, zero.
			offset = 3 + transferHeaderSize
		}

		n := len(remaining)
		if n > capacity {
			n = capacity
		}
		copy(report[offset:], remaining[:n])
		remaining = remaining[n:]

		info := seq << 4
		if first {
			info |= packetStart
		}
		if len(remaining) == 0 {
			info |= packetEnd
		}
		if !first || len(remaining) > 0 {
			info |= packetPartial
		}
		report[1] = info

		dataLen := n
		if first {
			dataLen += transferHeaderSize
		}
		report[2] = byte(dataLen)

		reports = append(reports, report)
		seq++
	}

	return reports, nil
}

// reportAssembler reassembles cEMI frames from a sequence of HID reports.
// A fresh start packet always begins a new frame; stray continuation
// packets and sequence gaps drop the partial frame rather than the link.
type reportAssembler struct {
	buf     []byte
	total   int
	nextSeq byte
}

// feed consumes one report. It returns the completed cEMI frame once the
// end packet arrives, or nil while the frame is still partial.
func (a *reportAssembler) feed(report []byte) ([]byte, error) {
	if len(report) < 3 || report[0] != hidReportID {
		return nil, fmt.Errorf("transport: malformed HID report")
	}

	info := report[1]
	seq := info >> 4
	dataLen := int(report[2])
	if 3+dataLen > len(report) {
		return nil, fmt.Errorf("transport: HID report data length %d overruns report", dataLen)
	}
	body := report[3 : 3+dataLen]

	if info&packetStart != 0 {
		if len(body) < transferHeaderSize {
			return nil, fmt.Errorf("transport: start packet shorter than transfer header")
		}
		if body[0] != transferVersion || body[1] != transferHeaderSize {
			return nil, fmt.Errorf("transport: unsupported transfer protocol header % X", body[:2])
		}
		if body[4] != protocolIDTunnel || body[5] != emiIDCEMI {
			return nil, fmt.Errorf("transport: unsupported protocol/EMI id % X", body[4:6])
		}
		a.total = int(binary.BigEndian.Uint16(body[2:4]))
		a.buf = append(a.buf[:0], body[transferHeaderSize:]...)
		a.nextSeq = seq + 1
	} else {
		if a.buf == nil || seq != a.nextSeq {
			// Continuation without a start, or a gap: drop the partial.
			a.reset()
			return nil, fmt.Errorf("transport: HID continuation out of sequence")
		}
		a.buf = append(a.buf, body...)
		a.nextSeq++
	}

	if info&packetEnd == 0 {
		return nil, nil
	}

	frame := a.buf
	if a.total > 0 && len(frame) > a.total {
		frame = frame[:a.total]
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	a.reset()
	return out, nil
}

func (a *reportAssembler) reset() {
	a.buf = nil
	a.total = 0
	a.nextSeq = 0
}
