package transport

import (
	"bufio"
	"fmt"
	"io"
)

// FT1.2 frame delimiters and control codes (IEC 60870-5-2, as profiled by
// KNX Standard 03_06_02 for serial cEMI interfaces).
const (
	ft12StartVariable = 0x68
	ft12StartFixed    = 0x10
	ft12End           = 0x16
	ft12Ack           = 0xE5

	// Control byte fields for frames sent by the primary station.
	ft12Dir        = 0x40 // primary to secondary
	ft12FrameCount = 0x20 // frame count bit, alternates per send
	ft12CountValid = 0x10 // frame count bit is in use
	ft12UserData   = 0x03 // function code: send user data
	ft12Reset      = 0x00 // function code: reset of remote link
)

// ft12MaxPayload bounds the cEMI frame inside one FT1.2 variable frame.
// The length octet covers control byte plus payload.
const ft12MaxPayload = 254

// ft12Token is one parsed unit of the FT1.2 byte stream.
type ft12Token struct {
	ack     bool
	reset   bool
	payload []byte // user data without the control byte, nil for ack/reset
}

// encodeFT12 builds a variable-length frame around a cEMI payload.
// Checksum is the arithmetic sum of control byte and payload modulo 256.
func encodeFT12(payload []byte, frameCountBit bool) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("transport: empty FT1.2 payload")
	}
	if len(payload) > ft12MaxPayload {
		return nil, ErrFrameTooLarge
	}

	ctrl := byte(ft12Dir | ft12CountValid | ft12UserData)
	if frameCountBit {
		ctrl |= ft12FrameCount
	}

	length := byte(1 + len(payload))
	frame := make([]byte, 0, 6+len(payload))
	frame = append(frame, ft12StartVariable, length, length, ft12StartVariable, ctrl)
	frame = append(frame, payload...)

	sum := ctrl
	for _, b := range payload {
		sum += b
	}
	return append(frame, sum, ft12End), nil
}

// encodeFT12Reset builds the fixed-length reset frame sent at link startup.
func encodeFT12Reset() []byte {
	ctrl := byte(ft12Dir | ft12Reset)
	return []byte{ft12StartFixed, ctrl, ctrl, ft12End}
}

// readFT12Token reads the next acknowledge, reset indication or user-data
// frame from the stream. On checksum or structure errors it resynchronizes
// by scanning forward for the next plausible start byte instead of failing
// the stream; only read errors are returned.
func readFT12Token(r *bufio.Reader) (ft12Token, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return ft12Token{}, err
		}

		switch b {
		case ft12Ack:
			return ft12Token{ack: true}, nil

		case ft12StartFixed:
			tok, ok, err := readFT12Fixed(r)
			if err != nil {
				return ft12Token{}, err
			}
			if ok {
				return tok, nil
			}
			// Bad fixed frame: fall through and rescan.

		case ft12StartVariable:
			tok, ok, err := readFT12Variable(r)
			if err != nil {
				return ft12Token{}, err
			}
			if ok {
				return tok, nil
			}
			// Bad checksum or structure: rescan from the next byte.
		}
		// Any other byte is line noise; keep scanning.
	}
}

func readFT12Fixed(r *bufio.Reader) (ft12Token, bool, error) {
	var rest [3]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return ft12Token{}, false, err
	}
	if rest[0] != rest[1] || rest[2] != ft12End {
		return ft12Token{}, false, nil
	}
	return ft12Token{reset: true}, true, nil
}

func readFT12Variable(r *bufio.Reader) (ft12Token, bool, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ft12Token{}, false, err
	}
	if hdr[0] != hdr[1] || hdr[2] != ft12StartVariable || hdr[0] == 0 {
		return ft12Token{}, false, nil
	}
	length := int(hdr[0])

	body := make([]byte, length+2) // control+payload, checksum, end
	if _, err := io.ReadFull(r, body); err != nil {
		return ft12Token{}, false, err
	}
	if body[length+1] != ft12End {
		return ft12Token{}, false, nil
	}

	var sum byte
	for _, b := range body[:length] {
		sum += b
	}
	if sum != body[length] {
		return ft12Token{}, false, nil
	}

	payload := make([]byte, length-1)
	copy(payload, body[1:length])
	return ft12Token{payload: payload}, true, nil
}
