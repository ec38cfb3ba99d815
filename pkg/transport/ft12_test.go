package transport

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

func TestEncodeFT12(t *testing.T) {
	payload := []byte{0x11, 0x00, 0xBC, 0xE0}

	frame, err := encodeFT12(payload, false)
	if err != nil {
		t.Fatalf("encodeFT12() error: %v", err)
	}

	want := []byte{
		0x68, 0x05, 0x05, 0x68, // start, length twice, start
		0x53,                   // control: dir | count valid | user data
		0x11, 0x00, 0xBC, 0xE0, // payload
		0x00, // checksum, fixed below
		0x16, // end
	}
	sum := byte(0x53)
	for _, b := range payload {
		sum += b
	}
	want[9] = sum

	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}

	// The frame count bit toggles the control byte.
	frame, err = encodeFT12(payload, true)
	if err != nil {
		t.Fatalf("encodeFT12() error: %v", err)
	}
	if frame[4] != 0x73 {
		t.Errorf("control = 0x%02X, want 0x73", frame[4])
	}
}

func TestEncodeFT12Limits(t *testing.T) {
	if _, err := encodeFT12(nil, false); err == nil {
		t.Error("encodeFT12() accepted empty payload")
	}
	if _, err := encodeFT12(make([]byte, ft12MaxPayload+1), false); err != ErrFrameTooLarge {
		t.Errorf("encodeFT12() oversized error = %v, want %v", err, ErrFrameTooLarge)
	}
}

func TestReadFT12Token(t *testing.T) {
	valid, err := encodeFT12([]byte{0x29, 0x00, 0xBC}, false)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("acknowledge", func(t *testing.T) {
		r := bufio.NewReader(bytes.NewReader([]byte{ft12Ack}))
		tok, err := readFT12Token(r)
		if err != nil {
			t.Fatalf("readFT12Token() error: %v", err)
		}
		if !tok.ack {
			t.Error("expected acknowledge token")
		}
	})

	t.Run("user data", func(t *testing.T) {
		r := bufio.NewReader(bytes.NewReader(valid))
		tok, err := readFT12Token(r)
		if err != nil {
			t.Fatalf("readFT12Token() error: %v", err)
		}
		if !bytes.Equal(tok.payload, []byte{0x29, 0x00, 0xBC}) {
			t.Errorf("payload = % X", tok.payload)
		}
	})

	t.Run("leading noise is skipped", func(t *testing.T) {
		stream := append([]byte{0x00, 0xFF, 0x42}, valid...)
		r := bufio.NewReader(bytes.NewReader(stream))
		tok, err := readFT12Token(r)
		if err != nil {
			t.Fatalf("readFT12Token() error: %v", err)
		}
		if tok.payload == nil {
			t.Fatal("expected user data after noise")
		}
	})

	t.Run("bad checksum resynchronizes to next frame", func(t *testing.T) {
		corrupt := append([]byte(nil), valid...)
		corrupt[len(corrupt)-2]++ // break the checksum

		stream := append(corrupt, valid...)
		r := bufio.NewReader(bytes.NewReader(stream))

		tok, err := readFT12Token(r)
		if err != nil {
			t.Fatalf("readFT12Token() error: %v", err)
		}
		if !bytes.Equal(tok.payload, []byte{0x29, 0x00, 0xBC}) {
			t.Errorf("payload = % X, want the frame following the corrupted one", tok.payload)
		}

		// Nothing further in the stream.
		if _, err := readFT12Token(r); err != io.EOF {
			t.Errorf("trailing read error = %v, want io.EOF", err)
		}
	})

	t.Run("reset frame", func(t *testing.T) {
		r := bufio.NewReader(bytes.NewReader(encodeFT12Reset()))
		tok, err := readFT12Token(r)
		if err != nil {
			t.Fatalf("readFT12Token() error: %v", err)
		}
		if !tok.reset {
			t.Error("expected reset token")
		}
	})
}
