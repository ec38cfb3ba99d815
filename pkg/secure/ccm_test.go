package secure

import (
	"bytes"
	"errors"
	"testing"
)

var (
	testKey    = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}
	testSeq    = [6]byte{0, 0, 0, 0, 0, 1}
	testSerial = [6]byte{0x00, 0xFA, 0x12, 0x34, 0x56, 0x78}
)

func TestSealOpenRoundtrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x42},
		bytes.Repeat([]byte{0xAB}, 16),
		bytes.Repeat([]byte{0xCD}, 61),
	}
	aad := []byte{0x06, 0x10, 0x09, 0x50, 0x00, 0x26, 0x00, 0x01}

	for _, payload := range payloads {
		sealed, err := sealFrame(testKey, testSeq, testSerial, 0, aad, payload)
		if err != nil {
			t.Fatalf("sealFrame(%d octets) error: %v", len(payload), err)
		}
		if len(sealed) != len(payload)+macSize {
			t.Fatalf("sealed length = %d, want %d", len(sealed), len(payload)+macSize)
		}
		if len(payload) > 0 && bytes.Equal(sealed[:len(payload)], payload) {
			t.Error("payload not encrypted")
		}

		opened, err := openFrame(testKey, testSeq, testSerial, 0, aad, sealed)
		if err != nil {
			t.Fatalf("openFrame(%d octets) error: %v", len(payload), err)
		}
		if !bytes.Equal(opened, payload) {
			t.Errorf("opened = % X, want % X", opened, payload)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	aad := []byte{0x06, 0x10}
	sealed, err := sealFrame(testKey, testSeq, testSerial, 0, aad, []byte("group value write"))
	if err != nil {
		t.Fatalf("sealFrame() error: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[3] ^= 0x01
	if _, err := openFrame(testKey, testSeq, testSerial, 0, aad, tampered); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("tampered ciphertext: error = %v, want %v", err, ErrAuthFailed)
	}
}

func TestOpenRejectsWrongContext(t *testing.T) {
	aad := []byte{0x06, 0x10}
	sealed, err := sealFrame(testKey, testSeq, testSerial, 0, aad, []byte("payload"))
	if err != nil {
		t.Fatalf("sealFrame() error: %v", err)
	}

	otherSeq := [6]byte{0, 0, 0, 0, 0, 2}
	if _, err := openFrame(testKey, otherSeq, testSerial, 0, aad, sealed); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong sequence: error = %v, want %v", err, ErrAuthFailed)
	}
	if _, err := openFrame(testKey, testSeq, testSerial, 0, []byte{0x06, 0x11}, sealed); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("wrong associated data: error = %v, want %v", err, ErrAuthFailed)
	}
}

func TestOpenRejectsShortCiphertext(t *testing.T) {
	if _, err := openFrame(testKey, testSeq, testSerial, 0, nil, make([]byte, macSize-1)); !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("error = %v, want %v", err, ErrCiphertextTooShort)
	}
}

func TestSealRejectsBadKey(t *testing.T) {
	if _, err := sealFrame(testKey[:8], testSeq, testSerial, 0, nil, nil); !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("error = %v, want %v", err, ErrInvalidKeySize)
	}
}

func TestHandshakeMACDeterministic(t *testing.T) {
	input := []byte{0x06, 0x10, 0x09, 0x52, 0x00, 0x38, 0x12, 0x34}

	a, err := handshakeMAC(testKey, input)
	if err != nil {
		t.Fatalf("handshakeMAC() error: %v", err)
	}
	b, err := handshakeMAC(testKey, input)
	if err != nil {
		t.Fatalf("handshakeMAC() error: %v", err)
	}
	if a != b {
		t.Error("same input produced different MACs")
	}

	input[7] ^= 0xFF
	c, err := handshakeMAC(testKey, input)
	if err != nil {
		t.Fatalf("handshakeMAC() error: %v", err)
	}
	if a == c {
		t.Error("different inputs produced the same MAC")
	}
}
