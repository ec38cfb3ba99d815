package knxnet

import (
	"bytes"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"
)

func testHPAI() HPAI {
	return HPAI{Proto: ProtoUDP, IP: net.IPv4(192, 168, 1, 20).To4(), Port: 3671}
}

func TestServiceRoundtrip(t *testing.T) {
	hpai := testHPAI()

	tests := []struct {
		name string
		s    Service
	}{
		{
			name: "connect request",
			s:    &ConnectRequest{Control: hpai, Data: hpai, Layer: TunnelLinkLayer},
		},
		{
			name: "connect response ok",
			s:    &ConnectResponse{Channel: 7, Status: StatusNoError, Data: hpai, KNXAddr: 0x11FA},
		},
		{
			name: "connect response refused",
			s:    &ConnectResponse{Channel: 0, Status: StatusNoMoreConnections},
		},
		{
			name: "connection state request",
			s:    &ConnStateRequest{Channel: 7, Control: hpai},
		},
		{
			name: "connection state response",
			s:    &ConnStateResponse{Channel: 7, Status: StatusNoError},
		},
		{
			name: "disconnect request",
			s:    &DisconnectRequest{Channel: 7, Control: hpai},
		},
		{
			name: "disconnect response",
			s:    &DisconnectResponse{Channel: 7, Status: StatusNoError},
		},
		{
			name: "tunneling request",
			s:    &TunnelRequest{Channel: 7, Seq: 42, Payload: []byte{0x29, 0x00, 0xBC, 0xE0, 0x11, 0x01, 0x0A, 0x03, 0x01, 0x00, 0x81}},
		},
		{
			name: "tunneling ack",
			s:    &TunnelAck{Channel: 7, Seq: 42, Status: StatusNoError},
		},
		{
			name: "routing indication",
			s:    &RoutingIndication{Payload: []byte{0x29, 0x00, 0xBC, 0xE0, 0x11, 0x01, 0x0A, 0x03, 0x01, 0x00, 0x81}},
		},
		{
			name: "routing lost message",
			s:    &RoutingLostMessage{DeviceState: 0x01, Lost: 12},
		},
		{
			name: "routing busy",
			s:    &RoutingBusy{DeviceState: 0x00, WaitTime: 100 * time.Millisecond, Control: 0},
		},
		{
			name: "search request",
			s:    &SearchRequest{Discovery: hpai},
		},
		{
			name: "search response",
			s: &SearchResponse{
				Control: hpai,
				Device: DeviceDIB{
					Medium:       MediumIP,
					Addr:         0x1100,
					Serial:       [6]byte{0, 1, 2, 3, 4, 5},
					RoutingMcast: [4]byte{224, 0, 23, 12},
					MAC:          [6]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
					Name:         "test router",
				},
				Services: SupportedServicesDIB{
					Families: []ServiceFamily{
						{ID: FamilyCore, Version: 1},
						{ID: FamilyTunneling, Version: 1},
						{ID: FamilyRouting, Version: 1},
					},
				},
			},
		},
		{
			name: "secure wrapper",
			s: &SecureWrapper{
				SessionID:  0x0001,
				Seq:        [6]byte{0, 0, 0, 0, 0, 5},
				Serial:     [6]byte{0x00, 0xFA, 0x00, 0x00, 0x00, 0x01},
				Tag:        0x1234,
				Ciphertext: bytes.Repeat([]byte{0xC7}, 27),
			},
		},
		{
			name: "session request",
			s:    &SessionRequest{Control: hpai, PublicKey: [32]byte{0x01, 0x02}},
		},
		{
			name: "session response",
			s:    &SessionResponse{SessionID: 0x0001, PublicKey: [32]byte{0x03}, MAC: [16]byte{0xAA}},
		},
		{
			name: "session authenticate",
			s:    &SessionAuthenticate{UserID: 2, MAC: [16]byte{0xBB}},
		},
		{
			name: "session status",
			s:    &SessionStatus{Status: StatusKeepAlive},
		},
		{
			name: "timer notify",
			s: &TimerNotify{
				Timer:  [6]byte{0, 0, 0, 1, 0, 0},
				Serial: [6]byte{0x00, 0xFA, 0x00, 0x00, 0x00, 0x01},
				Tag:    7,
				MAC:    [16]byte{0xCC},
			},
		},
		{
			name: "description request",
			s:    &DescriptionRequest{Control: hpai},
		},
		{
			name: "description response",
			s: &DescriptionResponse{
				Device:   DeviceDIB{Medium: MediumTP1, Addr: 0x1101, Name: "interface"},
				Services: SupportedServicesDIB{Families: []ServiceFamily{{ID: FamilyCore, Version: 1}}},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			packed := Pack(tc.s)

			if packed[0] != HeaderSize || packed[1] != ProtocolVersion {
				t.Fatalf("bad header prefix % X", packed[:2])
			}
			if got := int(packed[4])<<8 | int(packed[5]); got != len(packed) {
				t.Fatalf("declared length %d, packet is %d", got, len(packed))
			}

			decoded, err := Unpack(packed)
			if err != nil {
				t.Fatalf("Unpack() error: %v", err)
			}
			if decoded.Service() != tc.s.Service() {
				t.Fatalf("service = %v, want %v", decoded.Service(), tc.s.Service())
			}
			if !reflect.DeepEqual(decoded, tc.s) {
				t.Errorf("roundtrip mismatch:\n got  %#v\n want %#v", decoded, tc.s)
			}
		})
	}
}

func TestUnpackHeaderErrors(t *testing.T) {
	valid := Pack(&ConnStateResponse{Channel: 1, Status: StatusNoError})

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{
			name:    "short header",
			mutate:  func(b []byte) []byte { return b[:4] },
			wantErr: ErrTruncated,
		},
		{
			name: "bad header length",
			mutate: func(b []byte) []byte {
				b[0] = 0x07
				return b
			},
			wantErr: ErrMalformed,
		},
		{
			name: "bad version",
			mutate: func(b []byte) []byte {
				b[1] = 0x20
				return b
			},
			wantErr: ErrMalformed,
		},
		{
			name:    "truncated body",
			mutate:  func(b []byte) []byte { return b[:len(b)-1] },
			wantErr: ErrTruncated,
		},
		{
			name:    "trailing bytes",
			mutate:  func(b []byte) []byte { return append(b, 0x00) },
			wantErr: ErrMalformed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.mutate(append([]byte(nil), valid...))
			_, err := Unpack(data)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Unpack() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestUnpackUnsupportedService(t *testing.T) {
	// Remote diagnostics request (0x0740) is not implemented.
	data := []byte{0x06, 0x10, 0x07, 0x40, 0x00, 0x08, 0xAA, 0xBB}

	_, err := Unpack(data)
	var unsupported *UnsupportedServiceError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Unpack() error = %v, want UnsupportedServiceError", err)
	}
	if unsupported.Type != 0x0740 {
		t.Errorf("Type = 0x%04X, want 0x0740", uint16(unsupported.Type))
	}
}

func TestHPAIWildcard(t *testing.T) {
	if !(HPAI{Proto: ProtoUDP}).IsWildcard() {
		t.Error("zero HPAI should be wildcard")
	}
	if testHPAI().IsWildcard() {
		t.Error("concrete HPAI should not be wildcard")
	}
}

func TestDeviceDIBNameTruncation(t *testing.T) {
	d := DeviceDIB{Name: "a very long friendly device name exceeding thirty octets"}
	packed := d.pack(nil)
	if len(packed) != deviceDIBSize {
		t.Fatalf("packed size = %d, want %d", len(packed), deviceDIBSize)
	}

	var out DeviceDIB
	if _, err := out.unpack(packed); err != nil {
		t.Fatalf("unpack error: %v", err)
	}
	if len(out.Name) != 30 {
		t.Errorf("name length = %d, want 30", len(out.Name))
	}
	if !bytes.HasPrefix([]byte(d.Name), []byte(out.Name)) {
		t.Errorf("name %q is not a prefix of the original", out.Name)
	}
}
