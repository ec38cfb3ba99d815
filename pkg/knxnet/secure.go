package knxnet

import "encoding/binary"

// SessionStatusCode reports the state of a secure session.
type SessionStatusCode uint8

// Session status codes (KNX Standard 03_08_03).
const (
	StatusAuthSuccess     SessionStatusCode = 0x00
	StatusAuthFailed      SessionStatusCode = 0x01
	StatusUnauthenticated SessionStatusCode = 0x02
	StatusTimeout         SessionStatusCode = 0x03
	StatusKeepAlive       SessionStatusCode = 0x04
	StatusClose           SessionStatusCode = 0x05
)

// String returns the status name.
func (c SessionStatusCode) String() string {
	switch c {
	case StatusAuthSuccess:
		return "AuthenticationSuccess"
	case StatusAuthFailed:
		return "AuthenticationFailed"
	case StatusUnauthenticated:
		return "Unauthenticated"
	case StatusTimeout:
		return "Timeout"
	case StatusKeepAlive:
		return "KeepAlive"
	case StatusClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// PublicKeySize is the size of a Curve25519 public value in session
// handshake frames.
const PublicKeySize = 32

// MACSize is the size of the message authentication code in secure frames.
const MACSize = 16

// SecureWrapper envelops one plain KNXnet/IP datagram. Ciphertext holds the
// encrypted datagram followed by the encrypted MAC.
type SecureWrapper struct {
	SessionID  uint16
	Seq        [6]byte
	Serial     [6]byte
	Tag        uint16
	Ciphertext []byte
}

// secureWrapperFixed is the wrapper body before the ciphertext.
const secureWrapperFixed = 16

// Service returns the service identifier.
func (*SecureWrapper) Service() ServiceType { return SecureWrapperService }

func (w *SecureWrapper) packBody(buf []byte) []byte {
	var fixed [secureWrapperFixed]byte
	binary.BigEndian.PutUint16(fixed[0:2], w.SessionID)
	copy(fixed[2:8], w.Seq[:])
	copy(fixed[8:14], w.Serial[:])
	binary.BigEndian.PutUint16(fixed[14:16], w.Tag)
	buf = append(buf, fixed[:]...)
	return append(buf, w.Ciphertext...)
}

func (w *SecureWrapper) unpackBody(body []byte) error {
	if len(body) < secureWrapperFixed+MACSize {
		return errPacketTruncated("secure wrapper needs %d octets, have %d", secureWrapperFixed+MACSize, len(body))
	}
	w.SessionID = binary.BigEndian.Uint16(body[0:2])
	copy(w.Seq[:], body[2:8])
	copy(w.Serial[:], body[8:14])
	w.Tag = binary.BigEndian.Uint16(body[14:16])
	w.Ciphertext = append([]byte(nil), body[secureWrapperFixed:]...)
	return nil
}

// SessionRequest opens a secure session. It carries the client's control
// endpoint and its public Curve25519 value.
type SessionRequest struct {
	Control   HPAI
	PublicKey [PublicKeySize]byte
}

// Service returns the service identifier.
func (*SessionRequest) Service() ServiceType { return SessionRequestService }

func (r *SessionRequest) packBody(buf []byte) []byte {
	buf = r.Control.pack(buf)
	return append(buf, r.PublicKey[:]...)
}

func (r *SessionRequest) unpackBody(body []byte) error {
	n, err := unpackHPAI(body, &r.Control)
	if err != nil {
		return err
	}
	if len(body[n:]) != PublicKeySize {
		return errPacketMalformed("session request public value %d octets", len(body[n:]))
	}
	copy(r.PublicKey[:], body[n:])
	return nil
}

// SessionResponse answers a session request with the server's session
// identifier, its public Curve25519 value and a MAC computed with the
// device authentication key.
type SessionResponse struct {
	SessionID uint16
	PublicKey [PublicKeySize]byte
	MAC       [MACSize]byte
}

// Service returns the service identifier.
func (*SessionResponse) Service() ServiceType { return SessionResponseService }

func (r *SessionResponse) packBody(buf []byte) []byte {
	var id [2]byte
	binary.BigEndian.PutUint16(id[:], r.SessionID)
	buf = append(buf, id[:]...)
	buf = append(buf, r.PublicKey[:]...)
	return append(buf, r.MAC[:]...)
}

func (r *SessionResponse) unpackBody(body []byte) error {
	if len(body) != 2+PublicKeySize+MACSize {
		return errPacketTruncated("session response needs %d octets, have %d", 2+PublicKeySize+MACSize, len(body))
	}
	r.SessionID = binary.BigEndian.Uint16(body[0:2])
	copy(r.PublicKey[:], body[2:2+PublicKeySize])
	copy(r.MAC[:], body[2+PublicKeySize:])
	return nil
}

// SessionAuthenticate proves knowledge of a user password. It is sent
// inside a secure wrapper; the MAC is computed with the user key.
type SessionAuthenticate struct {
	UserID uint8
	MAC    [MACSize]byte
}

// Service returns the service identifier.
func (*SessionAuthenticate) Service() ServiceType { return SessionAuthenticateService }

func (a *SessionAuthenticate) packBody(buf []byte) []byte {
	buf = append(buf, 0x00, a.UserID)
	return append(buf, a.MAC[:]...)
}

func (a *SessionAuthenticate) unpackBody(body []byte) error {
	if len(body) != 2+MACSize {
		return errPacketTruncated("session authenticate needs %d octets, have %d", 2+MACSize, len(body))
	}
	a.UserID = body[1]
	copy(a.MAC[:], body[2:])
	return nil
}

// SessionStatus reports the session state. Keep-alives and close
// notifications travel as status frames inside secure wrappers.
type SessionStatus struct {
	Status SessionStatusCode
}

// Service returns the service identifier.
func (*SessionStatus) Service() ServiceType { return SessionStatusService }

func (s *SessionStatus) packBody(buf []byte) []byte {
	return append(buf, byte(s.Status), 0x00)
}

func (s *SessionStatus) unpackBody(body []byte) error {
	if len(body) < 1 {
		return errPacketTruncated("session status needs 1 octet, have 0")
	}
	s.Status = SessionStatusCode(body[0])
	return nil
}

// TimerNotify synchronizes the multicast timer of secure routing. The MAC
// covers the timer value, serial and tag.
type TimerNotify struct {
	Timer  [6]byte
	Serial [6]byte
	Tag    uint16
	MAC    [MACSize]byte
}

// Service returns the service identifier.
func (*TimerNotify) Service() ServiceType { return TimerNotifyService }

func (t *TimerNotify) packBody(buf []byte) []byte {
	buf = append(buf, t.Timer[:]...)
	buf = append(buf, t.Serial[:]...)
	var tag [2]byte
	binary.BigEndian.PutUint16(tag[:], t.Tag)
	buf = append(buf, tag[:]...)
	return append(buf, t.MAC[:]...)
}

func (t *TimerNotify) unpackBody(body []byte) error {
	if len(body) != 14+MACSize {
		return errPacketTruncated("timer notify needs %d octets, have %d", 14+MACSize, len(body))
	}
	copy(t.Timer[:], body[0:6])
	copy(t.Serial[:], body[6:12])
	t.Tag = binary.BigEndian.Uint16(body[12:14])
	copy(t.MAC[:], body[14:])
	return nil
}
