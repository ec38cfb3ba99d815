package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters (KNX Standard 03_08_03).
const (
	pbkdf2Iterations = 65536
	saltUserPassword = "user-password.1secure"
	saltDeviceAuth   = "device-authentication-code.1secure"
)

// UserKey derives the user key from a user password.
func UserKey(password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(saltUserPassword), pbkdf2Iterations, KeySize, sha256.New)
}

// DeviceAuthKey derives the device authentication key from the device
// authentication code.
func DeviceAuthKey(code string) []byte {
	return pbkdf2.Key([]byte(code), []byte(saltDeviceAuth), pbkdf2Iterations, KeySize, sha256.New)
}

// keyPair is an ephemeral Curve25519 key pair for one session handshake.
type keyPair struct {
	private [curve25519.ScalarSize]byte
	public  [curve25519.PointSize]byte
}

func generateKeyPair() (*keyPair, error) {
	kp := &keyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, fmt.Errorf("secure: generating key pair: %w", err)
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("secure: generating key pair: %w", err)
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// sessionKey computes the session key from the peer's public value: the
// first 16 octets of the SHA-256 hash of the shared secret.
func (kp *keyPair) sessionKey(peerPublic [curve25519.PointSize]byte) ([]byte, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("secure: computing shared secret: %w", err)
	}
	hash := sha256.Sum256(shared)
	return hash[:KeySize], nil
}

// xorPublic combines two public values for handshake MAC inputs.
func xorPublic(a, b [curve25519.PointSize]byte) []byte {
	out := make([]byte, curve25519.PointSize)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}
