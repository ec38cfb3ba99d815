// AES-128-CCM variant used by KNX IP Secure (KNX Standard 03_08_03).
// It follows the CBC-MAC plus CTR construction of NIST 800-38C, but the
// flags octet of the first block is replaced: B0 carries the 48-bit
// sequence information, the device serial, the message tag and the payload
// length. Counter blocks share the same prefix and count from 0xFF00; the
// block at 0xFF00 encrypts the MAC, the following blocks the payload.

package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	// KeySize is the AES-128 key size.
	KeySize = 16

	// macSize is the MAC size. KNX IP Secure always uses the full block.
	macSize = 16

	blockSize = 16
)

var (
	// ErrInvalidKeySize is returned for keys that are not 16 octets.
	ErrInvalidKeySize = errors.New("secure: key must be 16 octets")

	// ErrAuthFailed is returned when MAC verification fails.
	ErrAuthFailed = errors.New("secure: message authentication failed")

	// ErrCiphertextTooShort is returned when a ciphertext cannot even hold
	// the MAC.
	ErrCiphertextTooShort = errors.New("secure: ciphertext too short")
)

// securityInfo builds the shared 14-octet prefix of B0 and the counter
// blocks: sequence information, serial, tag.
func securityInfo(seq, serial [6]byte, tag uint16) [14]byte {
	var info [14]byte
	copy(info[0:6], seq[:])
	copy(info[6:12], serial[:])
	binary.BigEndian.PutUint16(info[12:14], tag)
	return info
}

// sealFrame encrypts payload and computes the encrypted MAC over aad and
// payload. The result is ciphertext || MAC, the layout of a secure
// wrapper's ciphertext field.
func sealFrame(key []byte, seq, serial [6]byte, tag uint16, aad, payload []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	info := securityInfo(seq, serial, tag)

	var b0 [blockSize]byte
	copy(b0[:14], info[:])
	binary.BigEndian.PutUint16(b0[14:16], uint16(len(payload)))

	mac := cbcMAC(block, b0, aad, payload)

	out := make([]byte, len(payload)+macSize)
	ctrCrypt(block, info, out[:len(payload)], payload, out[len(payload):], mac[:])
	return out, nil
}

// openFrame decrypts ciphertext || MAC and verifies the MAC over aad and
// the recovered payload.
func openFrame(key []byte, seq, serial [6]byte, tag uint16, aad, data []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(data) < macSize {
		return nil, ErrCiphertextTooShort
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	info := securityInfo(seq, serial, tag)

	payload := make([]byte, len(data)-macSize)
	receivedMAC := make([]byte, macSize)
	ctrCrypt(block, info, payload, data[:len(payload)], receivedMAC, data[len(payload):])

	var b0 [blockSize]byte
	copy(b0[:14], info[:])
	binary.BigEndian.PutUint16(b0[14:16], uint16(len(payload)))

	mac := cbcMAC(block, b0, aad, payload)
	if subtle.ConstantTimeCompare(receivedMAC, mac[:]) != 1 {
		return nil, ErrAuthFailed
	}
	return payload, nil
}

// handshakeMAC computes the MAC of an unencrypted handshake frame (session
// response, session authenticate). B0 is all zero, the MAC is encrypted
// with the counter block of an all-zero prefix.
func handshakeMAC(key, input []byte) ([macSize]byte, error) {
	var mac [macSize]byte
	if len(key) != KeySize {
		return mac, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return mac, err
	}

	var b0 [blockSize]byte
	mac = cbcMAC(block, b0, input, nil)

	var info [14]byte
	var scratch [0]byte
	ctrCrypt(block, info, scratch[:], scratch[:], mac[:], mac[:])
	return mac, nil
}

// cbcMAC computes the CBC-MAC over B0, the length-prefixed aad and the
// payload, both zero padded to full blocks.
func cbcMAC(block cipher.Block, b0 [blockSize]byte, aad, payload []byte) [macSize]byte {
	var mac [blockSize]byte
	block.Encrypt(mac[:], b0[:])

	var lead [2]byte
	binary.BigEndian.PutUint16(lead[:], uint16(len(aad)))
	xorBlocks(block, &mac, lead[:], aad)
	xorBlocks(block, &mac, nil, payload)
	return mac
}

// xorBlocks continues a CBC-MAC over lead || data, zero padded to full
// blocks.
func xorBlocks(block cipher.Block, mac *[blockSize]byte, lead, data []byte) {
	if len(lead) == 0 && len(data) == 0 {
		return
	}
	buf := make([]byte, 0, len(lead)+len(data))
	buf = append(buf, lead...)
	buf = append(buf, data...)

	for len(buf) > 0 {
		var chunk [blockSize]byte
		n := copy(chunk[:], buf)
		buf = buf[n:]

		for i := 0; i < blockSize; i++ {
			mac[i] ^= chunk[i]
		}
		block.Encrypt(mac[:], mac[:])
	}
}

// ctrCrypt runs the CTR keystream: the block at counter 0xFF00 transforms
// macSrc into macDst, the following blocks transform src into dst.
func ctrCrypt(block cipher.Block, info [14]byte, dst, src, macDst, macSrc []byte) {
	var ctr [blockSize]byte
	copy(ctr[:14], info[:])
	ctr[14] = 0xFF
	ctr[15] = 0x00

	var keystream [blockSize]byte
	block.Encrypt(keystream[:], ctr[:])
	for i := range macSrc {
		macDst[i] = macSrc[i] ^ keystream[i]
	}

	for i := 0; i < len(src); i += blockSize {
		incrementCounter(ctr[14:])
		block.Encrypt(keystream[:], ctr[:])

		end := i + blockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}
	}
}

// incrementCounter increments a big-endian counter.
func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}
