// Package noise implements the optional transport encryption upgrade: an
// X25519 ephemeral exchange, HKDF-SHA256 key derivation and a
// ChaCha20-Poly1305 session with strictly increasing per-direction frame
// counters.
package noise

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"

	"aether.dev/pkg/utils/errorf"
)

// Info is the HKDF info string binding derived keys to this protocol.
const Info = "aether-noise"

// KeyLen is the X25519 key size.
const KeyLen = 32

// counterLen is the big-endian frame counter prefixed to every sealed
// payload.
const counterLen = 8

// GenerateKeypair creates an ephemeral X25519 keypair.
func GenerateKeypair() (sk, pk []byte, err error) {
	sk = frand.Bytes(KeyLen)
	if pk, err = curve25519.X25519(sk, curve25519.Basepoint); err != nil {
		return nil, nil, err
	}
	return
}

// DeriveKey runs the X25519 exchange against the peer's public key and
// expands the shared secret into a symmetric session key.
func DeriveKey(sk, peerPk []byte) (key []byte, err error) {
	var shared []byte
	if shared, err = curve25519.X25519(sk, peerPk); err != nil {
		return nil, errorf.W("noise: key exchange failed: %v", err)
	}
	key = make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, shared, nil, []byte(Info))
	if _, err = io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return
}

// Session encrypts one direction-pair of a connection. Each direction keeps
// its own counter; frames must arrive in counter order.
type Session struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	sendCtr uint64
	recvCtr uint64
}

// NewSession builds a session from a derived key.
func NewSession(key []byte) (s *Session, err error) {
	s = &Session{}
	if s.aead, err = chacha20poly1305.New(key); err != nil {
		return nil, err
	}
	return
}

// nonce packs the counter little-endian into the low bytes of the 12-byte
// nonce.
func nonce(ctr uint64) (n []byte) {
	n = make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(n, ctr)
	return
}

// Seal encrypts a plaintext frame, returning the counter-prefixed payload
// and advancing the send counter.
func (s *Session) Seal(plaintext []byte) (payload []byte) {
	ctr := s.sendCtr
	s.sendCtr++
	payload = make([]byte, counterLen, counterLen+len(plaintext)+16)
	binary.BigEndian.PutUint64(payload, ctr)
	return s.aead.Seal(payload, nonce(ctr), plaintext, nil)
}

// Open authenticates and decrypts a counter-prefixed payload. Counters must
// be strictly increasing; a replayed or reordered frame fails before the
// AEAD is consulted.
func (s *Session) Open(payload []byte) (plaintext []byte, err error) {
	if len(payload) < counterLen {
		return nil, errorf.W("noise: payload shorter than counter prefix")
	}
	ctr := binary.BigEndian.Uint64(payload)
	if ctr < s.recvCtr {
		return nil, errorf.W(
			"noise: frame counter %d below expected %d", ctr, s.recvCtr,
		)
	}
	if plaintext, err = s.aead.Open(
		nil, nonce(ctr), payload[counterLen:], nil,
	); err != nil {
		return nil, errorf.W("noise: decryption failed: %v", err)
	}
	s.recvCtr = ctr + 1
	return
}
