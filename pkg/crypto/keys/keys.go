// Package keys wraps the Ed25519 identity operations: key generation, hex
// import/export and constant-time comparison of key material.
package keys

import (
	"crypto/ed25519"
	"crypto/subtle"

	"lukechampine.com/frand"

	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/utils/errorf"
)

// SecretLen is the size of an Ed25519 seed.
const SecretLen = ed25519.SeedSize

// Generate creates a fresh Ed25519 keypair from a fast CSPRNG.
func Generate() (sk ed25519.PrivateKey, pk ed25519.PublicKey) {
	seed := frand.Bytes(SecretLen)
	sk = ed25519.NewKeyFromSeed(seed)
	pk = sk.Public().(ed25519.PublicKey)
	return
}

// FromSeedHex derives a keypair from a 32-byte hex seed.
func FromSeedHex(s string) (sk ed25519.PrivateKey, err error) {
	var seed []byte
	if seed, err = hex.Dec(s); err != nil {
		return nil, errorf.W("keys: seed is not hex")
	}
	if len(seed) != SecretLen {
		return nil, errorf.W(
			"keys: seed is %d bytes, want %d", len(seed), SecretLen,
		)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// SeedHex exports the private key seed as hex.
func SeedHex(sk ed25519.PrivateKey) string { return hex.Enc(sk.Seed()) }

// PubHex exports the public key as hex.
func PubHex(sk ed25519.PrivateKey) string {
	return hex.Enc(sk.Public().(ed25519.PublicKey))
}

// Equal compares two byte strings in constant time.
func Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
