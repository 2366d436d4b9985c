package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/ed25519"
)

const (
	// SeedSize is the length of the seed a key pair is derived from.
	SeedSize = ed25519.SeedSize

	// PrivateKeySize is the serialized length: X25519 secret + Ed25519 seed.
	PrivateKeySize = curve25519.ScalarSize + ed25519.SeedSize

	encKeyOffset  = len(types.KeyPrefix)
	signKeyOffset = encKeyOffset + curve25519.PointSize

	encDeriveContext = "klingnet-cash 2026 x25519 subkey"
)

// Signer signs custody link messages with an Ed25519 key.
type Signer interface {
	// Sign produces a detached signature over the full message.
	Sign(message []byte) types.Signature
	// PublicKey returns the 74-byte serialized public key.
	PublicKey() types.PublicKey
}

// Verifier verifies signatures against serialized public keys.
type Verifier interface {
	Verify(pub types.PublicKey, sig types.Signature, message []byte) bool
}

// PrivateKey holds the signing key and the X25519 encryption secret whose
// public halves make up a types.PublicKey.
type PrivateKey struct {
	sign ed25519.PrivateKey
	enc  [curve25519.ScalarSize]byte
	pub  types.PublicKey
}

// GenerateKey creates a new random key pair.
func GenerateKey() (*PrivateKey, error) {
	var b [PrivateKeySize]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return PrivateKeyFromBytes(b[:])
}

// PrivateKeyFromSeed derives a key pair from a 32-byte seed. The signing key
// uses the seed directly and the encryption secret is derived from it, so
// the same seed always yields the same public key.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	var b [PrivateKeySize]byte
	blake3.DeriveKey(encDeriveContext, seed, b[:curve25519.ScalarSize])
	copy(b[curve25519.ScalarSize:], seed)
	return PrivateKeyFromBytes(b[:])
}

// PrivateKeyFromBytes restores a key pair from its 64-byte serialization.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	pk := &PrivateKey{
		sign: ed25519.NewKeyFromSeed(b[curve25519.ScalarSize:]),
	}
	copy(pk.enc[:], b[:curve25519.ScalarSize])

	encPub, err := curve25519.X25519(pk.enc[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	copy(pk.pub[:], types.KeyPrefix)
	copy(pk.pub[encKeyOffset:], encPub)
	copy(pk.pub[signKeyOffset:], pk.sign.Public().(ed25519.PublicKey))
	return pk, nil
}

// Sign produces an Ed25519 signature over message.
func (pk *PrivateKey) Sign(message []byte) types.Signature {
	var sig types.Signature
	copy(sig[:], ed25519.Sign(pk.sign, message))
	return sig
}

// PublicKey returns the serialized public key.
func (pk *PrivateKey) PublicKey() types.PublicKey {
	return pk.pub
}

// Serialize returns the 64-byte secret: X25519 scalar followed by the
// Ed25519 seed.
func (pk *PrivateKey) Serialize() []byte {
	out := make([]byte, 0, PrivateKeySize)
	out = append(out, pk.enc[:]...)
	return append(out, pk.sign.Seed()...)
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	clear(pk.sign)
	clear(pk.enc[:])
}

// VerificationKey extracts the Ed25519 half of a serialized public key.
func VerificationKey(pub types.PublicKey) ed25519.PublicKey {
	k := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(k, pub[signKeyOffset:])
	return k
}

// EncryptionKey extracts the X25519 half of a serialized public key.
func EncryptionKey(pub types.PublicKey) [curve25519.PointSize]byte {
	var k [curve25519.PointSize]byte
	copy(k[:], pub[encKeyOffset:signKeyOffset])
	return k
}

// VerifySignature checks sig over message against pub. Returns false for a
// key without the expected format tag; it never panics.
func VerifySignature(pub types.PublicKey, sig types.Signature, message []byte) bool {
	if !pub.HasPrefix() {
		return false
	}
	return ed25519.Verify(VerificationKey(pub), message, sig[:])
}

// Ed25519Verifier implements the Verifier interface.
type Ed25519Verifier struct{}

// Verify checks sig over message against pub.
func (v Ed25519Verifier) Verify(pub types.PublicKey, sig types.Signature, message []byte) bool {
	return VerifySignature(pub, sig, message)
}
