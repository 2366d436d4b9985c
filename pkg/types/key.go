package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

const (
	// KeyPrefix tags a serialized public key (libnacl key format).
	KeyPrefix = "LibNaCLPK:"

	// PublicKeySize is prefix(10) + X25519 key(32) + Ed25519 key(32).
	PublicKeySize = len(KeyPrefix) + 32 + 32

	// SignatureSize is the length of an Ed25519 signature.
	SignatureSize = 64
)

// PublicKey is the serialized identity of a holder or verifier. It is an
// opaque byte blob to everything except the crypto package, and is
// comparable so it can be used as a map key.
type PublicKey [PublicKeySize]byte

// Signature is a detached Ed25519 signature. It doubles as the proof field
// of a custody link.
type Signature [SignatureSize]byte

// ZeroSeed is the previous-proof value that the first link of a freshly
// minted token references.
var ZeroSeed Signature

// IsZero returns true if the key is all zeros.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// HasPrefix reports whether the key carries the expected format tag.
func (k PublicKey) HasPrefix() bool {
	return bytes.Equal(k[:len(KeyPrefix)], []byte(KeyPrefix))
}

// String returns the hex-encoded key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns a copy of the key as a byte slice.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// MarshalJSON encodes the key as a hex string.
func (k PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a hex string into a key.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, k[:], "public key")
}

// HexToPublicKey parses a hex-encoded public key.
func HexToPublicKey(s string) (PublicKey, error) {
	var k PublicKey
	if err := decodeFixed(s, k[:], "public key"); err != nil {
		return PublicKey{}, err
	}
	return k, nil
}

// PublicKeyFromBytes copies b into a PublicKey. b must be PublicKeySize long.
func PublicKeyFromBytes(b []byte) (PublicKey, bool) {
	var k PublicKey
	if len(b) != PublicKeySize {
		return k, false
	}
	copy(k[:], b)
	return k, true
}

// IsZero returns true if the signature is all zeros.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// String returns the hex-encoded signature.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalJSON encodes the signature as a hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a hex string into a signature.
func (s *Signature) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, s[:], "signature")
}
