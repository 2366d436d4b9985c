// Package crypto provides the signing, verification and hashing primitives
// used by custody chains.
package crypto

import (
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// Fingerprint returns the BLAKE3 hash of a serialized public key. It is
// what logs and the peer handshake use to refer to an identity.
func Fingerprint(pub types.PublicKey) types.Hash {
	return Hash(pub[:])
}

// HashConcat hashes the concatenation of two hashes.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

// LinkMessageSize is the length of the message a custody link signs.
const LinkMessageSize = types.TokenIDSize + 1 + types.SignatureSize + types.PublicKeySize

// LinkMessage builds the exact byte string a holder signs when handing a
// token to next: id || value || prev || next.
func LinkMessage(id types.TokenID, value uint8, prev types.Signature, next types.PublicKey) []byte {
	msg := make([]byte, 0, LinkMessageSize)
	msg = append(msg, id[:]...)
	msg = append(msg, value)
	msg = append(msg, prev[:]...)
	return append(msg, next[:]...)
}
