package types

import (
	"encoding/hex"
	"encoding/json"
)

// TokenIDSize is the length of a token identifier in bytes.
const TokenIDSize = 8

// TokenID identifies a single token. It is drawn at random by the minting
// verifier and is unique within that verifier's ledger.
type TokenID [TokenIDSize]byte

// IsZero returns true if the token ID is all zeros.
func (t TokenID) IsZero() bool {
	return t == TokenID{}
}

// String returns the hex-encoded token ID.
func (t TokenID) String() string {
	return hex.EncodeToString(t[:])
}

// MarshalJSON encodes the token ID as a hex string.
func (t TokenID) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a hex string into a token ID.
func (t *TokenID) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, t[:], "token id")
}

// MarshalText lets TokenID be used as a JSON map key.
func (t TokenID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *TokenID) UnmarshalText(text []byte) error {
	return decodeFixed(string(text), t[:], "token id")
}

// HexToTokenID parses a 16-character hex token ID.
func HexToTokenID(s string) (TokenID, error) {
	var id TokenID
	if err := decodeFixed(s, id[:], "token id"); err != nil {
		return TokenID{}, err
	}
	return id, nil
}
