package token

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Wire layout of a single token record:
//
//	id(8) || value(1) || anchor(64) || { recipient(74) || proof(64) }*
//
// The verifier key is not carried. Every party is configured with the key
// of the verifier it trusts and stamps it on decode.
const (
	HeaderSize = types.TokenIDSize + 1 + types.SignatureSize
	LinkSize   = types.PublicKeySize + types.SignatureSize

	// MaxBatchTokens is the most tokens a counted batch can describe.
	MaxBatchTokens = math.MaxUint16
)

// RecordSize returns the encoded size of a token with the given number of
// links.
func RecordSize(links int) int {
	return HeaderSize + links*LinkSize
}

// Encode serializes the token record.
func (t *Token) Encode() []byte {
	return t.AppendEncode(make([]byte, 0, RecordSize(len(t.Chain))))
}

// AppendEncode appends the token record to buf.
func (t *Token) AppendEncode(buf []byte) []byte {
	buf = append(buf, t.ID[:]...)
	buf = append(buf, byte(t.Value))
	buf = append(buf, t.Anchor[:]...)
	for _, link := range t.Chain {
		buf = append(buf, link.Recipient[:]...)
		buf = append(buf, link.Proof[:]...)
	}
	return buf
}

// Decode parses a single record. The body after the header must be a
// positive whole number of links.
func Decode(buf []byte, verifierKey types.PublicKey) (*Token, error) {
	if len(buf) < RecordSize(1) {
		return nil, fmt.Errorf("%w: record of %d bytes is too short", ErrMalformed, len(buf))
	}
	if (len(buf)-HeaderSize)%LinkSize != 0 {
		return nil, fmt.Errorf("%w: %d body bytes is not a multiple of %d", ErrMalformed, len(buf)-HeaderSize, LinkSize)
	}

	t := &Token{VerifierKey: verifierKey}
	copy(t.ID[:], buf[:types.TokenIDSize])
	t.Value = Value(buf[types.TokenIDSize])
	copy(t.Anchor[:], buf[types.TokenIDSize+1:HeaderSize])

	body := buf[HeaderSize:]
	t.Chain = make([]RecipientPair, len(body)/LinkSize)
	for i := range t.Chain {
		off := i * LinkSize
		copy(t.Chain[i].Recipient[:], body[off:off+types.PublicKeySize])
		copy(t.Chain[i].Proof[:], body[off+types.PublicKeySize:off+LinkSize])
	}
	return t, nil
}

// EncodeBatch serializes tokens of any chain length:
//
//	count(uint16 LE) || { links(uint16 LE) || record }*
func EncodeBatch(tokens []*Token) ([]byte, error) {
	if len(tokens) > MaxBatchTokens {
		return nil, fmt.Errorf("%w: %d tokens", ErrBatchTooLarge, len(tokens))
	}
	size := 2
	for _, t := range tokens {
		if len(t.Chain) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: token %s has %d links", ErrBatchTooLarge, t.ID, len(t.Chain))
		}
		size += 2 + RecordSize(len(t.Chain))
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(tokens)))
	for _, t := range tokens {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t.Chain)))
		buf = t.AppendEncode(buf)
	}
	return buf, nil
}

// DecodeBatch parses a counted batch. Trailing bytes are an error.
func DecodeBatch(buf []byte, verifierKey types.PublicKey) ([]*Token, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("%w: missing batch count", ErrMalformed)
	}
	count := int(binary.LittleEndian.Uint16(buf))
	buf = buf[2:]

	tokens := make([]*Token, 0, min(count, len(buf)/RecordSize(1)+1))
	for i := 0; i < count; i++ {
		if len(buf) < 2 {
			return nil, fmt.Errorf("%w: token %d: missing link count", ErrMalformed, i)
		}
		links := int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
		if links == 0 {
			return nil, fmt.Errorf("%w: token %d: empty chain", ErrMalformed, i)
		}
		size := RecordSize(links)
		if len(buf) < size {
			return nil, fmt.Errorf("%w: token %d: want %d bytes, have %d", ErrMalformed, i, size, len(buf))
		}
		t, err := Decode(buf[:size], verifierKey)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", i, err)
		}
		tokens = append(tokens, t)
		buf = buf[size:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(buf))
	}
	return tokens, nil
}

// EncodeUniform concatenates records that all share the same chain length,
// with no count prefix. Used for refresh batches of checkpointed tokens.
func EncodeUniform(tokens []*Token) ([]byte, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	links := len(tokens[0].Chain)
	buf := make([]byte, 0, len(tokens)*RecordSize(links))
	for _, t := range tokens {
		if len(t.Chain) != links {
			return nil, fmt.Errorf("%w: %s has %d links, want %d", ErrMixedLength, t.ID, len(t.Chain), links)
		}
		buf = t.AppendEncode(buf)
	}
	return buf, nil
}

// DecodeUniform splits buf into records of the given chain length.
func DecodeUniform(buf []byte, links int, verifierKey types.PublicKey) ([]*Token, error) {
	if links < 1 {
		return nil, fmt.Errorf("%w: chain length %d", ErrMalformed, links)
	}
	size := RecordSize(links)
	if len(buf)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of record size %d", ErrMalformed, len(buf), size)
	}
	tokens := make([]*Token, 0, len(buf)/size)
	for off := 0; off < len(buf); off += size {
		t, err := Decode(buf[off:off+size], verifierKey)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}
