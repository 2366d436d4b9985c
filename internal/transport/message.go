package transport

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// MessageType is the first byte of every blob.
type MessageType byte

// Message types.
const (
	MsgMint     MessageType = 1 // verifier -> wallet, fresh tokens
	MsgTransfer MessageType = 2 // wallet -> wallet, spent tokens
	MsgSubmit   MessageType = 3 // wallet -> verifier, tokens to reconcile
	MsgRefresh  MessageType = 4 // verifier -> wallet, checkpointed tokens
)

// MaxTokensPerBlob caps the tokens sent in one blob. Larger sets are split.
const MaxTokensPerBlob = 1024

// ErrUnknownMessage is returned for an unrecognised type byte.
var ErrUnknownMessage = errors.New("unknown message type")

func (t MessageType) String() string {
	switch t {
	case MsgMint:
		return "mint"
	case MsgTransfer:
		return "transfer"
	case MsgSubmit:
		return "submit"
	case MsgRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// EncodeMessage builds a blob. Refresh messages carry single-link tokens as
// an uncounted uniform batch; everything else uses the counted batch.
func EncodeMessage(typ MessageType, tokens []*token.Token) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch typ {
	case MsgRefresh:
		body, err = token.EncodeUniform(tokens)
		if err == nil && len(tokens) > 0 && tokens[0].NumRecipients() != 1 {
			err = fmt.Errorf("%w: refresh tokens must have one link", token.ErrMixedLength)
		}
	case MsgMint, MsgTransfer, MsgSubmit:
		body, err = token.EncodeBatch(tokens)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, byte(typ))
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return append([]byte{byte(typ)}, body...), nil
}

// DecodeMessage parses a blob. verifierKey is stamped on every token.
func DecodeMessage(blob []byte, verifierKey types.PublicKey) (MessageType, []*token.Token, error) {
	if len(blob) == 0 {
		return 0, nil, fmt.Errorf("%w: empty blob", token.ErrMalformed)
	}
	typ := MessageType(blob[0])
	var (
		tokens []*token.Token
		err    error
	)
	switch typ {
	case MsgRefresh:
		tokens, err = token.DecodeUniform(blob[1:], 1, verifierKey)
	case MsgMint, MsgTransfer, MsgSubmit:
		tokens, err = token.DecodeBatch(blob[1:], verifierKey)
	default:
		return typ, nil, fmt.Errorf("%w: %d", ErrUnknownMessage, blob[0])
	}
	if err != nil {
		return typ, nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return typ, tokens, nil
}

// Split chunks tokens into groups of at most size.
func Split(tokens []*token.Token, size int) [][]*token.Token {
	if size <= 0 {
		size = MaxTokensPerBlob
	}
	var out [][]*token.Token
	for len(tokens) > size {
		out = append(out, tokens[:size])
		tokens = tokens[size:]
	}
	if len(tokens) > 0 {
		out = append(out, tokens)
	}
	return out
}
