// Package token defines the custody-chain token: a fixed identity and value
// plus the ordered list of signed hand-offs since the last checkpoint.
package token

import (
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Value is a denomination tag. The whole network currently uses DefaultValue.
type Value uint8

// DefaultValue is the denomination minted by the verifier.
const DefaultValue Value = 1

// RecipientPair is one custody link: the key the token was handed to and
// the previous holder's signature over id || value || prevProof || Recipient.
type RecipientPair struct {
	Recipient types.PublicKey `json:"recipient"`
	Proof     types.Signature `json:"proof"`
}

// Token is a unit of cash and its custody chain.
//
// Chain[0] is always signed by VerifierKey and references Anchor as its
// previous proof. Anchor is the zero seed for a freshly minted token and
// the last proof of the compacted history after a checkpoint.
type Token struct {
	ID          types.TokenID   `json:"id"`
	Value       Value           `json:"value"`
	VerifierKey types.PublicKey `json:"verifier_key"`
	Anchor      types.Signature `json:"anchor"`
	Chain       []RecipientPair `json:"chain"`
}

// NumRecipients returns the number of custody links.
func (t *Token) NumRecipients() int {
	return len(t.Chain)
}

// CheckpointProof returns the verifier's most recent checkpoint signature,
// which is the proof of the first link. Zero if the chain is empty.
func (t *Token) CheckpointProof() types.Signature {
	if len(t.Chain) == 0 {
		return types.Signature{}
	}
	return t.Chain[0].Proof
}

// Last returns the final custody link.
func (t *Token) Last() (RecipientPair, bool) {
	if len(t.Chain) == 0 {
		return RecipientPair{}, false
	}
	return t.Chain[len(t.Chain)-1], true
}

// LastRecipient returns the current holder of the token.
func (t *Token) LastRecipient() types.PublicKey {
	last, _ := t.Last()
	return last.Recipient
}

// LastProof returns the proof the next link must reference. For an empty
// chain that is the anchor.
func (t *Token) LastProof() types.Signature {
	if len(t.Chain) == 0 {
		return t.Anchor
	}
	return t.Chain[len(t.Chain)-1].Proof
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	cp := *t
	cp.Chain = make([]RecipientPair, len(t.Chain))
	copy(cp.Chain, t.Chain)
	return &cp
}

// TrimLast returns a copy without the final link.
func (t *Token) TrimLast() *Token {
	cp := t.Clone()
	if len(cp.Chain) > 0 {
		cp.Chain = cp.Chain[:len(cp.Chain)-1]
	}
	return cp
}
