package token

import (
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Mint creates a token whose only link is signed by the verifier and hands
// it to first.
func Mint(id types.TokenID, value Value, verifier crypto.Signer, first types.PublicKey) *Token {
	return Checkpoint(&Token{ID: id, Value: value}, verifier, types.ZeroSeed, first)
}

// Checkpoint replaces the chain with a single verifier-signed link to
// recipient that references prev. The result's anchor is prev.
func Checkpoint(t *Token, verifier crypto.Signer, prev types.Signature, recipient types.PublicKey) *Token {
	proof := verifier.Sign(crypto.LinkMessage(t.ID, uint8(t.Value), prev, recipient))
	return &Token{
		ID:          t.ID,
		Value:       t.Value,
		VerifierKey: verifier.PublicKey(),
		Anchor:      prev,
		Chain:       []RecipientPair{{Recipient: recipient, Proof: proof}},
	}
}

// Extend returns a copy of t with a new link handing it to next, signed by
// holder. Nothing is checked here: a holder who is not the current
// recipient produces a chain that fails VerifyChain downstream.
func Extend(t *Token, next types.PublicKey, holder crypto.Signer) *Token {
	cp := t.Clone()
	proof := holder.Sign(crypto.LinkMessage(t.ID, uint8(t.Value), t.LastProof(), next))
	cp.Chain = append(cp.Chain, RecipientPair{Recipient: next, Proof: proof})
	return cp
}

// VerifyChain checks every link in order and fails on the first bad one.
// Link 0 must be signed by the verifier over the anchor; link i > 0 must be
// signed by the recipient of link i-1 over that link's proof.
func VerifyChain(t *Token) error {
	if len(t.Chain) == 0 {
		return ErrInvalidChain
	}
	signer := t.VerifierKey
	prev := t.Anchor
	for i, link := range t.Chain {
		msg := crypto.LinkMessage(t.ID, uint8(t.Value), prev, link.Recipient)
		if !crypto.VerifySignature(signer, link.Proof, msg) {
			return &InvalidSignatureError{Index: i}
		}
		signer = link.Recipient
		prev = link.Proof
	}
	return nil
}
