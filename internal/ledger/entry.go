package ledger

import (
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Entry is the verifier's canonical record of one token.
//
// Chain holds the custody links since the last checkpoint and always starts
// with the verifier's checkpoint link. Archive holds the retained earlier
// segments, oldest first; each segment ends with the link whose proof became
// the next segment's anchor.
type Entry struct {
	ID          types.TokenID           `json:"id"`
	Value       token.Value             `json:"value"`
	Anchor      types.Signature         `json:"anchor"`
	Chain       []token.RecipientPair   `json:"chain"`
	Archive     [][]token.RecipientPair `json:"archive,omitempty"`
	Checkpoints uint64                  `json:"checkpoints"`
	MintedAt    int64                   `json:"minted_at"`
	UpdatedAt   int64                   `json:"updated_at"`
}

// NewEntry builds the ledger entry for a freshly minted token.
func NewEntry(t *token.Token, now int64) *Entry {
	return &Entry{
		ID:        t.ID,
		Value:     t.Value,
		Anchor:    t.Anchor,
		Chain:     cloneLinks(t.Chain),
		MintedAt:  now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Chain = cloneLinks(e.Chain)
	if e.Archive != nil {
		cp.Archive = make([][]token.RecipientPair, len(e.Archive))
		for i, seg := range e.Archive {
			cp.Archive[i] = cloneLinks(seg)
		}
	}
	return &cp
}

// History returns the retained custody history, archived segments first and
// the current segment last.
func (e *Entry) History() []token.RecipientPair {
	n := len(e.Chain)
	for _, seg := range e.Archive {
		n += len(seg)
	}
	out := make([]token.RecipientPair, 0, n)
	for _, seg := range e.Archive {
		out = append(out, seg...)
	}
	return append(out, e.Chain...)
}

// LastProof returns the proof of the most recent canonical link.
func (e *Entry) LastProof() types.Signature {
	if len(e.Chain) == 0 {
		return e.Anchor
	}
	return e.Chain[len(e.Chain)-1].Proof
}

// Token returns the canonical current segment as a token.
func (e *Entry) Token(verifierKey types.PublicKey) *token.Token {
	return &token.Token{
		ID:          e.ID,
		Value:       e.Value,
		VerifierKey: verifierKey,
		Anchor:      e.Anchor,
		Chain:       cloneLinks(e.Chain),
	}
}

// Checkpoint appends links to the current segment, archives it and starts a
// new segment with the verifier's checkpoint link. The new anchor is the
// last proof of the archived segment. Only the newest retain segments are
// kept; retain <= 0 keeps everything.
func (e *Entry) Checkpoint(appended []token.RecipientPair, link token.RecipientPair, retain int, now int64) {
	seg := append(cloneLinks(e.Chain), appended...)
	e.Anchor = seg[len(seg)-1].Proof
	e.Archive = append(e.Archive, seg)
	if retain > 0 && len(e.Archive) > retain {
		e.Archive = append([][]token.RecipientPair(nil), e.Archive[len(e.Archive)-retain:]...)
	}
	e.Chain = []token.RecipientPair{link}
	e.Checkpoints++
	e.UpdatedAt = now
}

func cloneLinks(links []token.RecipientPair) []token.RecipientPair {
	out := make([]token.RecipientPair, len(links))
	copy(out, links)
	return out
}
