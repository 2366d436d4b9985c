// Package detector compares a submitted custody chain against the
// verifier's retained history and classifies the submission.
package detector

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Outcome classifies a submitted chain.
type Outcome int

const (
	// UnknownHistory means the submission does not start at any retained
	// link.
	UnknownHistory Outcome = iota
	// Stale means the submission is a prefix of known history.
	Stale
	// Extends means the submission agrees with history and continues it.
	Extends
	// DoubleSpend means the submission and history fork after a common
	// link; the recipient of that link signed both branches.
	DoubleSpend
)

func (o Outcome) String() string {
	switch o {
	case UnknownHistory:
		return "unknown-history"
	case Stale:
		return "stale"
	case Extends:
		return "extends"
	case DoubleSpend:
		return "double-spend"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Finding is the result of Detect.
type Finding struct {
	Outcome Outcome

	// Branch is the index into history where the submission starts.
	Branch int

	// DivergeAt is the index into the submission of the first link that
	// differs from history. Only set for DoubleSpend.
	DivergeAt int

	// Offender signed both diverging links. Only set for DoubleSpend.
	Offender types.PublicKey

	// NewLinks is the part of the submission beyond known history. Only
	// set for Extends.
	NewLinks []token.RecipientPair
}

// Detect locates submitted[0] in history by proof and walks both chains
// forward from there. Link 0 matches by construction, so the walk starts at
// index 1. The first mismatch is a fork and the recipient of the last
// common link is the offender.
//
// Both chains are assumed to have verified signatures already.
func Detect(submitted, history []token.RecipientPair) Finding {
	if len(submitted) == 0 {
		return Finding{Outcome: UnknownHistory}
	}

	k := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Proof == submitted[0].Proof {
			k = i
			break
		}
	}
	if k < 0 {
		return Finding{Outcome: UnknownHistory}
	}

	window := history[k:]
	n := min(len(submitted), len(window))
	for j := 1; j < n; j++ {
		if submitted[j] != window[j] {
			return Finding{
				Outcome:   DoubleSpend,
				Branch:    k,
				DivergeAt: j,
				Offender:  window[j-1].Recipient,
			}
		}
	}

	if len(submitted) <= len(window) {
		return Finding{Outcome: Stale, Branch: k}
	}

	rest := submitted[len(window):]
	links := make([]token.RecipientPair, len(rest))
	copy(links, rest)
	return Finding{Outcome: Extends, Branch: k, NewLinks: links}
}
