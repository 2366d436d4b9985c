package verifier

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// State is the stage a submitted token reached.
//
//	Received -> StructurallyValid -> Continuation -> Checkpointed
//	                              -> DoubleSpendSuspect -> Discarded
//	         -> Rejected
type State int

const (
	Received State = iota
	StructurallyValid
	Continuation
	DoubleSpendSuspect
	Rejected
	Checkpointed
	Discarded
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case StructurallyValid:
		return "structurally-valid"
	case Continuation:
		return "continuation"
	case DoubleSpendSuspect:
		return "double-spend-suspect"
	case Rejected:
		return "rejected"
	case Checkpointed:
		return "checkpointed"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one submission.
type Result struct {
	ID    types.TokenID
	State State
	// Token is the refreshed single-link token when State is Checkpointed.
	Token *token.Token
	Err   error
}

// OK reports whether the token was checkpointed.
func (r Result) OK() bool {
	return r.State == Checkpointed
}
