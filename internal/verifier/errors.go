package verifier

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Submission errors. Each rejects one token; the rest of its batch is
// still processed.
var (
	ErrAlreadyCheckpointed = errors.New("token already checkpointed")
	ErrNotAddressedHere    = errors.New("token not addressed to this verifier")
	ErrUnknownToken        = errors.New("unknown token")
	ErrValueMismatch       = errors.New("token value mismatch")
	ErrUnknownHistory      = errors.New("submission does not match retained history")
	ErrStaleSubmission     = errors.New("stale submission")
	ErrDoubleSpend         = errors.New("double spend")
)

// DoubleSpendError identifies the key that signed two conflicting links.
// errors.Is matches ErrDoubleSpend.
type DoubleSpendError struct {
	TokenID   types.TokenID
	Offender  types.PublicKey
	DivergeAt int
}

func (e *DoubleSpendError) Error() string {
	return fmt.Sprintf("double spend of %s by %s at link %d",
		e.TokenID, crypto.Fingerprint(e.Offender).Short(), e.DivergeAt)
}

// Is reports a match for ErrDoubleSpend.
func (e *DoubleSpendError) Is(target error) bool {
	return target == ErrDoubleSpend
}
