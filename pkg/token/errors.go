package token

import (
	"errors"
	"fmt"
)

// Chain and encoding errors.
var (
	ErrInvalidChain     = errors.New("invalid custody chain")
	ErrInvalidSignature = errors.New("invalid link signature")
	ErrMalformed        = errors.New("malformed token encoding")
	ErrBatchTooLarge    = errors.New("batch too large")
	ErrMixedLength      = errors.New("tokens have different chain lengths")
)

// InvalidSignatureError reports the first custody link whose proof did not
// verify.
type InvalidSignatureError struct {
	Index int
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("%v at link %d", ErrInvalidSignature, e.Index)
}

// Unwrap lets errors.Is match ErrInvalidSignature.
func (e *InvalidSignatureError) Unwrap() error {
	return ErrInvalidSignature
}
