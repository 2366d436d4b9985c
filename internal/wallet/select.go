package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-cash/pkg/token"
)

// Selection errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// held is a token in one of the wallet's pools.
type held struct {
	Token      *token.Token `json:"token"`
	ReceivedAt int64        `json:"received_at"`
}

// SelectTokens picks amount tokens to spend. Shorter chains go first since
// they are cheaper to send and verify; ties go to the token held longest.
func SelectTokens(candidates []*held, amount int) ([]*held, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(candidates) < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, len(candidates), amount)
	}

	sorted := make([]*held, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		li, lj := sorted[i].Token.NumRecipients(), sorted[j].Token.NumRecipients()
		if li != lj {
			return li < lj
		}
		return sorted[i].ReceivedAt < sorted[j].ReceivedAt
	})
	return sorted[:amount], nil
}
