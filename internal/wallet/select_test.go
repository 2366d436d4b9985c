package wallet

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func heldWith(id byte, links int, receivedAt int64) *held {
	return &held{
		Token:      &token.Token{ID: types.TokenID{id}, Chain: make([]token.RecipientPair, links)},
		ReceivedAt: receivedAt,
	}
}

func TestSelectTokens(t *testing.T) {
	candidates := []*held{
		heldWith(1, 3, 10),
		heldWith(2, 1, 30),
		heldWith(3, 2, 5),
		heldWith(4, 1, 20),
	}

	got, err := SelectTokens(candidates, 3)
	if err != nil {
		t.Fatalf("SelectTokens: %v", err)
	}
	want := []byte{4, 2, 3}
	for i, h := range got {
		if h.Token.ID[0] != want[i] {
			t.Errorf("pick %d = token %d, want %d", i, h.Token.ID[0], want[i])
		}
	}
	if candidates[0].Token.ID[0] != 1 {
		t.Error("SelectTokens reordered its input")
	}
}

func TestSelectTokens_Errors(t *testing.T) {
	candidates := []*held{heldWith(1, 1, 0)}

	tests := []struct {
		name   string
		amount int
		want   error
	}{
		{"zero", 0, ErrInvalidAmount},
		{"negative", -1, ErrInvalidAmount},
		{"too many", 2, ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SelectTokens(candidates, tt.amount); !errors.Is(err, tt.want) {
				t.Errorf("SelectTokens(%d) = %v, want %v", tt.amount, err, tt.want)
			}
		})
	}

	got, err := SelectTokens(candidates, 1)
	if err != nil || len(got) != 1 {
		t.Errorf("exact amount: got %d tokens, err %v", len(got), err)
	}
}
