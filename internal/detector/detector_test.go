package detector

import (
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

type keys struct {
	v, a, b, c, d *crypto.PrivateKey
}

func newKeys(t *testing.T) keys {
	t.Helper()
	gen := func() *crypto.PrivateKey {
		k, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		return k
	}
	return keys{v: gen(), a: gen(), b: gen(), c: gen(), d: gen()}
}

func TestDetect(t *testing.T) {
	k := newKeys(t)
	minted := token.Mint(types.TokenID{1}, token.DefaultValue, k.v, k.a.PublicKey())
	toB := token.Extend(minted, k.b.PublicKey(), k.a)
	toC := token.Extend(minted, k.c.PublicKey(), k.a) // A spends the same token twice
	toBC := token.Extend(toB, k.c.PublicKey(), k.b)
	toBD := token.Extend(toB, k.d.PublicKey(), k.b) // B forks later in the chain
	toBCD := token.Extend(toBC, k.d.PublicKey(), k.c)

	tests := []struct {
		name      string
		submitted []token.RecipientPair
		history   []token.RecipientPair
		want      Outcome
		offender  types.PublicKey
		divergeAt int
		newLinks  int
	}{
		{
			name:      "fork at first hand-off",
			submitted: toC.Chain,
			history:   toB.Chain,
			want:      DoubleSpend,
			offender:  k.a.PublicKey(),
			divergeAt: 1,
		},
		{
			name:      "fork deeper in chain",
			submitted: toBD.Chain,
			history:   toBC.Chain,
			want:      DoubleSpend,
			offender:  k.b.PublicKey(),
			divergeAt: 2,
		},
		{
			name:      "identical resubmission",
			submitted: toB.Chain,
			history:   toB.Chain,
			want:      Stale,
		},
		{
			name:      "prefix of history",
			submitted: toB.Chain,
			history:   toBCD.Chain,
			want:      Stale,
		},
		{
			name:      "continues history",
			submitted: toBCD.Chain,
			history:   toB.Chain,
			want:      Extends,
			newLinks:  2,
		},
		{
			name:      "submission starts mid-history",
			submitted: toBCD.Chain[1:],
			history:   toBC.Chain,
			want:      Extends,
			newLinks:  1,
		},
		{
			name:      "unrelated history",
			submitted: toB.Chain,
			history:   token.Mint(types.TokenID{2}, token.DefaultValue, k.v, k.a.PublicKey()).Chain,
			want:      UnknownHistory,
		},
		{
			name:      "empty submission",
			submitted: nil,
			history:   toB.Chain,
			want:      UnknownHistory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Detect(tt.submitted, tt.history)
			if f.Outcome != tt.want {
				t.Fatalf("Outcome = %v, want %v", f.Outcome, tt.want)
			}
			if tt.want == DoubleSpend {
				if f.Offender != tt.offender {
					t.Error("wrong offender")
				}
				if f.DivergeAt != tt.divergeAt {
					t.Errorf("DivergeAt = %d, want %d", f.DivergeAt, tt.divergeAt)
				}
			}
			if len(f.NewLinks) != tt.newLinks {
				t.Errorf("NewLinks = %d, want %d", len(f.NewLinks), tt.newLinks)
			}
		})
	}
}

// History spanning a checkpoint: the old segment is archived and the
// verifier's fresh link follows it.
func TestDetect_AcrossCheckpoint(t *testing.T) {
	k := newKeys(t)
	minted := token.Mint(types.TokenID{1}, token.DefaultValue, k.v, k.a.PublicKey())
	toB := token.Extend(minted, k.b.PublicKey(), k.a)
	fresh := token.Checkpoint(toB, k.v, toB.LastProof(), k.b.PublicKey())

	history := append(append([]token.RecipientPair{}, toB.Chain...), fresh.Chain...)

	if f := Detect(toB.Chain, history); f.Outcome != Stale {
		t.Errorf("resubmitting the archived copy = %v, want stale", f.Outcome)
	}

	toC := token.Extend(minted, k.c.PublicKey(), k.a)
	f := Detect(toC.Chain, history)
	if f.Outcome != DoubleSpend || f.Offender != k.a.PublicKey() {
		t.Errorf("second spend of minted copy = %v, want double-spend by A", f.Outcome)
	}

	stale := token.Extend(toB, k.d.PublicKey(), k.b)
	f = Detect(stale.Chain, history)
	if f.Outcome != DoubleSpend || f.Offender != k.b.PublicKey() {
		t.Errorf("spending the pre-checkpoint copy = %v, want double-spend by B", f.Outcome)
	}
}

func TestOutcome_String(t *testing.T) {
	if DoubleSpend.String() != "double-spend" || Outcome(42).String() != "outcome(42)" {
		t.Error("unexpected Outcome strings")
	}
}
