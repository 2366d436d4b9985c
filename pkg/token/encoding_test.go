package token

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func sameToken(a, b *Token) bool {
	if a.ID != b.ID || a.Value != b.Value || a.Anchor != b.Anchor || a.VerifierKey != b.VerifierKey {
		return false
	}
	if len(a.Chain) != len(b.Chain) {
		return false
	}
	for i := range a.Chain {
		if a.Chain[i] != b.Chain[i] {
			return false
		}
	}
	return true
}

func TestEncode_Decode(t *testing.T) {
	verifier := newKey(t)
	a, b := newKey(t), newKey(t)
	tok := Extend(Mint(types.TokenID{1, 2}, DefaultValue, verifier, a.PublicKey()), b.PublicKey(), a)

	buf := tok.Encode()
	if len(buf) != RecordSize(2) {
		t.Fatalf("encoded length = %d, want %d", len(buf), RecordSize(2))
	}

	got, err := Decode(buf, verifier.PublicKey())
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if !sameToken(tok, got) {
		t.Error("decoded token differs from original")
	}
	if err := VerifyChain(got); err != nil {
		t.Errorf("decoded token should verify: %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"header only", HeaderSize},
		{"partial link", HeaderSize + LinkSize - 1},
		{"one and a half links", HeaderSize + LinkSize + LinkSize/2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(make([]byte, tt.size), types.PublicKey{})
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode(%d bytes) = %v, want ErrMalformed", tt.size, err)
			}
		})
	}
}

func TestBatch_RoundTrip(t *testing.T) {
	verifier := newKey(t)
	a, b := newKey(t), newKey(t)

	t1 := Mint(types.TokenID{1}, DefaultValue, verifier, a.PublicKey())
	t2 := Extend(Mint(types.TokenID{2}, DefaultValue, verifier, a.PublicKey()), b.PublicKey(), a)
	t3 := Extend(t2, a.PublicKey(), b)

	buf, err := EncodeBatch([]*Token{t1, t2, t3})
	if err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	got, err := DecodeBatch(buf, verifier.PublicKey())
	if err != nil {
		t.Fatalf("DecodeBatch() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("decoded %d tokens, want 3", len(got))
	}
	for i, want := range []*Token{t1, t2, t3} {
		if !sameToken(want, got[i]) {
			t.Errorf("token %d differs after round trip", i)
		}
	}
}

func TestBatch_Empty(t *testing.T) {
	buf, err := EncodeBatch(nil)
	if err != nil {
		t.Fatalf("EncodeBatch(nil) error: %v", err)
	}
	got, err := DecodeBatch(buf, types.PublicKey{})
	if err != nil {
		t.Fatalf("DecodeBatch() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("decoded %d tokens, want 0", len(got))
	}
}

func TestDecodeBatch_Malformed(t *testing.T) {
	verifier := newKey(t)
	a := newKey(t)
	buf, _ := EncodeBatch([]*Token{Mint(types.TokenID{1}, DefaultValue, verifier, a.PublicKey())})

	tests := []struct {
		name string
		buf  []byte
	}{
		{"no count", []byte{1}},
		{"truncated", buf[:len(buf)-1]},
		{"trailing bytes", append(append([]byte{}, buf...), 0)},
		{"count too high", append([]byte{2, 0}, buf[2:]...)},
		{"zero links", []byte{1, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeBatch(tt.buf, verifier.PublicKey()); !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeBatch() = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestUniform_RoundTrip(t *testing.T) {
	verifier := newKey(t)
	a := newKey(t)

	var tokens []*Token
	for i := 0; i < 4; i++ {
		tokens = append(tokens, Mint(types.TokenID{byte(i + 1)}, DefaultValue, verifier, a.PublicKey()))
	}

	buf, err := EncodeUniform(tokens)
	if err != nil {
		t.Fatalf("EncodeUniform() error: %v", err)
	}
	if len(buf) != 4*RecordSize(1) {
		t.Fatalf("encoded length = %d, want %d", len(buf), 4*RecordSize(1))
	}

	got, err := DecodeUniform(buf, 1, verifier.PublicKey())
	if err != nil {
		t.Fatalf("DecodeUniform() error: %v", err)
	}
	for i := range tokens {
		if !sameToken(tokens[i], got[i]) {
			t.Errorf("token %d differs after round trip", i)
		}
	}

	if _, err := DecodeUniform(buf[:len(buf)-3], 1, verifier.PublicKey()); !errors.Is(err, ErrMalformed) {
		t.Errorf("short uniform batch = %v, want ErrMalformed", err)
	}
	if _, err := DecodeUniform(buf, 0, verifier.PublicKey()); !errors.Is(err, ErrMalformed) {
		t.Errorf("zero chain length = %v, want ErrMalformed", err)
	}
}

func TestEncodeUniform_MixedLength(t *testing.T) {
	verifier := newKey(t)
	a, b := newKey(t), newKey(t)
	t1 := Mint(types.TokenID{1}, DefaultValue, verifier, a.PublicKey())
	t2 := Extend(t1, b.PublicKey(), a)

	if _, err := EncodeUniform([]*Token{t1, t2}); !errors.Is(err, ErrMixedLength) {
		t.Errorf("EncodeUniform() = %v, want ErrMixedLength", err)
	}
}
