package token

import (
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// FuzzDecode tests that arbitrary bytes never panic the record decoder
// and that anything it accepts re-encodes to the same bytes.
func FuzzDecode(f *testing.F) {
	f.Add(make([]byte, RecordSize(1)))
	f.Add(make([]byte, RecordSize(3)))
	f.Add([]byte{})
	f.Add(make([]byte, HeaderSize+1))

	f.Fuzz(func(t *testing.T, data []byte) {
		tok, err := Decode(data, types.PublicKey{})
		if err != nil {
			return
		}
		if string(tok.Encode()) != string(data) {
			t.Fatal("re-encoded record differs from input")
		}
		VerifyChain(tok) // May fail but must not panic.
	})
}

// FuzzDecodeBatch tests that arbitrary bytes never panic the batch decoders.
func FuzzDecodeBatch(f *testing.F) {
	f.Add([]byte{0, 0})
	f.Add([]byte{1, 0, 1, 0})
	f.Add(append([]byte{1, 0, 1, 0}, make([]byte, RecordSize(1))...))

	f.Fuzz(func(t *testing.T, data []byte) {
		DecodeBatch(data, types.PublicKey{})
		DecodeUniform(data, 1, types.PublicKey{})
	})
}
