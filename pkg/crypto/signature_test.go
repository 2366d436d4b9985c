package crypto

import (
	"bytes"
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	pub := key.PublicKey()
	if !pub.HasPrefix() {
		t.Error("PublicKey() should start with the key prefix")
	}

	ser := key.Serialize()
	if len(ser) != PrivateKeySize {
		t.Errorf("Serialize() length = %d, want %d", len(ser), PrivateKeySize)
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	k2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	if k1.PublicKey() == k2.PublicKey() {
		t.Error("two generated keys should not be identical")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	original, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	restored, err := PrivateKeyFromBytes(original.Serialize())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error: %v", err)
	}

	if original.PublicKey() != restored.PublicKey() {
		t.Error("restored key should have same public key")
	}
}

func TestPrivateKeyFromBytes_InvalidLength(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"seed length", make([]byte, 32)},
		{"too long", make([]byte, 96)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PrivateKeyFromBytes(tt.data); err == nil {
				t.Error("expected error for invalid key length")
			}
		})
	}
}

func TestPrivateKeyFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, SeedSize)

	k1, err := PrivateKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("PrivateKeyFromSeed() error: %v", err)
	}
	k2, err := PrivateKeyFromSeed(seed)
	if err != nil {
		t.Fatalf("PrivateKeyFromSeed() error: %v", err)
	}
	if k1.PublicKey() != k2.PublicKey() {
		t.Error("same seed should give the same public key")
	}

	other, _ := PrivateKeyFromSeed(bytes.Repeat([]byte{0x08}, SeedSize))
	if other.PublicKey() == k1.PublicKey() {
		t.Error("different seeds should give different keys")
	}

	if _, err := PrivateKeyFromSeed(seed[:16]); err == nil {
		t.Error("short seed should be rejected")
	}
}

func TestSign_Verify(t *testing.T) {
	key, _ := GenerateKey()
	msg := []byte("custody link")

	sig := key.Sign(msg)
	if !VerifySignature(key.PublicKey(), sig, msg) {
		t.Error("valid signature should verify")
	}
}

func TestSign_Deterministic(t *testing.T) {
	key, _ := GenerateKey()
	msg := []byte("same message")

	if key.Sign(msg) != key.Sign(msg) {
		t.Error("Ed25519 signatures over the same message should match")
	}
}

func TestVerify_WrongMessage(t *testing.T) {
	key, _ := GenerateKey()
	sig := key.Sign([]byte("one"))

	if VerifySignature(key.PublicKey(), sig, []byte("two")) {
		t.Error("signature should not verify for a different message")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	msg := []byte("payload")

	if VerifySignature(k2.PublicKey(), k1.Sign(msg), msg) {
		t.Error("signature should not verify under another key")
	}
}

func TestVerify_CorruptedSignature(t *testing.T) {
	key, _ := GenerateKey()
	msg := []byte("payload")
	sig := key.Sign(msg)
	sig[10] ^= 0xff

	if VerifySignature(key.PublicKey(), sig, msg) {
		t.Error("corrupted signature should not verify")
	}
}

func TestVerify_MalformedKey(t *testing.T) {
	key, _ := GenerateKey()
	msg := []byte("payload")
	sig := key.Sign(msg)

	tests := []struct {
		name string
		pub  types.PublicKey
	}{
		{"zero key", types.PublicKey{}},
		{"missing prefix", func() types.PublicKey {
			p := key.PublicKey()
			p[0] = 'X'
			return p
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.pub, sig, msg) {
				t.Error("malformed key should not verify")
			}
		})
	}
}

func TestPrivateKey_Zero(t *testing.T) {
	key, _ := GenerateKey()
	key.Zero()

	for _, b := range key.Serialize() {
		if b != 0 {
			t.Fatal("Serialize() after Zero() should be all zeros")
		}
	}
}

func TestPublicKey_Layout(t *testing.T) {
	key, _ := GenerateKey()
	pub := key.PublicKey()

	vk := VerificationKey(pub)
	if !bytes.Equal(vk, pub[signKeyOffset:]) {
		t.Error("VerificationKey() should be the trailing 32 bytes")
	}
	ek := EncryptionKey(pub)
	if !bytes.Equal(ek[:], pub[encKeyOffset:signKeyOffset]) {
		t.Error("EncryptionKey() should follow the prefix")
	}
}

func TestEd25519Verifier_Interface(t *testing.T) {
	var v Verifier = Ed25519Verifier{}
	var s Signer
	key, _ := GenerateKey()
	s = key

	msg := []byte("interface")
	if !v.Verify(s.PublicKey(), s.Sign(msg), msg) {
		t.Error("Verifier interface should accept a Signer's signature")
	}
}
