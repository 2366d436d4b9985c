package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/tyler-smith/go-bip32"
)

// Derivation path for cash keys: m/44'/8889'/account'/0/index. The 32-byte
// private key at that path seeds the Ed25519 signing key.
const (
	PurposeBIP44 = bip32.FirstHardenedChild + 44
	CoinTypeCash = bip32.FirstHardenedChild + 8889
)

// HDKey is a BIP-32 extended key.
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DerivePath derives a key along a sequence of indices. Add
// bip32.FirstHardenedChild for hardened steps.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	cur := k.key
	for _, idx := range indices {
		child, err := cur.NewChildKey(idx)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		cur = child
	}
	return &HDKey{key: cur}, nil
}

// DeriveCashKey derives the signing key for an account and index.
func (k *HDKey) DeriveCashKey(account, index uint32) (*crypto.PrivateKey, error) {
	child, err := k.DerivePath(PurposeBIP44, CoinTypeCash, bip32.FirstHardenedChild+account, 0, index)
	if err != nil {
		return nil, err
	}
	return child.CashKey()
}

// CashKey turns this node's private key into a cash signing key.
func (k *HDKey) CashKey() (*crypto.PrivateKey, error) {
	if !k.key.IsPrivate {
		return nil, fmt.Errorf("cannot create signer from public key")
	}
	// bip32 private keys carry a leading zero byte.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	return crypto.PrivateKeyFromSeed(raw)
}

// Depth returns the derivation depth (0 for master).
func (k *HDKey) Depth() uint8 {
	return k.key.Depth
}

// KeyFromMnemonic derives the account-0, index-0 cash key for a mnemonic.
func KeyFromMnemonic(mnemonic, passphrase string) (*crypto.PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return master.DeriveCashKey(0, 0)
}
