package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Keystore errors.
var (
	ErrWalletExists   = errors.New("wallet already exists")
	ErrWalletNotFound = errors.New("wallet not found")
)

// keystoreFile is the on-disk JSON format for an encrypted wallet. The
// public key is stored in clear so a daemon can announce its address
// before the password is entered.
type keystoreFile struct {
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	EncryptedSeed []byte          `json:"encrypted_seed"`
	Account       uint32          `json:"account"`
	Index         uint32          `json:"index"`
	PublicKey     types.PublicKey `json:"public_key"`
}

// Keystore manages encrypted key storage on disk.
type Keystore struct {
	path string
}

// NewKeystore creates a keystore that reads/writes to the given directory.
// The directory is created if it doesn't exist.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Exists reports whether a wallet file with this name exists.
func (ks *Keystore) Exists(name string) bool {
	_, err := os.Stat(ks.walletPath(name))
	return err == nil
}

// Create encrypts a BIP-39 seed into a new wallet file and returns the
// cash key derived at m/44'/8889'/0'/0/0.
func (ks *Keystore) Create(name string, seed, password []byte, params EncryptionParams) (*crypto.PrivateKey, error) {
	path := ks.walletPath(name)
	if ks.Exists(name) {
		return nil, fmt.Errorf("%w: %q", ErrWalletExists, name)
	}

	key, err := deriveDefault(seed)
	if err != nil {
		return nil, err
	}
	encrypted, err := Encrypt(seed, password, params)
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       1,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		PublicKey:     key.PublicKey(),
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return nil, err
	}
	return key, nil
}

// Load decrypts a wallet and returns the seed bytes.
func (ks *Keystore) Load(name string, password []byte) ([]byte, error) {
	kf, err := ks.readFile(ks.walletPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet: %w", err)
	}
	return seed, nil
}

// LoadKey decrypts a wallet and derives its cash key. The derived key must
// match the public key recorded at creation.
func (ks *Keystore) LoadKey(name string, password []byte) (*crypto.PrivateKey, error) {
	kf, err := ks.readFile(ks.walletPath(name))
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet: %w", err)
	}
	defer clear(seed)

	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	key, err := master.DeriveCashKey(kf.Account, kf.Index)
	if err != nil {
		return nil, err
	}
	if key.PublicKey() != kf.PublicKey {
		return nil, fmt.Errorf("wallet %q: derived key does not match stored public key", name)
	}
	return key, nil
}

// PublicKey returns the stored public key without decrypting.
func (ks *Keystore) PublicKey(name string) (types.PublicKey, error) {
	kf, err := ks.readFile(ks.walletPath(name))
	if err != nil {
		return types.PublicKey{}, err
	}
	return kf.PublicKey, nil
}

// List returns the names of all wallet files in the keystore.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".wallet" {
			names = append(names, name[:len(name)-len(ext)])
		}
	}
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	if !ks.Exists(name) {
		return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	return os.Remove(ks.walletPath(name))
}

func deriveDefault(seed []byte) (*crypto.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	return master.DeriveCashKey(0, 0)
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(path string) (*keystoreFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != 1 {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}
