// derive_key.go prints the cash public key and fingerprint for a verifier key
// file, or for a mnemonic read from stdin when the argument is "-".
// Usage: go run scripts/derive_key.go <keyfile|->
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: derive_key <keyfile|->")
		os.Exit(1)
	}

	var (
		key *crypto.PrivateKey
		err error
	)
	if os.Args[1] == "-" {
		key, err = fromMnemonic()
	} else {
		key, err = fromFile(os.Args[1])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer key.Zero()

	pub := key.PublicKey()
	fmt.Printf("pubkey=%s\n", pub.String())
	fmt.Printf("fingerprint=%s\n", crypto.Fingerprint(pub).String())
}

func fromFile(path string) (*crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(keyBytes)
}

func fromMnemonic() (*crypto.PrivateKey, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}
	return wallet.KeyFromMnemonic(strings.TrimSpace(line), "")
}
