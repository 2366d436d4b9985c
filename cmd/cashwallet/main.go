// Klingnet Cash client wallet daemon.
//
// Usage:
//
//	cashwallet --verifier-pubkey=<hex> [--wallet=<name>]  Run the wallet
//	cashwallet --help                                     Show help
//
// The first start creates the named wallet in the keystore and prints its
// recovery mnemonic. Once running, console commands (info, send N,
// reconcile, peers) are read from stdin.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/node"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
)

// passwordEnv lets scripted wallets unlock without a terminal.
const passwordEnv = "KLINGCASH_PASSWORD"

func main() {
	cfg, _, err := config.Load(config.RoleWallet)
	if err != nil {
		fatal("%v", err)
	}

	key, err := unlockWallet(cfg)
	if err != nil {
		fatal("%v", err)
	}

	n, err := node.New(cfg, node.Options{WalletKey: key})
	if err != nil {
		fatal("%v", err)
	}

	if err := n.Start(); err != nil {
		n.Stop()
		fatal("%v", err)
	}

	fmt.Printf("Wallet %q public key: %s\n", cfg.Wallet.Name, n.PublicKey())

	ctx, cancel := context.WithCancel(context.Background())
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		n.RunConsole(ctx, os.Stdin, os.Stdout)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-consoleDone:
	}

	cancel()
	n.Stop()
}

// unlockWallet loads the configured wallet from the keystore, creating it
// on first start.
func unlockWallet(cfg *config.Config) (*crypto.PrivateKey, error) {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	name := cfg.Wallet.Name

	if ks.Exists(name) {
		password, err := readPassword("Password for wallet " + name + ": ")
		if err != nil {
			return nil, err
		}
		defer clear(password)
		return ks.LoadKey(name, password)
	}

	fmt.Fprintf(os.Stderr, "Creating wallet %q\n", name)
	password, err := readPassword("New password: ")
	if err != nil {
		return nil, err
	}
	defer clear(password)
	if os.Getenv(passwordEnv) == "" {
		confirm, err := readPassword("Confirm password: ")
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(password, confirm) {
			return nil, fmt.Errorf("passwords do not match")
		}
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	key, err := ks.Create(name, seed, password, wallet.DefaultParams())
	clear(seed)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	fmt.Fprintf(os.Stderr, "\nRecovery mnemonic (write it down, it is shown once):\n\n  %s\n\n", mnemonic)
	return key, nil
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	if env := os.Getenv(passwordEnv); env != "" {
		return []byte(env), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return nil, fmt.Errorf("no terminal to read the password from; set %s", passwordEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(pw))) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	return pw, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
