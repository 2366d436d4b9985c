// Klingnet Cash verifier daemon.
//
// Usage:
//
//	cashverifierd [--verifier-key=...] Run the verifier
//	cashverifierd --help               Show help
//
// Once running, console commands (info, mint N, offenders, peers) are read
// from stdin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/node"
)

func main() {
	cfg, _, err := config.Load(config.RoleVerifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg, node.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	fmt.Printf("Verifier public key: %s\n", n.PublicKey())

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
