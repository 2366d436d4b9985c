// Command cashnet runs a local Klingnet Cash network in one process.
//
// Usage: go run ./cmd/cashnet/
//
// It boots a verifier and three wallets on loopback libp2p hosts, mints
// tokens, passes them around the ring, then has one wallet spend the same
// token twice and checks that the verifier catches it and every wallet
// blocks the offender. Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-cash/internal/log"
	"github.com/Klingon-tech/klingnet-cash/internal/p2p"
	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/internal/verifier"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

const (
	networkID   = "klingcash-local"
	mintCount   = 10
	settleAfter = 15 * time.Second
)

// walletBundle groups the parts of one client.
type walletBundle struct {
	name   string
	key    *crypto.PrivateKey
	p2p    *p2p.Node
	wallet *wallet.Wallet
}

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("cashnet")

	logger.Info().Msg("=== Klingnet Cash Local Network ===")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	// ── Phase 1: Verifier ────────────────────────────────────────────────

	vkey, err := crypto.GenerateKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("generate verifier key")
	}
	vpub := vkey.PublicKey()

	vnode := p2p.New(nodeConfig(vkey, vpub))
	vledger := ledger.New(storage.NewMemory(), 64)
	authority := verifier.New(verifier.DefaultConfig(), verifier.Identity{Signer: vkey}, vledger, vnode)
	authority.SetAlertPublisher(vnode)
	if err := vnode.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start verifier p2p")
	}
	defer vnode.Stop()

	logger.Info().
		Str("verifier", crypto.Fingerprint(vpub).Short()).
		Str("peer", vnode.ID().String()).
		Msg("Verifier started")

	// ── Phase 2: Wallets ─────────────────────────────────────────────────

	var wallets []*walletBundle
	for _, name := range []string{"alice", "bob", "carol"} {
		wb, err := buildWallet(name, vpub)
		if err != nil {
			logger.Fatal().Err(err).Str("wallet", name).Msg("build wallet")
		}
		defer wb.p2p.Stop()
		wallets = append(wallets, wb)
	}
	alice, bob, carol := wallets[0], wallets[1], wallets[2]

	// ── Phase 3: Connect ─────────────────────────────────────────────────

	nodes := []*p2p.Node{vnode, alice.p2p, bob.p2p, carol.p2p}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			connectNodes(nodes[i], nodes[j])
		}
	}
	ok := waitUntil(ctx, func() bool {
		for _, n := range nodes {
			if n.KnownKeys() < len(nodes)-1 {
				return false
			}
		}
		return true
	})
	if !ok {
		logger.Fatal().Msg("handshakes did not complete")
	}
	logger.Info().Int("nodes", len(nodes)).Msg("All handshakes complete")

	// ── Phase 4: Mint and circulate ──────────────────────────────────────

	if _, err := authority.MintBatch(ctx, alice.wallet.PublicKey(), mintCount); err != nil {
		logger.Fatal().Err(err).Msg("mint")
	}
	if !waitUntil(ctx, func() bool { return alice.wallet.Balance().Verified == mintCount }) {
		logger.Fatal().Msg("minted tokens did not arrive")
	}

	transfers := []struct {
		from, to *walletBundle
		amount   int
	}{
		{alice, bob, 4},
		{bob, carol, 3},
		{carol, alice, 1},
	}
	for _, tr := range transfers {
		want := tr.to.wallet.Balance().Verified + tr.amount
		if err := tr.from.wallet.Spend(ctx, tr.to.wallet.PublicKey(), tr.amount, wallet.Verified); err != nil {
			logger.Fatal().Err(err).Str("from", tr.from.name).Msg("spend")
		}
		// Receivers reconcile on their own; wait for the refresh.
		if !waitUntil(ctx, func() bool { return tr.to.wallet.Balance().Verified == want }) {
			logger.Fatal().Str("to", tr.to.name).Msg("transfer was not reconciled")
		}
		logger.Info().
			Str("from", tr.from.name).
			Str("to", tr.to.name).
			Int("amount", tr.amount).
			Msg("Transfer reconciled")
	}

	// ── Phase 5: Double spend ────────────────────────────────────────────

	stolen := carol.wallet.Tokens(wallet.Verified)[0]
	logger.Info().
		Str("token", stolen.ID.String()).
		Msg("Carol spends one token twice")
	for _, victim := range []*walletBundle{alice, bob} {
		if err := sendRaw(ctx, carol, victim, stolen); err != nil {
			logger.Fatal().Err(err).Str("to", victim.name).Msg("double spend")
		}
	}

	caught := waitUntil(ctx, func() bool {
		return authority.Stats().DoubleSpends == 1 &&
			alice.wallet.IsBlocked(carol.wallet.PublicKey()) &&
			bob.wallet.IsBlocked(carol.wallet.PublicKey())
	})

	// ── Phase 6: Verification ────────────────────────────────────────────

	stats := authority.Stats()
	offenders, _ := vledger.Offenders()
	fmt.Println()
	fmt.Printf("  Tokens in ledger:   %d\n", stats.Tokens)
	fmt.Printf("  Minted:             %d\n", stats.Minted)
	fmt.Printf("  Checkpointed:       %d\n", stats.Checkpointed)
	fmt.Printf("  Double spends:      %d\n", stats.DoubleSpends)
	fmt.Printf("  Carol's offenses:   %d\n", offenders[carol.wallet.PublicKey()])
	for _, wb := range wallets {
		bal := wb.wallet.Balance()
		fmt.Printf("  %-6s balance:     %d verified, %d unverified\n", wb.name, bal.Verified, bal.Unverified)
	}
	fmt.Println()

	if !caught {
		logger.Error().Msg("FAILURE: double spend went unnoticed")
		os.Exit(1)
	}
	logger.Info().Msg("SUCCESS: double spend detected and offender blocked")
}

func nodeConfig(signer crypto.Signer, verifierKey types.PublicKey) p2p.Config {
	return p2p.Config{
		ListenAddr:  "127.0.0.1",
		Port:        0, // Random port.
		NoDiscover:  true,
		NetworkID:   networkID,
		Signer:      signer,
		VerifierKey: verifierKey,
	}
}

// buildWallet creates a wallet with its own libp2p host.
func buildWallet(name string, verifierKey types.PublicKey) (*walletBundle, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	node := p2p.New(nodeConfig(key, verifierKey))
	w, err := wallet.New(wallet.Config{
		VerifierKey:   verifierKey,
		AutoReconcile: true,
	}, key, node, storage.NewMemory())
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	logger := klog.WithComponent(name)
	node.SetAlertHandler(func(a *p2p.AlertMessage) {
		if a.Offender == w.PublicKey() {
			return
		}
		if err := w.BlockSigner(a.Offender); err != nil {
			logger.Error().Err(err).Msg("block offender")
			return
		}
		node.DropKey(a.Offender)
	})
	node.SetKeyFilter(w.IsBlocked)
	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("start p2p: %w", err)
	}
	return &walletBundle{name: name, key: key, p2p: node, wallet: w}, nil
}

// sendRaw hands t to victim without removing it from the sender's pool.
func sendRaw(ctx context.Context, from, to *walletBundle, t *token.Token) error {
	out := token.Extend(t, to.wallet.PublicKey(), from.key)
	blob, err := transport.EncodeMessage(transport.MsgTransfer, []*token.Token{out})
	if err != nil {
		return err
	}
	return from.p2p.SendBlob(ctx, to.wallet.PublicKey(), blob)
}

// connectNodes connects two P2P nodes directly.
func connectNodes(a, b *p2p.Node) {
	aHost := a.Host()
	info := libp2ppeer.AddrInfo{
		ID:    aHost.ID(),
		Addrs: aHost.Addrs(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Host().Connect(ctx, info)
}

// waitUntil polls cond until it holds, ctx ends or settleAfter passes.
func waitUntil(ctx context.Context, cond func() bool) bool {
	deadline := time.After(settleAfter)
	for !cond() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return true
}
