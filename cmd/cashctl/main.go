// cashctl is a command-line client for cashverifierd and cashwallet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// keystoreDir returns the keystore path matching the daemons' layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

// defaultRPC returns the default endpoint of a role's daemon.
func defaultRPC(role config.Role, network string) string {
	cfg := config.Default(role, config.NetworkType(network))
	return fmt.Sprintf("http://%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := ""
	dataDir := config.DefaultDataDir()
	network := "mainnet"
	role := config.RoleWallet

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--testnet":
			network = "testnet"
			args = args[1:]
		case args[0] == "--verifier":
			role = config.RoleVerifier
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	if network != string(config.Mainnet) && network != string(config.Testnet) {
		fatal("unknown network %q", network)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	// Verifier commands talk to the verifier daemon unless --rpc says otherwise.
	switch cmd {
	case "mint", "stats", "offenders", "offenses", "entry", "ledger":
		role = config.RoleVerifier
	}
	if rpcURL == "" {
		rpcURL = defaultRPC(role, network)
	}
	client := rpcclient.New(rpcURL)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cmd {
	case "status":
		cmdStatus(ctx, client)
	case "peers":
		cmdPeers(ctx, client)
	case "bans":
		cmdBans(ctx, client)
	case "mint":
		cmdMint(ctx, client, cmdArgs)
	case "stats":
		cmdStats(ctx, client)
	case "offenders":
		cmdOffenders(ctx, client)
	case "offenses":
		cmdOffenses(ctx, client)
	case "entry":
		cmdEntry(ctx, client, cmdArgs)
	case "ledger":
		cmdLedger(ctx, client, cmdArgs)
	case "balance":
		cmdBalance(ctx, client)
	case "tokens":
		cmdTokens(ctx, client, cmdArgs)
	case "send":
		cmdSend(ctx, client, cmdArgs)
	case "reconcile":
		cmdReconcile(ctx, client)
	case "block":
		cmdBlock(ctx, client, cmdArgs)
	case "blocked":
		cmdBlocked(ctx, client)
	case "wallet":
		cmdWallet(cmdArgs, keystoreDir(dataDir, network))
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: cashctl [global flags] <command> [args]

Global flags:
  --rpc <url>         RPC endpoint (default: the local daemon for the command)
  --datadir <path>    Data directory (default: ~/.klingcash)
  --network <net>     mainnet (default) or testnet
  --testnet           Shorthand for --network testnet
  --verifier          Send node commands to the verifier daemon

Node commands:
  status              Show node identity and connectivity
  peers               List connected peers
  bans                List banned peers

Verifier commands:
  mint <N> <pubkey>   Mint N tokens to pubkey
  stats               Show verifier counters
  offenders           List keys caught double spending
  offenses            List every recorded double spend
  entry <token_id>    Show the ledger entry of a token
  ledger [limit]      List token ids in the ledger

Wallet commands:
  balance             Show verified and unverified balances
  tokens [pool]       List held tokens (verified|unverified)
  send <N> <pubkey> [pool]
                      Send N tokens to pubkey
  reconcile           Submit unverified tokens to the verifier
  block <pubkey>      Refuse tokens that passed through pubkey
  blocked             List blocked keys

Keystore commands:
  wallet create --name <name>
  wallet import --name <name>
  wallet list
  wallet pubkey --name <name>
`)
}

// ── Node ────────────────────────────────────────────────────────────────

func cmdStatus(ctx context.Context, client *rpcclient.Client) {
	info, err := client.NodeInfo(ctx)
	if err != nil {
		fatal("node_getInfo: %v", err)
	}

	fmt.Printf("Role:        %s (%s)\n", info.Role, info.Network)
	fmt.Printf("Version:     %s\n", info.Version)
	fmt.Printf("Public key:  %s\n", info.PublicKey)
	fmt.Printf("Fingerprint: %s\n", info.Fingerprint)
	if info.VerifierKey != info.PublicKey {
		fmt.Printf("Verifier:    %s\n", crypto.Fingerprint(info.VerifierKey).Short())
	}
	if info.PeerID != "" {
		fmt.Printf("Peer ID:     %s\n", info.PeerID)
		for _, a := range info.Addrs {
			fmt.Printf("  Listen: %s\n", a)
		}
	}
	fmt.Printf("Peers:       %d (%d with cash keys)\n", info.Peers, info.KnownKeys)
}

func cmdPeers(ctx context.Context, client *rpcclient.Client) {
	peers, err := client.Peers(ctx)
	if err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Peers: %d\n", peers.Count)
	for _, p := range peers.Peers {
		key := "-"
		if p.CashKey != nil {
			key = crypto.Fingerprint(*p.CashKey).Short()
		}
		mark := ""
		if p.Verifier {
			mark = " (verifier)"
		}
		fmt.Printf("  %s  key=%s  source=%s  since=%s%s\n",
			p.ID, key, p.Source, time.Unix(p.ConnectedAt, 0).Format(time.RFC3339), mark)
	}
}

func cmdBans(ctx context.Context, client *rpcclient.Client) {
	bans, err := client.Bans(ctx)
	if err != nil {
		fatal("net_getBanList: %v", err)
	}
	if bans.Count == 0 {
		fmt.Println("No banned peers.")
		return
	}
	for _, b := range bans.Bans {
		expiry := "permanent"
		if b.ExpiresAt != 0 {
			expiry = time.Unix(b.ExpiresAt, 0).Format(time.RFC3339)
		}
		fmt.Printf("  %s  score=%d  until=%s  %s\n", b.ID, b.Score, expiry, b.Reason)
	}
}

// ── Verifier ────────────────────────────────────────────────────────────

func cmdMint(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) != 2 {
		fatal("Usage: cashctl mint <N> <pubkey>")
	}
	count := parseCount(args[0])
	to := parseKey(args[1])

	res, err := client.Mint(ctx, to, count)
	if err != nil {
		fatal("verifier_mint: %v", err)
	}
	fmt.Printf("Minted %d tokens to %s\n", res.Count, crypto.Fingerprint(res.Recipient).Short())
	for _, id := range res.TokenIDs {
		fmt.Printf("  %s\n", id)
	}
}

func cmdStats(ctx context.Context, client *rpcclient.Client) {
	s, err := client.Stats(ctx)
	if err != nil {
		fatal("verifier_getStats: %v", err)
	}
	fmt.Printf("Tokens:        %d\n", s.Tokens)
	fmt.Printf("Minted:        %d\n", s.Minted)
	fmt.Printf("Checkpointed:  %d\n", s.Checkpointed)
	fmt.Printf("Rejected:      %d\n", s.Rejected)
	fmt.Printf("Double spends: %d\n", s.DoubleSpends)
}

func cmdOffenders(ctx context.Context, client *rpcclient.Client) {
	list, err := client.Offenders(ctx)
	if err != nil {
		fatal("verifier_getOffenders: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No offenders.")
		return
	}
	for _, o := range list {
		fmt.Printf("  %s  %d\n", o.Key, o.Offenses)
	}
}

func cmdOffenses(ctx context.Context, client *rpcclient.Client) {
	list, err := client.Offenses(ctx)
	if err != nil {
		fatal("verifier_getOffenses: %v", err)
	}
	if len(list) == 0 {
		fmt.Println("No offenses.")
		return
	}
	for _, o := range list {
		fmt.Printf("  %s  token=%s  offender=%s  submitter=%s  link=%d\n",
			time.Unix(0, o.DetectedAt).Format(time.RFC3339), o.TokenID,
			crypto.Fingerprint(o.Offender).Short(), crypto.Fingerprint(o.Submitter).Short(), o.DivergeAt)
	}
}

func cmdEntry(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) != 1 {
		fatal("Usage: cashctl entry <token_id>")
	}
	id, err := types.HexToTokenID(args[0])
	if err != nil {
		fatal("invalid token id: %v", err)
	}
	e, err := client.Entry(ctx, id)
	if err != nil {
		fatal("ledger_getEntry: %v", err)
	}

	fmt.Printf("Token:       %s\n", e.ID)
	fmt.Printf("Value:       %d\n", e.Value)
	fmt.Printf("Minted:      %s\n", time.Unix(e.MintedAt, 0).Format(time.RFC3339))
	fmt.Printf("Updated:     %s\n", time.Unix(e.UpdatedAt, 0).Format(time.RFC3339))
	fmt.Printf("Checkpoints: %d (%d segments retained)\n", e.Checkpoints, len(e.Archive))
	fmt.Println("Current chain:")
	for i, link := range e.Chain {
		fmt.Printf("  %d. %s\n", i, crypto.Fingerprint(link.Recipient).Short())
	}
}

func cmdLedger(ctx context.Context, client *rpcclient.Client, args []string) {
	limit := 0
	if len(args) > 0 {
		limit = parseCount(args[0])
	}
	res, err := client.LedgerTokens(ctx, limit)
	if err != nil {
		fatal("ledger_listTokens: %v", err)
	}
	fmt.Printf("Tokens: %d\n", res.Total)
	for _, id := range res.TokenIDs {
		fmt.Printf("  %s\n", id)
	}
}

// ── Wallet ──────────────────────────────────────────────────────────────

func cmdBalance(ctx context.Context, client *rpcclient.Client) {
	b, err := client.Balance(ctx)
	if err != nil {
		fatal("wallet_getBalance: %v", err)
	}
	fmt.Printf("Verified:   %d\n", b.Verified)
	fmt.Printf("Unverified: %d\n", b.Unverified)
	fmt.Printf("Total:      %d\n", b.Total)
}

func cmdTokens(ctx context.Context, client *rpcclient.Client, args []string) {
	pool := ""
	if len(args) > 0 {
		pool = args[0]
	}
	res, err := client.Tokens(ctx, pool)
	if err != nil {
		fatal("wallet_listTokens: %v", err)
	}
	fmt.Printf("%s tokens: %d\n", res.Pool, len(res.Tokens))
	for _, t := range res.Tokens {
		fmt.Printf("  %s  value=%d  links=%d\n", t.ID, t.Value, t.Links)
	}
}

func cmdSend(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) < 2 || len(args) > 3 {
		fatal("Usage: cashctl send <N> <pubkey> [verified|unverified]")
	}
	count := parseCount(args[0])
	to := parseKey(args[1])
	pool := ""
	if len(args) == 3 {
		if _, err := wallet.ParsePool(args[2]); err != nil {
			fatal("%v", err)
		}
		pool = args[2]
	}

	res, err := client.Send(ctx, to, count, pool)
	if err != nil {
		fatal("wallet_send: %v", err)
	}
	fmt.Printf("Sent %d tokens to %s\n", res.Sent, crypto.Fingerprint(res.To).Short())
	fmt.Printf("Balance: %d verified, %d unverified\n", res.Balance.Verified, res.Balance.Unverified)
}

func cmdReconcile(ctx context.Context, client *rpcclient.Client) {
	res, err := client.Reconcile(ctx)
	if err != nil {
		fatal("wallet_reconcile: %v", err)
	}
	if res.Submitted == 0 {
		fmt.Println("Nothing to reconcile.")
		return
	}
	fmt.Printf("Submitted %d tokens to the verifier\n", res.Submitted)
}

func cmdBlock(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) != 1 {
		fatal("Usage: cashctl block <pubkey>")
	}
	key := parseKey(args[0])
	if err := client.Block(ctx, key); err != nil {
		fatal("wallet_block: %v", err)
	}
	fmt.Printf("Blocked %s\n", crypto.Fingerprint(key).Short())
}

func cmdBlocked(ctx context.Context, client *rpcclient.Client) {
	keys, err := client.Blocked(ctx)
	if err != nil {
		fatal("wallet_getBlocked: %v", err)
	}
	if len(keys) == 0 {
		fmt.Println("No blocked keys.")
		return
	}
	for _, k := range keys {
		fmt.Printf("  %s\n", k)
	}
}

// ── Keystore ────────────────────────────────────────────────────────────

func cmdWallet(args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: cashctl wallet <create|import|list|pubkey> [flags]")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(args[1:], ksDir, false)
	case "import":
		cmdWalletCreate(args[1:], ksDir, true)
	case "list":
		cmdWalletList(ksDir)
	case "pubkey":
		cmdWalletPubKey(args[1:], ksDir)
	default:
		fatal("Unknown wallet command: %s\nUsage: cashctl wallet <create|import|list|pubkey> [flags]", args[0])
	}
}

func cmdWalletCreate(args []string, ksDir string, restore bool) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (import only)")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: cashctl wallet create|import --name <name>")
	}

	if restore {
		if *mnemonic == "" {
			m, err := readPassword("Enter mnemonic: ")
			if err != nil {
				fatal("read mnemonic: %v", err)
			}
			*mnemonic = strings.TrimSpace(string(m))
		}
		if !wallet.ValidateMnemonic(*mnemonic) {
			fatal("invalid mnemonic")
		}
	} else {
		m, err := wallet.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
		*mnemonic = m
		fmt.Println("Mnemonic (write this down!):")
		fmt.Printf("  %s\n\n", m)
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(*mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}
	defer clear(seed)

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	key, err := ks.Create(*name, seed, password, wallet.DefaultParams())
	if err != nil {
		fatal("create wallet: %v", err)
	}
	defer key.Zero()

	fmt.Printf("\nWallet created: %s\n", *name)
	fmt.Printf("Public key: %s\n", key.PublicKey())
}

func cmdWalletList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	names, err := ks.List()
	if err != nil {
		fatal("list wallets: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}

	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdWalletPubKey(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet pubkey", flag.ExitOnError)
	name := fs.String("name", "default", "Wallet name")
	fs.Parse(args)

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}
	pub, err := ks.PublicKey(*name)
	if err != nil {
		fatal("wallet %s: %v", *name, err)
	}
	fmt.Println(pub)
}

// ── Helpers ─────────────────────────────────────────────────────────────

func parseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		fatal("invalid count %q", s)
	}
	return n
}

func parseKey(s string) types.PublicKey {
	key, err := types.HexToPublicKey(s)
	if err != nil {
		fatal("invalid public key: %v", err)
	}
	return key
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
