package node

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingcash/key", filepath.Join(home, ".klingcash/key")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k
}

func writeKey(t *testing.T, key *crypto.PrivateKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "verifier.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key.Serialize())+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadVerifierKey(t *testing.T) {
	privKey := newKey(t)
	keyHex := hex.EncodeToString(privKey.Serialize())

	loaded, err := loadVerifierKey(writeKey(t, privKey))
	if err != nil {
		t.Fatalf("loadVerifierKey: %v", err)
	}
	if hex.EncodeToString(loaded.Serialize()) != keyHex {
		t.Errorf("key mismatch: got %x, want %s", loaded.Serialize(), keyHex)
	}
	loaded.Zero()
}

func TestLoadVerifierKey_Missing(t *testing.T) {
	_, err := loadVerifierKey("/nonexistent/path")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadVerifierKey_InvalidHex(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "bad.key")
	if err := os.WriteFile(keyPath, []byte("not-hex-data"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := loadVerifierKey(keyPath); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := loadOrCreateVerifierKey(keyPath); err == nil {
		t.Fatal("a corrupt key file must not be replaced")
	}
}

func TestLoadOrCreateVerifierKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "verifier.key")

	created, err := loadOrCreateVerifierKey(path)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("key file permissions = %o, want 0600", perm)
	}

	loaded, err := loadOrCreateVerifierKey(path)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if loaded.PublicKey() != created.PublicKey() {
		t.Error("second call should load the saved key")
	}
}

// --- Node assembly ---

func testConfig(t *testing.T, role config.Role, verifier types.PublicKey) *config.Config {
	t.Helper()
	cfg := config.Default(role, config.Testnet)
	cfg.DataDir = t.TempDir()
	cfg.Ledger.Backend = config.BackendMemory
	cfg.P2P.Enabled = false
	cfg.P2P.ListenAddr = "127.0.0.1"
	cfg.P2P.Port = 0
	cfg.P2P.NoDiscover = true
	cfg.RPC.Enabled = false
	cfg.Verifier.Workers = 2
	if !verifier.IsZero() {
		cfg.Verifier.PubKey = verifier.String()
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.Config, opts Options) *Node {
	t.Helper()
	opts.SkipLogInit = true
	n, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New(%s): %v", cfg.Role, err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func TestNew_Errors(t *testing.T) {
	vkey := newKey(t)

	cfg := testConfig(t, config.RoleWallet, vkey.PublicKey())
	if _, err := New(cfg, Options{SkipLogInit: true}); err == nil {
		t.Error("wallet without a key should fail")
	}

	cfg = testConfig(t, config.RoleWallet, types.PublicKey{})
	if _, err := New(cfg, Options{SkipLogInit: true, WalletKey: newKey(t)}); err == nil {
		t.Error("wallet without a trusted verifier should fail")
	}

	cfg = testConfig(t, config.RoleVerifier, newKey(t).PublicKey())
	cfg.Verifier.KeyFile = writeKey(t, vkey)
	if _, err := New(cfg, Options{SkipLogInit: true}); err == nil {
		t.Error("verifier.pubkey that does not match the key file should fail")
	}

	cfg = testConfig(t, "miner", vkey.PublicKey())
	if _, err := New(cfg, Options{SkipLogInit: true}); err == nil {
		t.Error("unknown role should fail")
	}
}

func TestNode_VerifierCreatesKey(t *testing.T) {
	cfg := testConfig(t, config.RoleVerifier, types.PublicKey{})
	cfg.Verifier.KeyFile = cfg.DefaultVerifierKeyFile()
	n := startNode(t, cfg, Options{})

	if n.Authority() == nil || n.Wallet() != nil {
		t.Fatal("verifier node should have an authority and no wallet")
	}
	if n.VerifierKey() != n.PublicKey() {
		t.Error("a verifier trusts its own key")
	}
	saved, err := loadVerifierKey(cfg.Verifier.KeyFile)
	if err != nil {
		t.Fatalf("key not saved: %v", err)
	}
	if saved.PublicKey() != n.PublicKey() {
		t.Error("saved key differs from the node key")
	}
}

func TestNode_BadgerBackend(t *testing.T) {
	vkey := newKey(t)
	cfg := testConfig(t, config.RoleVerifier, types.PublicKey{})
	cfg.Ledger.Backend = config.BackendBadger
	cfg.Verifier.KeyFile = writeKey(t, vkey)

	n, err := New(cfg, Options{SkipLogInit: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	alice := newKey(t).PublicKey()
	if _, err := n.Exec(context.Background(), "mint 3 "+alice.String()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	n.Stop()

	n2 := startNode(t, cfg, Options{})
	if got := n2.Authority().Stats().Tokens; got != 3 {
		t.Errorf("tokens after restart = %d, want 3", got)
	}
}

// hubNetwork is a verifier and two wallets over an in-memory hub.
type hubNetwork struct {
	hub                  *transport.Hub
	verifier, alice, bob *Node
	aliceKey, bobKey     types.PublicKey
}

func newHubNetwork(t *testing.T) *hubNetwork {
	t.Helper()
	hub := transport.NewHub()
	vkey, aKey, bKey := newKey(t), newKey(t), newKey(t)
	vpub := vkey.PublicKey()

	vcfg := testConfig(t, config.RoleVerifier, types.PublicKey{})
	vcfg.Verifier.KeyFile = writeKey(t, vkey)
	net := &hubNetwork{
		hub:      hub,
		verifier: startNode(t, vcfg, Options{Transport: hub.Endpoint(vpub)}),
		aliceKey: aKey.PublicKey(),
		bobKey:   bKey.PublicKey(),
	}
	net.alice = startNode(t, testConfig(t, config.RoleWallet, vpub),
		Options{WalletKey: aKey, Transport: hub.Endpoint(net.aliceKey)})
	net.bob = startNode(t, testConfig(t, config.RoleWallet, vpub),
		Options{WalletKey: bKey, Transport: hub.Endpoint(net.bobKey)})
	return net
}

func TestNode_HubEndToEnd(t *testing.T) {
	net := newHubNetwork(t)
	ctx := context.Background()

	out, err := net.verifier.Exec(ctx, "mint 5 "+net.aliceKey.String())
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !strings.HasPrefix(out, "Minted 5 tokens") {
		t.Errorf("mint output = %q", out)
	}
	net.hub.Wait()
	if bal := net.alice.Wallet().Balance(); bal.Verified != 5 {
		t.Fatalf("alice balance = %+v, want 5 verified", bal)
	}

	if _, err := net.alice.Exec(ctx, "send 3 "+net.bobKey.String()); err != nil {
		t.Fatalf("send: %v", err)
	}
	net.hub.Wait()

	// Bob reconciles on receipt, so the tokens come back verified.
	if bal := net.bob.Wallet().Balance(); bal.Verified != 3 || bal.Unverified != 0 {
		t.Errorf("bob balance = %+v, want 3 verified", bal)
	}
	if bal := net.alice.Wallet().Balance(); bal.Total() != 2 {
		t.Errorf("alice balance = %+v, want 2", bal)
	}
	stats := net.verifier.Authority().Stats()
	if stats.Minted != 5 || stats.Checkpointed != 3 {
		t.Errorf("stats = %+v", stats)
	}

	info, err := net.bob.Exec(ctx, "info")
	if err != nil || !strings.Contains(info, "balance:   3") {
		t.Errorf("info = %q, %v", info, err)
	}
	if out, _ := net.verifier.Exec(ctx, "offenders"); out != "No double spends recorded" {
		t.Errorf("offenders = %q", out)
	}
}

func TestNode_Exec_Errors(t *testing.T) {
	net := newHubNetwork(t)
	ctx := context.Background()

	tests := []struct {
		node *Node
		line string
		want error
	}{
		{net.alice, "mint 1", ErrWrongRole},
		{net.alice, "offenders", ErrWrongRole},
		{net.verifier, "send 1", ErrWrongRole},
		{net.verifier, "reconcile", ErrWrongRole},
		{net.verifier, "dance", ErrUnknownCommand},
		{net.verifier, "mint 1", ErrNoRecipient},
	}
	for _, tt := range tests {
		if _, err := tt.node.Exec(ctx, tt.line); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.line, err, tt.want)
		}
	}

	for _, line := range []string{"mint x", "mint 0", "send -1", "mint 1 nothex"} {
		node := net.verifier
		if strings.HasPrefix(line, "send") {
			node = net.alice
		}
		if _, err := node.Exec(ctx, line); err == nil {
			t.Errorf("%q should fail", line)
		}
	}

	if out, err := net.alice.Exec(ctx, "   "); out != "" || err != nil {
		t.Errorf("empty line = %q, %v", out, err)
	}
	if out, _ := net.alice.Exec(ctx, "help"); !strings.Contains(out, "reconcile") {
		t.Error("help should list commands")
	}
	if out, _ := net.alice.Exec(ctx, "peers"); out != "P2P disabled" {
		t.Errorf("peers = %q", out)
	}
}

func TestNode_RunConsole(t *testing.T) {
	net := newHubNetwork(t)
	in := strings.NewReader("info\ndance\n\nmint 2 " + net.aliceKey.String() + "\nstop\nmint 9 " + net.aliceKey.String() + "\n")
	var out strings.Builder

	net.verifier.RunConsole(context.Background(), in, &out)
	net.hub.Wait()

	got := out.String()
	if !strings.Contains(got, "role:      verifier") {
		t.Errorf("missing info output:\n%s", got)
	}
	if !strings.Contains(got, "Error: unknown command: dance") {
		t.Errorf("missing error output:\n%s", got)
	}
	if bal := net.alice.Wallet().Balance(); bal.Verified != 2 {
		t.Errorf("alice balance = %+v, commands after stop must not run", bal)
	}
}

func TestCountArg(t *testing.T) {
	key := strings.Repeat("ab", types.PublicKeySize)
	tests := []struct {
		args  []string
		count int
		rest  int
		ok    bool
	}{
		{nil, 7, 0, true},
		{[]string{"4"}, 4, 0, true},
		{[]string{"4", key}, 4, 1, true},
		{[]string{key}, 7, 1, true},
		{[]string{"0"}, 0, 0, false},
		{[]string{"four"}, 0, 0, false},
	}
	for _, tt := range tests {
		count, rest, err := countArg(tt.args, 7)
		if (err == nil) != tt.ok {
			t.Errorf("countArg(%v) err = %v", tt.args, err)
			continue
		}
		if tt.ok && (count != tt.count || len(rest) != tt.rest) {
			t.Errorf("countArg(%v) = %d, %v", tt.args, count, rest)
		}
	}
}

// --- libp2p ---

func connect(t *testing.T, a, b *Node) {
	t.Helper()
	info := peer.AddrInfo{ID: a.P2P().ID(), Addrs: a.P2P().Host().Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.P2P().Host().Connect(ctx, info); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestNode_P2PEndToEnd(t *testing.T) {
	vkey, aKey, bKey := newKey(t), newKey(t), newKey(t)
	vpub, apub, bpub := vkey.PublicKey(), aKey.PublicKey(), bKey.PublicKey()

	p2pConfig := func(role config.Role) *config.Config {
		cfg := testConfig(t, role, vpub)
		cfg.P2P.Enabled = true
		return cfg
	}
	vcfg := p2pConfig(config.RoleVerifier)
	vcfg.Verifier.KeyFile = writeKey(t, vkey)
	verifierNode := startNode(t, vcfg, Options{})
	alice := startNode(t, p2pConfig(config.RoleWallet), Options{WalletKey: aKey})
	bob := startNode(t, p2pConfig(config.RoleWallet), Options{WalletKey: bKey})

	connect(t, verifierNode, alice)
	connect(t, verifierNode, bob)
	connect(t, alice, bob)

	eventually(t, "handshakes", func() bool {
		_, v2a := verifierNode.P2P().Lookup(apub)
		_, a2b := alice.P2P().Lookup(bpub)
		_, b2v := bob.P2P().Lookup(vpub)
		return v2a && a2b && b2v
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := verifierNode.Exec(ctx, "mint 4 "+apub.String()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	eventually(t, "minted tokens", func() bool {
		return alice.Wallet().Balance().Verified == 4
	})

	if _, err := alice.Exec(ctx, "send 2 "+bpub.String()); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "reconciled tokens", func() bool {
		return bob.Wallet().Balance().Verified == 2
	})

	if got := verifierNode.Authority().Stats().Checkpointed; got != 2 {
		t.Errorf("checkpointed = %d, want 2", got)
	}
	if out, _ := alice.Exec(ctx, "peers"); !strings.Contains(out, "(verifier)") {
		t.Errorf("peers should mark the verifier:\n%s", out)
	}
}

func TestNode_RPC(t *testing.T) {
	hub := transport.NewHub()
	vkey, aKey := newKey(t), newKey(t)
	vpub := vkey.PublicKey()

	vcfg := testConfig(t, config.RoleVerifier, types.PublicKey{})
	vcfg.Verifier.KeyFile = writeKey(t, vkey)
	vcfg.RPC.Enabled = true
	vcfg.RPC.Addr = "127.0.0.1"
	vcfg.RPC.Port = 0
	v := startNode(t, vcfg, Options{Transport: hub.Endpoint(vpub)})

	wcfg := testConfig(t, config.RoleWallet, vpub)
	wcfg.RPC.Enabled = true
	wcfg.RPC.Addr = "127.0.0.1"
	wcfg.RPC.Port = 0
	w := startNode(t, wcfg, Options{WalletKey: aKey, Transport: hub.Endpoint(aKey.PublicKey())})

	ctx := context.Background()
	vc := rpcclient.New("http://" + v.RPC().Addr() + "/")
	wc := rpcclient.New("http://" + w.RPC().Addr() + "/")

	info, err := vc.NodeInfo(ctx)
	if err != nil {
		t.Fatalf("NodeInfo: %v", err)
	}
	if info.Role != "verifier" || info.PublicKey != vpub || info.Network != "testnet" {
		t.Errorf("verifier info = %+v", info)
	}

	if _, err := vc.Mint(ctx, aKey.PublicKey(), 2); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	hub.Wait()
	bal, err := wc.Balance(ctx)
	if err != nil || bal.Verified != 2 {
		t.Errorf("wallet balance = %+v, %v", bal, err)
	}

	if _, err := wc.Stats(ctx); err == nil {
		t.Error("wallet node should not serve verifier stats")
	}
	if v.RPC() == nil || testNodeWithoutRPC(t).RPC() != nil {
		t.Error("RPC() should follow rpc.enabled")
	}
}

func testNodeWithoutRPC(t *testing.T) *Node {
	t.Helper()
	cfg := testConfig(t, config.RoleVerifier, types.PublicKey{})
	cfg.Verifier.KeyFile = filepath.Join(t.TempDir(), "verifier.key")
	return startNode(t, cfg, Options{Transport: transport.NewHub().Endpoint(types.PublicKey{1})})
}
