package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
)

func verifierHex(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return k.PublicKey().String()
}

func TestDefault(t *testing.T) {
	v := Default(RoleVerifier, Mainnet)
	w := Default(RoleWallet, Mainnet)
	if v.P2P.Port == w.P2P.Port {
		t.Error("verifier and wallet should default to different ports")
	}
	if v.Ledger.Backend != BackendBadger || v.Ledger.Retain != 64 {
		t.Errorf("ledger defaults = %+v", v.Ledger)
	}
	if !w.Wallet.AutoReconcile || w.Wallet.Name != "default" {
		t.Errorf("wallet defaults = %+v", w.Wallet)
	}

	if !v.RPC.Enabled || v.RPC.Port != 8545 || w.RPC.Port != 8547 {
		t.Errorf("rpc ports = %d/%d", v.RPC.Port, w.RPC.Port)
	}

	tn := Default(RoleVerifier, Testnet)
	if tn.Network != Testnet || tn.P2P.Port != v.P2P.Port+1 {
		t.Errorf("testnet defaults: network=%s port=%d", tn.Network, tn.P2P.Port)
	}
	if tn.RPC.Port != 8645 {
		t.Errorf("testnet rpc port = %d", tn.RPC.Port)
	}
}

func TestConfig_Dirs(t *testing.T) {
	cfg := Default(RoleWallet, Testnet)
	cfg.DataDir = "/data"
	if got := cfg.WalletDir(); got != filepath.Join("/data", "testnet", "wallet", "wallet") {
		t.Errorf("WalletDir = %s", got)
	}
	if cfg.DatabaseDir() != cfg.WalletDir() {
		t.Error("wallet database should live in WalletDir")
	}
	cfg.Role = RoleVerifier
	if cfg.DatabaseDir() != cfg.LedgerDir() {
		t.Error("verifier database should live in LedgerDir")
	}
	if got := cfg.KeystoreDir(); got != filepath.Join("/data", "testnet", "keystore") {
		t.Errorf("KeystoreDir = %s", got)
	}
	if cfg.NetworkID() != "klingcash-testnet" {
		t.Errorf("NetworkID = %s", cfg.NetworkID())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.conf")
	content := `# comment
network = testnet
ledger.backend = MEMORY
ledger.retain = 0
p2p.seeds = /ip4/1.2.3.4/tcp/1, /ip4/5.6.7.8/tcp/2
wallet.name = "alice"
wallet.autoreconcile = off
verifier.workers = 3
rpc.port = 9001
rpc.allowed = 127.0.0.1, 10.0.0.0/8
unknown.key = ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	cfg := Default(RoleWallet, Mainnet)
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Network != Testnet {
		t.Errorf("network = %s", cfg.Network)
	}
	if cfg.Ledger.Backend != BackendMemory || cfg.Ledger.Retain != 0 {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if len(cfg.P2P.Seeds) != 2 || cfg.P2P.Seeds[1] != "/ip4/5.6.7.8/tcp/2" {
		t.Errorf("seeds = %v", cfg.P2P.Seeds)
	}
	if cfg.Wallet.Name != "alice" || cfg.Wallet.AutoReconcile {
		t.Errorf("wallet = %+v", cfg.Wallet)
	}
	if cfg.Verifier.Workers != 3 {
		t.Errorf("workers = %d", cfg.Verifier.Workers)
	}
	if cfg.RPC.Port != 9001 || len(cfg.RPC.AllowedIPs) != 2 || cfg.RPC.AllowedIPs[1] != "10.0.0.0/8" {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil || len(values) != 0 {
		t.Errorf("missing file should give empty config, got %v, %v", values, err)
	}

	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("no equals sign\n"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("malformed line should fail")
	}

	cfg := Default(RoleWallet, Mainnet)
	if err := ApplyFileConfig(cfg, map[string]string{"ledger.retain": "many"}); err == nil {
		t.Error("non-numeric retain should fail")
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags(RoleWallet, []string{
		"--testnet", "--nodiscover", "--ledger-retain=0", "--autoreconcile=false",
		"--wallet", "bob", "--verifier-pubkey", "ab", "--rpc=false", "--rpc-port", "9100",
		"console-arg",
	})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if f.Network != string(Testnet) || !f.NoDiscover || f.WalletName != "bob" {
		t.Errorf("flags = %+v", f)
	}
	if !f.SetRetain || !f.SetAutoReconcile || f.AutoReconcile {
		t.Error("explicit zero values should be tracked")
	}
	if len(f.Args) != 1 || f.Args[0] != "console-arg" {
		t.Errorf("args = %v", f.Args)
	}

	cfg := Default(RoleWallet, Testnet)
	ApplyFlags(cfg, f)
	if cfg.Ledger.Retain != 0 || cfg.Wallet.AutoReconcile || !cfg.P2P.NoDiscover {
		t.Errorf("ApplyFlags: %+v", cfg)
	}
	if cfg.Verifier.PubKey != "ab" {
		t.Errorf("pubkey = %s", cfg.Verifier.PubKey)
	}
	if cfg.RPC.Enabled || cfg.RPC.Port != 9100 {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
}

func TestParseFlags_StrayFlag(t *testing.T) {
	_, err := ParseFlags(RoleVerifier, []string{"mint", "--testnet"})
	if err == nil || !strings.Contains(err.Error(), "not parsed") {
		t.Errorf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	pub := verifierHex(t)
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid wallet", func(c *Config) {}, true},
		{"nil backend defaults", func(c *Config) { c.Ledger.Backend = "" }, true},
		{"bad role", func(c *Config) { c.Role = "miner" }, false},
		{"bad network", func(c *Config) { c.Network = "devnet" }, false},
		{"bad port", func(c *Config) { c.P2P.Port = 70000 }, false},
		{"bad rpc port", func(c *Config) { c.RPC.Port = -1 }, false},
		{"rpc on p2p port", func(c *Config) { c.RPC.Port = c.P2P.Port }, false},
		{"rpc disabled on p2p port", func(c *Config) {
			c.RPC.Enabled = false
			c.RPC.Port = c.P2P.Port
		}, true},
		{"bad backend", func(c *Config) { c.Ledger.Backend = "leveldb" }, false},
		{"negative retain", func(c *Config) { c.Ledger.Retain = -1 }, false},
		{"bad pubkey", func(c *Config) { c.Verifier.PubKey = "zz" }, false},
		{"wallet without verifier", func(c *Config) { c.Verifier.PubKey = "" }, false},
		{"wallet without name", func(c *Config) { c.Wallet.Name = "" }, false},
		{"verifier without key", func(c *Config) { c.Role = RoleVerifier }, false},
		{"verifier with key", func(c *Config) {
			c.Role = RoleVerifier
			c.Verifier.KeyFile = "/tmp/verifier.key"
			c.Verifier.PubKey = ""
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(RoleWallet, Mainnet)
			cfg.Verifier.PubKey = pub
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected an error")
			}
		})
	}
	if Validate(nil) == nil {
		t.Error("nil config should fail")
	}
}

func TestLoadWithFlags_Precedence(t *testing.T) {
	dir := t.TempDir()
	pub := verifierHex(t)

	f, err := ParseFlags(RoleVerifier, []string{"--datadir", dir, "--testnet"})
	if err != nil {
		t.Fatal(err)
	}

	// First start writes the default config and picks a default key path.
	cfg, err := LoadWithFlags(RoleVerifier, f)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.Verifier.KeyFile != cfg.DefaultVerifierKeyFile() {
		t.Errorf("key file = %s", cfg.Verifier.KeyFile)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if _, err := os.Stat(cfg.LedgerDir()); err != nil {
		t.Errorf("ledger dir not created: %v", err)
	}

	// File beats defaults, flags beat the file.
	conf := "verifier.workers = 7\nledger.retain = 5\nverifier.pubkey = " + pub + "\n"
	os.WriteFile(cfg.ConfigFile(), []byte(conf), 0644)
	f, _ = ParseFlags(RoleVerifier, []string{"--datadir", dir, "--testnet", "--ledger-retain", "9"})
	cfg, err = LoadWithFlags(RoleVerifier, f)
	if err != nil {
		t.Fatalf("LoadWithFlags: %v", err)
	}
	if cfg.Verifier.Workers != 7 {
		t.Errorf("workers = %d, want 7 from file", cfg.Verifier.Workers)
	}
	if cfg.Ledger.Retain != 9 {
		t.Errorf("retain = %d, want 9 from flags", cfg.Ledger.Retain)
	}
	trusted, err := cfg.TrustedVerifier()
	if err != nil || trusted.String() != pub {
		t.Errorf("TrustedVerifier = %s, %v", trusted, err)
	}
}
