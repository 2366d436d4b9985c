// Package config handles daemon configuration.
//
// Both daemons share one layout; Role picks which side of the protocol a
// process plays and which defaults apply.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Role is the part a process plays in the protocol.
type Role string

const (
	RoleVerifier Role = "verifier"
	RoleWallet   Role = "wallet"
)

// Ledger storage backends.
const (
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// =============================================================================
// Node Configuration
// =============================================================================

// Config holds daemon runtime configuration.
type Config struct {
	// Core
	Role    Role
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// Admin RPC server
	RPC RPCConfig

	// Token storage
	Ledger LedgerConfig

	// Client side
	Wallet WalletConfig

	// Verifier side, plus the trusted key on the client side
	Verifier VerifierConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds/verifiers)
	ClearBans  bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds admin RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// LedgerConfig selects where tokens are stored.
type LedgerConfig struct {
	Backend string `conf:"ledger.backend"` // badger or memory
	Retain  int    `conf:"ledger.retain"`  // archived links kept per token, 0 keeps all
}

// WalletConfig holds client wallet settings.
type WalletConfig struct {
	Name          string `conf:"wallet.name"`
	AutoReconcile bool   `conf:"wallet.autoreconcile"`
}

// VerifierConfig holds verifier settings.
type VerifierConfig struct {
	KeyFile string `conf:"verifier.key"`     // Hex private key (verifier role)
	PubKey  string `conf:"verifier.pubkey"`  // Hex public key of the trusted verifier
	Workers int    `conf:"verifier.workers"` // Batch processing concurrency
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingcash
//	macOS:   ~/Library/Application Support/Klingcash
//	Windows: %APPDATA%\Klingcash
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingcash"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingcash")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingcash")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingcash")
	default:
		return filepath.Join(home, ".klingcash")
	}
}

// NetworkDataDir returns the network and role specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network), string(c.Role))
}

// LedgerDir returns the token database directory.
func (c *Config) LedgerDir() string {
	return filepath.Join(c.NetworkDataDir(), "ledger")
}

// WalletDir returns the wallet pool directory.
func (c *Config) WalletDir() string {
	return filepath.Join(c.NetworkDataDir(), "wallet")
}

// DatabaseDir returns the badger directory of the configured role.
func (c *Config) DatabaseDir() string {
	if c.Role == RoleVerifier {
		return c.LedgerDir()
	}
	return c.WalletDir()
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, string(c.Network), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, string(c.Role)+".conf")
}

// NetworkID is the handshake and rendezvous namespace of the network.
func (c *Config) NetworkID() string {
	return "klingcash-" + string(c.Network)
}
