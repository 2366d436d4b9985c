package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version is the daemon version string.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// P2P
	P2P        bool
	P2PPort    int
	Seeds      string
	MaxPeers   int
	NoDiscover bool
	DHTServer  bool
	ClearBans  bool

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed string
	RPCCORS    string

	// Ledger
	Backend string
	Retain  int

	// Wallet
	WalletName    string
	AutoReconcile bool

	// Verifier
	VerifierKey    string
	VerifierPubKey string
	Workers        int

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags (for true/false and zero overrides).
	SetP2P           bool
	SetRPC           bool
	SetNoDiscover    bool
	SetRetain        bool
	SetAutoReconcile bool
	SetLogJSON       bool
}

// ParseFlags parses the command-line arguments of a role's daemon.
func ParseFlags(role Role, args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(daemonName(role), flag.ContinueOnError)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Use testnet (shorthand for --network=testnet)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// P2P
	fs.BoolVar(&f.P2P, "p2p", true, "Enable P2P networking")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")
	fs.StringVar(&f.Seeds, "seeds", "", "Seed nodes as comma-separated libp2p multiaddrs")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "Maximum number of peers")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "Disable peer discovery")
	fs.BoolVar(&f.DHTServer, "dht-server", false, "Run DHT in server mode")
	fs.BoolVar(&f.ClearBans, "clear-bans", false, "Clear all peer bans on startup")

	// RPC
	fs.BoolVar(&f.RPC, "rpc", true, "Enable RPC server")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "RPC listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "RPC listen port")
	fs.StringVar(&f.RPCAllowed, "rpc-allowed", "", "Allowed IPs for RPC")
	fs.StringVar(&f.RPCCORS, "rpc-cors", "", "Allowed CORS origins for RPC (comma-separated)")

	// Ledger
	fs.StringVar(&f.Backend, "ledger-backend", "", "Token storage backend (badger or memory)")
	fs.IntVar(&f.Retain, "ledger-retain", 0, "Archived links kept per token (0 keeps all)")

	// Wallet
	fs.StringVar(&f.WalletName, "wallet", "", "Keystore wallet name")
	fs.BoolVar(&f.AutoReconcile, "autoreconcile", true, "Submit received tokens to the verifier")

	// Verifier
	fs.StringVar(&f.VerifierKey, "verifier-key", "", "Path to the verifier private key")
	fs.StringVar(&f.VerifierPubKey, "verifier-pubkey", "", "Hex public key of the trusted verifier")
	fs.IntVar(&f.Workers, "workers", 0, "Tokens checked concurrently per batch")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() {
		printUsage(role)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *testnet {
		f.Network = string(Testnet)
	}
	f.SetP2P = isFlagSet(fs, "p2p")
	f.SetRPC = isFlagSet(fs, "rpc")
	f.SetNoDiscover = isFlagSet(fs, "nodiscover")
	f.SetRetain = isFlagSet(fs, "ledger-retain")
	f.SetAutoReconcile = isFlagSet(fs, "autoreconcile")
	f.SetLogJSON = isFlagSet(fs, "log-json")

	f.Args = fs.Args()

	// A positional argument stops the parser; anything after it that looks
	// like a flag was silently dropped.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(f.Network)
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// P2P
	if f.SetP2P {
		cfg.P2P.Enabled = f.P2P
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = parseStringList(f.Seeds)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if f.SetNoDiscover {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if f.DHTServer {
		cfg.P2P.DHTServer = true
	}
	if f.ClearBans {
		cfg.P2P.ClearBans = true
	}

	// RPC
	if f.SetRPC {
		cfg.RPC.Enabled = f.RPC
	}
	if f.RPCAddr != "" {
		cfg.RPC.Addr = f.RPCAddr
	}
	if f.RPCPort != 0 {
		cfg.RPC.Port = f.RPCPort
	}
	if f.RPCAllowed != "" {
		cfg.RPC.AllowedIPs = parseStringList(f.RPCAllowed)
	}
	if f.RPCCORS != "" {
		cfg.RPC.CORSOrigins = parseStringList(f.RPCCORS)
	}

	// Ledger
	if f.Backend != "" {
		cfg.Ledger.Backend = strings.ToLower(f.Backend)
	}
	if f.SetRetain {
		cfg.Ledger.Retain = f.Retain
	}

	// Wallet
	if f.WalletName != "" {
		cfg.Wallet.Name = f.WalletName
	}
	if f.SetAutoReconcile {
		cfg.Wallet.AutoReconcile = f.AutoReconcile
	}

	// Verifier
	if f.VerifierKey != "" {
		cfg.Verifier.KeyFile = f.VerifierKey
	}
	if f.VerifierPubKey != "" {
		cfg.Verifier.PubKey = f.VerifierPubKey
	}
	if f.Workers != 0 {
		cfg.Verifier.Workers = f.Workers
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func daemonName(role Role) string {
	if role == RoleVerifier {
		return "cashverifierd"
	}
	return "cashwallet"
}

func printUsage(role Role) {
	name := daemonName(role)
	usage := `Klingnet Cash - offline e-cash with custody chains

Usage:
  ` + name + ` [options]
  ` + name + ` --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingcash)
  --config, -c    Config file path (default: <datadir>/` + string(role) + `.conf)

P2P Options:
  --p2p           Enable P2P networking (default: true)
  --p2p-port      P2P listen port
  --seeds         Seed nodes as comma-separated libp2p multiaddrs
  --maxpeers      Maximum number of peers (default: 50)
  --nodiscover    Disable peer discovery
  --dht-server    Run DHT in server mode
  --clear-bans    Clear all peer bans on startup

RPC Options:
  --rpc           Enable RPC server (default: true)
  --rpc-addr      RPC listen address (default: 127.0.0.1)
  --rpc-port      RPC port (verifier: 8545, wallet: 8547, testnet +100)
  --rpc-allowed   Allowed IPs for RPC (comma-separated)
  --rpc-cors      Allowed CORS origins for RPC (comma-separated)

Ledger Options:
  --ledger-backend  badger (default) or memory
  --ledger-retain   Archived links kept per token (default: 64, 0 keeps all)

Verifier Options:
  --verifier-key     Path to the verifier private key (verifier only)
  --verifier-pubkey  Hex public key of the trusted verifier
  --workers          Tokens checked concurrently per batch

Wallet Options:
  --wallet          Keystore wallet name (default: default)
  --autoreconcile   Submit received tokens to the verifier (default: true)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Console commands are read from stdin once the daemon is running; type
"help" for the list.
`
	fmt.Print(usage)
}

// Load loads configuration for role with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(role Role) (*Config, *Flags, error) {
	flags, err := ParseFlags(role, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Handle help/version
	if flags.Help {
		printUsage(role)
		os.Exit(0)
	}
	if flags.Version {
		fmt.Printf("%s version %s\n", daemonName(role), Version)
		os.Exit(0)
	}

	cfg, err := LoadWithFlags(role, flags)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flags, nil
}

// LoadWithFlags builds the config of role from already parsed flags.
func LoadWithFlags(role Role, flags *Flags) (*Config, error) {
	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}

	cfg := Default(role, network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Apply flags (highest precedence)
	ApplyFlags(cfg, flags)
	if cfg.Role == RoleVerifier && cfg.Verifier.KeyFile == "" {
		cfg.Verifier.KeyFile = cfg.DefaultVerifierKeyFile()
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultVerifierKeyFile is where the verifier keeps its key when
// verifier.key is unset.
func (c *Config) DefaultVerifierKeyFile() string {
	return filepath.Join(c.DataDir, string(c.Network), "verifier.key")
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.DatabaseDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
