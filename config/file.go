package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// P2P
	case "p2p.enabled", "p2p":
		cfg.P2P.Enabled = parseBool(value)
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.Port = port
	case "p2p.seeds":
		cfg.P2P.Seeds = parseStringList(value)
	case "p2p.maxpeers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.MaxPeers = n
	case "p2p.nodiscover":
		cfg.P2P.NoDiscover = parseBool(value)
	case "p2p.dhtserver":
		cfg.P2P.DHTServer = parseBool(value)

	// RPC
	case "rpc.enabled", "rpc":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = port
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)
	case "rpc.cors":
		cfg.RPC.CORSOrigins = parseStringList(value)

	// Ledger
	case "ledger.backend":
		cfg.Ledger.Backend = strings.ToLower(value)
	case "ledger.retain":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Ledger.Retain = n

	// Wallet
	case "wallet.name":
		cfg.Wallet.Name = value
	case "wallet.autoreconcile":
		cfg.Wallet.AutoReconcile = parseBool(value)

	// Verifier
	case "verifier.key":
		cfg.Verifier.KeyFile = value
	case "verifier.pubkey":
		cfg.Verifier.PubKey = value
	case "verifier.workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Verifier.Workers = n

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file for cfg's role.
func WriteDefaultConfig(path string, cfg *Config) error {
	content := `# Klingnet Cash ` + string(cfg.Role) + ` configuration

# Network: mainnet or testnet
network = ` + string(cfg.Network) + `

# Data directory (default: ~/.klingcash)
# datadir = ~/.klingcash

# ============================================================================
# P2P Network
# ============================================================================

p2p.enabled = true
p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(cfg.P2P.Port) + `
p2p.maxpeers = 50

# Seed nodes (comma-separated libp2p multiaddrs)
# p2p.seeds = /ip4/203.0.113.1/tcp/31303/p2p/12D3KooW...

# Disable peer discovery (for private networks)
# p2p.nodiscover = false

# Run DHT in server mode (for seed nodes and the verifier)
# p2p.dhtserver = false

# ============================================================================
# RPC Server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + strconv.Itoa(cfg.RPC.Port) + `

# Allowed client IPs or CIDRs (comma-separated)
rpc.allowed = 127.0.0.1

# Allowed CORS origins (comma-separated, * for any)
# rpc.cors =

# ============================================================================
# Ledger
# ============================================================================

# Storage backend: badger or memory
ledger.backend = badger

# Archived custody links kept per token (0 keeps all)
ledger.retain = 64

# ============================================================================
# Verifier
# ============================================================================

# Hex public key of the trusted verifier (required for wallets)
` + commentIf(cfg.Verifier.PubKey == "") + `verifier.pubkey = ` + cfg.Verifier.PubKey + `
` + roleSection(cfg) + `
# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}

func roleSection(cfg *Config) string {
	if cfg.Role == RoleVerifier {
		return `
# Path to the verifier's hex private key
` + commentIf(cfg.Verifier.KeyFile == "") + `verifier.key = ` + cfg.Verifier.KeyFile + `

# Tokens of one batch checked concurrently
# verifier.workers = ` + strconv.Itoa(cfg.Verifier.Workers) + `
`
	}
	return `
# ============================================================================
# Wallet
# ============================================================================

wallet.name = ` + cfg.Wallet.Name + `

# Submit received tokens to the verifier right away
wallet.autoreconcile = ` + strconv.FormatBool(cfg.Wallet.AutoReconcile) + `
`
}

func commentIf(cond bool) string {
	if cond {
		return "# "
	}
	return ""
}
