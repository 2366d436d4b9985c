package config

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Role != RoleVerifier && cfg.Role != RoleWallet {
		return fmt.Errorf("role must be %q or %q", RoleVerifier, RoleWallet)
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.RPC.Enabled && cfg.P2P.Enabled && cfg.RPC.Port != 0 && cfg.RPC.Port == cfg.P2P.Port {
		return fmt.Errorf("rpc.port and p2p.port must differ")
	}

	switch cfg.Ledger.Backend {
	case BackendBadger, BackendMemory:
	case "":
		cfg.Ledger.Backend = BackendBadger
	default:
		return fmt.Errorf("ledger.backend must be %q or %q", BackendBadger, BackendMemory)
	}
	if cfg.Ledger.Retain < 0 {
		return fmt.Errorf("ledger.retain must not be negative")
	}

	if cfg.Verifier.Workers < 0 {
		return fmt.Errorf("verifier.workers must not be negative")
	}
	if cfg.Verifier.PubKey != "" {
		if _, err := types.HexToPublicKey(cfg.Verifier.PubKey); err != nil {
			return fmt.Errorf("verifier.pubkey: %w", err)
		}
	}

	switch cfg.Role {
	case RoleVerifier:
		if cfg.Verifier.KeyFile == "" {
			return fmt.Errorf("verifier role requires verifier.key")
		}
	case RoleWallet:
		if cfg.Verifier.PubKey == "" {
			return fmt.Errorf("wallet role requires verifier.pubkey")
		}
		if cfg.Wallet.Name == "" {
			return fmt.Errorf("wallet.name is empty")
		}
	}
	return nil
}

// TrustedVerifier returns the parsed verifier.pubkey, or the zero key when
// it is unset.
func (c *Config) TrustedVerifier() (types.PublicKey, error) {
	if c.Verifier.PubKey == "" {
		return types.PublicKey{}, nil
	}
	return types.HexToPublicKey(c.Verifier.PubKey)
}
