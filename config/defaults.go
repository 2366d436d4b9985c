package config

import "runtime"

// DefaultMainnet returns the default configuration of a role on mainnet.
func DefaultMainnet(role Role) *Config {
	cfg := &Config{
		Role:    role,
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       31303,
			MaxPeers:   50,
			// Seed nodes help wallets find the verifier, e.g.:
			//   "/ip4/203.0.113.1/tcp/31303/p2p/12D3KooW..."
			Seeds: []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Ledger: LedgerConfig{
			Backend: BackendBadger,
			Retain:  64,
		},
		Wallet: WalletConfig{
			Name:          "default",
			AutoReconcile: true,
		},
		Verifier: VerifierConfig{
			Workers: runtime.NumCPU(),
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
	if role == RoleWallet {
		// A second daemon on the same host must not collide with the verifier.
		cfg.P2P.Port = 31305
		cfg.RPC.Port = 8547
	}
	return cfg
}

// DefaultTestnet returns the default configuration of a role on testnet.
func DefaultTestnet(role Role) *Config {
	cfg := DefaultMainnet(role)
	cfg.Network = Testnet
	cfg.P2P.Port++
	cfg.RPC.Port += 100
	return cfg
}

// Default returns the default configuration for the given role and network.
func Default(role Role, network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet(role)
	default:
		return DefaultMainnet(role)
	}
}
