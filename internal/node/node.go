// Package node assembles a verifier or wallet daemon from its parts:
// storage, the custody ledger or wallet pools, and the libp2p transport.
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-cash/internal/log"
	"github.com/Klingon-tech/klingnet-cash/internal/p2p"
	"github.com/Klingon-tech/klingnet-cash/internal/rpc"
	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/internal/verifier"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Storage namespaces inside the node database.
var (
	prefixLedger = []byte("ledger/")
	prefixWallet = []byte("wallet/")
	prefixP2P    = []byte("p2p/")
)

// HeartbeatInterval is how often the verifier announces itself.
const HeartbeatInterval = 30 * time.Second

// Options carries what cannot come from the config file.
type Options struct {
	// WalletKey is the client's cash key, unlocked from the keystore.
	// Required for the wallet role.
	WalletKey *crypto.PrivateKey
	// Transport replaces the libp2p node, e.g. with an in-memory hub
	// endpoint. P2P settings are ignored when set.
	Transport transport.Transport
	// SkipLogInit leaves the global logger as it is.
	SkipLogInit bool
}

// Node is a fully-initialized verifier or wallet daemon.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db       storage.DB
	key      *crypto.PrivateKey
	verifier types.PublicKey

	// Verifier role
	ledger    *ledger.Ledger
	authority *verifier.Authority

	// Wallet role
	wallet *wallet.Wallet

	// Networking
	tr        transport.Transport
	p2pNode   *p2p.Node
	rpcServer *rpc.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It opens storage, unlocks the
// role's key and starts the transport, but does NOT start background
// goroutines. Call Start() for that.
func New(cfg *config.Config, opts Options) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	if !opts.SkipLogInit {
		logFile := cfg.Log.File
		if logFile == "" {
			logsDir := cfg.LogsDir()
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				return nil, fmt.Errorf("creating logs dir: %w", err)
			}
			logFile = filepath.Join(logsDir, string(cfg.Role)+".log")
		}
		if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}
	logger := klog.WithRole(string(cfg.Role))

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("backend", cfg.Ledger.Backend).
		Msg("Starting Klingnet Cash node")

	// ── 2. Keys ─────────────────────────────────────────────────────
	trusted, err := cfg.TrustedVerifier()
	if err != nil {
		return nil, fmt.Errorf("verifier.pubkey: %w", err)
	}
	var key *crypto.PrivateKey
	switch cfg.Role {
	case config.RoleVerifier:
		key, err = loadOrCreateVerifierKey(cfg.Verifier.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load verifier key %s: %w", cfg.Verifier.KeyFile, err)
		}
		if !trusted.IsZero() && trusted != key.PublicKey() {
			key.Zero()
			return nil, fmt.Errorf("verifier.pubkey does not match the key in %s", cfg.Verifier.KeyFile)
		}
		trusted = key.PublicKey()
		logger.Info().Str("pubkey", trusted.String()).Msg("Verifier key loaded")
	case config.RoleWallet:
		if opts.WalletKey == nil {
			return nil, fmt.Errorf("wallet role requires an unlocked wallet key")
		}
		if trusted.IsZero() {
			return nil, fmt.Errorf("wallet role requires verifier.pubkey")
		}
		key = opts.WalletKey
	default:
		return nil, fmt.Errorf("unknown role %q", cfg.Role)
	}

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := openDB(cfg)
	if err != nil {
		key.Zero()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		key:      key,
		verifier: trusted,
		ctx:      ctx,
		cancel:   cancel,
	}

	// ── 4. Transport ────────────────────────────────────────────────
	switch {
	case opts.Transport != nil:
		n.tr = opts.Transport
	case cfg.P2P.Enabled:
		n.p2pNode = p2p.New(p2p.Config{
			ListenAddr:  cfg.P2P.ListenAddr,
			Port:        cfg.P2P.Port,
			Seeds:       cfg.P2P.Seeds,
			MaxPeers:    cfg.P2P.MaxPeers,
			NoDiscover:  cfg.P2P.NoDiscover,
			DB:          storage.NewPrefixDB(db, prefixP2P),
			DHTServer:   cfg.P2P.DHTServer,
			NetworkID:   cfg.NetworkID(),
			DataDir:     cfg.NetworkDataDir(),
			Signer:      key,
			VerifierKey: trusted,
		})
		n.tr = n.p2pNode
	default:
		logger.Warn().Msg("P2P disabled by config, tokens cannot move")
	}

	// ── 5. Role ─────────────────────────────────────────────────────
	if err := n.setupRole(); err != nil {
		n.release()
		return nil, err
	}

	// ── 6. Start P2P ────────────────────────────────────────────────
	if n.p2pNode != nil {
		if err := n.p2pNode.Start(); err != nil {
			n.release()
			return nil, fmt.Errorf("start P2P: %w", err)
		}
		if cfg.P2P.ClearBans {
			n.clearBans()
		}
		if err := n.p2pNode.JoinHeartbeat(); err != nil {
			n.p2pNode.Stop()
			n.release()
			return nil, fmt.Errorf("join heartbeat: %w", err)
		}
		logger.Info().
			Str("id", n.p2pNode.ID().String()).
			Strs("addrs", n.p2pNode.Addrs()).
			Msg("P2P node started")
	}

	// ── 7. RPC server ───────────────────────────────────────────────
	if cfg.RPC.Enabled {
		addr := net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
		n.rpcServer = rpc.New(addr, rpc.Identity{
			Role:        cfg.Role,
			Network:     cfg.Network,
			PublicKey:   key.PublicKey(),
			VerifierKey: trusted,
		}, n.p2pNode, cfg.RPC)
		if n.authority != nil {
			n.rpcServer.SetAuthority(n.authority, n.ledger)
		}
		if n.wallet != nil {
			n.rpcServer.SetWallet(n.wallet)
		}
	}

	return n, nil
}

func openDB(cfg *config.Config) (storage.DB, error) {
	if cfg.Ledger.Backend == config.BackendMemory {
		return storage.NewMemory(), nil
	}
	dir := cfg.DatabaseDir()
	db, err := storage.NewBadger(dir)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", dir, err)
	}
	return db, nil
}

func (n *Node) setupRole() error {
	switch n.cfg.Role {
	case config.RoleVerifier:
		n.ledger = ledger.New(storage.NewPrefixDB(n.db, prefixLedger), n.cfg.Ledger.Retain)
		loaded, err := n.ledger.Load()
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		vcfg := verifier.DefaultConfig()
		if n.cfg.Verifier.Workers > 0 {
			vcfg.Workers = n.cfg.Verifier.Workers
		}
		n.authority = verifier.New(vcfg, verifier.Identity{Signer: n.key}, n.ledger, n.tr)
		if n.p2pNode != nil {
			n.authority.SetAlertPublisher(n.p2pNode)
		}
		n.logger.Info().
			Int("tokens", loaded).
			Int("retain", n.cfg.Ledger.Retain).
			Int("workers", vcfg.Workers).
			Msg("Ledger ready")

	case config.RoleWallet:
		w, err := wallet.New(wallet.Config{
			VerifierKey:   n.verifier,
			AutoReconcile: n.cfg.Wallet.AutoReconcile,
		}, n.key, n.tr, storage.NewPrefixDB(n.db, prefixWallet))
		if err != nil {
			return fmt.Errorf("open wallet: %w", err)
		}
		n.wallet = w
		if n.p2pNode != nil {
			n.p2pNode.SetAlertHandler(n.handleAlert)
			n.p2pNode.SetKeyFilter(w.IsBlocked)
		}
		bal := w.Balance()
		n.logger.Info().
			Str("pubkey", w.PublicKey().String()).
			Int("verified", bal.Verified).
			Int("unverified", bal.Unverified).
			Msg("Wallet ready")
	}
	return nil
}

// release frees what New acquired when setup fails.
func (n *Node) release() {
	n.cancel()
	if n.db != nil {
		n.db.Close()
	}
	n.key.Zero()
}

// Start launches background goroutines: the RPC server and the verifier
// heartbeat.
func (n *Node) Start() error {
	if n.rpcServer != nil {
		if err := n.rpcServer.Start(); err != nil {
			return fmt.Errorf("start RPC: %w", err)
		}
	}

	if n.authority != nil && n.p2pNode != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runHeartbeat(HeartbeatInterval)
		}()
	}

	n.logger.Info().
		Str("role", string(n.cfg.Role)).
		Str("key", crypto.Fingerprint(n.key.PublicKey()).Short()).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		if err := n.rpcServer.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC shutdown")
		}
	}
	if n.p2pNode != nil {
		n.p2pNode.LeaveHeartbeat()
		n.p2pNode.Stop()
	}
	if n.db != nil {
		n.db.Close()
	}
	n.key.Zero()

	n.logger.Info().Msg("Goodbye!")
}

// Role returns the part this node plays.
func (n *Node) Role() config.Role {
	return n.cfg.Role
}

// PublicKey returns the node's cash key.
func (n *Node) PublicKey() types.PublicKey {
	return n.key.PublicKey()
}

// VerifierKey returns the trusted verifier's key.
func (n *Node) VerifierKey() types.PublicKey {
	return n.verifier
}

// Authority returns the verifier, or nil on a wallet node.
func (n *Node) Authority() *verifier.Authority {
	return n.authority
}

// Wallet returns the wallet, or nil on a verifier node.
func (n *Node) Wallet() *wallet.Wallet {
	return n.wallet
}

// RPC returns the admin RPC server, or nil when disabled.
func (n *Node) RPC() *rpc.Server {
	return n.rpcServer
}

// P2P returns the libp2p node, or nil when another transport is used.
func (n *Node) P2P() *p2p.Node {
	return n.p2pNode
}

// ── Heartbeat ───────────────────────────────────────────────────────

func (n *Node) runHeartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info().Dur("interval", interval).Msg("Heartbeat broadcast started")

	n.sendHeartbeat()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Info().Msg("Heartbeat broadcast stopped")
			return
		case <-ticker.C:
			n.sendHeartbeat()
		}
	}
}

func (n *Node) sendHeartbeat() {
	msg, err := n.p2pNode.NewHeartbeat(uint64(n.ledger.Len()))
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to sign heartbeat")
		return
	}
	if err := n.p2pNode.BroadcastHeartbeat(msg); err != nil {
		n.logger.Debug().Err(err).Msg("Failed to broadcast heartbeat")
	}
}

// ── Alerts ──────────────────────────────────────────────────────────

// handleAlert stops the wallet from accepting tokens the offender signed
// from now on and cuts the offender off at the network layer.
func (n *Node) handleAlert(a *p2p.AlertMessage) {
	if a.Offender == n.wallet.PublicKey() {
		n.logger.Error().Str("token", a.TokenID.String()).Msg("Verifier reports a double spend by this wallet")
		return
	}
	if err := n.wallet.BlockSigner(a.Offender); err != nil {
		n.logger.Error().Err(err).Msg("Failed to block offender")
		return
	}
	n.p2pNode.DropKey(a.Offender)
}

func (n *Node) clearBans() {
	bans := n.p2pNode.BanManager.BanList()
	for _, rec := range bans {
		id, err := peer.Decode(rec.ID)
		if err != nil {
			continue
		}
		n.p2pNode.BanManager.Unban(id)
	}
	n.logger.Info().Int("count", len(bans)).Msg("Cleared peer bans")
}
