package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-cash/internal/log"
	"github.com/Klingon-tech/klingnet-cash/internal/storage"
	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Receive errors.
var (
	ErrNotAddressedToMe = errors.New("token is addressed to someone else")
	ErrUnknownVerifier  = errors.New("token not issued by the trusted verifier")
	ErrBlockedSigner    = errors.New("token passed through a blocked key")
	ErrAlreadyHeld      = errors.New("token already held")
	ErrAlreadySpent     = errors.New("token ends in a link this wallet already spent")
	ErrNotFromVerifier  = errors.New("checkpointed token not sent by the verifier")
)

// Pool names one of the wallet's two token pools.
type Pool int

const (
	// Verified holds tokens whose chain is a single checkpoint link.
	Verified Pool = iota
	// Unverified holds tokens received peer to peer and not yet
	// reconciled.
	Unverified
)

func (p Pool) String() string {
	if p == Verified {
		return "verified"
	}
	return "unverified"
}

// ParsePool parses a pool name. The empty string means Verified.
func ParsePool(s string) (Pool, error) {
	switch s {
	case "", "verified":
		return Verified, nil
	case "unverified":
		return Unverified, nil
	}
	return Verified, fmt.Errorf("unknown pool %q", s)
}

func other(p Pool) Pool {
	if p == Verified {
		return Unverified
	}
	return Verified
}

// Balance counts tokens per pool.
type Balance struct {
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
}

// Total returns the number of tokens held.
func (b Balance) Total() int {
	return b.Verified + b.Unverified
}

// Config configures a wallet.
type Config struct {
	// VerifierKey is the only verifier whose tokens are accepted.
	VerifierKey types.PublicKey
	// AutoReconcile submits unverified tokens right after a transfer is
	// received.
	AutoReconcile bool
	// SendTimeout bounds each outgoing blob.
	SendTimeout time.Duration
}

// Wallet holds tokens and moves them between parties.
type Wallet struct {
	cfg    Config
	signer crypto.Signer
	key    types.PublicKey
	tr     transport.Transport
	store  *poolStore
	logger zerolog.Logger
	now    func() time.Time

	mu         sync.Mutex
	verified   map[types.TokenID]*held
	unverified map[types.TokenID]*held
	blocked    map[types.PublicKey]struct{}
	// spent holds the last proof of every token this wallet handed on or
	// had superseded by a checkpoint.
	spent map[types.Signature]struct{}
}

// New creates a wallet owned by signer. db may be nil for a wallet that
// keeps its pools in memory only; otherwise pools and the blocklist are
// restored from it.
func New(cfg Config, signer crypto.Signer, tr transport.Transport, db storage.DB) (*Wallet, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	w := &Wallet{
		cfg:        cfg,
		signer:     signer,
		key:        signer.PublicKey(),
		tr:         tr,
		logger:     klog.Wallet,
		now:        time.Now,
		verified:   make(map[types.TokenID]*held),
		unverified: make(map[types.TokenID]*held),
		blocked:    make(map[types.PublicKey]struct{}),
		spent:      make(map[types.Signature]struct{}),
	}
	if db != nil {
		w.store = &poolStore{db: db}
		if err := w.restore(); err != nil {
			return nil, err
		}
	}
	if tr != nil {
		tr.SetBlobHandler(w.HandleBlob)
	}
	return w, nil
}

func (w *Wallet) restore() error {
	for _, p := range []Pool{Verified, Unverified} {
		pool := w.pool(p)
		err := w.store.load(p, func(h *held) {
			h.Token.VerifierKey = w.cfg.VerifierKey
			pool[h.Token.ID] = h
		})
		if err != nil {
			return fmt.Errorf("restore %s pool: %w", p, err)
		}
	}
	if err := w.store.loadBlocked(func(k types.PublicKey) { w.blocked[k] = struct{}{} }); err != nil {
		return fmt.Errorf("restore blocklist: %w", err)
	}
	if err := w.store.loadSpent(func(p types.Signature) { w.spent[p] = struct{}{} }); err != nil {
		return fmt.Errorf("restore spent proofs: %w", err)
	}
	return nil
}

// PublicKey returns the wallet's address.
func (w *Wallet) PublicKey() types.PublicKey {
	return w.key
}

// VerifierKey returns the trusted verifier's key.
func (w *Wallet) VerifierKey() types.PublicKey {
	return w.cfg.VerifierKey
}

// Balance returns token counts per pool.
func (w *Wallet) Balance() Balance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Balance{Verified: len(w.verified), Unverified: len(w.unverified)}
}

// Tokens returns copies of the tokens in pool p.
func (w *Wallet) Tokens(p Pool) []*token.Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	pool := w.pool(p)
	out := make([]*token.Token, 0, len(pool))
	for _, h := range pool {
		out = append(out, h.Token.Clone())
	}
	return out
}

// BlockSigner refuses any future token whose chain carries a link signed
// by key.
func (w *Wallet) BlockSigner(key types.PublicKey) error {
	w.mu.Lock()
	_, dup := w.blocked[key]
	w.blocked[key] = struct{}{}
	w.mu.Unlock()

	if dup || w.store == nil {
		return nil
	}
	return w.store.block(key)
}

// IsBlocked reports whether key is on the blocklist.
func (w *Wallet) IsBlocked(key types.PublicKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.blocked[key]
	return ok
}

// Blocked returns the blocklist.
func (w *Wallet) Blocked() []types.PublicKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]types.PublicKey, 0, len(w.blocked))
	for k := range w.blocked {
		out = append(out, k)
	}
	return out
}

// ReceiveToken validates t and files it by chain length: a single link is
// a fresh checkpoint and replaces any copy held, anything longer came peer
// to peer. A token whose last link this wallet already spent is a replay of
// an old custody state and is refused.
func (w *Wallet) ReceiveToken(t *token.Token) error {
	if t.LastRecipient() != w.key {
		return ErrNotAddressedToMe
	}
	if t.VerifierKey != w.cfg.VerifierKey {
		return ErrUnknownVerifier
	}
	if err := token.VerifyChain(t); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Link i > 0 is signed by the recipient of link i-1.
	for _, link := range t.Chain[:len(t.Chain)-1] {
		if _, bad := w.blocked[link.Recipient]; bad {
			return ErrBlockedSigner
		}
	}
	if _, gone := w.spent[t.LastProof()]; gone {
		return ErrAlreadySpent
	}

	p := Unverified
	if t.NumRecipients() == 1 {
		p = Verified
	} else if w.holds(t.ID) {
		// A second peer-to-peer copy never displaces the first.
		return ErrAlreadyHeld
	}

	var superseded []types.Signature
	for _, pool := range []Pool{Verified, Unverified} {
		if old, ok := w.pool(pool)[t.ID]; ok && old.Token.LastProof() != t.LastProof() {
			superseded = append(superseded, old.Token.LastProof())
		}
	}
	h := &held{Token: t.Clone(), ReceivedAt: w.now().UnixNano()}
	if w.store != nil {
		if err := w.store.move(p, h, superseded...); err != nil {
			return err
		}
	}
	for _, proof := range superseded {
		w.spent[proof] = struct{}{}
	}
	w.pool(p)[t.ID] = h
	delete(w.pool(other(p)), t.ID)
	return nil
}

// Spend hands amount tokens from pool p to peer. The tokens leave the
// wallet before the send; if delivery fails they are lost to both sides
// and the returned error matches transport.ErrDeliveryFailure.
func (w *Wallet) Spend(ctx context.Context, peer types.PublicKey, amount int, p Pool) error {
	w.mu.Lock()
	candidates := make([]*held, 0, len(w.pool(p)))
	for _, h := range w.pool(p) {
		candidates = append(candidates, h)
	}
	chosen, err := SelectTokens(candidates, amount)
	if err != nil {
		w.mu.Unlock()
		return err
	}

	out := make([]*token.Token, len(chosen))
	ids := make([]types.TokenID, len(chosen))
	proofs := make([]types.Signature, len(chosen))
	for i, h := range chosen {
		out[i] = token.Extend(h.Token, peer, w.signer)
		ids[i] = h.Token.ID
		proofs[i] = h.Token.LastProof()
	}
	if w.store != nil {
		if err := w.store.spend(ids, proofs); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	for i, id := range ids {
		delete(w.pool(p), id)
		w.spent[proofs[i]] = struct{}{}
	}
	w.mu.Unlock()

	w.logger.Info().
		Int("amount", amount).
		Stringer("pool", p).
		Str("peer", crypto.Fingerprint(peer).Short()).
		Msg("Spending tokens")

	return w.send(ctx, peer, transport.MsgTransfer, out)
}

// Reconcile submits every unverified token to the verifier. Pools change
// only when the refresh arrives; a lost submission can simply be retried.
func (w *Wallet) Reconcile(ctx context.Context) error {
	w.mu.Lock()
	out := make([]*token.Token, 0, len(w.unverified))
	for _, h := range w.unverified {
		out = append(out, token.Extend(h.Token, w.cfg.VerifierKey, w.signer))
	}
	w.mu.Unlock()

	if len(out) == 0 {
		return nil
	}
	w.logger.Info().Int("tokens", len(out)).Msg("Submitting tokens to verifier")
	return w.send(ctx, w.cfg.VerifierKey, transport.MsgSubmit, out)
}

// HandleBlob is the transport callback.
func (w *Wallet) HandleBlob(from types.PublicKey, transferID string, blob []byte) {
	typ, tokens, err := transport.DecodeMessage(blob, w.cfg.VerifierKey)
	if err != nil {
		w.logger.Warn().Str("transfer", transferID).Err(err).Msg("Dropping malformed blob")
		return
	}

	switch typ {
	case transport.MsgMint, transport.MsgRefresh:
		if from != w.cfg.VerifierKey {
			w.logger.Warn().
				Str("transfer", transferID).
				Stringer("type", typ).
				Str("from", crypto.Fingerprint(from).Short()).
				Msg("Dropping verifier message from another key")
			return
		}
		if typ == transport.MsgRefresh {
			n := w.applyRefresh(tokens)
			w.logger.Info().Int("refreshed", n).Msg("Applied verifier refresh")
			return
		}
		accepted := w.receiveAll(transferID, tokens, true)
		w.logger.Info().
			Stringer("type", typ).
			Int("accepted", accepted).
			Int("total", len(tokens)).
			Msg("Received tokens")
	case transport.MsgTransfer:
		accepted := w.receiveAll(transferID, tokens, false)
		w.logger.Info().
			Stringer("type", typ).
			Str("from", crypto.Fingerprint(from).Short()).
			Int("accepted", accepted).
			Int("total", len(tokens)).
			Msg("Received tokens")
		if accepted > 0 && w.cfg.AutoReconcile {
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout)
			defer cancel()
			if err := w.Reconcile(ctx); err != nil {
				w.logger.Warn().Err(err).Msg("Auto reconcile failed")
			}
		}
	default:
		w.logger.Debug().Str("transfer", transferID).Stringer("type", typ).Msg("Ignoring message")
	}
}

// receiveAll files tokens from one blob. Only the verifier hands out
// single-link tokens; a peer sending one is replaying a checkpoint.
func (w *Wallet) receiveAll(transferID string, tokens []*token.Token, fromVerifier bool) int {
	accepted := 0
	for _, t := range tokens {
		err := ErrNotFromVerifier
		if fromVerifier || t.NumRecipients() > 1 {
			err = w.ReceiveToken(t)
		}
		if err != nil {
			w.logger.Warn().
				Str("transfer", transferID).
				Str("token", t.ID.String()).
				Err(err).
				Msg("Rejected token")
			continue
		}
		accepted++
	}
	return accepted
}

// applyRefresh files checkpointed tokens as verified. Receiving a
// single-link token replaces any unverified copy of the same id.
func (w *Wallet) applyRefresh(tokens []*token.Token) int {
	n := 0
	for _, t := range tokens {
		if t.NumRecipients() != 1 {
			continue
		}
		if err := w.ReceiveToken(t); err != nil {
			w.logger.Warn().Str("token", t.ID.String()).Err(err).Msg("Rejected refreshed token")
			continue
		}
		n++
	}
	return n
}

func (w *Wallet) send(ctx context.Context, to types.PublicKey, typ transport.MessageType, tokens []*token.Token) error {
	if w.tr == nil {
		return &transport.DeliveryError{To: to, Err: transport.ErrUnknownPeer}
	}
	for _, chunk := range transport.Split(tokens, transport.MaxTokensPerBlob) {
		blob, err := transport.EncodeMessage(typ, chunk)
		if err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
		err = w.tr.SendBlob(sendCtx, to, blob)
		cancel()
		if err != nil {
			w.logger.Warn().Stringer("type", typ).Err(err).Msg("Send failed")
			return err
		}
	}
	return nil
}

func (w *Wallet) holds(id types.TokenID) bool {
	_, v := w.verified[id]
	_, u := w.unverified[id]
	return v || u
}

func (w *Wallet) pool(p Pool) map[types.TokenID]*held {
	if p == Verified {
		return w.verified
	}
	return w.unverified
}
