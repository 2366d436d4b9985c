// Package verifier implements the verifying authority: it mints tokens,
// reconciles submitted custody chains against its ledger, issues
// checkpoints and detects double spends.
package verifier

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-cash/internal/detector"
	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-cash/internal/log"
	"github.com/Klingon-tech/klingnet-cash/internal/transport"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Identity is the verifier's signing key.
type Identity struct {
	Signer crypto.Signer
}

// PublicKey returns the verifier's public key.
func (id Identity) PublicKey() types.PublicKey {
	return id.Signer.PublicKey()
}

// AlertPublisher broadcasts detected offenses to the network.
type AlertPublisher interface {
	PublishOffense(ctx context.Context, o *ledger.Offense) error
}

// Config tunes the authority.
type Config struct {
	// Workers bounds how many tokens of a batch are processed at once.
	Workers int
	// Value is the denomination minted.
	Value token.Value
	// SendTimeout bounds each outgoing blob.
	SendTimeout time.Duration
}

// DefaultConfig returns the default authority settings.
func DefaultConfig() Config {
	return Config{
		Workers:     runtime.NumCPU(),
		Value:       token.DefaultValue,
		SendTimeout: 10 * time.Second,
	}
}

// Stats are running counters.
type Stats struct {
	Tokens       int    `json:"tokens"`
	Minted       uint64 `json:"minted"`
	Checkpointed uint64 `json:"checkpointed"`
	Rejected     uint64 `json:"rejected"`
	DoubleSpends uint64 `json:"double_spends"`
}

// Authority is the verifying authority.
type Authority struct {
	cfg    Config
	id     Identity
	key    types.PublicKey
	ledger *ledger.Ledger
	tr     transport.Transport
	logger zerolog.Logger
	now    func() time.Time

	alertsMu sync.RWMutex
	alerts   AlertPublisher

	minted       atomic.Uint64
	checkpointed atomic.Uint64
	rejected     atomic.Uint64
	doubleSpends atomic.Uint64
}

// New creates an authority. tr may be nil for an authority that only
// answers HandleSubmission calls directly.
func New(cfg Config, id Identity, l *ledger.Ledger, tr transport.Transport) *Authority {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Value == 0 {
		cfg.Value = token.DefaultValue
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	a := &Authority{
		cfg:    cfg,
		id:     id,
		key:    id.PublicKey(),
		ledger: l,
		tr:     tr,
		logger: klog.Verifier,
		now:    time.Now,
	}
	if tr != nil {
		tr.SetBlobHandler(a.HandleBlob)
	}
	return a
}

// PublicKey returns the verifier's key.
func (a *Authority) PublicKey() types.PublicKey {
	return a.key
}

// SetAlertPublisher installs the broadcaster for detected offenses.
func (a *Authority) SetAlertPublisher(p AlertPublisher) {
	a.alertsMu.Lock()
	a.alerts = p
	a.alertsMu.Unlock()
}

// Stats returns a snapshot of the counters.
func (a *Authority) Stats() Stats {
	return Stats{
		Tokens:       a.ledger.Len(),
		Minted:       a.minted.Load(),
		Checkpointed: a.checkpointed.Load(),
		Rejected:     a.rejected.Load(),
		DoubleSpends: a.doubleSpends.Load(),
	}
}

// MintBatch creates count fresh tokens addressed to receiver, records them
// in the ledger and sends them. The tokens are returned even when delivery
// fails; they stay in the ledger either way.
func (a *Authority) MintBatch(ctx context.Context, receiver types.PublicKey, count int) ([]*token.Token, error) {
	tokens := make([]*token.Token, 0, count)
	for len(tokens) < count {
		id, err := randomID()
		if err != nil {
			return tokens, err
		}
		t := token.Mint(id, a.cfg.Value, a.id.Signer, receiver)
		if err := a.ledger.Insert(ledger.NewEntry(t, a.now().Unix())); err != nil {
			if errors.Is(err, ledger.ErrExists) {
				continue
			}
			return tokens, fmt.Errorf("mint: %w", err)
		}
		tokens = append(tokens, t)
	}
	a.minted.Add(uint64(len(tokens)))

	a.logger.Info().
		Int("count", len(tokens)).
		Str("receiver", crypto.Fingerprint(receiver).Short()).
		Msg("Minted tokens")

	if a.tr == nil {
		return tokens, nil
	}
	return tokens, a.send(ctx, receiver, transport.MsgMint, tokens)
}

// HandleSubmission validates one submitted token and, if it extends the
// canonical history, checkpoints it. The submitted chain must end with a
// link to this verifier; that link is stripped before comparing against
// the ledger.
func (a *Authority) HandleSubmission(from types.PublicKey, t *token.Token) Result {
	res := Result{ID: t.ID, State: Received}

	if t.NumRecipients() < 2 {
		return a.reject(res, ErrAlreadyCheckpointed)
	}
	if t.LastRecipient() != a.key {
		return a.reject(res, ErrNotAddressedHere)
	}
	submitted := t.Clone()
	submitted.VerifierKey = a.key
	trimmed := submitted.TrimLast()

	entry, err := a.ledger.Get(t.ID)
	if err != nil {
		return a.reject(res, ErrUnknownToken)
	}
	if entry.Value != t.Value {
		return a.reject(res, ErrValueMismatch)
	}
	// The self-link is verified too, so only the holder can submit.
	if err := token.VerifyChain(submitted); err != nil {
		return a.reject(res, err)
	}
	res.State = StructurallyValid

	var fresh *token.Token
	err = a.ledger.Update(t.ID, func(e *ledger.Entry) error {
		var appended []token.RecipientPair
		if trimmed.CheckpointProof() == e.LastProof() {
			appended = trimmed.Chain[1:]
		} else {
			f := detector.Detect(trimmed.Chain, e.History())
			switch f.Outcome {
			case detector.Extends:
				appended = f.NewLinks
			case detector.Stale:
				return ErrStaleSubmission
			case detector.DoubleSpend:
				return &DoubleSpendError{TokenID: t.ID, Offender: f.Offender, DivergeAt: f.DivergeAt}
			default:
				return ErrUnknownHistory
			}
		}
		res.State = Continuation

		cur := e.Token(a.key)
		cur.Chain = append(cur.Chain, appended...)
		fresh = token.Checkpoint(cur, a.id.Signer, cur.LastProof(), cur.LastRecipient())
		e.Checkpoint(appended, fresh.Chain[0], a.ledger.Retain(), a.now().Unix())
		return nil
	})
	if err != nil {
		var ds *DoubleSpendError
		if errors.As(err, &ds) {
			res.State = DoubleSpendSuspect
			a.recordOffense(from, ds)
		}
		return a.discard(res, err)
	}

	a.checkpointed.Add(1)
	res.State = Checkpointed
	res.Token = fresh
	a.logger.Debug().
		Str("token", t.ID.String()).
		Int("links", t.NumRecipients()-1).
		Str("holder", crypto.Fingerprint(fresh.LastRecipient()).Short()).
		Msg("Checkpointed token")
	return res
}

// HandleBatch processes tokens on a bounded worker pool and returns the
// refreshed tokens to from. Failed tokens are excluded from the reply.
func (a *Authority) HandleBatch(ctx context.Context, from types.PublicKey, tokens []*token.Token) ([]Result, error) {
	results := make([]Result, len(tokens))
	sem := make(chan struct{}, a.cfg.Workers)
	var wg sync.WaitGroup
	for i, t := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, t *token.Token) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.HandleSubmission(from, t)
		}(i, t)
	}
	wg.Wait()

	var refreshed []*token.Token
	for _, r := range results {
		if r.OK() {
			refreshed = append(refreshed, r.Token)
		}
	}

	a.logger.Info().
		Str("from", crypto.Fingerprint(from).Short()).
		Int("submitted", len(tokens)).
		Int("checkpointed", len(refreshed)).
		Msg("Processed submission batch")

	if a.tr == nil || len(refreshed) == 0 {
		return results, nil
	}
	return results, a.send(ctx, from, transport.MsgRefresh, refreshed)
}

// HandleBlob is the transport callback. Only submit messages are accepted.
func (a *Authority) HandleBlob(from types.PublicKey, transferID string, blob []byte) {
	typ, tokens, err := transport.DecodeMessage(blob, a.key)
	if err != nil {
		a.logger.Warn().Str("transfer", transferID).Err(err).Msg("Dropping malformed blob")
		return
	}
	if typ != transport.MsgSubmit {
		a.logger.Debug().Str("transfer", transferID).Stringer("type", typ).Msg("Ignoring message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()
	if _, err := a.HandleBatch(ctx, from, tokens); err != nil {
		a.logger.Warn().Str("transfer", transferID).Err(err).Msg("Refresh delivery failed")
	}
}

func (a *Authority) send(ctx context.Context, to types.PublicKey, typ transport.MessageType, tokens []*token.Token) error {
	for _, chunk := range transport.Split(tokens, transport.MaxTokensPerBlob) {
		blob, err := transport.EncodeMessage(typ, chunk)
		if err != nil {
			return err
		}
		sendCtx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
		err = a.tr.SendBlob(sendCtx, to, blob)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Authority) reject(res Result, err error) Result {
	res.State = Rejected
	res.Err = err
	a.rejected.Add(1)
	a.logger.Debug().Str("token", res.ID.String()).Err(err).Msg("Rejected submission")
	return res
}

func (a *Authority) discard(res Result, err error) Result {
	prev := res.State
	res.State = Discarded
	res.Err = err
	a.rejected.Add(1)
	a.logger.Debug().
		Str("token", res.ID.String()).
		Stringer("after", prev).
		Err(err).
		Msg("Discarded submission")
	return res
}

func (a *Authority) recordOffense(from types.PublicKey, ds *DoubleSpendError) {
	a.doubleSpends.Add(1)
	a.logger.Warn().
		Str("token", ds.TokenID.String()).
		Str("offender", crypto.Fingerprint(ds.Offender).Short()).
		Str("submitter", crypto.Fingerprint(from).Short()).
		Int("diverge_at", ds.DivergeAt).
		Msg("Double spend detected")

	o := &ledger.Offense{
		TokenID:    ds.TokenID,
		Offender:   ds.Offender,
		Submitter:  from,
		DivergeAt:  ds.DivergeAt,
		DetectedAt: a.now().UnixNano(),
	}
	if err := a.ledger.RecordOffense(o); err != nil {
		a.logger.Error().Err(err).Msg("Failed to record offense")
	}

	a.alertsMu.RLock()
	p := a.alerts
	a.alertsMu.RUnlock()
	if p != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
		defer cancel()
		if err := p.PublishOffense(ctx, o); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to publish offense alert")
		}
	}
}

func randomID() (types.TokenID, error) {
	var id types.TokenID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("token id: %w", err)
	}
	return id, nil
}
