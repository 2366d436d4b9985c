package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	"github.com/Klingon-tech/klingnet-cash/pkg/crypto"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// maxMintPerCall caps verifier_mint.
const maxMintPerCall = 10_000

// ── Node endpoints ──────────────────────────────────────────────────────

func (s *Server) handleNodeGetInfo(_ *Request) (interface{}, *Error) {
	res := &NodeInfoResult{
		Role:        string(s.id.Role),
		Network:     string(s.id.Network),
		Version:     config.Version,
		PublicKey:   s.id.PublicKey,
		Fingerprint: crypto.Fingerprint(s.id.PublicKey).String(),
		VerifierKey: s.id.VerifierKey,
	}
	if s.p2pNode != nil {
		res.PeerID = s.p2pNode.ID().String()
		res.Addrs = s.p2pNode.Addrs()
		res.Peers = s.p2pNode.PeerCount()
		res.KnownKeys = s.p2pNode.KnownKeys()
	}
	return res, nil
}

// ── Net endpoints ───────────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	res := &PeerInfoResult{Peers: []*PeerInfo{}}
	if s.p2pNode == nil {
		return res, nil
	}
	for _, p := range s.p2pNode.PeerList() {
		info := &PeerInfo{
			ID:          p.ID.String(),
			Source:      p.Source,
			ConnectedAt: p.ConnectedAt.Unix(),
		}
		if !p.CashKey.IsZero() {
			key := p.CashKey
			info.CashKey = &key
			info.Verifier = key == s.id.VerifierKey
		}
		res.Peers = append(res.Peers, info)
	}
	res.Count = len(res.Peers)
	return res, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	res := &BanListResult{Bans: []*BanInfo{}}
	if s.p2pNode == nil || s.p2pNode.BanManager == nil {
		return res, nil
	}
	for _, b := range s.p2pNode.BanManager.BanList() {
		res.Bans = append(res.Bans, &BanInfo{
			ID:        b.ID,
			Reason:    b.Reason,
			Score:     b.Score,
			BannedAt:  b.BannedAt,
			ExpiresAt: b.ExpiresAt,
		})
	}
	res.Count = len(res.Bans)
	return res, nil
}

// ── Verifier endpoints ──────────────────────────────────────────────────

func (s *Server) handleVerifierGetStats(_ *Request) (interface{}, *Error) {
	if s.authority == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	stats := s.authority.Stats()
	return &stats, nil
}

func (s *Server) handleVerifierMint(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.authority == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	var params MintParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Count <= 0 || params.Count > maxMintPerCall {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("count must be in [1, %d]", maxMintPerCall)}
	}
	to, rpcErr := parseKey("recipient", params.Recipient)
	if rpcErr != nil {
		return nil, rpcErr
	}

	minted, err := s.authority.MintBatch(ctx, to, params.Count)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("mint: %v", err)}
	}
	res := &MintResult{
		Recipient: to,
		Count:     len(minted),
		TokenIDs:  make([]types.TokenID, len(minted)),
	}
	for i, t := range minted {
		res.TokenIDs[i] = t.ID
	}
	return res, nil
}

func (s *Server) handleVerifierGetOffenses(_ *Request) (interface{}, *Error) {
	if s.ledger == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	list, err := s.ledger.Offenses()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if list == nil {
		list = []*ledger.Offense{}
	}
	return list, nil
}

func (s *Server) handleVerifierGetOffenders(_ *Request) (interface{}, *Error) {
	if s.ledger == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	counts, err := s.ledger.Offenders()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	out := make([]*OffenderResult, 0, len(counts))
	for k, n := range counts {
		out = append(out, &OffenderResult{
			Key:         k,
			Fingerprint: crypto.Fingerprint(k).Short(),
			Offenses:    n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Offenses != out[j].Offenses {
			return out[i].Offenses > out[j].Offenses
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// ── Ledger endpoints ────────────────────────────────────────────────────

func (s *Server) handleLedgerGetEntry(req *Request) (interface{}, *Error) {
	if s.ledger == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	var params TokenParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	id, err := types.HexToTokenID(params.TokenID)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid token_id: %v", err)}
	}
	entry, err := s.ledger.Get(id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, &Error{Code: CodeNotFound, Message: err.Error()}
	}
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return entry, nil
}

func (s *Server) handleLedgerListTokens(req *Request) (interface{}, *Error) {
	if s.ledger == nil {
		return nil, wrongRole(config.RoleVerifier)
	}
	var params LimitParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "limit must not be negative"}
	}
	ids := s.ledger.IDs()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	res := &TokenIDsResult{Total: len(ids), TokenIDs: ids}
	if params.Limit > 0 && len(ids) > params.Limit {
		res.TokenIDs = ids[:params.Limit]
	}
	return res, nil
}
