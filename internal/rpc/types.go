package rpc

import (
	"github.com/Klingon-tech/klingnet-cash/pkg/token"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeWrongRole      = -32001
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// TokenParam is used by endpoints that take a single token id.
type TokenParam struct {
	TokenID string `json:"token_id"`
}

// KeyParam is used by endpoints that take a single cash key.
type KeyParam struct {
	Key string `json:"key"`
}

// LimitParam bounds list endpoints. Zero means no limit.
type LimitParam struct {
	Limit int `json:"limit,omitempty"`
}

// MintParam is used by verifier_mint.
type MintParam struct {
	Recipient string `json:"recipient"`
	Count     int    `json:"count"`
}

// PoolParam is used by wallet_listTokens.
type PoolParam struct {
	Pool string `json:"pool,omitempty"`
}

// SendParam is used by wallet_send.
type SendParam struct {
	To     string `json:"to"`
	Amount int    `json:"amount"`
	Pool   string `json:"pool,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// NodeInfoResult is returned by node_getInfo.
type NodeInfoResult struct {
	Role        string          `json:"role"`
	Network     string          `json:"network"`
	Version     string          `json:"version"`
	PublicKey   types.PublicKey `json:"public_key"`
	Fingerprint string          `json:"fingerprint"`
	VerifierKey types.PublicKey `json:"verifier_key"`
	PeerID      string          `json:"peer_id,omitempty"`
	Addrs       []string        `json:"addrs,omitempty"`
	Peers       int             `json:"peers"`
	KnownKeys   int             `json:"known_keys"`
}

// PeerInfo describes one connected peer.
type PeerInfo struct {
	ID          string           `json:"id"`
	Source      string           `json:"source,omitempty"`
	ConnectedAt int64            `json:"connected_at"`
	CashKey     *types.PublicKey `json:"cash_key,omitempty"`
	Verifier    bool             `json:"verifier,omitempty"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int         `json:"count"`
	Peers []*PeerInfo `json:"peers"`
}

// BanInfo describes one banned peer.
type BanInfo struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// BanListResult is returned by net_getBanList.
type BanListResult struct {
	Count int        `json:"count"`
	Bans  []*BanInfo `json:"bans"`
}

// MintResult is returned by verifier_mint.
type MintResult struct {
	Recipient types.PublicKey `json:"recipient"`
	Count     int             `json:"count"`
	TokenIDs  []types.TokenID `json:"token_ids"`
}

// OffenderResult counts offenses by one key.
type OffenderResult struct {
	Key         types.PublicKey `json:"key"`
	Fingerprint string          `json:"fingerprint"`
	Offenses    int             `json:"offenses"`
}

// TokenIDsResult is returned by ledger_listTokens.
type TokenIDsResult struct {
	Total    int             `json:"total"`
	TokenIDs []types.TokenID `json:"token_ids"`
}

// BalanceResult is returned by wallet_getBalance.
type BalanceResult struct {
	Verified   int `json:"verified"`
	Unverified int `json:"unverified"`
	Total      int `json:"total"`
}

// TokenResult summarizes a held token.
type TokenResult struct {
	ID     types.TokenID   `json:"id"`
	Value  token.Value     `json:"value"`
	Links  int             `json:"links"`
	Holder types.PublicKey `json:"holder"`
}

// NewTokenResult summarizes t.
func NewTokenResult(t *token.Token) *TokenResult {
	return &TokenResult{
		ID:     t.ID,
		Value:  t.Value,
		Links:  t.NumRecipients(),
		Holder: t.LastRecipient(),
	}
}

// TokenListResult is returned by wallet_listTokens.
type TokenListResult struct {
	Pool   string         `json:"pool"`
	Tokens []*TokenResult `json:"tokens"`
}

// SendResult is returned by wallet_send.
type SendResult struct {
	To      types.PublicKey `json:"to"`
	Sent    int             `json:"sent"`
	Balance BalanceResult   `json:"balance"`
}

// ReconcileResult is returned by wallet_reconcile.
type ReconcileResult struct {
	Submitted int `json:"submitted"`
}

// BlockedResult is returned by wallet_getBlocked.
type BlockedResult struct {
	Keys []types.PublicKey `json:"keys"`
}
