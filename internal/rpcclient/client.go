// Package rpcclient provides a JSON-RPC 2.0 client for Klingnet Cash
// daemons.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	"github.com/Klingon-tech/klingnet-cash/internal/rpc"
	"github.com/Klingon-tech/klingnet-cash/internal/verifier"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// Client is a JSON-RPC 2.0 HTTP client.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Int64
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 30*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int64       `json:"id"`
}

// response is a JSON-RPC 2.0 response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is an RPCError with the given code.
func IsCode(err error, code int) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == code
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	return c.CallContext(context.Background(), method, params, result)
}

// CallContext is Call bound to ctx.
func (c *Client) CallContext(ctx context.Context, method string, params, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("http request: %s (check rpc.allowed)", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// ── Typed wrappers ──────────────────────────────────────────────────────

// NodeInfo calls node_getInfo.
func (c *Client) NodeInfo(ctx context.Context) (*rpc.NodeInfoResult, error) {
	var res rpc.NodeInfoResult
	if err := c.CallContext(ctx, "node_getInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Peers calls net_getPeerInfo.
func (c *Client) Peers(ctx context.Context) (*rpc.PeerInfoResult, error) {
	var res rpc.PeerInfoResult
	if err := c.CallContext(ctx, "net_getPeerInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Bans calls net_getBanList.
func (c *Client) Bans(ctx context.Context) (*rpc.BanListResult, error) {
	var res rpc.BanListResult
	if err := c.CallContext(ctx, "net_getBanList", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats calls verifier_getStats.
func (c *Client) Stats(ctx context.Context) (*verifier.Stats, error) {
	var res verifier.Stats
	if err := c.CallContext(ctx, "verifier_getStats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Mint calls verifier_mint.
func (c *Client) Mint(ctx context.Context, recipient types.PublicKey, count int) (*rpc.MintResult, error) {
	var res rpc.MintResult
	params := rpc.MintParam{Recipient: recipient.String(), Count: count}
	if err := c.CallContext(ctx, "verifier_mint", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Offenders calls verifier_getOffenders.
func (c *Client) Offenders(ctx context.Context) ([]*rpc.OffenderResult, error) {
	var res []*rpc.OffenderResult
	if err := c.CallContext(ctx, "verifier_getOffenders", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Offenses calls verifier_getOffenses.
func (c *Client) Offenses(ctx context.Context) ([]*ledger.Offense, error) {
	var res []*ledger.Offense
	if err := c.CallContext(ctx, "verifier_getOffenses", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Entry calls ledger_getEntry.
func (c *Client) Entry(ctx context.Context, id types.TokenID) (*ledger.Entry, error) {
	var res ledger.Entry
	if err := c.CallContext(ctx, "ledger_getEntry", rpc.TokenParam{TokenID: id.String()}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LedgerTokens calls ledger_listTokens. A zero limit lists every token.
func (c *Client) LedgerTokens(ctx context.Context, limit int) (*rpc.TokenIDsResult, error) {
	var res rpc.TokenIDsResult
	if err := c.CallContext(ctx, "ledger_listTokens", rpc.LimitParam{Limit: limit}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Balance calls wallet_getBalance.
func (c *Client) Balance(ctx context.Context) (*rpc.BalanceResult, error) {
	var res rpc.BalanceResult
	if err := c.CallContext(ctx, "wallet_getBalance", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tokens calls wallet_listTokens for pool ("" means verified).
func (c *Client) Tokens(ctx context.Context, pool string) (*rpc.TokenListResult, error) {
	var res rpc.TokenListResult
	if err := c.CallContext(ctx, "wallet_listTokens", rpc.PoolParam{Pool: pool}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Send calls wallet_send.
func (c *Client) Send(ctx context.Context, to types.PublicKey, amount int, pool string) (*rpc.SendResult, error) {
	var res rpc.SendResult
	params := rpc.SendParam{To: to.String(), Amount: amount, Pool: pool}
	if err := c.CallContext(ctx, "wallet_send", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reconcile calls wallet_reconcile.
func (c *Client) Reconcile(ctx context.Context) (*rpc.ReconcileResult, error) {
	var res rpc.ReconcileResult
	if err := c.CallContext(ctx, "wallet_reconcile", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Block calls wallet_block.
func (c *Client) Block(ctx context.Context, key types.PublicKey) error {
	return c.CallContext(ctx, "wallet_block", rpc.KeyParam{Key: key.String()}, nil)
}

// Blocked calls wallet_getBlocked.
func (c *Client) Blocked(ctx context.Context) ([]types.PublicKey, error) {
	var res rpc.BlockedResult
	if err := c.CallContext(ctx, "wallet_getBlocked", nil, &res); err != nil {
		return nil, err
	}
	return res.Keys, nil
}
