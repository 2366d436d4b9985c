// Package rpc implements the JSON-RPC 2.0 admin API of a verifier or
// wallet daemon.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-cash/internal/log"
	"github.com/Klingon-tech/klingnet-cash/internal/p2p"
	"github.com/Klingon-tech/klingnet-cash/internal/verifier"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
	"github.com/Klingon-tech/klingnet-cash/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Identity describes the daemon behind the server.
type Identity struct {
	Role        config.Role
	Network     config.NetworkType
	PublicKey   types.PublicKey
	VerifierKey types.PublicKey
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr      string
	id        Identity
	p2pNode   *p2p.Node           // nil when another transport is used
	authority *verifier.Authority // verifier_* endpoints (nil = disabled)
	ledger    *ledger.Ledger      // ledger_* endpoints (nil = disabled)
	wallet    *wallet.Wallet      // wallet_* endpoints (nil = disabled)

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering
// and CORS. A zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, id Identity, p2pNode *p2p.Node, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		id:      id,
		p2pNode: p2pNode,
		logger:  klog.WithComponent("rpc"),
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// A send waits for the blob to be handed off.
		WriteTimeout: time.Minute,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// SetAuthority enables the verifier_* and ledger_* endpoints.
func (s *Server) SetAuthority(a *verifier.Authority, l *ledger.Ledger) {
	s.authority = a
	s.ledger = l
}

// SetWallet enables the wallet_* endpoints.
func (s *Server) SetWallet(w *wallet.Wallet) {
	s.wallet = w
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// IP filtering.
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		s.logger.Debug().
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Str("error", rpcErr.Message).
			Msg("RPC call failed")
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	switch req.Method {
	case "node_getInfo":
		return s.handleNodeGetInfo(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	case "net_getBanList":
		return s.handleNetGetBanList(req)
	case "verifier_getStats":
		return s.handleVerifierGetStats(req)
	case "verifier_mint":
		return s.handleVerifierMint(ctx, req)
	case "verifier_getOffenses":
		return s.handleVerifierGetOffenses(req)
	case "verifier_getOffenders":
		return s.handleVerifierGetOffenders(req)
	case "ledger_getEntry":
		return s.handleLedgerGetEntry(req)
	case "ledger_listTokens":
		return s.handleLedgerListTokens(req)
	case "wallet_getBalance":
		return s.handleWalletGetBalance(req)
	case "wallet_listTokens":
		return s.handleWalletListTokens(req)
	case "wallet_send":
		return s.handleWalletSend(ctx, req)
	case "wallet_reconcile":
		return s.handleWalletReconcile(ctx, req)
	case "wallet_block":
		return s.handleWalletBlock(req)
	case "wallet_getBlocked":
		return s.handleWalletGetBlocked(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	return parseOptionalParams(req, target)
}

// parseOptionalParams is parseParams for endpoints whose params may be
// omitted; target keeps its zero value then.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// parseKey decodes a hex cash key parameter.
func parseKey(name, s string) (types.PublicKey, *Error) {
	if s == "" {
		return types.PublicKey{}, &Error{Code: CodeInvalidParams, Message: name + " is required"}
	}
	key, err := types.HexToPublicKey(s)
	if err != nil {
		return types.PublicKey{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s: %v", name, err)}
	}
	return key, nil
}

func wrongRole(role config.Role) *Error {
	return &Error{Code: CodeWrongRole, Message: fmt.Sprintf("endpoint requires a %s node", role)}
}
