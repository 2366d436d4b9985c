package rpc

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-cash/config"
	"github.com/Klingon-tech/klingnet-cash/internal/wallet"
)

func (s *Server) handleWalletGetBalance(_ *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	return s.balance(), nil
}

func (s *Server) balance() BalanceResult {
	b := s.wallet.Balance()
	return BalanceResult{Verified: b.Verified, Unverified: b.Unverified, Total: b.Total()}
}

func (s *Server) handleWalletListTokens(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	var params PoolParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	pool, err := wallet.ParsePool(params.Pool)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	held := s.wallet.Tokens(pool)
	sort.Slice(held, func(i, j int) bool { return held[i].ID.String() < held[j].ID.String() })
	res := &TokenListResult{Pool: pool.String(), Tokens: make([]*TokenResult, len(held))}
	for i, t := range held {
		res.Tokens[i] = NewTokenResult(t)
	}
	return res, nil
}

func (s *Server) handleWalletSend(ctx context.Context, req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	var params SendParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	to, rpcErr := parseKey("to", params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if to == s.wallet.PublicKey() {
		return nil, &Error{Code: CodeInvalidParams, Message: "cannot send to self"}
	}
	pool, err := wallet.ParsePool(params.Pool)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	if err := s.wallet.Spend(ctx, to, params.Amount, pool); err != nil {
		code := CodeInternalError
		if errors.Is(err, wallet.ErrInvalidAmount) || errors.Is(err, wallet.ErrInsufficientBalance) {
			code = CodeInvalidParams
		}
		return nil, &Error{Code: code, Message: fmt.Sprintf("send: %v", err)}
	}
	return &SendResult{To: to, Sent: params.Amount, Balance: s.balance()}, nil
}

func (s *Server) handleWalletReconcile(ctx context.Context, _ *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	pending := s.wallet.Balance().Unverified
	if err := s.wallet.Reconcile(ctx); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("reconcile: %v", err)}
	}
	return &ReconcileResult{Submitted: pending}, nil
}

func (s *Server) handleWalletBlock(req *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	var params KeyParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	key, rpcErr := parseKey("key", params.Key)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.wallet.BlockSigner(key); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return true, nil
}

func (s *Server) handleWalletGetBlocked(_ *Request) (interface{}, *Error) {
	if s.wallet == nil {
		return nil, wrongRole(config.RoleWallet)
	}
	keys := s.wallet.Blocked()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return &BlockedResult{Keys: keys}, nil
}
