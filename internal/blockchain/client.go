// Package blockchain is the typed capability set over the SolanaTracker
// RPC: balance and token-account reads, transaction lookups, and the
// WebSocket subscription primitives with a reconnecting supervisor.
package blockchain

import (
	"context"
	"errors"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
)

// Config carries the client endpoints. WSURL may be empty: subscriptions
// then fail with Unavailable and the service stays on polling.
type Config struct {
	HTTPURL string
	WSURL   string
	// OnSupervisorStats is invoked whenever the WebSocket supervisor
	// changes state; optional.
	OnSupervisorStats func(SupervisorStats)
}

// Client wraps the HTTP RPC and the WebSocket supervisor.
type Client struct {
	rpc        *rpc.Client
	supervisor *Supervisor
	logger     *zap.Logger
	httpURL    string
}

// NewClient builds the capability client. The WebSocket side connects
// lazily in the background; the HTTP side is ready immediately.
func NewClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil || cfg.HTTPURL == "" {
		return nil, errs.E(errs.KindInvalidArgument, "blockchain.newClient", "missing RPC HTTP URL")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		rpc:     rpc.New(cfg.HTTPURL),
		logger:  logger.Named("rpc"),
		httpURL: cfg.HTTPURL,
	}
	c.supervisor = newSupervisor(ctx, cfg.WSURL, logger.Named("ws"), cfg.OnSupervisorStats)
	return c, nil
}

// HasSubscriptions reports whether a WebSocket endpoint was configured.
func (c *Client) HasSubscriptions() bool {
	return c.supervisor.enabled()
}

// SupervisorStats returns the current WebSocket supervisor state.
func (c *Client) SupervisorStats() SupervisorStats {
	return c.supervisor.Stats()
}

// GetSolBalance fetches the wallet's balance in whole SOL.
func (c *Client) GetSolBalance(ctx context.Context, pubkey string) (float64, error) {
	const op = "rpc.getSolBalance"

	pk, err := solana.PublicKeyFromBase58(pubkey)
	if err != nil {
		return 0, errs.E(errs.KindInvalidArgument, op, err)
	}

	out, err := c.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, classifyRPCError(op, err)
	}
	return float64(out.Value) / float64(solana.LAMPORTS_PER_SOL), nil
}

// GetTokenAccountsByOwnerV2 requests one page of the extended token-account
// listing. The method is a SolanaTracker extension; servers without it make
// the call fail with InvalidArgument.
func (c *Client) GetTokenAccountsByOwnerV2(ctx context.Context, owner string, opts V2Options) (*V2Page, error) {
	const op = "rpc.getTokenAccountsByOwnerV2"

	if owner == "" {
		return nil, errs.E(errs.KindInvalidArgument, op, "owner is empty")
	}

	params := map[string]interface{}{
		"limit":       opts.Limit,
		"excludeZero": opts.ExcludeZero,
	}
	if opts.ProgramID != "" {
		params["programId"] = opts.ProgramID
	}
	if opts.PaginationKey != "" {
		params["paginationKey"] = opts.PaginationKey
	}

	var raw v2Response
	err := c.rpc.RPCCallForInto(ctx, &raw, "getTokenAccountsByOwnerV2", []interface{}{owner, params})
	if err != nil {
		return nil, classifyRPCError(op, err)
	}

	page := &V2Page{
		HasMore:    raw.HasMore,
		NextCursor: raw.NextCursor,
		TotalCount: raw.TotalCount,
	}
	for _, acc := range raw.Accounts {
		parsed, perr := parseTokenAccount(acc)
		if perr != nil {
			c.logger.Warn("Skipping undecodable token account",
				zap.String("pubkey", acc.Pubkey),
				zap.Error(perr))
			continue
		}
		page.Accounts = append(page.Accounts, parsed)
	}
	return page, nil
}

// GetTransaction fetches the observable summary of a confirmed transaction.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*TxInfo, error) {
	const op = "rpc.getTransaction"

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, errs.E(errs.KindInvalidArgument, op, err)
	}

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, classifyRPCError(op, err)
	}
	if out == nil {
		return nil, errs.E(errs.KindNotFound, op, "transaction not found")
	}

	info := &TxInfo{
		Signature: signature,
		Slot:      out.Slot,
	}
	if out.BlockTime != nil {
		t := out.BlockTime.Time()
		info.BlockTime = &t
	}
	if out.Meta != nil {
		info.Fee = out.Meta.Fee
		info.Err = out.Meta.Err
		info.LogMessages = out.Meta.LogMessages
	}
	return info, nil
}

// GetSignatureStatus fetches the confirmation state of one signature.
// NotFound means the RPC does not know the signature (yet).
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SigStatus, error) {
	const op = "rpc.getSignatureStatus"

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, errs.E(errs.KindInvalidArgument, op, err)
	}

	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, classifyRPCError(op, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, errs.E(errs.KindNotFound, op, "signature unknown")
	}

	st := out.Value[0]
	return &SigStatus{
		Slot:               st.Slot,
		Confirmations:      st.Confirmations,
		ConfirmationStatus: string(st.ConfirmationStatus),
		Err:                st.Err,
	}, nil
}

// SubscribeSlot registers a slot notification handler.
func (c *Client) SubscribeSlot(handler func(SlotEvent)) (Subscription, error) {
	return c.supervisor.subscribeSlot(handler)
}

// SubscribeAccount registers an account notification handler for pubkey.
func (c *Client) SubscribeAccount(pubkey string, handler func(AccountEvent)) (Subscription, error) {
	return c.supervisor.subscribeAccount(pubkey, handler)
}

// SubscribeLogs registers a logs notification handler for transactions
// mentioning pubkey.
func (c *Client) SubscribeLogs(pubkey string, handler func(LogsEvent)) (Subscription, error) {
	return c.supervisor.subscribeLogs(pubkey, handler)
}

// Close tears down the WebSocket supervisor. The HTTP side has no state to
// release.
func (c *Client) Close() error {
	c.supervisor.Close()
	return nil
}

// classifyRPCError maps transport and server errors onto the taxonomy.
func classifyRPCError(op string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == -32601 || strings.Contains(strings.ToLower(rpcErr.Message), "method not found") {
			return errs.E(errs.KindInvalidArgument, op, err)
		}
		return errs.E(errs.KindUnknown, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.E(errs.KindTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.E(errs.KindUnavailable, op, err)
	}
	return errs.E(errs.KindUnavailable, op, err)
}
