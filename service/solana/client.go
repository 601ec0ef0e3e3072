package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetAccountInfo(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	SendTransaction(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)
}

// Client is the network connection handle used by the transfer pipeline.
// It wraps the RPC client with logging, metrics and domain types.
type Client struct {
	rpc      RPCClient
	network  Network
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
}

// NewClient creates a new Solana client bound to a network.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, network Network, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		network:  network,
		logger:   logger,
		metrics:  m,
		endpoint: string(network),
	}
}

// Network returns the cluster this client talks to.
func (c *Client) Network() Network {
	return c.network
}

// LatestCheckpoint fetches a fresh blockhash. Blockhashes expire after ~150 slots,
// so callers must fetch one per transaction and never reuse it.
func (c *Client) LatestCheckpoint(ctx context.Context) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get latest blockhash", "error", err)
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, fmt.Errorf("empty blockhash response")
	}

	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)
	return out.Value.Blockhash, nil
}

// AccountInfo returns the account at address, or nil if it does not exist.
func (c *Client) AccountInfo(ctx context.Context, address solana.PublicKey) (*AccountInfo, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfo(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("GetAccountInfo", start, nil)
		return nil, nil
	}
	c.record("GetAccountInfo", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get account info",
			"address", address.String(),
			"error", err,
		)
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}

	info := &AccountInfo{
		Address:  address,
		Owner:    out.Value.Owner,
		Lamports: out.Value.Lamports,
	}
	if out.Value.Data != nil {
		info.Data = out.Value.Data.GetBinary()
	}
	return info, nil
}

// Balance returns the native balance of address in lamports.
func (c *Client) Balance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, address, rpc.CommitmentConfirmed)
	c.record("GetBalance", start, err)
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// TokenBalance returns the balance of a token account.
func (c *Client) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (*TokenBalance, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	c.record("GetTokenAccountBalance", start, err)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("empty token balance response")
	}

	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid token amount %q: %w", out.Value.Amount, err)
	}
	return &TokenBalance{
		Amount:   amount,
		Decimals: out.Value.Decimals,
		UIAmount: out.Value.UiAmountString,
	}, nil
}

// SendTransaction broadcasts a signed transaction with preflight checks enabled.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransaction(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send transaction", "error", err)
		return solana.Signature{}, err
	}

	c.logger.InfoContext(ctx, "transaction sent", "signature", sig.String())
	return sig, nil
}

func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
