package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const maxRPCAttempts = 3

// Client wraps the RPC client with the reads the submitter and awaiter need.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "mainnet", "devnet", rpc host)
	retryBackoff time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		retryBackoff: time.Second,
	}
}

// LatestBlockhash fetches a recent blockhash and its validity window.
func (c *Client) LatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (Blockhash, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.withRetry(ctx, "GetLatestBlockhash", func() error {
		var err error
		out, err = c.rpc.GetLatestBlockhash(ctx, commitment)
		return err
	})
	if err != nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}
	return Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// BlockHeight returns the current block height at the given commitment.
func (c *Client) BlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, "GetBlockHeight", func() error {
		var err error
		height, err = c.rpc.GetBlockHeight(ctx, commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// SignatureStatus returns the status of a single signature, or nil if the
// cluster has not seen it yet.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	var out *rpc.GetSignatureStatusesResult
	err := c.withRetry(ctx, "GetSignatureStatuses", func() error {
		var err error
		out, err = c.rpc.GetSignatureStatuses(ctx, false, sig)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// SendRawTransaction broadcasts a signed transaction. It is not retried here;
// the node's own rebroadcast is controlled with opts.MaxRetries.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte, opts rpc.TransactionOpts) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, opts)
	c.recordCall("SendTransaction", err, start)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// LookupAccount fetches an account that may not exist yet. A missing account
// is reported as AccountMissing with a nil error.
func (c *Client) LookupAccount(
	ctx context.Context,
	address solana.PublicKey,
	commitment rpc.CommitmentType,
) (*AccountLookup, error) {
	var out *rpc.GetAccountInfoResult
	err := c.withRetry(ctx, "GetAccountInfo", func() error {
		var err error
		out, err = c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: commitment,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		c.logger.DebugContext(ctx, "account not found", "address", address.String())
		return &AccountLookup{Status: AccountMissing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}

	account := &AccountUpdate{
		Address:  address,
		Slot:     out.Context.Slot,
		Lamports: out.Value.Lamports,
		Owner:    out.Value.Owner,
	}
	if out.Value.Data != nil {
		account.Data = out.Value.Data.GetBinary()
	}
	return &AccountLookup{Status: AccountFound, Account: account}, nil
}

// TransactionLogs fetches the log messages of a landed transaction.
func (c *Client) TransactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	err := c.withRetry(ctx, "GetTransaction", func() error {
		var err error
		result, err = c.rpc.GetTransaction(ctx, sig, opts)
		if err != nil && strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", sig.String(),
			)
			c.metrics.RecordRPCRetry("GetTransaction", "parse_error")
			result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:   solana.EncodingBase64,
				Commitment: rpc.CommitmentConfirmed,
			})
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if result == nil || result.Meta == nil {
		return nil, nil
	}
	return result.Meta.LogMessages, nil
}

// withRetry runs fn with exponential backoff, backing off longer on rate limits.
// rpc.ErrNotFound is terminal and returned immediately.
func (c *Client) withRetry(ctx context.Context, method string, fn func() error) error {
	var err error
	for attempt := range maxRPCAttempts {
		start := time.Now()
		err = fn()
		c.recordCall(method, err, start)
		if err == nil || errors.Is(err, rpc.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == maxRPCAttempts-1 {
			break
		}

		reason := "timeout_or_error"
		backoff := c.retryBackoff << uint(attempt)
		if strings.Contains(err.Error(), "429") {
			reason = "rate_limit"
			backoff *= 2
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		c.metrics.RecordRPCRetry(method, reason)
		c.logger.WarnContext(ctx, "rpc call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"reason", reason,
			"error", err,
			"backoff_seconds", backoff.Seconds(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (c *Client) recordCall(method string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
