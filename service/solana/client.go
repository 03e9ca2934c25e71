package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)

	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)

	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client provides the ledger reads and writes the launch pipeline needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc          RPCClient
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:          rpcClient,
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: 2 * time.Second,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
	}
}

// WithCommitment sets the commitment used for reads and confirmation.
func (c *Client) WithCommitment(commitment rpc.CommitmentType) *Client {
	if commitment != "" {
		c.commitment = commitment
	}
	return c
}

// WithPollInterval sets how often confirmation status is polled.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// Commitment returns the commitment level used by this client.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
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

// LatestBlockhash fetches a recent blockhash together with the last block
// height at which transactions referencing it are still valid.
func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return Blockhash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, fmt.Errorf("get latest blockhash: empty response")
	}

	bh := Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}
	c.logger.DebugContext(ctx, "fetched blockhash",
		"blockhash", bh.Hash.String(),
		"last_valid_block_height", bh.LastValidBlockHeight,
	)
	return bh, nil
}

// CurrentSlot returns the current slot at the client's commitment.
func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	start := time.Now()
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	c.record("GetSlot", start, err)
	if err != nil {
		return 0, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// BlockHeight returns the current block height at the client's commitment.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, c.commitment)
	c.record("GetBlockHeight", start, err)
	if err != nil {
		return 0, fmt.Errorf("get block height: %w", err)
	}
	return height, nil
}

// GetLookupTable fetches and decodes an address lookup table account.
// A missing account yields faults.ErrTableNotFound.
func (c *Client) GetLookupTable(ctx context.Context, address solana.PublicKey) (*LookupTableState, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	c.record("GetAccountInfo", start, err)
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", faults.ErrTableNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get lookup table %s: %w", address, err)
	}

	state, err := addresslookuptable.DecodeAddressLookupTableState(out.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode lookup table %s: %w", address, err)
	}

	return &LookupTableState{
		Address:          address,
		Authority:        state.Authority,
		Addresses:        state.Addresses,
		LastExtendedSlot: state.LastExtendedSlot,
		DeactivationSlot: state.DeactivationSlot,
	}, nil
}

// SendTransaction submits a signed transaction directly to the ledger RPC.
// Only lookup table maintenance goes through here; bundles go to the relay.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// AwaitConfirmation polls the signature status until it reaches the client's
// commitment, or until the block height passes lastValidBlockHeight.
// Expiry yields faults.ErrBlockhashExpired and an on-chain failure yields
// faults.ErrTransactionFailed.
func (c *Client) AwaitConfirmation(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.signatureStatus(ctx, sig)
		if err != nil {
			c.logger.WarnContext(ctx, "signature status lookup failed",
				"signature", sig.String(),
				"error", err,
			)
		}
		if status != nil {
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", faults.ErrTransactionFailed, sig, status.Err)
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				c.logger.DebugContext(ctx, "transaction confirmed",
					"signature", sig.String(),
					"slot", status.Slot,
					"status", status.ConfirmationStatus,
				)
				return nil
			}
		}

		height, err := c.BlockHeight(ctx)
		if err == nil && height > lastValidBlockHeight {
			return fmt.Errorf("%w: %s at height %d (last valid %d)",
				faults.ErrBlockhashExpired, sig, height, lastValidBlockHeight)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.record("GetSignatureStatuses", start, err)
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// reached reports whether status satisfies the wanted commitment.
func reached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return want != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return want == rpc.CommitmentProcessed
	}
	return false
}
