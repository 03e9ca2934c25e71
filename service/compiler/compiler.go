// Package compiler turns instruction lists into signed v0 transactions that
// share one recent blockhash and fit the wire size ceiling.
package compiler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/lookup"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// MaxTransactionSize is the network's serialized transaction limit in bytes.
const MaxTransactionSize = 1232

// AnchorIndex is the chunk index reported for the anchor transaction.
const AnchorIndex = -1

// Ledger supplies the shared blockhash.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Blockhash, error)
}

// Request describes one transaction to compile.
type Request struct {
	// ChunkIndex identifies the chunk in errors; AnchorIndex for the anchor.
	ChunkIndex   int
	Label        string
	Payer        solanago.PublicKey
	Instructions []solanago.Instruction
	Signers      []solanago.PrivateKey
	// Tables are the resolved lookup tables available for compression.
	// Empty means no compression.
	Tables []*lookup.ResolvedAddresses
}

// CompiledTransaction is a signed transaction ready for the bundle.
type CompiledTransaction struct {
	Label         string
	ChunkIndex    int
	Payer         solanago.PublicKey
	Blockhash     solana.Blockhash
	Tx            *solanago.Transaction
	Tables        []solanago.PublicKey
	Signers       []solanago.PublicKey
	Compressed    solanago.PublicKeySlice
	SerializedLen int
}

// Signature returns the transaction's first signature, which identifies it.
func (c *CompiledTransaction) Signature() solanago.Signature {
	if c.Tx == nil || len(c.Tx.Signatures) == 0 {
		return solanago.Signature{}
	}
	return c.Tx.Signatures[0]
}

// Compiler builds and signs transactions. The first call that needs a
// blockhash fetches it; every later transaction reuses it.
type Compiler struct {
	ledger  Ledger
	maxSize int
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	blockhash *solana.Blockhash
}

// NewCompiler creates a Compiler. A non-positive maxSize selects
// MaxTransactionSize. If metrics is nil, no metrics will be recorded.
func NewCompiler(ledger Ledger, maxSize int, m *metrics.Metrics, logger *slog.Logger) *Compiler {
	if maxSize <= 0 {
		maxSize = MaxTransactionSize
	}
	return &Compiler{
		ledger:  ledger,
		maxSize: maxSize,
		logger:  logger,
		metrics: m,
	}
}

// Blockhash returns the shared blockhash, fetching it on first use.
func (c *Compiler) Blockhash(ctx context.Context) (solana.Blockhash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockhash != nil {
		return *c.blockhash, nil
	}
	bh, err := c.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solana.Blockhash{}, fmt.Errorf("resolve blockhash: %w", err)
	}
	c.blockhash = &bh
	c.logger.InfoContext(ctx, "blockhash resolved",
		"blockhash", bh.Hash.String(),
		"last_valid_block_height", bh.LastValidBlockHeight,
	)
	return bh, nil
}

// Compile builds a v0 transaction for req, measures it, and signs it.
// Failures are *faults.ChunkError values naming req.ChunkIndex.
func (c *Compiler) Compile(ctx context.Context, req Request) (*CompiledTransaction, error) {
	role := "chunk"
	if req.ChunkIndex == AnchorIndex {
		role = "anchor"
	}

	out, err := c.compile(ctx, req)
	if c.metrics != nil {
		size := 0
		if out != nil {
			size = out.SerializedLen
		}
		c.metrics.RecordCompile(role, size, err)
	}
	if err != nil {
		return nil, &faults.ChunkError{Index: req.ChunkIndex, Err: err}
	}

	c.logger.DebugContext(ctx, "transaction compiled",
		"label", out.Label,
		"chunk", out.ChunkIndex,
		"size", out.SerializedLen,
		"signers", len(out.Signers),
		"compressed", len(out.Compressed),
	)
	return out, nil
}

func (c *Compiler) compile(ctx context.Context, req Request) (*CompiledTransaction, error) {
	bh, err := c.Blockhash(ctx)
	if err != nil {
		return nil, err
	}

	opts := []solanago.TransactionOption{solanago.TransactionPayer(req.Payer)}
	var tableKeys []solanago.PublicKey
	if len(req.Tables) > 0 {
		tables := make(map[solanago.PublicKey]solanago.PublicKeySlice, len(req.Tables))
		for _, t := range req.Tables {
			tables[t.Table] = t.Addresses
			tableKeys = append(tableKeys, t.Table)
		}
		opts = append(opts, solanago.TransactionAddressTables(tables))
	}

	tx, err := solanago.NewTransaction(req.Instructions, bh.Hash, opts...)
	if err != nil {
		return nil, fmt.Errorf("build message: %w", err)
	}
	tx.Message.SetVersion(solanago.MessageVersionV0)

	// Unsigned serialization pads every required signature, so its length
	// is the signed length.
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	if len(raw) > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", faults.ErrOversizedTransaction, len(raw), c.maxSize)
	}

	keys := make(map[solanago.PublicKey]*solanago.PrivateKey, len(req.Signers))
	for i := range req.Signers {
		// unusable keys satisfy nothing; the check below names the gap
		if !req.Signers[i].IsValid() {
			continue
		}
		keys[req.Signers[i].PublicKey()] = &req.Signers[i]
	}
	required := requiredSigners(tx)
	for _, pk := range required {
		if _, ok := keys[pk]; !ok {
			return nil, fmt.Errorf("%w: %s", faults.ErrMissingSigner, pk)
		}
	}

	if _, err := tx.Sign(func(pk solanago.PublicKey) *solanago.PrivateKey {
		return keys[pk]
	}); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	var compressed solanago.PublicKeySlice
	if tx.Message.NumLookups() > 0 {
		compressed, err = tx.Message.GetAddressTableLookupAccounts()
		if err != nil {
			return nil, fmt.Errorf("resolve compressed addresses: %w", err)
		}
	}

	return &CompiledTransaction{
		Label:         req.Label,
		ChunkIndex:    req.ChunkIndex,
		Payer:         req.Payer,
		Blockhash:     bh,
		Tx:            tx,
		Tables:        tableKeys,
		Signers:       required,
		Compressed:    compressed,
		SerializedLen: len(raw),
	}, nil
}

// requiredSigners returns the accounts whose signatures the message needs.
func requiredSigners(tx *solanago.Transaction) []solanago.PublicKey {
	n := int(tx.Message.Header.NumRequiredSignatures)
	n = min(n, len(tx.Message.AccountKeys))
	out := make([]solanago.PublicKey, n)
	copy(out, tx.Message.AccountKeys[:n])
	return out
}
