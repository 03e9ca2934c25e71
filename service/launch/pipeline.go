// Package launch runs a bundled token launch as one linear pipeline.
//
// Every step either succeeds or ends the run with its error. Nothing is
// retried: a table batch or a bundle that already left cannot be sent
// twice safely.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/launchbundle/service/bundle"
	"github.com/brojonat/launchbundle/service/compiler"
	"github.com/brojonat/launchbundle/service/db"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/lookup"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/nats"
	"github.com/brojonat/launchbundle/service/planner"
	"github.com/brojonat/launchbundle/service/pumpfun"
	"github.com/brojonat/launchbundle/service/relay"
	"github.com/brojonat/launchbundle/service/signers"
	"github.com/brojonat/launchbundle/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
)

// Tables manages the run's lookup table and reads the shared one.
type Tables interface {
	Create(ctx context.Context) (*lookup.Table, error)
	Extend(ctx context.Context, table solanago.PublicKey, addresses solanago.PublicKeySlice) (*lookup.Revision, error)
	WaitActive(ctx context.Context, lastSlot uint64) error
	ReadResolved(ctx context.Context, address solanago.PublicKey) (*lookup.ResolvedAddresses, error)
	BatchCount(n int) int
}

// ChunkPlanner turns a signer chunk into instructions.
type ChunkPlanner interface {
	Plan(ctx context.Context, chunk planner.Chunk, mint solanago.PublicKey) (*planner.ChunkPlan, error)
}

// CreateEncoder produces the token creation and dev buy instructions.
type CreateEncoder interface {
	CreateAndBuyInstructions(ctx context.Context, req pumpfun.CreateRequest) ([]solanago.Instruction, error)
}

// TransactionCompiler compiles against one shared blockhash.
type TransactionCompiler interface {
	Blockhash(ctx context.Context) (solana.Blockhash, error)
	Compile(ctx context.Context, req compiler.Request) (*compiler.CompiledTransaction, error)
}

// BundleAssembler tips the anchor and orders the bundle.
type BundleAssembler interface {
	AnchorInstructions(createIxs []solanago.Instruction) ([]solanago.Instruction, solanago.PublicKey)
	Assemble(anchor *compiler.CompiledTransaction, chunks []*compiler.CompiledTransaction, tables ...*lookup.ResolvedAddresses) (*bundle.Bundle, error)
}

// BundleSubmitter ships a bundle and checks the anchor.
type BundleSubmitter interface {
	Submit(ctx context.Context, b *bundle.Bundle, endpoint string) (*relay.Receipt, error)
}

// ReceiptStore persists submission receipts.
type ReceiptStore interface {
	CreateBundleReceipt(ctx context.Context, params db.CreateBundleReceiptParams) (*db.BundleReceipt, error)
}

// Deps are the pipeline's collaborators. Store and Publisher are optional.
type Deps struct {
	Tables    Tables
	Planner   ChunkPlanner
	Encoder   CreateEncoder
	Compiler  TransactionCompiler
	Assembler BundleAssembler
	Submitter BundleSubmitter
	Store     ReceiptStore
	Publisher nats.Publisher
}

// Identities are the keys owned by the operator for this launch.
type Identities struct {
	Operator solanago.PrivateKey
	Mint     solanago.PrivateKey
}

// Token is the on-chain metadata of the launched token.
type Token struct {
	Name   string
	Symbol string
	URI    string
}

// Config holds the launch parameters.
type Config struct {
	ChunkSize      int
	DevBuyLamports uint64
	SlippageBps    uint64
	Commitment     rpc.CommitmentType
	RelayURL       string
	// SharedTable is a pre-existing lookup table holding program-wide
	// accounts. The zero key means none.
	SharedTable solanago.PublicKey
	Token       Token
}

// ChunkSummary describes one compiled chunk transaction.
type ChunkSummary struct {
	Index         int
	Signers       int
	Payer         solanago.PublicKey
	Lamports      uint64
	Instructions  int
	SerializedLen int
	Compressed    int
}

// Result is what a run produced, as far as it got.
type Result struct {
	LaunchID       string
	Mint           solanago.PublicKey
	DryRun         bool
	Table          solanago.PublicKey
	TableAddresses int
	ExtendBatches  int
	Blockhash      solanago.Hash
	TipAccount     solanago.PublicKey
	AnchorLen      int
	Chunks         []ChunkSummary
	Bundle         *bundle.Bundle
	Receipt        *relay.Receipt
}

// Pipeline runs one launch. Build a new one per launch: the compiler
// behind it pins a single blockhash.
type Pipeline struct {
	deps    Deps
	ids     Identities
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Pipeline. If metrics is nil, no metrics will be recorded.
func New(deps Deps, ids Identities, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		deps:    deps,
		ids:     ids,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Run creates and fills the lookup table, compiles every transaction,
// submits the bundle and records the outcome. The returned Result is
// populated up to the failing step.
func (p *Pipeline) Run(ctx context.Context, ids []signers.Identity) (*Result, error) {
	return p.run(ctx, ids, false)
}

// Plan compiles the whole bundle without touching the chain or the relay.
// The run's lookup table is simulated from the addresses it would hold.
func (p *Pipeline) Plan(ctx context.Context, ids []signers.Identity) (*Result, error) {
	return p.run(ctx, ids, true)
}

func (p *Pipeline) run(ctx context.Context, ids []signers.Identity, dryRun bool) (*Result, error) {
	mint := p.ids.Mint.PublicKey()
	res := &Result{
		LaunchID: uuid.New().String(),
		Mint:     mint,
		DryRun:   dryRun,
	}
	logger := p.logger.With("launch_id", res.LaunchID, "mint", mint.String())

	fail := func(stage string, err error) (*Result, error) {
		p.recordLaunch(stage, err)
		p.publish(ctx, res, nats.StageFailed, err)
		logger.ErrorContext(ctx, "launch failed", "stage", stage, "error", err)
		return res, err
	}

	if len(ids) == 0 {
		return fail("partition", faults.ErrNoUsableSigners)
	}
	chunks, err := planner.Partition(ids, p.cfg.ChunkSize)
	if err != nil {
		return fail("partition", err)
	}
	logger.InfoContext(ctx, "launch started",
		"signers", len(ids),
		"chunks", len(chunks),
		"dry_run", dryRun,
	)

	tables, err := p.resolveTables(ctx, res, ids, dryRun)
	if err != nil {
		return fail("tables", err)
	}
	p.publish(ctx, res, nats.StageTableReady, nil)

	bh, err := p.deps.Compiler.Blockhash(ctx)
	if err != nil {
		return fail("blockhash", err)
	}
	res.Blockhash = bh.Hash

	// the anchor registers the curve the chunk buys are quoted against
	anchor, err := p.compileAnchor(ctx, res)
	if err != nil {
		return fail("anchor", err)
	}

	chunkTxs := make([]*compiler.CompiledTransaction, 0, len(chunks))
	for _, c := range chunks {
		ct, summary, err := p.compileChunk(ctx, c, tables)
		if err != nil {
			return fail("chunk", err)
		}
		chunkTxs = append(chunkTxs, ct)
		res.Chunks = append(res.Chunks, summary)
	}

	b, err := p.deps.Assembler.Assemble(anchor, chunkTxs, tables...)
	if err != nil {
		return fail("assemble", err)
	}
	res.Bundle = b
	p.publish(ctx, res, nats.StageCompiled, nil)

	if dryRun {
		p.recordLaunch("planned", nil)
		logger.InfoContext(ctx, "launch planned",
			"transactions", len(b.Transactions),
			"anchor_bytes", res.AnchorLen,
		)
		return res, nil
	}

	receipt, err := p.deps.Submitter.Submit(ctx, b, p.cfg.RelayURL)
	res.Receipt = receipt
	p.storeReceipt(ctx, res)
	if err != nil {
		return fail("submit", err)
	}
	p.publish(ctx, res, nats.StageSubmitted, nil)

	if receipt.Confirmed {
		p.recordLaunch("confirmed", nil)
		p.publish(ctx, res, nats.StageConfirmed, nil)
	} else {
		p.recordLaunch("unconfirmed", receipt.ConfirmationErr)
		p.publish(ctx, res, nats.StageUnconfirmed, receipt.ConfirmationErr)
	}

	logger.InfoContext(ctx, "launch finished",
		"bundle_id", receipt.BundleID,
		"anchor", receipt.AnchorSignature.String(),
		"confirmed", receipt.Confirmed,
	)
	return res, nil
}

// resolveTables prepares the run's table and reads the shared one. Both
// must resolve to a non-empty entry list before anything compiles.
func (p *Pipeline) resolveTables(ctx context.Context, res *Result, ids []signers.Identity, dryRun bool) ([]*lookup.ResolvedAddresses, error) {
	operator := p.ids.Operator.PublicKey()
	addresses, err := pumpfun.LaunchAddresses(res.Mint, operator, signers.PublicKeys(ids))
	if err != nil {
		return nil, err
	}
	res.TableAddresses = len(addresses)

	var own *lookup.ResolvedAddresses
	if dryRun {
		own, err = p.simulateTable(res, addresses)
	} else {
		own, err = p.buildTable(ctx, res, addresses)
	}
	if err != nil {
		return nil, err
	}

	tables := []*lookup.ResolvedAddresses{own}
	if !p.cfg.SharedTable.IsZero() {
		shared, err := p.deps.Tables.ReadResolved(ctx, p.cfg.SharedTable)
		if err != nil {
			return nil, fmt.Errorf("shared lookup table %s: %w", p.cfg.SharedTable, err)
		}
		tables = append(tables, shared)
	}
	return tables, nil
}

func (p *Pipeline) buildTable(ctx context.Context, res *Result, addresses solanago.PublicKeySlice) (*lookup.ResolvedAddresses, error) {
	table, err := p.deps.Tables.Create(ctx)
	if err != nil {
		return nil, err
	}
	res.Table = table.Address

	rev, err := p.deps.Tables.Extend(ctx, table.Address, addresses)
	if rev != nil {
		res.ExtendBatches = rev.Batches
	}
	if err != nil {
		return nil, err
	}

	if err := p.deps.Tables.WaitActive(ctx, rev.LastSlot); err != nil {
		return nil, err
	}
	return p.deps.Tables.ReadResolved(ctx, table.Address)
}

func (p *Pipeline) simulateTable(res *Result, addresses solanago.PublicKeySlice) (*lookup.ResolvedAddresses, error) {
	address, _, err := lookup.DeriveAddress(p.ids.Operator.PublicKey(), 0)
	if err != nil {
		return nil, err
	}
	res.Table = address
	res.ExtendBatches = p.deps.Tables.BatchCount(len(addresses))
	return &lookup.ResolvedAddresses{Table: address, Addresses: addresses}, nil
}

func (p *Pipeline) compileAnchor(ctx context.Context, res *Result) (*compiler.CompiledTransaction, error) {
	operator := p.ids.Operator.PublicKey()
	createIxs, err := p.deps.Encoder.CreateAndBuyInstructions(ctx, pumpfun.CreateRequest{
		Creator:     operator,
		Mint:        res.Mint,
		Name:        p.cfg.Token.Name,
		Symbol:      p.cfg.Token.Symbol,
		URI:         p.cfg.Token.URI,
		Lamports:    p.cfg.DevBuyLamports,
		SlippageBps: p.cfg.SlippageBps,
		Commitment:  p.cfg.Commitment,
	})
	if err != nil {
		return nil, &faults.ChunkError{Index: compiler.AnchorIndex, Err: err}
	}

	ixs, tip := p.deps.Assembler.AnchorInstructions(createIxs)
	res.TipAccount = tip

	anchor, err := p.deps.Compiler.Compile(ctx, compiler.Request{
		ChunkIndex:   compiler.AnchorIndex,
		Label:        "anchor",
		Payer:        operator,
		Instructions: ixs,
		Signers:      []solanago.PrivateKey{p.ids.Operator, p.ids.Mint},
	})
	if err != nil {
		return nil, err
	}
	res.AnchorLen = anchor.SerializedLen
	return anchor, nil
}

func (p *Pipeline) compileChunk(ctx context.Context, c planner.Chunk, tables []*lookup.ResolvedAddresses) (*compiler.CompiledTransaction, ChunkSummary, error) {
	plan, err := p.deps.Planner.Plan(ctx, c, p.ids.Mint.PublicKey())
	if err != nil {
		return nil, ChunkSummary{}, err
	}

	ct, err := p.deps.Compiler.Compile(ctx, compiler.Request{
		ChunkIndex:   c.Index,
		Label:        fmt.Sprintf("chunk-%d", c.Index),
		Payer:        plan.Payer,
		Instructions: plan.Instructions,
		Signers:      plan.Signers,
		Tables:       tables,
	})
	if err != nil {
		return nil, ChunkSummary{}, err
	}

	summary := ChunkSummary{
		Index:         c.Index,
		Signers:       len(c.Signers),
		Payer:         plan.Payer,
		Instructions:  len(plan.Instructions),
		SerializedLen: ct.SerializedLen,
		Compressed:    len(ct.Compressed),
	}
	for _, intent := range plan.Intents {
		summary.Lamports += intent.Lamports
	}
	return ct, summary, nil
}

// storeReceipt writes the receipt if a store is configured. A failed write
// is logged; the bundle has already left and the run's outcome stands.
func (p *Pipeline) storeReceipt(ctx context.Context, res *Result) {
	if p.deps.Store == nil || res.Receipt == nil {
		return
	}
	r := res.Receipt

	params := db.CreateBundleReceiptParams{
		LaunchID:         res.LaunchID,
		Mint:             res.Mint.String(),
		LookupTable:      res.Table.String(),
		Endpoint:         r.Endpoint,
		AnchorSignature:  r.AnchorSignature.String(),
		TransactionCount: int32(r.TransactionCount),
		Status:           submissionStatus(r.SubmissionErr),
		Confirmed:        r.Confirmed,
		LatencyMillis:    r.Latency.Milliseconds(),
		SubmittedAt:      r.SubmittedAt,
	}
	for _, sig := range r.Signatures {
		params.Signatures = append(params.Signatures, sig.String())
	}
	if r.BundleID != "" {
		params.BundleID = &r.BundleID
	}
	if r.SubmissionErr != nil {
		msg := r.SubmissionErr.Error()
		params.SubmissionError = &msg
	}
	if r.ConfirmationErr != nil {
		msg := r.ConfirmationErr.Error()
		params.ConfirmationError = &msg
	}

	if _, err := p.deps.Store.CreateBundleReceipt(ctx, params); err != nil {
		p.logger.ErrorContext(ctx, "failed to store bundle receipt",
			"launch_id", res.LaunchID,
			"error", err,
		)
	}
}

func submissionStatus(err error) string {
	switch {
	case err == nil:
		return db.StatusAccepted
	case errors.Is(err, faults.ErrRelayUnreachable):
		return db.StatusUnreachable
	default:
		return db.StatusRejected
	}
}

// publish emits a stage event. Publishing is best effort.
func (p *Pipeline) publish(ctx context.Context, res *Result, stage nats.Stage, err error) {
	if p.deps.Publisher == nil {
		return
	}

	event := &nats.LaunchEvent{
		LaunchID:    res.LaunchID,
		Mint:        res.Mint.String(),
		Stage:       stage,
		PublishedAt: time.Now(),
	}
	if !res.Table.IsZero() {
		event.LookupTable = res.Table.String()
	}
	if res.Bundle != nil {
		event.Transactions = len(res.Bundle.Transactions)
	}
	if r := res.Receipt; r != nil {
		event.BundleID = r.BundleID
		event.AnchorSignature = r.AnchorSignature.String()
		event.LatencyMillis = r.Latency.Milliseconds()
		for _, sig := range r.Signatures {
			event.Signatures = append(event.Signatures, sig.String())
		}
	}
	if err != nil {
		event.Error = err.Error()
	}

	if perr := p.deps.Publisher.PublishLaunchEvent(ctx, event); perr != nil {
		p.logger.WarnContext(ctx, "failed to publish launch event",
			"stage", stage,
			"error", perr,
		)
	}
}

func (p *Pipeline) recordLaunch(stage string, err error) {
	if p.metrics != nil {
		p.metrics.RecordLaunch(stage, err)
	}
}
