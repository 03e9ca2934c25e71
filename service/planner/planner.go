// Package planner splits the signer set into chunks and turns each chunk into
// the instruction list of one transaction.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/pumpfun"
	"github.com/brojonat/launchbundle/service/signers"
	solanago "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
)

// Jitter bounds in percent, inclusive.
const (
	MinJitterPercent = 10
	MaxJitterPercent = 25
)

// Chunk is a contiguous slice of the signer list. All its signers sign the
// same transaction.
type Chunk struct {
	Index   int
	Signers []signers.Identity
}

// BuyIntent is one signer's jittered purchase.
type BuyIntent struct {
	Buyer         solanago.PublicKey
	Mint          solanago.PublicKey
	BaseLamports  uint64
	JitterPercent int
	Increase      bool
	Lamports      uint64
}

// ChunkPlan is a chunk ready for compilation.
type ChunkPlan struct {
	Chunk        Chunk
	Payer        solanago.PublicKey
	Intents      []BuyIntent
	Instructions []solanago.Instruction
	Signers      []solanago.PrivateKey
}

// BuyEncoder produces the instructions for one purchase.
type BuyEncoder interface {
	BuyInstructions(ctx context.Context, req pumpfun.BuyRequest) ([]solanago.Instruction, error)
}

// Config holds the per-launch purchase settings.
type Config struct {
	BuyLamports      uint64
	SlippageBps      uint64
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	Commitment       rpc.CommitmentType
}

// Partition splits ids into chunks of size, keeping input order. The last
// chunk holds the remainder.
func Partition(ids []signers.Identity, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", faults.ErrInvalidChunkSize, size)
	}
	chunks := make([]Chunk, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, Chunk{
			Index:   len(chunks),
			Signers: ids[start:end:end],
		})
	}
	return chunks, nil
}

// Jitter perturbs base by a percentage drawn uniformly from
// [MinJitterPercent, MaxJitterPercent]. An odd draw raises the amount and an
// even draw lowers it. Fractions round toward base, so the result stays
// within 25% of base and is positive whenever base is.
func Jitter(base uint64, rnd RandomSource) BuyIntent {
	p := MinJitterPercent + rnd.IntN(MaxJitterPercent-MinJitterPercent+1)
	delta := percentOf(base, uint64(p))

	intent := BuyIntent{
		BaseLamports:  base,
		JitterPercent: p,
		Increase:      p%2 == 1,
	}
	if intent.Increase {
		if base > math.MaxUint64-delta {
			intent.Lamports = math.MaxUint64
		} else {
			intent.Lamports = base + delta
		}
	} else {
		intent.Lamports = base - delta
	}
	return intent
}

// percentOf returns floor(v*p/100). p must be below 100.
func percentOf(v, p uint64) uint64 {
	hi, lo := bits.Mul64(v, p)
	out, _ := bits.Div64(hi, lo, 100)
	return out
}

// Planner builds chunk plans.
type Planner struct {
	encoder BuyEncoder
	rnd     RandomSource
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewPlanner creates a Planner. If metrics is nil, no metrics will be recorded.
func NewPlanner(encoder BuyEncoder, rnd RandomSource, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Planner {
	return &Planner{
		encoder: encoder,
		rnd:     rnd,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Plan requests buy instructions for every signer in chunk, in order, and
// appends one compute unit limit and one compute unit price instruction.
// The first signer pays.
func (p *Planner) Plan(ctx context.Context, chunk Chunk, mint solanago.PublicKey) (*ChunkPlan, error) {
	if len(chunk.Signers) == 0 {
		return nil, fmt.Errorf("chunk %d has no signers", chunk.Index)
	}

	plan := &ChunkPlan{
		Chunk: chunk,
		Payer: chunk.Signers[0].PublicKey,
	}

	for _, id := range chunk.Signers {
		intent := Jitter(p.cfg.BuyLamports, p.rnd)
		intent.Buyer = id.PublicKey
		intent.Mint = mint

		ixs, err := p.encoder.BuyInstructions(ctx, pumpfun.BuyRequest{
			Buyer:       id.PublicKey,
			Mint:        mint,
			Lamports:    intent.Lamports,
			SlippageBps: p.cfg.SlippageBps,
			Commitment:  p.cfg.Commitment,
		})
		if err != nil {
			return nil, &faults.ChunkError{
				Index: chunk.Index,
				Err:   fmt.Errorf("buy instructions for %s: %w", id.PublicKey, err),
			}
		}

		plan.Intents = append(plan.Intents, intent)
		plan.Instructions = append(plan.Instructions, ixs...)
		plan.Signers = append(plan.Signers, id.PrivateKey)

		if p.metrics != nil {
			p.metrics.RecordBuyAmount(intent.Lamports)
		}
	}

	plan.Instructions = append(plan.Instructions,
		computebudget.NewSetComputeUnitLimitInstruction(p.cfg.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(p.cfg.ComputeUnitPrice).Build(),
	)

	if p.metrics != nil {
		p.metrics.RecordChunk(len(chunk.Signers))
	}
	p.logger.DebugContext(ctx, "chunk planned",
		"chunk", chunk.Index,
		"signers", len(chunk.Signers),
		"instructions", len(plan.Instructions),
		"payer", plan.Payer.String(),
	)
	return plan, nil
}
