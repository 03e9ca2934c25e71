package planner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/pumpfun"
	"github.com/brojonat/launchbundle/service/signers"
	solanago "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEncoder returns one transfer per buy and records requests.
type mockEncoder struct {
	mu       sync.Mutex
	requests []pumpfun.BuyRequest
	failOn   solanago.PublicKey
}

func (m *mockEncoder) BuyInstructions(ctx context.Context, req pumpfun.BuyRequest) ([]solanago.Instruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Buyer.Equals(m.failOn) {
		return nil, errors.New("curve exhausted")
	}
	m.requests = append(m.requests, req)
	return []solanago.Instruction{
		system.NewTransferInstruction(req.Lamports, req.Buyer, req.Mint).Build(),
	}, nil
}

func identities(t *testing.T, n int) []signers.Identity {
	t.Helper()
	ids, err := signers.Generate(n)
	require.NoError(t, err)
	return ids
}

func TestPartition(t *testing.T) {
	ids := identities(t, 12)

	chunks, err := Partition(ids, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	sizes := []int{len(chunks[0].Signers), len(chunks[1].Signers), len(chunks[2].Signers)}
	assert.Equal(t, []int{5, 5, 2}, sizes)

	// concatenation reproduces the input
	var flat []signers.Identity
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		flat = append(flat, c.Signers...)
	}
	assert.Equal(t, ids, flat)
}

func TestPartition_ChunksDoNotShareCapacity(t *testing.T) {
	ids := identities(t, 10)
	second := ids[5]

	chunks, err := Partition(ids, 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	extra := identities(t, 1)[0]
	chunks[0].Signers = append(chunks[0].Signers, extra)

	assert.Equal(t, second, chunks[1].Signers[0])
	assert.Equal(t, second, ids[5])
	assert.Len(t, chunks[0].Signers, 6)
}

func TestPartition_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		size   int
		chunks int
		err    error
	}{
		{name: "empty input", n: 0, size: 5, chunks: 0},
		{name: "exact multiple", n: 10, size: 5, chunks: 2},
		{name: "size larger than input", n: 3, size: 5, chunks: 1},
		{name: "size one", n: 4, size: 1, chunks: 4},
		{name: "zero size", n: 4, size: 0, err: faults.ErrInvalidChunkSize},
		{name: "negative size", n: 4, size: -2, err: faults.ErrInvalidChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Partition(identities(t, tt.n), tt.size)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.True(t, faults.IsConfiguration(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, chunks, tt.chunks)
		})
	}
}

func TestJitter_Bounds(t *testing.T) {
	const base = 100_000
	rnd := NewRandomSource(42)

	for i := 0; i < 1000; i++ {
		intent := Jitter(base, rnd)
		assert.GreaterOrEqual(t, intent.JitterPercent, MinJitterPercent)
		assert.LessOrEqual(t, intent.JitterPercent, MaxJitterPercent)
		assert.GreaterOrEqual(t, intent.Lamports, uint64(base*75/100))
		assert.LessOrEqual(t, intent.Lamports, uint64(base*125/100))
		assert.Equal(t, intent.JitterPercent%2 == 1, intent.Increase)
	}
}

func TestJitter_Direction(t *testing.T) {
	tests := []struct {
		name     string
		draw     int
		base     uint64
		expected uint64
	}{
		// draw 0 -> 10%, even, decrease
		{name: "even decreases", draw: 0, base: 100_000, expected: 90_000},
		// draw 1 -> 11%, odd, increase
		{name: "odd increases", draw: 1, base: 100_000, expected: 111_000},
		// draw 15 -> 25%
		{name: "upper bound", draw: 15, base: 100_000, expected: 125_000},
		// 10% of 7 is 0.7; rounding toward base keeps 7
		{name: "tiny base stays positive", draw: 0, base: 7, expected: 7},
		{name: "one lamport", draw: 14, base: 1, expected: 1},
		{name: "zero base", draw: 3, base: 0, expected: 0},
		{name: "saturates", draw: 1, base: ^uint64(0), expected: ^uint64(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := Jitter(tt.base, NewSequenceSource(tt.draw))
			assert.Equal(t, tt.expected, intent.Lamports)
			assert.Equal(t, tt.base, intent.BaseLamports)
		})
	}
}

func TestNewRandomSource_Seeded(t *testing.T) {
	a := NewRandomSource(7)
	b := NewRandomSource(7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.IntN(1000), b.IntN(1000))
	}
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	enc := &mockEncoder{}
	p := NewPlanner(enc, NewSequenceSource(0, 1), Config{
		BuyLamports:      100_000,
		SlippageBps:      500,
		ComputeUnitLimit: 1_000_000,
		ComputeUnitPrice: 10_000,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ids := identities(t, 3)
	mint := solanago.NewWallet().PublicKey()

	plan, err := p.Plan(ctx, Chunk{Index: 2, Signers: ids}, mint)
	require.NoError(t, err)

	assert.Equal(t, ids[0].PublicKey, plan.Payer)
	require.Len(t, plan.Intents, 3)
	assert.Equal(t, uint64(90_000), plan.Intents[0].Lamports)
	assert.Equal(t, uint64(111_000), plan.Intents[1].Lamports)
	assert.Equal(t, uint64(90_000), plan.Intents[2].Lamports)
	assert.Len(t, plan.Signers, 3)

	// 3 buys + exactly one limit + one price
	require.Len(t, plan.Instructions, 5)
	budget := 0
	for _, ix := range plan.Instructions {
		if ix.ProgramID().Equals(computebudget.ProgramID) {
			budget++
		}
	}
	assert.Equal(t, 2, budget)
	assert.True(t, plan.Instructions[3].ProgramID().Equals(computebudget.ProgramID))
	assert.True(t, plan.Instructions[4].ProgramID().Equals(computebudget.ProgramID))

	require.Len(t, enc.requests, 3)
	for i, req := range enc.requests {
		assert.Equal(t, ids[i].PublicKey, req.Buyer)
		assert.Equal(t, mint, req.Mint)
		assert.Equal(t, uint64(500), req.SlippageBps)
	}
}

func TestPlan_EncoderFailure(t *testing.T) {
	ids := identities(t, 2)
	enc := &mockEncoder{failOn: ids[1].PublicKey}
	p := NewPlanner(enc, NewRandomSource(1), Config{BuyLamports: 1000}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := p.Plan(context.Background(), Chunk{Index: 4, Signers: ids}, solanago.NewWallet().PublicKey())
	require.Error(t, err)

	var chunkErr *faults.ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 4, chunkErr.Index)
}

func TestPlan_EmptyChunk(t *testing.T) {
	p := NewPlanner(&mockEncoder{}, NewRandomSource(1), Config{}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := p.Plan(context.Background(), Chunk{}, solanago.NewWallet().PublicKey())
	assert.Error(t, err)
}
