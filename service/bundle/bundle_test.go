package bundle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/brojonat/launchbundle/service/compiler"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/lookup"
	"github.com/brojonat/launchbundle/service/planner"
	"github.com/brojonat/launchbundle/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	compiler  *compiler.Compiler
	assembler *Assembler
	operator  solanago.PrivateKey
}

func newFixture(t *testing.T, cfg Config, draws ...int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := solana.NewClient(solana.NewMockRPCClient(500), "test", nil, logger)
	operator, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return &fixture{
		compiler:  compiler.NewCompiler(ledger, 0, nil, logger),
		assembler: NewAssembler(operator.PublicKey(), cfg, planner.NewSequenceSource(draws...), logger),
		operator:  operator,
	}
}

func (f *fixture) anchor(t *testing.T) *compiler.CompiledTransaction {
	t.Helper()
	ixs, _ := f.assembler.AnchorInstructions([]solanago.Instruction{
		system.NewTransferInstruction(1, f.operator.PublicKey(), solanago.NewWallet().PublicKey()).Build(),
	})
	ct, err := f.compiler.Compile(context.Background(), compiler.Request{
		ChunkIndex:   compiler.AnchorIndex,
		Label:        "anchor",
		Payer:        f.operator.PublicKey(),
		Instructions: ixs,
		Signers:      []solanago.PrivateKey{f.operator},
	})
	require.NoError(t, err)
	return ct
}

func (f *fixture) chunk(t *testing.T, index int, table *lookup.ResolvedAddresses, recipients solanago.PublicKeySlice) *compiler.CompiledTransaction {
	t.Helper()
	payer, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	var ixs []solanago.Instruction
	for _, r := range recipients {
		ixs = append(ixs, system.NewTransferInstruction(10, payer.PublicKey(), r).Build())
	}
	req := compiler.Request{
		ChunkIndex:   index,
		Payer:        payer.PublicKey(),
		Instructions: ixs,
		Signers:      []solanago.PrivateKey{payer},
	}
	if table != nil {
		req.Tables = []*lookup.ResolvedAddresses{table}
	}
	ct, err := f.compiler.Compile(context.Background(), req)
	require.NoError(t, err)
	return ct
}

func keys(n int) solanago.PublicKeySlice {
	out := make(solanago.PublicKeySlice, n)
	for i := range out {
		out[i] = solanago.NewWallet().PublicKey()
	}
	return out
}

func TestAnchorInstructions(t *testing.T) {
	f := newFixture(t, Config{TipLamports: 100_000}, 5)
	create := system.NewTransferInstruction(1, f.operator.PublicKey(), solanago.NewWallet().PublicKey()).Build()

	ixs, tip := f.assembler.AnchorInstructions([]solanago.Instruction{create})
	require.Len(t, ixs, 2)
	assert.Equal(t, TipAccounts[5], tip)

	accounts := ixs[1].Accounts()
	assert.True(t, accounts[0].PublicKey.Equals(f.operator.PublicKey()))
	assert.True(t, accounts[1].PublicKey.Equals(TipAccounts[5]))
}

func TestTipSelection_CoversPool(t *testing.T) {
	f := newFixture(t, Config{}, 0, 1, 2, 3, 4, 5, 6, 7)
	seen := map[solanago.PublicKey]bool{}
	for range TipAccounts {
		_, tip := f.assembler.AnchorInstructions(nil)
		seen[tip] = true
	}
	assert.Len(t, seen, len(TipAccounts))
}

func TestAssemble_Ordering(t *testing.T) {
	f := newFixture(t, Config{TipLamports: 1000}, 2)

	recipients := keys(6)
	table := &lookup.ResolvedAddresses{Table: solanago.NewWallet().PublicKey(), Addresses: recipients}

	anchor := f.anchor(t)
	chunks := []*compiler.CompiledTransaction{
		f.chunk(t, 0, table, recipients[:2]),
		f.chunk(t, 1, table, recipients[2:4]),
		f.chunk(t, 2, table, recipients[4:]),
	}

	b, err := f.assembler.Assemble(anchor, chunks, table)
	require.NoError(t, err)
	require.Len(t, b.Transactions, 4)

	assert.Same(t, anchor, b.Anchor())
	for i, ct := range chunks {
		assert.Same(t, ct, b.Transactions[i+1])
	}
	assert.Equal(t, TipAccounts[2], b.TipAccount)

	sigs := b.Signatures()
	assert.Equal(t, anchor.Signature(), sigs[0])

	encoded, err := b.Encode()
	require.NoError(t, err)
	require.Len(t, encoded, 4)
	raw, err := base58.Decode(encoded[0])
	require.NoError(t, err)
	decoded, err := solanago.TransactionFromBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, anchor.Signature(), decoded.Signatures[0])
}

func TestAssemble_UnresolvedAddress(t *testing.T) {
	f := newFixture(t, Config{}, 0)
	recipients := keys(4)
	full := &lookup.ResolvedAddresses{Table: solanago.NewWallet().PublicKey(), Addresses: recipients}

	t.Run("address missing from resolved entries", func(t *testing.T) {
		chunks := []*compiler.CompiledTransaction{
			f.chunk(t, 0, full, recipients[:1]),
			f.chunk(t, 1, full, recipients[1:]),
		}
		stale := &lookup.ResolvedAddresses{Table: full.Table, Addresses: recipients[:2]}

		_, err := f.assembler.Assemble(f.anchor(t), chunks, stale)
		require.Error(t, err)
		assert.ErrorIs(t, err, faults.ErrUnresolvedAddress)

		var chunkErr *faults.ChunkError
		require.True(t, errors.As(err, &chunkErr))
		assert.Equal(t, 1, chunkErr.Index)
	})

	t.Run("table not among resolved tables", func(t *testing.T) {
		chunks := []*compiler.CompiledTransaction{f.chunk(t, 0, full, recipients)}
		other := &lookup.ResolvedAddresses{Table: solanago.NewWallet().PublicKey(), Addresses: recipients}

		_, err := f.assembler.Assemble(f.anchor(t), chunks, other)
		assert.ErrorIs(t, err, faults.ErrUnresolvedAddress)
	})
}

func TestAssemble_TooLarge(t *testing.T) {
	f := newFixture(t, Config{MaxTransactions: 2}, 0)
	chunks := []*compiler.CompiledTransaction{
		f.chunk(t, 0, nil, keys(1)),
		f.chunk(t, 1, nil, keys(1)),
	}

	_, err := f.assembler.Assemble(f.anchor(t), chunks)
	assert.ErrorIs(t, err, faults.ErrBundleTooLarge)
	assert.True(t, faults.IsCompile(err))
}

func TestAssemble_MissingAnchor(t *testing.T) {
	f := newFixture(t, Config{}, 0)
	_, err := f.assembler.Assemble(nil, nil)
	assert.Error(t, err)
}
