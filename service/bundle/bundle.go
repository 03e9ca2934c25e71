// Package bundle assembles the anchor and chunk transactions into the ordered
// list submitted to the relay.
package bundle

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/launchbundle/service/compiler"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/lookup"
	"github.com/brojonat/launchbundle/service/planner"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
)

// TipAccounts are the relay's tip receivers. One is picked per bundle.
var TipAccounts = []solanago.PublicKey{
	solanago.MustPublicKeyFromBase58("ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49"),
	solanago.MustPublicKeyFromBase58("DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL"),
	solanago.MustPublicKeyFromBase58("Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY"),
	solanago.MustPublicKeyFromBase58("ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt"),
	solanago.MustPublicKeyFromBase58("HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe"),
	solanago.MustPublicKeyFromBase58("DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh"),
	solanago.MustPublicKeyFromBase58("3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT"),
	solanago.MustPublicKeyFromBase58("96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5"),
}

// Bundle is the ordered transaction list. Position 0 is the anchor.
type Bundle struct {
	Transactions []*compiler.CompiledTransaction
	TipAccount   solanago.PublicKey
}

// Anchor returns the first transaction.
func (b *Bundle) Anchor() *compiler.CompiledTransaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

// Signatures returns each transaction's identifying signature, in order.
func (b *Bundle) Signatures() []solanago.Signature {
	out := make([]solanago.Signature, len(b.Transactions))
	for i, ct := range b.Transactions {
		out[i] = ct.Signature()
	}
	return out
}

// Encode serializes every transaction and base58 encodes it, in order.
func (b *Bundle) Encode() ([]string, error) {
	out := make([]string, len(b.Transactions))
	for i, ct := range b.Transactions {
		raw, err := ct.Tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("serialize transaction %d: %w", i, err)
		}
		out[i] = base58.Encode(raw)
	}
	return out, nil
}

// Config tunes the assembler.
type Config struct {
	TipLamports uint64
	// MaxTransactions caps the bundle length. Zero means no cap.
	MaxTransactions int
}

// Assembler builds the anchor's tip and orders the bundle.
type Assembler struct {
	operator solanago.PublicKey
	cfg      Config
	rnd      planner.RandomSource
	logger   *slog.Logger

	tipAccount solanago.PublicKey
}

// NewAssembler creates an Assembler for bundles tipped by operator.
func NewAssembler(operator solanago.PublicKey, cfg Config, rnd planner.RandomSource, logger *slog.Logger) *Assembler {
	return &Assembler{
		operator: operator,
		cfg:      cfg,
		rnd:      rnd,
		logger:   logger,
	}
}

// AnchorInstructions appends a tip transfer from the operator to a randomly
// chosen tip account after the creation instructions.
func (a *Assembler) AnchorInstructions(createIxs []solanago.Instruction) ([]solanago.Instruction, solanago.PublicKey) {
	a.tipAccount = TipAccounts[a.rnd.IntN(len(TipAccounts))]
	tip := system.NewTransferInstruction(a.cfg.TipLamports, a.operator, a.tipAccount).Build()

	ixs := make([]solanago.Instruction, 0, len(createIxs)+1)
	ixs = append(ixs, createIxs...)
	ixs = append(ixs, tip)

	a.logger.Debug("tip account selected",
		"tip_account", a.tipAccount.String(),
		"lamports", a.cfg.TipLamports,
	)
	return ixs, a.tipAccount
}

// Assemble places anchor first and chunks after it in the given order. Every
// table a transaction references must be one of tables, and every address it
// compresses must appear in their resolved entries.
func (a *Assembler) Assemble(anchor *compiler.CompiledTransaction, chunks []*compiler.CompiledTransaction, tables ...*lookup.ResolvedAddresses) (*Bundle, error) {
	if anchor == nil {
		return nil, fmt.Errorf("assemble: missing anchor transaction")
	}

	total := 1 + len(chunks)
	if a.cfg.MaxTransactions > 0 && total > a.cfg.MaxTransactions {
		return nil, fmt.Errorf("%w: %d transactions, limit %d", faults.ErrBundleTooLarge, total, a.cfg.MaxTransactions)
	}

	known := make(map[solanago.PublicKey]struct{}, len(tables))
	resolved := make(map[solanago.PublicKey]struct{})
	for _, t := range tables {
		known[t.Table] = struct{}{}
		for _, addr := range t.Addresses {
			resolved[addr] = struct{}{}
		}
	}

	b := &Bundle{
		Transactions: make([]*compiler.CompiledTransaction, 0, total),
		TipAccount:   a.tipAccount,
	}
	for _, ct := range append([]*compiler.CompiledTransaction{anchor}, chunks...) {
		if err := checkResolvable(ct, known, resolved); err != nil {
			return nil, &faults.ChunkError{Index: ct.ChunkIndex, Err: err}
		}
		b.Transactions = append(b.Transactions, ct)
	}

	a.logger.Info("bundle assembled",
		"transactions", len(b.Transactions),
		"anchor", anchor.Signature().String(),
	)
	return b, nil
}

func checkResolvable(ct *compiler.CompiledTransaction, known, resolved map[solanago.PublicKey]struct{}) error {
	for _, l := range ct.Tx.Message.AddressTableLookups {
		if _, ok := known[l.AccountKey]; !ok {
			return fmt.Errorf("%w: table %s is not a resolved table", faults.ErrUnresolvedAddress, l.AccountKey)
		}
	}
	for _, addr := range ct.Compressed {
		if _, ok := resolved[addr]; !ok {
			return fmt.Errorf("%w: %s", faults.ErrUnresolvedAddress, addr)
		}
	}
	return nil
}
