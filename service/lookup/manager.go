// Package lookup creates, extends and reads back address lookup tables.
//
// A table is created once per launch, extended append-only in bounded
// batches, and only becomes usable for compression once the configured
// number of slots has passed since its last extension.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// Ledger is the subset of the ledger client the manager needs.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Blockhash, error)
	CurrentSlot(ctx context.Context) (uint64, error)
	GetLookupTable(ctx context.Context, address solanago.PublicKey) (*solana.LookupTableState, error)
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	AwaitConfirmation(ctx context.Context, sig solanago.Signature, lastValidBlockHeight uint64) error
}

// Config tunes batching and activation.
type Config struct {
	// BatchSize caps the addresses carried by one extend transaction.
	BatchSize int
	// ActivationSlots is how many slots must pass after the last
	// extension before the table may be used.
	ActivationSlots uint64
	// ActivationTimeout bounds WaitActive.
	ActivationTimeout time.Duration
	// PollInterval is how often WaitActive samples the slot.
	PollInterval time.Duration
}

// DefaultConfig returns the settings used when none are supplied.
func DefaultConfig() Config {
	return Config{
		BatchSize:         20,
		ActivationSlots:   1,
		ActivationTimeout: 30 * time.Second,
		PollInterval:      400 * time.Millisecond,
	}
}

// Table is a lookup table created during this run.
type Table struct {
	Address      solanago.PublicKey
	Authority    solanago.PublicKey
	CreationSlot uint64
	Signature    solanago.Signature
}

// Revision is the outcome of a fully confirmed extension.
type Revision struct {
	Table      solanago.PublicKey
	Added      solanago.PublicKeySlice
	Batches    int
	Signatures []solanago.Signature
	LastSlot   uint64
}

// ResolvedAddresses is a table's entry list as read back from the ledger.
type ResolvedAddresses struct {
	Table            solanago.PublicKey
	Addresses        solanago.PublicKeySlice
	LastExtendedSlot uint64
}

// Manager drives the lookup table lifecycle. The operator key is both
// authority and fee payer.
type Manager struct {
	ledger   Ledger
	operator solanago.PrivateKey
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates a Manager. If metrics is nil, no metrics will be recorded.
func NewManager(ledger Ledger, operator solanago.PrivateKey, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ActivationTimeout <= 0 {
		cfg.ActivationTimeout = def.ActivationTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Manager{
		ledger:   ledger,
		operator: operator,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// BatchCount returns how many extend transactions n new addresses need.
func (m *Manager) BatchCount(n int) int {
	return (n + m.cfg.BatchSize - 1) / m.cfg.BatchSize
}

// Create derives a fresh table address from the current slot and creates it.
// A send or confirmation failure is reported as faults.ErrRelayRejected.
func (m *Manager) Create(ctx context.Context) (*Table, error) {
	authority := m.operator.PublicKey()

	slot, err := m.ledger.CurrentSlot(ctx)
	if err != nil {
		m.recordOp("create", err)
		return nil, fmt.Errorf("create lookup table: %w", err)
	}

	ix, address, err := CreateInstruction(authority, authority, slot)
	if err != nil {
		m.recordOp("create", err)
		return nil, fmt.Errorf("create lookup table: %w", err)
	}

	sig, err := m.sendAndConfirm(ctx, ix)
	m.recordOp("create", err)
	if err != nil {
		return nil, fmt.Errorf("create lookup table %s: %w: %w", address, faults.ErrRelayRejected, err)
	}

	m.logger.InfoContext(ctx, "lookup table created",
		"table", address.String(),
		"slot", slot,
		"signature", sig.String(),
	)

	return &Table{
		Address:      address,
		Authority:    authority,
		CreationSlot: slot,
		Signature:    sig,
	}, nil
}

// Extend appends addresses to table in batches of at most BatchSize. Entries
// already in the table and repeats within addresses are dropped first. Each
// batch is confirmed before the next is sent; any failure stops the
// extension and returns a *faults.PartialExtensionError.
func (m *Manager) Extend(ctx context.Context, table solanago.PublicKey, addresses solanago.PublicKeySlice) (*Revision, error) {
	state, err := m.ledger.GetLookupTable(ctx, table)
	if err != nil {
		m.recordOp("extend", err)
		return nil, fmt.Errorf("extend lookup table: %w", err)
	}

	pending := dedupe(state.Addresses, addresses)
	if len(state.Addresses)+len(pending) > MaxAddresses {
		err := fmt.Errorf("%w: %d existing + %d new exceeds %d",
			faults.ErrTableFull, len(state.Addresses), len(pending), MaxAddresses)
		m.recordOp("extend", err)
		return nil, err
	}

	rev := &Revision{Table: table}
	total := m.BatchCount(len(pending))

	for start := 0; start < len(pending); start += m.cfg.BatchSize {
		end := min(start+m.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		sig, err := m.sendBatch(ctx, table, batch)
		if err != nil {
			m.recordOp("extend", err)
			m.logger.ErrorContext(ctx, "lookup table extension failed",
				"table", table.String(),
				"batch", rev.Batches+1,
				"total_batches", total,
				"error", err,
			)
			return rev, &faults.PartialExtensionError{
				Table:            table.String(),
				ConfirmedBatches: rev.Batches,
				TotalBatches:     total,
				Confirmed:        len(rev.Added),
				Err:              err,
			}
		}

		rev.Batches++
		rev.Added = append(rev.Added, batch...)
		rev.Signatures = append(rev.Signatures, sig)
		if m.metrics != nil {
			m.metrics.RecordTableAddresses(len(batch))
		}
		m.logger.DebugContext(ctx, "lookup table batch confirmed",
			"table", table.String(),
			"batch", rev.Batches,
			"total_batches", total,
			"addresses", len(batch),
		)
	}

	slot, err := m.ledger.CurrentSlot(ctx)
	if err != nil {
		m.recordOp("extend", err)
		return rev, fmt.Errorf("extend lookup table: %w", err)
	}
	rev.LastSlot = slot
	m.recordOp("extend", nil)

	m.logger.InfoContext(ctx, "lookup table extended",
		"table", table.String(),
		"added", len(rev.Added),
		"skipped", len(addresses)-len(pending),
		"batches", rev.Batches,
	)
	return rev, nil
}

func (m *Manager) sendBatch(ctx context.Context, table solanago.PublicKey, batch solanago.PublicKeySlice) (solanago.Signature, error) {
	authority := m.operator.PublicKey()
	ix, err := ExtendInstruction(table, authority, authority, batch)
	if err != nil {
		return solanago.Signature{}, err
	}
	return m.sendAndConfirm(ctx, ix)
}

// WaitActive blocks until ActivationSlots slots have passed since lastSlot.
// It gives up with faults.ErrTableNotActivated after ActivationTimeout.
func (m *Manager) WaitActive(ctx context.Context, lastSlot uint64) error {
	start := time.Now()
	target := lastSlot + m.cfg.ActivationSlots

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ActivationTimeout)
	defer cancel()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		slot, err := m.ledger.CurrentSlot(ctx)
		if err == nil && slot >= target {
			if m.metrics != nil {
				m.metrics.RecordActivationWait(time.Since(start).Seconds())
			}
			m.logger.DebugContext(ctx, "lookup table active",
				"slot", slot,
				"target", target,
			)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: target slot %d", faults.ErrTableNotActivated, target)
		case <-ticker.C:
		}
	}
}

// ReadResolved fetches the current entries of a table. A missing table
// yields faults.ErrTableNotFound and one without entries faults.ErrEmptyTable.
func (m *Manager) ReadResolved(ctx context.Context, address solanago.PublicKey) (*ResolvedAddresses, error) {
	state, err := m.ledger.GetLookupTable(ctx, address)
	if err != nil {
		m.recordOp("read", err)
		return nil, err
	}
	if len(state.Addresses) == 0 {
		err := fmt.Errorf("%w: %s", faults.ErrEmptyTable, address)
		m.recordOp("read", err)
		return nil, err
	}
	m.recordOp("read", nil)

	return &ResolvedAddresses{
		Table:            address,
		Addresses:        state.Addresses,
		LastExtendedSlot: state.LastExtendedSlot,
	}, nil
}

func (m *Manager) sendAndConfirm(ctx context.Context, ix solanago.Instruction) (solanago.Signature, error) {
	bh, err := m.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solanago.Signature{}, err
	}

	payer := m.operator.PublicKey()
	tx, err := solanago.NewTransaction([]solanago.Instruction{ix}, bh.Hash, solanago.TransactionPayer(payer))
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(payer) {
			return &m.operator
		}
		return nil
	}); err != nil {
		return solanago.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := m.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return solanago.Signature{}, err
	}
	if err := m.ledger.AwaitConfirmation(ctx, sig, bh.LastValidBlockHeight); err != nil {
		return sig, err
	}
	return sig, nil
}

func (m *Manager) recordOp(op string, err error) {
	if m.metrics != nil {
		m.metrics.RecordTableOperation(op, err)
	}
}

// dedupe returns the addresses not already in existing, first occurrence wins.
func dedupe(existing, addresses solanago.PublicKeySlice) solanago.PublicKeySlice {
	seen := make(map[solanago.PublicKey]struct{}, len(existing)+len(addresses))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	out := make(solanago.PublicKeySlice, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
