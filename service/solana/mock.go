package solana

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
)

// MockRPCClient is an in-memory ledger implementing RPCClient for tests.
// Sent transactions that target the address lookup table program are
// applied to the in-memory tables, so create and extend round-trip.
type MockRPCClient struct {
	mu sync.Mutex

	slot            uint64
	slotStep        uint64
	blockHeight     uint64
	blockHeightStep uint64

	blockhash            solana.Hash
	lastValidBlockHeight uint64
	blockhashCalls       int

	tables map[solana.PublicKey]*addresslookuptable.AddressLookupTableState

	sent          []*solana.Transaction
	sendErrors    map[int]error
	statuses      map[solana.Signature]*rpc.SignatureStatusesResult
	defaultStatus rpc.ConfirmationStatusType

	err error
}

// NewMockRPCClient creates a mock ledger at the given slot. Every sent
// transaction confirms immediately unless configured otherwise.
func NewMockRPCClient(slot uint64) *MockRPCClient {
	return &MockRPCClient{
		slot:                 slot,
		slotStep:             1,
		blockHeight:          slot,
		blockhash:            solana.HashFromBytes(bytes.Repeat([]byte{7}, 32)),
		lastValidBlockHeight: slot + 150,
		tables:               make(map[solana.PublicKey]*addresslookuptable.AddressLookupTableState),
		sendErrors:           make(map[int]error),
		statuses:             make(map[solana.Signature]*rpc.SignatureStatusesResult),
		defaultStatus:        rpc.ConfirmationStatusConfirmed,
	}
}

// SetError makes every call fail with err.
func (m *MockRPCClient) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetSendError makes the n-th (zero based) SendTransaction call fail.
func (m *MockRPCClient) SetSendError(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrors[n] = err
}

// SetDefaultStatus sets the status reported for sent transactions.
// An empty status means they are never seen.
func (m *MockRPCClient) SetDefaultStatus(status rpc.ConfirmationStatusType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStatus = status
}

// SetStatus overrides the status reported for one signature.
func (m *MockRPCClient) SetStatus(sig solana.Signature, status *rpc.SignatureStatusesResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[sig] = status
}

// SetBlockHeight sets the current block height and how much it grows per query.
func (m *MockRPCClient) SetBlockHeight(height, step uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockHeight = height
	m.blockHeightStep = step
}

// SetSlotStep sets how many slots pass between GetSlot calls.
func (m *MockRPCClient) SetSlotStep(step uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slotStep = step
}

// SetBlockhash sets the blockhash and its last valid block height.
func (m *MockRPCClient) SetBlockhash(hash solana.Hash, lastValid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockhash = hash
	m.lastValidBlockHeight = lastValid
}

// PutTable stores a lookup table account.
func (m *MockRPCClient) PutTable(address solana.PublicKey, authority *solana.PublicKey, entries solana.PublicKeySlice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[address] = &addresslookuptable.AddressLookupTableState{
		TypeIndex:        1,
		DeactivationSlot: math.MaxUint64,
		LastExtendedSlot: m.slot,
		Authority:        authority,
		Addresses:        append(solana.PublicKeySlice{}, entries...),
	}
}

// Table returns the stored entries of a lookup table.
func (m *MockRPCClient) Table(address solana.PublicKey) (solana.PublicKeySlice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.tables[address]
	if !ok {
		return nil, false
	}
	return append(solana.PublicKeySlice{}, state.Addresses...), true
}

// Sent returns every transaction accepted by SendTransactionWithOpts.
func (m *MockRPCClient) Sent() []*solana.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*solana.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

// BlockhashCalls returns how many times GetLatestBlockhash was called.
func (m *MockRPCClient) BlockhashCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockhashCalls
}

func (m *MockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockhashCalls++
	if m.err != nil {
		return nil, m.err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            m.blockhash,
			LastValidBlockHeight: m.lastValidBlockHeight,
		},
	}, nil
}

func (m *MockRPCClient) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.slot += m.slotStep
	return m.slot, nil
}

func (m *MockRPCClient) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.blockHeight += m.blockHeightStep
	return m.blockHeight, nil
}

func (m *MockRPCClient) GetAccountInfoWithOpts(
	ctx context.Context,
	account solana.PublicKey,
	opts *rpc.GetAccountInfoOpts,
) (*rpc.GetAccountInfoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	state, ok := m.tables[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	buf := new(bytes.Buffer)
	if err := state.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		return nil, err
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{
			Owner: solana.AddressLookupTableProgramID,
			Data:  rpc.DataBytesOrJSONFromBytes(buf.Bytes()),
		},
	}, nil
}

func (m *MockRPCClient) SendTransactionWithOpts(
	ctx context.Context,
	tx *solana.Transaction,
	opts rpc.TransactionOpts,
) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return solana.Signature{}, m.err
	}
	if err, ok := m.sendErrors[len(m.sent)]; ok {
		m.sent = append(m.sent, nil)
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("transaction is not signed")
	}
	if err := m.apply(tx); err != nil {
		return solana.Signature{}, err
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *MockRPCClient) GetSignatureStatuses(
	ctx context.Context,
	searchTransactionHistory bool,
	signatures ...solana.Signature,
) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := &rpc.GetSignatureStatusesResult{Value: make([]*rpc.SignatureStatusesResult, len(signatures))}
	for i, sig := range signatures {
		if status, ok := m.statuses[sig]; ok {
			out.Value[i] = status
			continue
		}
		if m.defaultStatus != "" && m.wasSent(sig) {
			out.Value[i] = &rpc.SignatureStatusesResult{Slot: m.slot, ConfirmationStatus: m.defaultStatus}
		}
	}
	return out, nil
}

func (m *MockRPCClient) wasSent(sig solana.Signature) bool {
	for _, tx := range m.sent {
		if tx != nil && len(tx.Signatures) > 0 && tx.Signatures[0] == sig {
			return true
		}
	}
	return false
}

// apply interprets create and extend instructions of the lookup table program.
func (m *MockRPCClient) apply(tx *solana.Transaction) error {
	keys := tx.Message.AccountKeys
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) || !keys[inst.ProgramIDIndex].Equals(solana.AddressLookupTableProgramID) {
			continue
		}
		decoder := bin.NewBinDecoder(inst.Data)
		kind, err := decoder.ReadUint32(bin.LE)
		if err != nil {
			return err
		}
		table := keys[inst.Accounts[0]]
		switch kind {
		case 0:
			authority := keys[inst.Accounts[1]]
			m.tables[table] = &addresslookuptable.AddressLookupTableState{
				TypeIndex:        1,
				DeactivationSlot: math.MaxUint64,
				Authority:        &authority,
				Addresses:        solana.PublicKeySlice{},
			}
		case 2:
			state, ok := m.tables[table]
			if !ok {
				return fmt.Errorf("extend: table %s does not exist", table)
			}
			count, err := decoder.ReadUint64(bin.LE)
			if err != nil {
				return err
			}
			for i := uint64(0); i < count; i++ {
				raw, err := decoder.ReadNBytes(32)
				if err != nil {
					return err
				}
				state.Addresses = append(state.Addresses, solana.PublicKeyFromBytes(raw))
			}
			state.LastExtendedSlot = m.slot
		}
	}
	return nil
}
