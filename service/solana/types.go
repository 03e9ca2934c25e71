package solana

import (
	"github.com/gagliardetto/solana-go"
)

// Blockhash is a recent blockhash and the last block height at which a
// transaction referencing it can still land.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// LookupTableState is a decoded address lookup table account.
// This is our domain model, independent of the RPC response format.
type LookupTableState struct {
	Address          solana.PublicKey
	Authority        *solana.PublicKey // nil once frozen
	Addresses        solana.PublicKeySlice
	LastExtendedSlot uint64
	DeactivationSlot uint64
}

// Active reports whether the table has not been deactivated.
func (s *LookupTableState) Active() bool {
	return s.DeactivationSlot == ^uint64(0)
}
