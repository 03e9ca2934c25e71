package lookup

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

// Instruction indexes of the address lookup table program.
const (
	instructionCreate uint32 = 0
	instructionExtend uint32 = 2
)

// MaxAddresses is the hard capacity of a single lookup table.
const MaxAddresses = 256

// DeriveAddress returns the table address owned by authority for recentSlot.
func DeriveAddress(authority solanago.PublicKey, recentSlot uint64) (solanago.PublicKey, uint8, error) {
	slot := make([]byte, 8)
	binary.LittleEndian.PutUint64(slot, recentSlot)
	return solanago.FindProgramAddress(
		[][]byte{authority[:], slot},
		solanago.AddressLookupTableProgramID,
	)
}

// CreateInstruction builds the instruction that creates a table for
// authority, funded by payer. It returns the derived table address.
func CreateInstruction(authority, payer solanago.PublicKey, recentSlot uint64) (solanago.Instruction, solanago.PublicKey, error) {
	table, bump, err := DeriveAddress(authority, recentSlot)
	if err != nil {
		return nil, solanago.PublicKey{}, fmt.Errorf("derive table address: %w", err)
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(instructionCreate, bin.LE); err != nil {
		return nil, table, err
	}
	if err := enc.WriteUint64(recentSlot, bin.LE); err != nil {
		return nil, table, err
	}
	if err := enc.WriteUint8(bump); err != nil {
		return nil, table, err
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(table).WRITE(),
		solanago.Meta(authority).SIGNER(),
		solanago.Meta(payer).WRITE().SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
	}
	return solanago.NewInstruction(solanago.AddressLookupTableProgramID, accounts, buf.Bytes()), table, nil
}

// ExtendInstruction builds the instruction that appends addresses to table.
func ExtendInstruction(table, authority, payer solanago.PublicKey, addresses solanago.PublicKeySlice) (solanago.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint32(instructionExtend, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(uint64(len(addresses)), bin.LE); err != nil {
		return nil, err
	}
	for _, addr := range addresses {
		if _, err := enc.Write(addr[:]); err != nil {
			return nil, err
		}
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(table).WRITE(),
		solanago.Meta(authority).SIGNER(),
		solanago.Meta(payer).WRITE().SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
	}
	return solanago.NewInstruction(solanago.AddressLookupTableProgramID, accounts, buf.Bytes()), nil
}
