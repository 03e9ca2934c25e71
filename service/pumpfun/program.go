// Package pumpfun encodes pump.fun create and buy instructions.
package pumpfun

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	ProgramID           = solanago.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	GlobalAccount       = solanago.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	FeeRecipient        = solanago.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	EventAuthority      = solanago.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
	MintAuthority       = solanago.MustPublicKeyFromBase58("TSLvdd1pWpHVjahSpsvCXUbgwsL3JAcvokwaKt1eokM")
	MetadataProgram     = solanago.TokenMetadataProgramID
	createDiscriminator = [8]byte{24, 30, 200, 40, 5, 28, 7, 119}
	buyDiscriminator    = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
)

// BondingCurveAddress returns the bonding curve PDA of mint.
func BondingCurveAddress(mint solanago.PublicKey) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint[:]}, ProgramID)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}

// CreatorVaultAddress returns the fee vault PDA of creator.
func CreatorVaultAddress(creator solanago.PublicKey) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress([][]byte{[]byte("creator-vault"), creator[:]}, ProgramID)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive creator vault: %w", err)
	}
	return addr, nil
}

// MetadataAddress returns the token metadata PDA of mint.
func MetadataAddress(mint solanago.PublicKey) (solanago.PublicKey, error) {
	addr, _, err := solanago.FindProgramAddress(
		[][]byte{[]byte("metadata"), MetadataProgram[:], mint[:]},
		MetadataProgram,
	)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("derive metadata: %w", err)
	}
	return addr, nil
}

type curveAccounts struct {
	bondingCurve           solanago.PublicKey
	associatedBondingCurve solanago.PublicKey
}

func deriveCurveAccounts(mint solanago.PublicKey) (curveAccounts, error) {
	curve, err := BondingCurveAddress(mint)
	if err != nil {
		return curveAccounts{}, err
	}
	assoc, _, err := solanago.FindAssociatedTokenAddress(curve, mint)
	if err != nil {
		return curveAccounts{}, fmt.Errorf("derive associated bonding curve: %w", err)
	}
	return curveAccounts{bondingCurve: curve, associatedBondingCurve: assoc}, nil
}

// buyInstruction builds the program's buy instruction for user.
func buyInstruction(user, mint, creator solanago.PublicKey, amount, maxSolCost uint64) (solanago.Instruction, error) {
	accts, err := deriveCurveAccounts(mint)
	if err != nil {
		return nil, err
	}
	userATA, _, err := solanago.FindAssociatedTokenAddress(user, mint)
	if err != nil {
		return nil, fmt.Errorf("derive user token account: %w", err)
	}
	vault, err := CreatorVaultAddress(creator)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if _, err := enc.Write(buyDiscriminator[:]); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(amount, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(maxSolCost, bin.LE); err != nil {
		return nil, err
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(GlobalAccount),
		solanago.Meta(FeeRecipient).WRITE(),
		solanago.Meta(mint),
		solanago.Meta(accts.bondingCurve).WRITE(),
		solanago.Meta(accts.associatedBondingCurve).WRITE(),
		solanago.Meta(userATA).WRITE(),
		solanago.Meta(user).WRITE().SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
		solanago.Meta(solanago.TokenProgramID),
		solanago.Meta(vault).WRITE(),
		solanago.Meta(EventAuthority),
		solanago.Meta(ProgramID),
	}
	return solanago.NewInstruction(ProgramID, accounts, buf.Bytes()), nil
}

// createInstruction builds the program's create instruction.
func createInstruction(creator, mint solanago.PublicKey, name, symbol, uri string) (solanago.Instruction, error) {
	accts, err := deriveCurveAccounts(mint)
	if err != nil {
		return nil, err
	}
	metadata, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if _, err := enc.Write(createDiscriminator[:]); err != nil {
		return nil, err
	}
	for _, s := range []string{name, symbol, uri} {
		if err := writeBorshString(enc, s); err != nil {
			return nil, err
		}
	}
	if _, err := enc.Write(creator[:]); err != nil {
		return nil, err
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(mint).WRITE().SIGNER(),
		solanago.Meta(MintAuthority),
		solanago.Meta(accts.bondingCurve).WRITE(),
		solanago.Meta(accts.associatedBondingCurve).WRITE(),
		solanago.Meta(GlobalAccount),
		solanago.Meta(MetadataProgram),
		solanago.Meta(metadata).WRITE(),
		solanago.Meta(creator).WRITE().SIGNER(),
		solanago.Meta(solanago.SystemProgramID),
		solanago.Meta(solanago.TokenProgramID),
		solanago.Meta(solanago.SPLAssociatedTokenAccountProgramID),
		solanago.Meta(solanago.SysVarRentPubkey),
		solanago.Meta(EventAuthority),
		solanago.Meta(ProgramID),
	}
	return solanago.NewInstruction(ProgramID, accounts, buf.Bytes()), nil
}

// writeBorshString writes s with a u32 length prefix.
func writeBorshString(enc *bin.Encoder, s string) error {
	if err := enc.WriteUint32(uint32(len(s)), bin.LE); err != nil {
		return err
	}
	_, err := enc.Write([]byte(s))
	return err
}

// SharedAddresses returns the program-wide accounts referenced by every
// launch. They belong in a long-lived shared lookup table.
func SharedAddresses() solanago.PublicKeySlice {
	return solanago.PublicKeySlice{
		GlobalAccount,
		FeeRecipient,
		EventAuthority,
		MintAuthority,
		MetadataProgram,
		solanago.SystemProgramID,
		solanago.TokenProgramID,
		solanago.SysVarRentPubkey,
	}
}

// LaunchExtraAddresses is how many entries LaunchAddresses adds beyond one
// token account per buyer.
const LaunchExtraAddresses = 4

// LaunchAddresses returns the accounts buys of mint reference that are not
// signers: the mint, its curve accounts, the creator vault and the token
// account of each buyer, in that order.
func LaunchAddresses(mint, creator solanago.PublicKey, buyers solanago.PublicKeySlice) (solanago.PublicKeySlice, error) {
	accts, err := deriveCurveAccounts(mint)
	if err != nil {
		return nil, err
	}
	vault, err := CreatorVaultAddress(creator)
	if err != nil {
		return nil, err
	}

	out := make(solanago.PublicKeySlice, 0, LaunchExtraAddresses+len(buyers))
	out = append(out, mint, accts.bondingCurve, accts.associatedBondingCurve, vault)
	for _, b := range buyers {
		ata, _, err := solanago.FindAssociatedTokenAddress(b, mint)
		if err != nil {
			return nil, fmt.Errorf("derive token account of %s: %w", b, err)
		}
		out = append(out, ata)
	}
	return out, nil
}
