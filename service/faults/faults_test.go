package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClasses(t *testing.T) {
	errorList := []struct {
		err          error
		config       bool
		table        bool
		compile      bool
		submission   bool
		confirmation bool
	}{
		{ErrNoUsableSigners, true, false, false, false, false},
		{ErrMissingAssetImage, true, false, false, false, false},
		{ErrTableNotFound, false, true, false, false, false},
		{ErrEmptyTable, false, true, false, false, false},
		{ErrOversizedTransaction, false, false, true, false, false},
		{ErrUnresolvedAddress, false, false, true, false, false},
		{ErrRelayUnreachable, false, false, false, true, false},
		{ErrRelayRejected, false, false, false, true, false},
		{ErrAnchorUnconfirmed, false, false, false, false, true},
	}

	for i, e := range errorList {
		wrapped := fmt.Errorf("step failed: %w", e.err)
		assert.Equal(t, e.config, IsConfiguration(wrapped), "case %d: %v", i, e.err)
		assert.Equal(t, e.table, IsTable(wrapped), "case %d: %v", i, e.err)
		assert.Equal(t, e.compile, IsCompile(wrapped), "case %d: %v", i, e.err)
		assert.Equal(t, e.submission, IsSubmission(wrapped), "case %d: %v", i, e.err)
		assert.Equal(t, e.confirmation, IsConfirmation(wrapped), "case %d: %v", i, e.err)
	}
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(nil))
	assert.False(t, Fatal(fmt.Errorf("confirm: %w", ErrAnchorUnconfirmed)))
	assert.True(t, Fatal(ErrEmptyTable))
	assert.True(t, Fatal(&RelayError{Code: -32602, Message: "bad"}))
}

func TestChunkError(t *testing.T) {
	err := fmt.Errorf("compile: %w", &ChunkError{Index: 2, Err: ErrOversizedTransaction})

	var chunkErr *ChunkError
	require.True(t, errors.As(err, &chunkErr))
	assert.Equal(t, 2, chunkErr.Index)
	assert.ErrorIs(t, err, ErrOversizedTransaction)
	assert.True(t, IsCompile(err))
	assert.Contains(t, err.Error(), "chunk 2")

	anchor := &ChunkError{Index: -1, Err: ErrMissingSigner}
	assert.Contains(t, anchor.Error(), "anchor")
}

func TestPartialExtensionError(t *testing.T) {
	cause := errors.New("blockhash expired")
	err := &PartialExtensionError{Table: "T", ConfirmedBatches: 1, TotalBatches: 3, Confirmed: 20, Err: cause}

	assert.ErrorIs(t, err, ErrPartialExtension)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTable(err))
	assert.Contains(t, err.Error(), "1 of 3 batches")
}

func TestRelayError(t *testing.T) {
	err := fmt.Errorf("submit: %w", &RelayError{Code: -32000, Message: "bundle dropped", Detail: "tip too low"})

	assert.ErrorIs(t, err, ErrRelayRejected)
	assert.True(t, IsSubmission(err))

	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, -32000, relayErr.Code)
	assert.Equal(t, "bundle dropped", relayErr.Message)
	assert.Equal(t, "tip too low", relayErr.Detail)
	assert.Contains(t, err.Error(), "tip too low")
}
