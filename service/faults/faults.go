// Package faults holds the error classes raised while building and submitting
// a launch bundle.
//
// Each class is a distinct string type so callers can test membership with
// the Is* helpers even after the error has been wrapped with fmt.Errorf.
package faults

import (
	"errors"
	"fmt"
)

// error classes
type ConfigurationError string
type TableError string
type CompileError string
type SubmissionError string
type ConfirmationError string

// common errors - keep grouped by class
var (
	ErrNoUsableSigners     = ConfigurationError("no usable signers")
	ErrMalformedSigner     = ConfigurationError("malformed signer entry")
	ErrMissingAssetImage   = ConfigurationError("no image file found in asset directory")
	ErrMultipleAssetImages = ConfigurationError("more than one image file found in asset directory")
	ErrInvalidChunkSize    = ConfigurationError("chunk size must be positive")

	ErrTableNotFound     = TableError("lookup table not found")
	ErrEmptyTable        = TableError("lookup table has no entries")
	ErrPartialExtension  = TableError("lookup table extension incomplete")
	ErrTableNotActivated = TableError("lookup table did not activate in time")
	ErrTableFull         = TableError("lookup table capacity exceeded")

	ErrOversizedTransaction = CompileError("transaction exceeds size ceiling")
	ErrMissingSigner        = CompileError("required signer has no key material")
	ErrUnresolvedAddress    = CompileError("compressed address not present in any resolved lookup table")
	ErrBundleTooLarge       = CompileError("bundle exceeds transaction limit")

	ErrRelayUnreachable = SubmissionError("relay unreachable")
	ErrRelayRejected    = SubmissionError("relay rejected request")

	ErrAnchorUnconfirmed = ConfirmationError("anchor transaction not confirmed before blockhash expiry")
	ErrBlockhashExpired  = ConfirmationError("block height passed last valid height")
	ErrTransactionFailed = ConfirmationError("transaction failed on chain")
)

func (e ConfigurationError) Error() string { return string(e) }
func (e TableError) Error() string         { return string(e) }
func (e CompileError) Error() string       { return string(e) }
func (e SubmissionError) Error() string    { return string(e) }
func (e ConfirmationError) Error() string  { return string(e) }

// class tests, they see through wrapping
func IsConfiguration(err error) bool { var e ConfigurationError; return errors.As(err, &e) }
func IsTable(err error) bool         { var e TableError; return errors.As(err, &e) }
func IsCompile(err error) bool       { var e CompileError; return errors.As(err, &e) }
func IsSubmission(err error) bool    { var e SubmissionError; return errors.As(err, &e) }
func IsConfirmation(err error) bool  { var e ConfirmationError; return errors.As(err, &e) }

// Fatal reports whether err must abort the launch. Only confirmation
// failures are survivable since the bundle has already left.
func Fatal(err error) bool {
	return err != nil && !IsConfirmation(err)
}

// ChunkError attaches the offending chunk index to a compile failure.
// Index -1 denotes the anchor transaction.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("anchor: %v", e.Err)
	}
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// PartialExtensionError describes how far a lookup table extension got
// before a batch failed. Confirmed entries stay on chain.
type PartialExtensionError struct {
	Table            string
	ConfirmedBatches int
	TotalBatches     int
	Confirmed        int
	Err              error
}

func (e *PartialExtensionError) Error() string {
	return fmt.Sprintf("%s: table %s: %d of %d batches confirmed (%d addresses): %v",
		ErrPartialExtension, e.Table, e.ConfirmedBatches, e.TotalBatches, e.Confirmed, e.Err)
}

func (e *PartialExtensionError) Unwrap() []error { return []error{ErrPartialExtension, e.Err} }

// RelayError carries the relay's own error object verbatim.
type RelayError struct {
	Code    int
	Message string
	Detail  string
}

func (e *RelayError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: code %d: %s", ErrRelayRejected, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: code %d: %s (%s)", ErrRelayRejected, e.Code, e.Message, e.Detail)
}

func (e *RelayError) Unwrap() error { return ErrRelayRejected }
