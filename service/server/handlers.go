package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/launchbundle/service/db"
	"github.com/jackc/pgx/v5"
)

const (
	maxAddressLength  = 100 // Solana addresses are 44 chars, give buffer
	maxLaunchIDLength = 64
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
	validLaunchID     = regexp.MustCompile(`^[0-9a-fA-F-]+$`)
)

// ReceiptStore is the read side of the receipt log.
type ReceiptStore interface {
	GetBundleReceipt(ctx context.Context, launchID string) (*db.BundleReceipt, error)
	ListBundleReceipts(ctx context.Context, params db.ListBundleReceiptsParams) ([]*db.BundleReceipt, error)
}

// receiptResponse is the API representation of a stored receipt.
type receiptResponse struct {
	LaunchID          string    `json:"launch_id"`
	BundleID          *string   `json:"bundle_id,omitempty"`
	Mint              string    `json:"mint"`
	LookupTable       string    `json:"lookup_table"`
	Endpoint          string    `json:"endpoint"`
	AnchorSignature   string    `json:"anchor_signature"`
	Signatures        []string  `json:"signatures"`
	TransactionCount  int32     `json:"transaction_count"`
	Status            string    `json:"status"`
	Confirmed         bool      `json:"confirmed"`
	SubmissionError   *string   `json:"submission_error,omitempty"`
	ConfirmationError *string   `json:"confirmation_error,omitempty"`
	LatencyMillis     int64     `json:"latency_ms"`
	SubmittedAt       time.Time `json:"submitted_at"`
	CreatedAt         time.Time `json:"created_at"`
}

func receiptToResponse(r *db.BundleReceipt) receiptResponse {
	return receiptResponse{
		LaunchID:          r.LaunchID,
		BundleID:          r.BundleID,
		Mint:              r.Mint,
		LookupTable:       r.LookupTable,
		Endpoint:          r.Endpoint,
		AnchorSignature:   r.AnchorSignature,
		Signatures:        r.Signatures,
		TransactionCount:  r.TransactionCount,
		Status:            r.Status,
		Confirmed:         r.Confirmed,
		SubmissionError:   r.SubmissionError,
		ConfirmationError: r.ConfirmationError,
		LatencyMillis:     r.LatencyMillis,
		SubmittedAt:       r.SubmittedAt,
		CreatedAt:         r.CreatedAt,
	}
}

// handleGetReceipt returns a handler that retrieves one receipt.
// GET /api/v1/receipts/{launch_id}
func handleGetReceipt(store ReceiptStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		launchID := r.PathValue("launch_id")
		if err := validateLaunchID(launchID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		receipt, err := store.GetBundleReceipt(r.Context(), launchID)
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, "receipt not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get receipt", "launch_id", launchID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, receiptToResponse(receipt), http.StatusOK)
	})
}

// handleListReceipts returns a handler that lists receipts, newest first.
// GET /api/v1/receipts?mint=ADDRESS&limit=N&offset=N
func handleListReceipts(store ReceiptStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		mint := query.Get("mint")
		if mint != "" {
			if err := validateAddress(mint); err != nil {
				logger.Debug("invalid mint", "mint", mint, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		// Parse limit (default 100, max 1000)
		limit := int32(100)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > 1000 {
				writeError(w, "limit cannot exceed 1000", http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		// Parse offset (default 0)
		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		receipts, err := store.ListBundleReceipts(r.Context(), db.ListBundleReceiptsParams{
			Mint:   mint,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			logger.Error("failed to list receipts", "mint", mint, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]receiptResponse, len(receipts))
		for i, receipt := range receipts {
			resp[i] = receiptToResponse(receipt)
		}

		writeJSON(w, map[string]interface{}{
			"receipts": resp,
			"count":    len(resp),
			"limit":    limit,
			"offset":   offset,
		}, http.StatusOK)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates a base58 address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be base58")
	}

	return nil
}

func validateLaunchID(id string) error {
	if id == "" {
		return errorf("launch_id is required")
	}
	if len(id) > maxLaunchIDLength || !validLaunchID.MatchString(id) {
		return errorf("invalid launch_id format")
	}
	return nil
}

func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
