// Package relay submits assembled bundles to a block engine over JSON-RPC and
// tracks whether the anchor lands.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/brojonat/launchbundle/service/bundle"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/metrics"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// DefaultEndpoint is the Amsterdam mainnet block engine.
const DefaultEndpoint = "https://amsterdam.mainnet.block-engine.jito.wtf/api/v1/bundles"

const methodSendBundle = "sendBundle"

// Confirmer waits for a transaction to reach the configured commitment.
type Confirmer interface {
	AwaitConfirmation(ctx context.Context, sig solanago.Signature, lastValidBlockHeight uint64) error
}

// Receipt records one submission. SubmissionErr is set only when the relay
// never accepted the bundle; ConfirmationErr only when the anchor was not
// seen before its blockhash expired.
type Receipt struct {
	BundleID         string
	Endpoint         string
	AnchorSignature  solanago.Signature
	Signatures       []solanago.Signature
	TransactionCount int
	SubmittedAt      time.Time
	Latency          time.Duration
	SubmissionErr    error
	ConfirmationErr  error
	Confirmed        bool
}

// Submitter sends bundles. There are no retries: a bundle is sent once.
type Submitter struct {
	httpClient *http.Client
	confirmer  Confirmer
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewSubmitter creates a Submitter. A nil confirmer skips anchor confirmation.
// If metrics is nil, no metrics will be recorded.
func NewSubmitter(httpClient *http.Client, confirmer Confirmer, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Submitter{
		httpClient: httpClient,
		confirmer:  confirmer,
		logger:     logger,
		metrics:    m,
	}
}

// Submit sends b to endpoint as a single sendBundle request and then waits
// for the anchor. A relay failure is returned as an error. A confirmation
// failure is only recorded on the receipt.
func (s *Submitter) Submit(ctx context.Context, b *bundle.Bundle, endpoint string) (*Receipt, error) {
	encoded, err := b.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}

	receipt := &Receipt{
		Endpoint:         endpoint,
		Signatures:       b.Signatures(),
		TransactionCount: len(encoded),
	}
	if anchor := b.Anchor(); anchor != nil {
		receipt.AnchorSignature = anchor.Signature()
	}

	client := jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{HTTPClient: s.httpClient})

	receipt.SubmittedAt = time.Now()
	err = client.CallWithCallback(ctx, methodSendBundle, []interface{}{encoded},
		func(_ *http.Request, resp *http.Response) error {
			id, err := decodeBundleResponse(resp)
			receipt.BundleID = id
			return err
		})
	receipt.Latency = time.Since(receipt.SubmittedAt)
	err = classify(err)
	s.recordSubmission(endpoint, receipt, err)

	if err != nil {
		receipt.SubmissionErr = err
		s.logger.ErrorContext(ctx, "bundle submission failed",
			"endpoint", endpoint,
			"transactions", receipt.TransactionCount,
			"latency_ms", receipt.Latency.Milliseconds(),
			"error", err,
		)
		return receipt, err
	}

	s.logger.InfoContext(ctx, "bundle submitted",
		"endpoint", endpoint,
		"bundle_id", receipt.BundleID,
		"transactions", receipt.TransactionCount,
		"latency_ms", receipt.Latency.Milliseconds(),
	)

	if s.confirmer != nil && b.Anchor() != nil {
		s.confirm(ctx, receipt, b.Anchor().Blockhash.LastValidBlockHeight)
	}
	return receipt, nil
}

func (s *Submitter) confirm(ctx context.Context, receipt *Receipt, lastValid uint64) {
	err := s.confirmer.AwaitConfirmation(ctx, receipt.AnchorSignature, lastValid)
	if err != nil {
		receipt.ConfirmationErr = fmt.Errorf("%w: %w", faults.ErrAnchorUnconfirmed, err)
		if s.metrics != nil {
			s.metrics.RecordAnchorConfirmation("unconfirmed")
		}
		s.logger.WarnContext(ctx, "anchor transaction not confirmed",
			"bundle_id", receipt.BundleID,
			"anchor", receipt.AnchorSignature.String(),
			"last_valid_block_height", lastValid,
			"error", err,
		)
		return
	}

	receipt.Confirmed = true
	if s.metrics != nil {
		s.metrics.RecordAnchorConfirmation("confirmed")
	}
	s.logger.InfoContext(ctx, "anchor transaction confirmed",
		"bundle_id", receipt.BundleID,
		"anchor", receipt.AnchorSignature.String(),
	)
}

func (s *Submitter) recordSubmission(endpoint string, receipt *Receipt, err error) {
	if s.metrics == nil {
		return
	}
	status := "accepted"
	switch {
	case errors.Is(err, faults.ErrRelayUnreachable):
		status = "unreachable"
	case err != nil:
		status = "rejected"
	}
	s.metrics.RecordBundleSubmission(endpoint, status, receipt.TransactionCount, receipt.Latency.Seconds())
}

// sendBundleResponse is decoded leniently: relays add fields such as
// "details" next to code and message.
type sendBundleResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
		Details interface{} `json:"details"`
	} `json:"error"`
}

// decodeBundleResponse extracts the relay's result or its error object.
func decodeBundleResponse(resp *http.Response) (string, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &faults.RelayError{
			Code:    resp.StatusCode,
			Message: "failed to read relay response",
			Detail:  err.Error(),
		}
	}

	var out sendBundleResponse
	if err := json.Unmarshal(body, &out); err != nil || (out.Error == nil && len(out.Result) == 0) {
		if resp.StatusCode >= 400 {
			return "", &faults.RelayError{
				Code:    resp.StatusCode,
				Message: http.StatusText(resp.StatusCode),
				Detail:  string(body),
			}
		}
		return "", &faults.RelayError{
			Message: "malformed relay response",
			Detail:  string(body),
		}
	}

	if e := out.Error; e != nil {
		d := detail(e.Data)
		if d == "" {
			d = detail(e.Details)
		}
		return "", &faults.RelayError{
			Code:    e.Code,
			Message: e.Message,
			Detail:  d,
		}
	}

	var id string
	if err := json.Unmarshal(out.Result, &id); err != nil {
		return "", &faults.RelayError{
			Message: "unexpected sendBundle result",
			Detail:  string(out.Result),
		}
	}
	return id, nil
}

// classify maps a transport level failure onto the submission taxonomy.
// No HTTP response at all is unreachable; anything else came from the relay.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var relayErr *faults.RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", faults.ErrRelayUnreachable, err)
	}
	return &faults.RelayError{
		Message: "malformed relay response",
		Detail:  err.Error(),
	}
}

func detail(data interface{}) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
