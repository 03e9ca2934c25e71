package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotFound is returned by Get when the server has no receipt for the launch.
var ErrNotFound = errors.New("receipt not found")

// Receipt is a stored record of one bundle submission.
type Receipt struct {
	LaunchID          string    `json:"launch_id"`
	BundleID          *string   `json:"bundle_id,omitempty"`
	Mint              string    `json:"mint"`
	LookupTable       string    `json:"lookup_table"`
	Endpoint          string    `json:"endpoint"`
	AnchorSignature   string    `json:"anchor_signature"`
	Signatures        []string  `json:"signatures"`
	TransactionCount  int32     `json:"transaction_count"`
	Status            string    `json:"status"` // accepted, rejected, unreachable
	Confirmed         bool      `json:"confirmed"`
	SubmissionError   *string   `json:"submission_error,omitempty"`
	ConfirmationError *string   `json:"confirmation_error,omitempty"`
	LatencyMillis     int64     `json:"latency_ms"`
	SubmittedAt       time.Time `json:"submitted_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// Latency returns the submission round trip.
func (r *Receipt) Latency() time.Duration {
	return time.Duration(r.LatencyMillis) * time.Millisecond
}

// ListOptions filters and pages a receipt listing. Zero values use server defaults.
type ListOptions struct {
	Mint   string
	Limit  int
	Offset int
}

// Client is the HTTP client for the launch receipt service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new receipt service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Get retrieves the receipt for a single launch.
func (c *Client) Get(ctx context.Context, launchID string) (*Receipt, error) {
	u := fmt.Sprintf("%s/api/v1/receipts/%s", c.baseURL, url.PathEscape(launchID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, launchID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("fetched receipt", "launch_id", launchID, "status", receipt.Status)
	return &receipt, nil
}

// List retrieves receipts, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*Receipt, error) {
	params := url.Values{}
	if opts.Mint != "" {
		params.Set("mint", opts.Mint)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/v1/receipts"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Receipts []*Receipt `json:"receipts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Receipts == nil {
		response.Receipts = []*Receipt{}
	}

	return response.Receipts, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
