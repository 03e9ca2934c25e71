package db

import (
	"context"
	"time"

	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
// Receipts are an append-only audit log; the pipeline never reads them back.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics returns the store recording query metrics to m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS bundle_receipts (
    launch_id          TEXT PRIMARY KEY,
    bundle_id          TEXT,
    mint               TEXT NOT NULL,
    lookup_table       TEXT NOT NULL,
    endpoint           TEXT NOT NULL,
    anchor_signature   TEXT NOT NULL,
    signatures         TEXT[] NOT NULL DEFAULT '{}',
    transaction_count  INTEGER NOT NULL,
    status             TEXT NOT NULL,
    confirmed          BOOLEAN NOT NULL DEFAULT FALSE,
    submission_error   TEXT,
    confirmation_error TEXT,
    latency_ms         BIGINT NOT NULL,
    submitted_at       TIMESTAMPTZ NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bundle_receipts_mint ON bundle_receipts (mint);
CREATE INDEX IF NOT EXISTS idx_bundle_receipts_submitted_at ON bundle_receipts (submitted_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Receipt statuses.
const (
	StatusAccepted    = "accepted"
	StatusRejected    = "rejected"
	StatusUnreachable = "unreachable"
)

// BundleReceipt is the stored outcome of one bundle submission.
type BundleReceipt struct {
	LaunchID          string
	BundleID          *string // nil when the relay never accepted the bundle
	Mint              string
	LookupTable       string
	Endpoint          string
	AnchorSignature   string
	Signatures        []string
	TransactionCount  int32
	Status            string
	Confirmed         bool
	SubmissionError   *string
	ConfirmationError *string
	LatencyMillis     int64
	SubmittedAt       time.Time
	CreatedAt         time.Time
}

// CreateBundleReceiptParams contains the parameters for storing a receipt.
type CreateBundleReceiptParams struct {
	LaunchID          string
	BundleID          *string
	Mint              string
	LookupTable       string
	Endpoint          string
	AnchorSignature   string
	Signatures        []string
	TransactionCount  int32
	Status            string
	Confirmed         bool
	SubmissionError   *string
	ConfirmationError *string
	LatencyMillis     int64
	SubmittedAt       time.Time
}

// ListBundleReceiptsParams filters and paginates receipts. An empty Mint
// matches every mint.
type ListBundleReceiptsParams struct {
	Mint   string
	Limit  int32
	Offset int32
}

const receiptColumns = `launch_id, bundle_id, mint, lookup_table, endpoint, anchor_signature,
	signatures, transaction_count, status, confirmed, submission_error, confirmation_error,
	latency_ms, submitted_at, created_at`

// CreateBundleReceipt inserts a receipt.
func (s *Store) CreateBundleReceipt(ctx context.Context, params CreateBundleReceiptParams) (*BundleReceipt, error) {
	start := time.Now()
	signatures := params.Signatures
	if signatures == nil {
		signatures = []string{}
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO bundle_receipts (
			launch_id, bundle_id, mint, lookup_table, endpoint, anchor_signature,
			signatures, transaction_count, status, confirmed, submission_error,
			confirmation_error, latency_ms, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+receiptColumns,
		params.LaunchID,
		pgtextFromStringPtr(params.BundleID),
		params.Mint,
		params.LookupTable,
		params.Endpoint,
		params.AnchorSignature,
		signatures,
		params.TransactionCount,
		params.Status,
		params.Confirmed,
		pgtextFromStringPtr(params.SubmissionError),
		pgtextFromStringPtr(params.ConfirmationError),
		params.LatencyMillis,
		pgtype.Timestamptz{Time: params.SubmittedAt, Valid: true},
	)

	receipt, err := scanReceipt(row)
	s.record("insert", start, err)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetBundleReceipt retrieves a receipt by launch ID. It returns
// pgx.ErrNoRows when there is none.
func (s *Store) GetBundleReceipt(ctx context.Context, launchID string) (*BundleReceipt, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM bundle_receipts WHERE launch_id = $1`, launchID)
	receipt, err := scanReceipt(row)
	s.record("select", start, err)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListBundleReceipts returns receipts, most recent submission first.
func (s *Store) ListBundleReceipts(ctx context.Context, params ListBundleReceiptsParams) ([]*BundleReceipt, error) {
	start := time.Now()
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+receiptColumns+`
		FROM bundle_receipts
		WHERE ($1::text = '' OR mint = $1)
		ORDER BY submitted_at DESC
		LIMIT $2 OFFSET $3`,
		params.Mint, limit, params.Offset,
	)
	if err != nil {
		s.record("select", start, err)
		return nil, err
	}
	defer rows.Close()

	receipts := make([]*BundleReceipt, 0)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			s.record("select", start, err)
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	err = rows.Err()
	s.record("select", start, err)
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// CountBundleReceipts returns the number of stored receipts.
func (s *Store) CountBundleReceipts(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bundle_receipts`).Scan(&n)
	return n, err
}

func (s *Store) record(operation string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, "bundle_receipts", time.Since(start).Seconds(), err)
	}
}

func scanReceipt(row pgx.Row) (*BundleReceipt, error) {
	var (
		r                         BundleReceipt
		bundleID, subErr, confErr pgtype.Text
		submittedAt, createdAt    pgtype.Timestamptz
	)
	err := row.Scan(
		&r.LaunchID,
		&bundleID,
		&r.Mint,
		&r.LookupTable,
		&r.Endpoint,
		&r.AnchorSignature,
		&r.Signatures,
		&r.TransactionCount,
		&r.Status,
		&r.Confirmed,
		&subErr,
		&confErr,
		&r.LatencyMillis,
		&submittedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	r.BundleID = stringPtrFromPgtext(bundleID)
	r.SubmissionError = stringPtrFromPgtext(subErr)
	r.ConfirmationError = stringPtrFromPgtext(confErr)
	r.SubmittedAt = submittedAt.Time
	r.CreatedAt = createdAt.Time
	return &r, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
