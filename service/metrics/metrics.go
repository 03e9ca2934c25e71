package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Lookup Table Metrics
	lookupTableOpsTotal       *prometheus.CounterVec
	lookupTableAddressesTotal prometheus.Counter
	lookupTableActivationWait prometheus.Histogram

	// Compilation Metrics
	transactionsCompiledTotal *prometheus.CounterVec
	transactionSizeBytes      prometheus.Histogram
	chunkSigners              prometheus.Histogram
	buyLamports               prometheus.Histogram

	// Bundle Metrics
	bundleSubmissionsTotal   *prometheus.CounterVec
	bundleSubmissionDuration prometheus.Histogram
	bundleTransactions       prometheus.Histogram
	anchorConfirmationsTotal *prometheus.CounterVec
	launchRunsTotal          *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Lookup Table Metrics
		lookupTableOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lookup_table_operations_total",
				Help: "Total number of lookup table operations by kind and status",
			},
			[]string{"operation", "status"},
		),
		lookupTableAddressesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lookup_table_addresses_added_total",
				Help: "Total number of addresses confirmed into lookup tables",
			},
		),
		lookupTableActivationWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lookup_table_activation_wait_seconds",
				Help:    "Time spent waiting for a lookup table to become usable",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),

		// Compilation Metrics
		transactionsCompiledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_compiled_total",
				Help: "Total number of transactions compiled by role and status",
			},
			[]string{"role", "status"},
		),
		transactionSizeBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transaction_size_bytes",
				Help:    "Serialized size of compiled transactions",
				Buckets: []float64{256, 512, 768, 1024, 1128, 1180, 1232},
			},
		),
		chunkSigners: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chunk_signers",
				Help:    "Number of signers per planned chunk",
				Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
			},
		),
		buyLamports: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "buy_lamports",
				Help:    "Jittered purchase amounts in lamports",
				Buckets: prometheus.ExponentialBuckets(10_000, 4, 10),
			},
		),

		// Bundle Metrics
		bundleSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundle_submissions_total",
				Help: "Total number of bundle submissions by outcome",
			},
			[]string{"endpoint", "status"},
		),
		bundleSubmissionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bundle_submission_duration_seconds",
				Help:    "Relay round-trip latency for sendBundle",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		bundleTransactions: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bundle_transactions",
				Help:    "Number of transactions per submitted bundle",
				Buckets: []float64{1, 2, 3, 4, 5, 10, 20},
			},
		),
		anchorConfirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anchor_confirmations_total",
				Help: "Total number of anchor confirmation outcomes",
			},
			[]string{"status"},
		),
		launchRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launch_runs_total",
				Help: "Total number of launch pipeline runs by terminal stage and status",
			},
			[]string{"stage", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Lookup table metric helpers

// RecordTableOperation records a create, extend or read of a lookup table.
func (m *Metrics) RecordTableOperation(operation string, err error) {
	m.lookupTableOpsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// RecordTableAddresses records addresses confirmed into a table.
func (m *Metrics) RecordTableAddresses(count int) {
	m.lookupTableAddressesTotal.Add(float64(count))
}

// RecordActivationWait records how long the activation wait took.
func (m *Metrics) RecordActivationWait(duration float64) {
	m.lookupTableActivationWait.Observe(duration)
}

// Compilation metric helpers

// RecordCompile records one compile attempt. Size is only observed on success.
func (m *Metrics) RecordCompile(role string, size int, err error) {
	m.transactionsCompiledTotal.WithLabelValues(role, errorStatus(err)).Inc()
	if err == nil {
		m.transactionSizeBytes.Observe(float64(size))
	}
}

// RecordChunk records the signer count of a planned chunk.
func (m *Metrics) RecordChunk(signers int) {
	m.chunkSigners.Observe(float64(signers))
}

// RecordBuyAmount records a jittered purchase amount.
func (m *Metrics) RecordBuyAmount(lamports uint64) {
	m.buyLamports.Observe(float64(lamports))
}

// Bundle metric helpers

// RecordBundleSubmission records a sendBundle call.
func (m *Metrics) RecordBundleSubmission(endpoint, status string, transactions int, duration float64) {
	m.bundleSubmissionsTotal.WithLabelValues(endpoint, status).Inc()
	m.bundleSubmissionDuration.Observe(duration)
	m.bundleTransactions.Observe(float64(transactions))
}

// RecordAnchorConfirmation records whether the anchor landed.
func (m *Metrics) RecordAnchorConfirmation(status string) {
	m.anchorConfirmationsTotal.WithLabelValues(status).Inc()
}

// RecordLaunch records the terminal stage of a pipeline run.
func (m *Metrics) RecordLaunch(stage string, err error) {
	m.launchRunsTotal.WithLabelValues(stage, errorStatus(err)).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
