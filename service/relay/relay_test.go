package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brojonat/launchbundle/service/bundle"
	"github.com/brojonat/launchbundle/service/compiler"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/planner"
	"github.com/brojonat/launchbundle/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rpcStatusConfirmed = rpc.SignatureStatusesResult{
	Slot:               1,
	ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testBundle builds an anchor plus n single-transfer chunks.
func testBundle(t *testing.T, mock *solana.MockRPCClient, n int) *bundle.Bundle {
	t.Helper()
	ctx := context.Background()
	ledger := solana.NewClient(mock, "test", nil, testLogger())
	c := compiler.NewCompiler(ledger, 0, nil, testLogger())

	operator, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	asm := bundle.NewAssembler(operator.PublicKey(), bundle.Config{TipLamports: 1000}, planner.NewSequenceSource(0), testLogger())

	ixs, _ := asm.AnchorInstructions(nil)
	anchor, err := c.Compile(ctx, compiler.Request{
		ChunkIndex:   compiler.AnchorIndex,
		Payer:        operator.PublicKey(),
		Instructions: ixs,
		Signers:      []solanago.PrivateKey{operator},
	})
	require.NoError(t, err)

	var chunks []*compiler.CompiledTransaction
	for i := 0; i < n; i++ {
		payer, err := solanago.NewRandomPrivateKey()
		require.NoError(t, err)
		ct, err := c.Compile(ctx, compiler.Request{
			ChunkIndex: i,
			Payer:      payer.PublicKey(),
			Instructions: []solanago.Instruction{
				system.NewTransferInstruction(1, payer.PublicKey(), solanago.NewWallet().PublicKey()).Build(),
			},
			Signers: []solanago.PrivateKey{payer},
		})
		require.NoError(t, err)
		chunks = append(chunks, ct)
	}

	b, err := asm.Assemble(anchor, chunks)
	require.NoError(t, err)
	return b
}

type capturedRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Method  string      `json:"method"`
	Params  [][]string  `json:"params"`
}

// relayServer records requests and replies with status and body.
type relayServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (rs *relayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req capturedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	rs.mu.Lock()
	rs.requests = append(rs.requests, req)
	rs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rs.status)
	_, _ = io.WriteString(w, rs.body)
}

type stubConfirmer struct {
	err   error
	calls int
	sig   solanago.Signature
	last  uint64
}

func (s *stubConfirmer) AwaitConfirmation(ctx context.Context, sig solanago.Signature, lastValid uint64) error {
	s.calls++
	s.sig = sig
	s.last = lastValid
	return s.err
}

func TestSubmit_Accepted(t *testing.T) {
	rs := &relayServer{status: http.StatusOK, body: `{"jsonrpc":"2.0","result":"b1d2","id":1}`}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	mock := solana.NewMockRPCClient(100)
	b := testBundle(t, mock, 3)
	conf := &stubConfirmer{}
	s := NewSubmitter(srv.Client(), conf, nil, testLogger())

	receipt, err := s.Submit(context.Background(), b, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "b1d2", receipt.BundleID)
	assert.Equal(t, 4, receipt.TransactionCount)
	assert.Equal(t, b.Anchor().Signature(), receipt.AnchorSignature)
	assert.True(t, receipt.Confirmed)
	assert.NoError(t, receipt.ConfirmationErr)
	assert.Greater(t, receipt.Latency, time.Duration(0))

	// one request, one param holding every transaction in order
	require.Len(t, rs.requests, 1)
	req := rs.requests[0]
	assert.Equal(t, "sendBundle", req.Method)
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.NotNil(t, req.ID)
	require.Len(t, req.Params, 1)
	require.Len(t, req.Params[0], 4)

	for i, encoded := range req.Params[0] {
		raw, err := base58.Decode(encoded)
		require.NoError(t, err)
		tx, err := solanago.TransactionFromBytes(raw)
		require.NoError(t, err)
		assert.Equal(t, b.Transactions[i].Signature(), tx.Signatures[0])
	}

	assert.Equal(t, 1, conf.calls)
	assert.Equal(t, receipt.AnchorSignature, conf.sig)
	assert.Equal(t, b.Anchor().Blockhash.LastValidBlockHeight, conf.last)
}

func TestSubmit_Rejected(t *testing.T) {
	rs := &relayServer{
		status: http.StatusBadRequest,
		body:   `{"jsonrpc":"2.0","error":{"code":-32602,"message":"bundle contains an expired blockhash","data":"slot 12"},"id":1}`,
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	conf := &stubConfirmer{}
	s := NewSubmitter(srv.Client(), conf, nil, testLogger())
	receipt, err := s.Submit(context.Background(), testBundle(t, solana.NewMockRPCClient(100), 1), srv.URL)
	require.Error(t, err)

	assert.ErrorIs(t, err, faults.ErrRelayRejected)
	assert.True(t, faults.Fatal(err))
	var relayErr *faults.RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, -32602, relayErr.Code)
	assert.Equal(t, "bundle contains an expired blockhash", relayErr.Message)
	assert.Equal(t, "slot 12", relayErr.Detail)

	require.NotNil(t, receipt)
	assert.Equal(t, err, receipt.SubmissionErr)
	assert.Zero(t, conf.calls)
}

func TestSubmit_RejectedWithExtraErrorFields(t *testing.T) {
	rs := &relayServer{
		status: http.StatusBadRequest,
		body:   `{"jsonrpc":"2.0","error":{"code":-32602,"message":"bundle contains an expired blockhash","details":"slot 12"},"id":1}`,
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	s := NewSubmitter(srv.Client(), nil, nil, testLogger())
	_, err := s.Submit(context.Background(), testBundle(t, solana.NewMockRPCClient(100), 1), srv.URL)
	require.Error(t, err)

	assert.ErrorIs(t, err, faults.ErrRelayRejected)
	assert.NotErrorIs(t, err, faults.ErrRelayUnreachable)
	var relayErr *faults.RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, -32602, relayErr.Code)
	assert.Equal(t, "bundle contains an expired blockhash", relayErr.Message)
	assert.Equal(t, "slot 12", relayErr.Detail)
}

func TestSubmit_MalformedResult(t *testing.T) {
	rs := &relayServer{status: http.StatusOK, body: `{"jsonrpc":"2.0","result":{"id":"x"},"extra":true,"id":1}`}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	s := NewSubmitter(srv.Client(), nil, nil, testLogger())
	_, err := s.Submit(context.Background(), testBundle(t, solana.NewMockRPCClient(100), 1), srv.URL)
	assert.ErrorIs(t, err, faults.ErrRelayRejected)
	assert.NotErrorIs(t, err, faults.ErrRelayUnreachable)
}

func TestSubmit_HTTPError(t *testing.T) {
	rs := &relayServer{status: http.StatusTooManyRequests, body: "rate limited"}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	s := NewSubmitter(srv.Client(), nil, nil, testLogger())
	_, err := s.Submit(context.Background(), testBundle(t, solana.NewMockRPCClient(100), 1), srv.URL)

	var relayErr *faults.RelayError
	require.True(t, errors.As(err, &relayErr))
	assert.Equal(t, http.StatusTooManyRequests, relayErr.Code)
	assert.Equal(t, "rate limited", relayErr.Detail)
	assert.NotErrorIs(t, err, faults.ErrRelayUnreachable)
}

func TestSubmit_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	s := NewSubmitter(nil, nil, nil, testLogger())
	_, err := s.Submit(context.Background(), testBundle(t, solana.NewMockRPCClient(100), 1), endpoint)
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrRelayUnreachable)
	assert.False(t, errors.Is(err, faults.ErrRelayRejected))
}

func TestSubmit_ConfirmationTimeoutIsNotFatal(t *testing.T) {
	rs := &relayServer{status: http.StatusOK, body: `{"jsonrpc":"2.0","result":"abc","id":1}`}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	mock := solana.NewMockRPCClient(100)
	b := testBundle(t, mock, 2)

	// the anchor never shows up and the chain moves past its blockhash
	mock.SetDefaultStatus("")
	mock.SetBlockHeight(b.Anchor().Blockhash.LastValidBlockHeight, 1)
	ledger := solana.NewClient(mock, "test", nil, testLogger()).WithPollInterval(time.Millisecond)

	s := NewSubmitter(srv.Client(), ledger, nil, testLogger())
	receipt, err := s.Submit(context.Background(), b, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "abc", receipt.BundleID)
	assert.False(t, receipt.Confirmed)
	assert.ErrorIs(t, receipt.ConfirmationErr, faults.ErrAnchorUnconfirmed)
	assert.ErrorIs(t, receipt.ConfirmationErr, faults.ErrBlockhashExpired)
	assert.False(t, faults.Fatal(receipt.ConfirmationErr))
}

func TestSubmit_ConfirmedThroughLedger(t *testing.T) {
	rs := &relayServer{status: http.StatusOK, body: `{"jsonrpc":"2.0","result":"abc","id":1}`}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	mock := solana.NewMockRPCClient(100)
	b := testBundle(t, mock, 1)
	mock.SetStatus(b.Anchor().Signature(), &rpcStatusConfirmed)
	ledger := solana.NewClient(mock, "test", nil, testLogger()).WithPollInterval(time.Millisecond)

	s := NewSubmitter(srv.Client(), ledger, nil, testLogger())
	receipt, err := s.Submit(context.Background(), b, srv.URL)
	require.NoError(t, err)
	assert.True(t, receipt.Confirmed)
}

// counterValue sums the named counter's series whose status label matches.
func counterValue(t *testing.T, reg *prometheus.Registry, name, status string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestSubmit_RecordsOutcomeMetrics(t *testing.T) {
	rs := &relayServer{status: http.StatusOK, body: `{"jsonrpc":"2.0","result":"b1d2","id":1}`}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	mock := solana.NewMockRPCClient(100)

	s := NewSubmitter(srv.Client(), &stubConfirmer{}, m, testLogger())
	_, err := s.Submit(context.Background(), testBundle(t, mock, 1), srv.URL)
	require.NoError(t, err)

	s = NewSubmitter(srv.Client(), &stubConfirmer{err: errors.New("expired")}, m, testLogger())
	_, err = s.Submit(context.Background(), testBundle(t, mock, 1), srv.URL)
	require.NoError(t, err)

	rs.status = http.StatusBadRequest
	rs.body = `{"jsonrpc":"2.0","error":{"code":-32602,"message":"bad bundle"},"id":1}`
	_, err = s.Submit(context.Background(), testBundle(t, mock, 1), srv.URL)
	require.Error(t, err)

	assert.Equal(t, 2.0, counterValue(t, reg, "bundle_submissions_total", "accepted"))
	assert.Equal(t, 1.0, counterValue(t, reg, "bundle_submissions_total", "rejected"))
	assert.Equal(t, 1.0, counterValue(t, reg, "anchor_confirmations_total", "confirmed"))
	assert.Equal(t, 1.0, counterValue(t, reg, "anchor_confirmations_total", "unconfirmed"))
}
