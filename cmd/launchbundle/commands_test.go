package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/launchbundle/client"
	"github.com/brojonat/launchbundle/service/config"
	"github.com/brojonat/launchbundle/service/faults"
	"github.com/brojonat/launchbundle/service/launch"
	"github.com/brojonat/launchbundle/service/relay"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"launchbundle"}, args...))
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runApp(t, "--json", "version")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, "dev", v["version"])

	out, err = runApp(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "launchbundle dev")
}

func TestSignersGenerateAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.txt")

	_, err := runApp(t, "signers", "generate", "-n", "3", "-o", path)
	require.NoError(t, err)

	out, err := runApp(t, "--json", "signers", "list", path)
	require.NoError(t, err)

	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 3)
	for i, entry := range listed {
		assert.EqualValues(t, i+1, entry["line"])
		_, err := solanago.PublicKeyFromBase58(entry["public_key"].(string))
		assert.NoError(t, err)
	}

	_, err = runApp(t, "signers", "generate", "-n", "1", "-o", path)
	require.Error(t, err, "existing signer files must not be overwritten")
}

func TestSignersGenerate_Stdout(t *testing.T) {
	out, err := runApp(t, "signers", "generate", "-n", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2)

	_, err = runApp(t, "signers", "generate", "-n", "0")
	assert.Error(t, err)
}

func receiptServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/receipts":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"receipts": []map[string]interface{}{
					{"launch_id": "aaa", "mint": "M1", "status": "accepted", "confirmed": true, "transaction_count": 4},
					{"launch_id": "bbb", "mint": "M2", "status": "accepted", "confirmed": false, "transaction_count": 3},
					{"launch_id": "ccc", "mint": "M3", "status": "rejected", "confirmed": false, "transaction_count": 5},
				},
				"count": 3,
			})
		case "/api/v1/receipts/aaa":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"launch_id": "aaa", "mint": "M1", "status": "accepted", "bundle_id": "bundle-aaa",
				"confirmed": true, "signatures": []string{"s0", "s1"}, "transaction_count": 2,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "receipt not found"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReceiptsList_JQFilter(t *testing.T) {
	srv := receiptServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "--json", "receipts", "list",
		"--must-jq", `.status == "accepted"`, "--must-jq", `.confirmed | not`)
	require.NoError(t, err)

	var receipts []client.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipts))
	require.Len(t, receipts, 1)
	assert.Equal(t, "bbb", receipts[0].LaunchID)
}

func TestReceiptsList_Table(t *testing.T) {
	srv := receiptServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "receipts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "LAUNCH")
	assert.Contains(t, out, "aaa")
	assert.Contains(t, out, "ccc")
}

func TestReceiptsList_BadFilter(t *testing.T) {
	_, err := runApp(t, "receipts", "list", "--must-jq", ".[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestReceiptsGet(t *testing.T) {
	srv := receiptServer(t)

	out, err := runApp(t, "--server-url", srv.URL, "receipts", "get", "aaa")
	require.NoError(t, err)
	assert.Contains(t, out, "bundle-aaa")
	assert.Contains(t, out, "s1")

	_, err = runApp(t, "--server-url", srv.URL, "receipts", "get", "zzz")
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestFilterReceipts(t *testing.T) {
	filters, err := compileJQ([]string{`.transaction_count > 3`})
	require.NoError(t, err)

	in := []*client.Receipt{
		{LaunchID: "a", TransactionCount: 5},
		{LaunchID: "b", TransactionCount: 2},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	out, err := filterReceipts(in, filters, logger)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].LaunchID)

	out, err = filterReceipts(in, nil, logger)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy(map[string]interface{}{}))
}

func TestExtractEndpointFromURL(t *testing.T) {
	assert.Equal(t, "mainnet", extractEndpointFromURL("https://api.mainnet-beta.solana.com"))
	assert.Equal(t, "devnet", extractEndpointFromURL("https://api.devnet.solana.com"))
	assert.Equal(t, "localnet", extractEndpointFromURL("http://127.0.0.1:8899"))
	assert.Equal(t, "custom", extractEndpointFromURL("https://rpc.example.com"))
}

func TestResolveMetadataURI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	uri, err := resolveMetadataURI(ctx, &config.Config{MetadataURI: "https://ipfs.io/ipfs/QmSet"}, false, logger)
	require.NoError(t, err)
	assert.Equal(t, "https://ipfs.io/ipfs/QmSet", uri)

	empty := t.TempDir()
	_, err = resolveMetadataURI(ctx, &config.Config{AssetImageDir: empty}, true, logger)
	assert.ErrorIs(t, err, faults.ErrMissingAssetImage)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte("png"), 0o600))
	uri, err = resolveMetadataURI(ctx, &config.Config{AssetImageDir: dir}, true, logger)
	require.NoError(t, err)
	assert.Equal(t, planMetadataURI, uri)
}

func TestResultView(t *testing.T) {
	payer := solanago.NewWallet().PublicKey()
	table := solanago.NewWallet().PublicKey()
	res := &launch.Result{
		LaunchID:       "launch-1",
		Mint:           solanago.NewWallet().PublicKey(),
		Table:          table,
		TableAddresses: 16,
		ExtendBatches:  1,
		AnchorLen:      930,
		Chunks: []launch.ChunkSummary{
			{Index: 0, Signers: 5, Payer: payer, Lamports: 500_000, Instructions: 17, SerializedLen: 960, Compressed: 30},
		},
		Receipt: &relay.Receipt{
			BundleID:  "bundle-1",
			Endpoint:  "https://relay.example",
			Latency:   150 * time.Millisecond,
			Confirmed: true,
		},
	}

	v := newResultView(res)
	assert.Equal(t, table.String(), v.LookupTable)
	assert.Empty(t, v.Blockhash)
	require.Len(t, v.Chunks, 1)
	assert.Equal(t, payer.String(), v.Chunks[0].Payer)
	assert.Equal(t, 960, v.Chunks[0].Size)
	require.NotNil(t, v.Receipt)
	assert.Equal(t, int64(150), v.Receipt.LatencyMs)
	assert.Empty(t, v.SubmissionError)

	var buf bytes.Buffer
	printResult(&buf, res)
	assert.Contains(t, buf.String(), "bundle-1")
	assert.Contains(t, buf.String(), "CHUNK")
}
