package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/brojonat/launchbundle/service/launch"
	"github.com/brojonat/launchbundle/service/metrics"
	"github.com/brojonat/launchbundle/service/signers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func launchRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Build the lookup table, compile the bundle and submit it",
		Description: `Runs a full launch:
1. Loads signers and uploads token metadata (unless METADATA_URI is set)
2. Creates and extends this run's lookup table, then waits for it to activate
3. Compiles the create transaction and one buy transaction per chunk
4. Submits the bundle to the relay and waits for the anchor to confirm

The bundle is sent once. A failure after submission is reported, never retried.

Example:
  launchbundle launch run --json`,
		Flags: []cli.Flag{metricsAddrFlag()},
		Action: func(c *cli.Context) error {
			return runLaunch(c, false)
		},
	}
}

func launchPlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Compile the bundle without sending anything",
		Description: `Plans a launch without touching chain state or the relay.

The lookup table is simulated at the address it would get, every transaction
is compiled and signed against the current blockhash, and the sizes are
reported. Nothing is uploaded or submitted.`,
		Flags: []cli.Flag{metricsAddrFlag()},
		Action: func(c *cli.Context) error {
			return runLaunch(c, true)
		},
	}
}

func metricsAddrFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Serve Prometheus metrics on this address while the launch runs",
		EnvVars: []string{"METRICS_ADDR"},
	}
}

func runLaunch(c *cli.Context, dryRun bool) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := setupLogger(c.String("log-level"))
	m := metrics.NewMetrics(nil)

	if addr := c.String("metrics-addr"); addr != "" {
		go func() {
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				logger.Warn("metrics listener stopped", "addr", addr, "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := signers.Load(cfg.SignerFile, logger)
	if err != nil {
		return err
	}

	uri, err := resolveMetadataURI(ctx, cfg, dryRun, logger)
	if err != nil {
		return err
	}

	var out *sinks
	if !dryRun {
		out, err = openSinks(ctx, cfg, m, logger)
		if err != nil {
			return err
		}
		defer out.Close()
	}

	pipeline := newPipeline(cfg, newLedger(cfg, m, logger), out, uri, m, logger)

	var result *launch.Result
	if dryRun {
		result, err = pipeline.Plan(ctx, ids)
	} else {
		result, err = pipeline.Run(ctx, ids)
	}

	if result != nil {
		if c.Bool("json") {
			if jerr := outputJSON(c.App.Writer, newResultView(result)); jerr != nil {
				return jerr
			}
		} else {
			printResult(c.App.Writer, result)
		}
	}
	if err != nil {
		return fmt.Errorf("launch failed: %w", err)
	}
	return nil
}

// resultView is the JSON shape of a launch result.
type resultView struct {
	LaunchID          string        `json:"launch_id"`
	Mint              string        `json:"mint"`
	DryRun            bool          `json:"dry_run"`
	LookupTable       string        `json:"lookup_table,omitempty"`
	TableAddresses    int           `json:"table_addresses"`
	ExtendBatches     int           `json:"extend_batches"`
	Blockhash         string        `json:"blockhash,omitempty"`
	TipAccount        string        `json:"tip_account,omitempty"`
	AnchorSize        int           `json:"anchor_size"`
	Chunks            []chunkView   `json:"chunks"`
	Signatures        []string      `json:"signatures,omitempty"`
	Receipt           *receiptBrief `json:"receipt,omitempty"`
	SubmissionError   string        `json:"submission_error,omitempty"`
	ConfirmationError string        `json:"confirmation_error,omitempty"`
}

type chunkView struct {
	Index        int    `json:"index"`
	Signers      int    `json:"signers"`
	Payer        string `json:"payer"`
	Lamports     uint64 `json:"lamports"`
	Instructions int    `json:"instructions"`
	Size         int    `json:"size"`
	Compressed   int    `json:"compressed"`
}

type receiptBrief struct {
	BundleID  string `json:"bundle_id"`
	Endpoint  string `json:"endpoint"`
	Confirmed bool   `json:"confirmed"`
	LatencyMs int64  `json:"latency_ms"`
}

func newResultView(r *launch.Result) resultView {
	v := resultView{
		LaunchID:       r.LaunchID,
		Mint:           r.Mint.String(),
		DryRun:         r.DryRun,
		TableAddresses: r.TableAddresses,
		ExtendBatches:  r.ExtendBatches,
		AnchorSize:     r.AnchorLen,
		Chunks:         make([]chunkView, len(r.Chunks)),
	}
	if !r.Table.IsZero() {
		v.LookupTable = r.Table.String()
	}
	if !r.Blockhash.IsZero() {
		v.Blockhash = r.Blockhash.String()
	}
	if !r.TipAccount.IsZero() {
		v.TipAccount = r.TipAccount.String()
	}
	for i, ch := range r.Chunks {
		v.Chunks[i] = chunkView{
			Index:        ch.Index,
			Signers:      ch.Signers,
			Payer:        ch.Payer.String(),
			Lamports:     ch.Lamports,
			Instructions: ch.Instructions,
			Size:         ch.SerializedLen,
			Compressed:   ch.Compressed,
		}
	}
	if r.Bundle != nil {
		for _, sig := range r.Bundle.Signatures() {
			v.Signatures = append(v.Signatures, sig.String())
		}
	}
	if rc := r.Receipt; rc != nil {
		v.Receipt = &receiptBrief{
			BundleID:  rc.BundleID,
			Endpoint:  rc.Endpoint,
			Confirmed: rc.Confirmed,
			LatencyMs: rc.Latency.Milliseconds(),
		}
		if rc.SubmissionErr != nil {
			v.SubmissionError = rc.SubmissionErr.Error()
		}
		if rc.ConfirmationErr != nil {
			v.ConfirmationError = rc.ConfirmationErr.Error()
		}
	}
	return v
}

func printResult(out io.Writer, r *launch.Result) {
	mode := "run"
	if r.DryRun {
		mode = "plan"
	}
	fmt.Fprintf(out, "Launch:        %s (%s)\n", r.LaunchID, mode)
	fmt.Fprintf(out, "Mint:          %s\n", r.Mint)
	if !r.Table.IsZero() {
		fmt.Fprintf(out, "Lookup table:  %s (%d addresses, %d extend batches)\n", r.Table, r.TableAddresses, r.ExtendBatches)
	}
	if !r.Blockhash.IsZero() {
		fmt.Fprintf(out, "Blockhash:     %s\n", r.Blockhash)
	}
	if !r.TipAccount.IsZero() {
		fmt.Fprintf(out, "Tip account:   %s\n", r.TipAccount)
	}
	if r.AnchorLen > 0 {
		fmt.Fprintf(out, "Anchor size:   %d bytes\n", r.AnchorLen)
	}

	if len(r.Chunks) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHUNK\tSIGNERS\tPAYER\tLAMPORTS\tIXS\tSIZE\tCOMPRESSED")
		for _, ch := range r.Chunks {
			fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%d\t%d\t%d\n",
				ch.Index, ch.Signers, ch.Payer, ch.Lamports, ch.Instructions, ch.SerializedLen, ch.Compressed)
		}
		w.Flush()
	}

	if rc := r.Receipt; rc != nil {
		fmt.Fprintln(out)
		if rc.SubmissionErr != nil {
			fmt.Fprintf(out, "Submission:    failed: %v\n", rc.SubmissionErr)
			return
		}
		fmt.Fprintf(out, "Bundle ID:     %s\n", rc.BundleID)
		fmt.Fprintf(out, "Relay:         %s (%s)\n", rc.Endpoint, rc.Latency)
		if rc.Confirmed {
			fmt.Fprintf(out, "Anchor:        %s confirmed\n", rc.AnchorSignature)
		} else {
			fmt.Fprintf(out, "Anchor:        %s not confirmed: %v\n", rc.AnchorSignature, rc.ConfirmationErr)
		}
	}
}
