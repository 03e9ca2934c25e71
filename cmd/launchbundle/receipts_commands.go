package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/launchbundle/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func receiptsListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List stored bundle receipts, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Filter by mint address",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum receipts to return",
				Value: 20,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Receipts to skip",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq filter each receipt must satisfy (can be repeated)",
			},
		},
		Description: `List receipts from the receipt server.

--must-jq filters run against each receipt's JSON form. A receipt is kept
only when every filter yields a truthy value.

Example:
  launchbundle receipts list --must-jq '.confirmed == false' --json`,
		Action: func(c *cli.Context) error {
			filters, err := compileJQ(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelError, // Only errors to stderr
			}))
			cl := client.NewClient(c.String("server-url"), nil, logger)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			receipts, err := cl.List(ctx, client.ListOptions{
				Mint:   c.String("mint"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}

			receipts, err = filterReceipts(receipts, filters, logger)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, receipts)
			}
			printReceipts(c.App.Writer, receipts)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d receipts\n", len(receipts))
			return nil
		},
	}
}

func receiptsGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one receipt",
		ArgsUsage: "<launch_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: launch id")
			}

			cl := client.NewClient(c.String("server-url"), nil, nil)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			r, err := cl.Get(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, r)
			}

			out := c.App.Writer
			fmt.Fprintf(out, "Launch:       %s\n", r.LaunchID)
			fmt.Fprintf(out, "Mint:         %s\n", r.Mint)
			fmt.Fprintf(out, "Status:       %s\n", r.Status)
			if r.BundleID != nil {
				fmt.Fprintf(out, "Bundle ID:    %s\n", *r.BundleID)
			}
			fmt.Fprintf(out, "Lookup table: %s\n", r.LookupTable)
			fmt.Fprintf(out, "Relay:        %s (%s)\n", r.Endpoint, r.Latency())
			fmt.Fprintf(out, "Confirmed:    %t\n", r.Confirmed)
			if r.SubmissionError != nil {
				fmt.Fprintf(out, "Submission:   %s\n", *r.SubmissionError)
			}
			if r.ConfirmationError != nil {
				fmt.Fprintf(out, "Confirmation: %s\n", *r.ConfirmationError)
			}
			fmt.Fprintf(out, "Submitted:    %s\n", r.SubmittedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Transactions: %d\n", r.TransactionCount)
			for i, sig := range r.Signatures {
				fmt.Fprintf(out, "  %d  %s\n", i, sig)
			}
			return nil
		},
	}
}

func printReceipts(out io.Writer, receipts []*client.Receipt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAUNCH\tMINT\tSTATUS\tCONFIRMED\tTXS\tSUBMITTED")
	for _, r := range receipts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			r.LaunchID,
			r.Mint,
			r.Status,
			r.Confirmed,
			r.TransactionCount,
			r.SubmittedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

// compileJQ parses and compiles each filter.
func compileJQ(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// filterReceipts keeps receipts for which every filter is truthy.
func filterReceipts(receipts []*client.Receipt, filters []*gojq.Code, logger *slog.Logger) ([]*client.Receipt, error) {
	if len(filters) == 0 {
		return receipts, nil
	}

	kept := make([]*client.Receipt, 0, len(receipts))
	for _, r := range receipts {
		// gojq wants plain maps, not structs
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}

		if matchesAll(doc, filters, logger) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

func matchesAll(doc interface{}, filters []*gojq.Code, logger *slog.Logger) bool {
	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			// No result means filter failed
			return false
		}
		if err, isErr := v.(error); isErr {
			logger.Debug("jq filter error", "error", err)
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
