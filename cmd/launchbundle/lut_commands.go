package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func lutCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an empty lookup table owned by the operator",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(c.String("log-level"))
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tables := newTableManager(newLedger(cfg, nil, logger), cfg, nil, logger)
			table, err := tables.Create(ctx)
			if err != nil {
				return fmt.Errorf("failed to create lookup table: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"address":       table.Address.String(),
					"authority":     table.Authority.String(),
					"creation_slot": table.CreationSlot,
					"signature":     table.Signature.String(),
				})
			}
			fmt.Fprintf(c.App.Writer, "Address:   %s\n", table.Address)
			fmt.Fprintf(c.App.Writer, "Authority: %s\n", table.Authority)
			fmt.Fprintf(c.App.Writer, "Slot:      %d\n", table.CreationSlot)
			fmt.Fprintf(c.App.Writer, "Signature: %s\n", table.Signature)
			return nil
		},
	}
}

func lutExtendCommand() *cli.Command {
	return &cli.Command{
		Name:      "extend",
		Usage:     "Append addresses to an operator-owned lookup table",
		ArgsUsage: "<table> <address>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the new entries to become usable",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("requires a table address and at least one address to add")
			}
			table, err := solanago.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid table address: %w", err)
			}
			addresses, err := parseAddresses(c.Args().Tail())
			if err != nil {
				return err
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(c.String("log-level"))
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tables := newTableManager(newLedger(cfg, nil, logger), cfg, nil, logger)
			rev, err := tables.Extend(ctx, table, addresses)
			if err != nil {
				return fmt.Errorf("failed to extend lookup table: %w", err)
			}
			if c.Bool("wait") {
				if err := tables.WaitActive(ctx, rev.LastSlot); err != nil {
					return err
				}
			}

			if c.Bool("json") {
				sigs := make([]string, len(rev.Signatures))
				for i, s := range rev.Signatures {
					sigs[i] = s.String()
				}
				return outputJSON(c.App.Writer, map[string]interface{}{
					"table":      rev.Table.String(),
					"added":      len(rev.Added),
					"batches":    rev.Batches,
					"signatures": sigs,
					"last_slot":  rev.LastSlot,
				})
			}
			fmt.Fprintf(c.App.Writer, "Added %d addresses to %s in %d batches (last slot %d)\n",
				len(rev.Added), rev.Table, rev.Batches, rev.LastSlot)
			return nil
		},
	}
}

func lutShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a lookup table's entries",
		ArgsUsage: "<table>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: table address")
			}
			table, err := solanago.PublicKeyFromBase58(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid table address: %w", err)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger := setupLogger(c.String("log-level"))

			tables := newTableManager(newLedger(cfg, nil, logger), cfg, nil, logger)
			resolved, err := tables.ReadResolved(context.Background(), table)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				addrs := make([]string, len(resolved.Addresses))
				for i, a := range resolved.Addresses {
					addrs[i] = a.String()
				}
				return outputJSON(c.App.Writer, map[string]interface{}{
					"table":              resolved.Table.String(),
					"last_extended_slot": resolved.LastExtendedSlot,
					"addresses":          addrs,
				})
			}
			fmt.Fprintf(c.App.Writer, "Table: %s (last extended at slot %d)\n", resolved.Table, resolved.LastExtendedSlot)
			for i, a := range resolved.Addresses {
				fmt.Fprintf(c.App.Writer, "%4d  %s\n", i, a)
			}
			return nil
		},
	}
}

func parseAddresses(args []string) (solanago.PublicKeySlice, error) {
	out := make(solanago.PublicKeySlice, 0, len(args))
	for _, a := range args {
		pk, err := solanago.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", a, err)
		}
		out = append(out, pk)
	}
	return out, nil
}
