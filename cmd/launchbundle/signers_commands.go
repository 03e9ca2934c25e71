package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/launchbundle/service/signers"
	"github.com/urfave/cli/v2"
)

func signersGenerateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate fresh signer keys in the directory file format",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of signers",
				Value:   10,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write (stdout if empty). Existing files are not overwritten.",
			},
		},
		Action: func(c *cli.Context) error {
			n := c.Int("count")
			if n <= 0 {
				return fmt.Errorf("count must be positive")
			}
			ids, err := signers.Generate(n)
			if err != nil {
				return err
			}

			path := c.String("output")
			if path == "" {
				return signers.Write(c.App.Writer, ids)
			}

			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			defer f.Close()
			if err := signers.Write(f, ids); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			fmt.Fprintf(c.App.ErrWriter, "Wrote %d signers to %s\n", n, path)
			return nil
		},
	}
}

func signersListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "Print the public keys in a signer file",
		ArgsUsage: "[file]",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				path = os.Getenv("SIGNER_FILE")
			}
			if path == "" {
				path = "wallets.txt"
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if c.String("log-level") == "debug" {
				logger = setupLogger("debug")
			}

			ids, err := signers.Load(path, logger)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				out := make([]map[string]interface{}, len(ids))
				for i, id := range ids {
					out[i] = map[string]interface{}{
						"line":       id.Line,
						"public_key": id.PublicKey.String(),
					}
				}
				return outputJSON(c.App.Writer, out)
			}
			for _, id := range ids {
				fmt.Fprintf(c.App.Writer, "%4d  %s\n", id.Line, id.PublicKey)
			}
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d signers\n", len(ids))
			return nil
		},
	}
}
