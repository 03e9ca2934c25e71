package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "launchbundle",
		Usage: "Coordinate a pump.fun token launch as a single atomic bundle",
		Description: `A command-line tool that creates a token and buys it from many wallets
in one Jito bundle.

Use "launch plan" to compile everything without sending, then "launch run"
to build the lookup table and submit the bundle.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "launch",
				Usage: "Plan or run a launch",
				Subcommands: []*cli.Command{
					launchRunCommand(),
					launchPlanCommand(),
				},
			},
			{
				Name:  "lut",
				Usage: "Address lookup table utilities",
				Subcommands: []*cli.Command{
					lutCreateCommand(),
					lutExtendCommand(),
					lutShowCommand(),
				},
			},
			{
				Name:  "signers",
				Usage: "Signer directory utilities",
				Subcommands: []*cli.Command{
					signersGenerateCommand(),
					signersListCommand(),
				},
			},
			{
				Name:  "receipts",
				Usage: "Query stored bundle receipts (HTTP API)",
				Subcommands: []*cli.Command{
					receiptsListCommand(),
					receiptsGetCommand(),
				},
			},
			{
				Name:  "events",
				Usage: "Launch event streaming commands",
				Subcommands: []*cli.Command{
					eventsSubscribeCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file read before loading configuration",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Receipt server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]string{
					"version": version,
					"commit":  commit,
					"date":    date,
				})
			}
			fmt.Fprintf(c.App.Writer, "launchbundle %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
