package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dustpan",
		Usage: "Burn dust and close idle SPL token accounts to reclaim rent",
		Description: `A command-line tool for cleaning up a Solana wallet.

Every token account owned by the wallet is classified as dust (non-zero balance,
burned then closed), idle (zero balance, closed) or keep (left alone). All
instructions go out in one transaction, and the wallet's SOL balance is compared
before and after.

Run "dustpan scan" first to see what a cleanup would do.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			scanCommand(),
			cleanCommand(),
			// Run history commands
			{
				Name:  "history",
				Usage: "Inspect recorded cleanup runs (requires DATABASE_URL)",
				Subcommands: []*cli.Command{
					historyListCommand(),
					historyShowCommand(),
				},
			},
			// NATS event commands
			{
				Name:  "events",
				Usage: "Cleanup event stream commands (requires NATS_URL)",
				Subcommands: []*cli.Command{
					tailEventsCommand(),
					inspectStreamCommand(),
				},
			},
			{
				Name:  "devnet",
				Usage: "Devnet helpers",
				Subcommands: []*cli.Command{
					seedCommand(),
				},
			},
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: globalFlags(),
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML config file",
			EnvVars: []string{"DUSTPAN_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:    "rpc-url",
			Aliases: []string{"u"},
			Usage:   "Solana RPC URL (repeatable; one is picked at random per run)",
		},
		&cli.StringFlag{
			Name:    "keypair",
			Aliases: []string{"k"},
			Usage:   "Path to the wallet keypair file (Solana CLI JSON format)",
		},
		&cli.StringFlag{
			Name:  "commitment",
			Usage: "Commitment level: processed, confirmed or finalized",
		},
		&cli.StringFlag{
			Name:  "encoding",
			Usage: "Account data encoding to request: base64, base58 or jsonParsed",
		},
		&cli.StringFlag{
			Name:  "missing-amount",
			Usage: `What to do when account data has no token amount: "skip" or an integer to assume`,
		},
		&cli.BoolFlag{
			Name:  "include-token-2022",
			Usage: "Also scan accounts owned by the Token-2022 program",
		},
		&cli.StringFlag{
			Name:  "rent-destination",
			Usage: "Send reclaimed rent here instead of back to the wallet",
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Abort the whole batch if any account cannot be processed",
		},
		&cli.DurationFlag{
			Name:  "confirm-timeout",
			Usage: "How long to wait for confirmation",
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "How often to poll for confirmation",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn or error",
		},
		&cli.StringFlag{
			Name:  "database-url",
			Usage: "Postgres URL for run history",
		},
		&cli.StringFlag{
			Name:  "nats-url",
			Usage: "NATS URL for run events",
		},
		&cli.StringFlag{
			Name:  "pushgateway-url",
			Usage: "Prometheus Pushgateway URL for run metrics",
		},
		&cli.BoolFlag{
			Name:    "json",
			Aliases: []string{"j"},
			Usage:   "Output in JSON format",
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
			fmt.Fprintf(c.App.Writer, "dustpan %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
