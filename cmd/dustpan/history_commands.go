package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/dustpan/service/db"
	"github.com/brojonat/dustpan/service/wallet"
	"github.com/urfave/cli/v2"
)

func historyListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List recent runs for a wallet",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "wallet",
				Aliases: []string{"w"},
				Usage:   "Wallet address (defaults to the keypair's wallet)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of runs",
				Value:   20,
			},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			store, closer, address, err := historyStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if flag := c.String("wallet"); flag != "" {
				address = flag
			}
			if address == "" {
				return fmt.Errorf("please specify --wallet or a readable --keypair")
			}

			runs, err := store.ListRunsByWallet(ctx, address, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, runs)
			}
			printRuns(c.App.Writer, runs)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d runs\n", len(runs))
			return nil
		},
	}
}

func historyShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one run with its per-account lines",
		Aliases:   []string{"get"},
		ArgsUsage: "<run-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: run id")
			}
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q: %w", c.Args().First(), err)
			}

			ctx := c.Context
			store, closer, _, err := historyStore(c)
			if err != nil {
				return err
			}
			defer closer()

			run, err := store.GetRun(ctx, id)
			if errors.Is(err, db.ErrRunNotFound) {
				return fmt.Errorf("run %d not found", id)
			}
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}
			accounts, err := store.ListRunAccounts(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get run accounts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]interface{}{
					"run":      run,
					"accounts": accounts,
				})
			}
			printRun(c.App.Writer, run, accounts)
			return nil
		},
	}
}

// historyStore opens the run-history database. It also returns the wallet
// address from the configured keypair when the keypair can be read.
func historyStore(c *cli.Context) (*db.Store, func(), string, error) {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, "", err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, "", fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	store, closer, err := openStore(ctx, cfg.DatabaseURL, nil)
	if err != nil {
		return nil, nil, "", err
	}

	address := ""
	if key, err := wallet.LoadKeypair(wallet.ExpandHome(cfg.KeypairPath)); err == nil {
		address = key.PublicKey().String()
	}
	return store, closer, address, nil
}

func printRuns(w io.Writer, runs []*db.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tDUST\tIDLE\tKEEP\tNET CHANGE\tCREATED")
	for _, r := range runs {
		net := "-"
		if r.NetChange != nil {
			net = fmt.Sprintf("%+d", *r.NetChange)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Mode,
			r.Status,
			r.DustCount,
			r.IdleCount,
			r.KeepCount,
			net,
			r.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
}

func printRun(w io.Writer, run *db.Run, accounts []*db.RunAccount) {
	fmt.Fprintf(w, "Run:               %d\n", run.ID)
	fmt.Fprintf(w, "Wallet:            %s\n", run.WalletAddress)
	fmt.Fprintf(w, "Endpoint:          %s\n", run.Endpoint)
	fmt.Fprintf(w, "Mode:              %s\n", run.Mode)
	fmt.Fprintf(w, "Status:            %s\n", run.Status)
	if run.Signature != nil {
		fmt.Fprintf(w, "Signature:         %s\n", *run.Signature)
	}
	fmt.Fprintf(w, "Accounts:          %d (dust %d, idle %d, keep %d, skipped %d)\n",
		run.AccountsEnumerated, run.DustCount, run.IdleCount, run.KeepCount, run.SkippedCount)
	fmt.Fprintf(w, "Estimated reclaim: %d lamports\n", run.EstimatedReclaim)
	fmt.Fprintf(w, "Balance before:    %d lamports\n", run.BalanceBefore)
	if run.BalanceAfter != nil {
		fmt.Fprintf(w, "Balance after:     %d lamports\n", *run.BalanceAfter)
	}
	if run.NetChange != nil {
		fmt.Fprintf(w, "Net change:        %+d lamports\n", *run.NetChange)
	}
	if run.Error != nil {
		fmt.Fprintf(w, "Error:             %s\n", *run.Error)
	}
	fmt.Fprintf(w, "Created:           %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:           %s\n", run.UpdatedAt.Format(time.RFC3339))

	if len(accounts) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tCLASS\tMINT\tAMOUNT\tLAMPORTS\tNOTE")
	for _, a := range accounts {
		class := a.Class
		if a.Skipped {
			class = "skipped"
		}
		mint := a.Mint
		if mint == "" {
			mint = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", a.Address, class, mint, a.Amount, a.Lamports, a.Reason)
	}
	tw.Flush()
}
