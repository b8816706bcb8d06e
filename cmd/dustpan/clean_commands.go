package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/brojonat/dustpan/service/cleanup"
	"github.com/urfave/cli/v2"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Classify the wallet's token accounts without submitting anything",
		Description: `Enumerate every token account owned by the wallet, classify each one and
show what a cleanup would burn and close, with the estimated rent reclaim.

Example:
  dustpan scan --keypair ~/.config/solana/id.json --rpc-url https://api.devnet.solana.com`,
		Action: func(c *cli.Context) error {
			return runCleanup(c, cleanup.ModeDryRun, true)
		},
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Burn dust, close idle accounts and reclaim their rent in one transaction",
		Description: `Scan the wallet, then submit one transaction that burns the full balance of
every dust account and closes every dust and idle account. Waits for the
transaction to confirm and reports the change in SOL balance.

You are asked to type "yes" before anything is submitted unless --yes is given.

Example:
  dustpan clean --dry-run
  dustpan clean --yes`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Submit without asking for confirmation",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Build everything but do not submit",
			},
		},
		Action: func(c *cli.Context) error {
			mode := cleanup.ModeExecute
			if c.Bool("dry-run") {
				mode = cleanup.ModeDryRun
			}
			return runCleanup(c, mode, c.Bool("yes"))
		},
	}
}

func runCleanup(c *cli.Context, mode cleanup.Mode, skipReview bool) error {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setup, err := prepareCleanup(cfg)
	if err != nil {
		return err
	}
	e, err := newEnv(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close(context.WithoutCancel(ctx))

	runner := e.runner(setup)

	jsonOutput := c.Bool("json")
	out := c.App.Writer

	params := cleanup.RunParams{Mode: mode}
	printed := false
	if mode == cleanup.ModeExecute && !skipReview {
		params.Review = func(ctx context.Context, scan *cleanup.ScanResult) (bool, error) {
			if !jsonOutput {
				printScan(out, scan)
				printed = true
			}
			return confirmPrompt(c.App.Reader, c.App.ErrWriter, scan)
		}
	}

	res, err := runner.Run(ctx, params)
	if err != nil {
		return fmt.Errorf("cleanup aborted: %w", err)
	}

	if jsonOutput {
		return outputJSON(out, newResultView(res, e.endpoint))
	}
	if !printed {
		printScan(out, res.Scan)
	}
	printResult(out, res)
	return nil
}

// confirmPrompt asks the user to type "yes".
func confirmPrompt(in io.Reader, out io.Writer, scan *cleanup.ScanResult) (bool, error) {
	fmt.Fprintf(out, "\nAbout to burn %d and close %d token accounts. Type \"yes\" to continue: ",
		scan.Summary.TokensToBurn, scan.Summary.AccountsToClose)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.TrimSpace(line) == "yes", nil
}
