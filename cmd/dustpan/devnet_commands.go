package main

import (
	"context"
	"fmt"

	"github.com/brojonat/dustpan/service/seed"
	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	"github.com/urfave/cli/v2"
)

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create a dust account and an empty account on devnet to clean up",
		Description: `Load (or create) the keypair, airdrop 1 SOL if the balance is under 0.5 SOL,
then create a fresh mint, a token account holding 666.00 tokens and an empty
token account, all in one transaction.

Refuses to run against a mainnet RPC URL.

Example:
  dustpan --rpc-url https://api.devnet.solana.com devnet seed
  dustpan scan`,
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			for _, u := range cfg.RPCURLs {
				if solana.IsMainnetURL(u) {
					return fmt.Errorf("%w: %s", seed.ErrMainnet, solana.EndpointLabel(u))
				}
			}
			e, err := newEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer e.Close(context.WithoutCancel(ctx))

			seeder := seed.NewSeeder(e.client, e.endpoint, e.logger)
			res, err := seeder.Seed(ctx, wallet.ExpandHome(cfg.KeypairPath))
			if err != nil {
				return err
			}

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, res)
			}
			if res.KeypairCreated {
				fmt.Fprintf(w, "✓ Created keypair: %s\n", cfg.KeypairPath)
			}
			fmt.Fprintf(w, "✓ Wallet:        %s\n", res.Wallet)
			if res.Airdropped {
				fmt.Fprintf(w, "✓ Airdropped:    %s\n", formatSOL(seed.AirdropAmount))
			}
			fmt.Fprintf(w, "✓ Mint:          %s\n", res.Mint)
			fmt.Fprintf(w, "✓ Dust account:  %s (%d base units)\n", res.DustAccount, seed.DustAmount)
			fmt.Fprintf(w, "✓ Empty account: %s\n", res.EmptyAccount)
			fmt.Fprintf(w, "✓ Signature:     %s\n", res.Signature)
			return nil
		},
	}
}
