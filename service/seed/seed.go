// Package seed creates throwaway token accounts on devnet so a cleanup has
// something to do.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/dustpan/service/cleanup"
	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

const (
	// AirdropThreshold is the balance below which a seed run asks for an airdrop.
	AirdropThreshold = solanago.LAMPORTS_PER_SOL / 2
	// AirdropAmount is requested when the wallet is below AirdropThreshold.
	AirdropAmount = solanago.LAMPORTS_PER_SOL

	MintDecimals = 2
	DustAmount   = 66600
)

// ErrMainnet is returned when asked to seed against mainnet.
var ErrMainnet = errors.New("refusing to seed fixtures on mainnet")

// Ledger is what seeding needs from the ledger.
type Ledger interface {
	cleanup.Ledger
	RequestAirdrop(ctx context.Context, account solanago.PublicKey, lamports uint64) (solanago.Signature, error)
}

// Result describes the fixture that was created.
type Result struct {
	Wallet         solanago.PublicKey `json:"wallet"`
	KeypairCreated bool               `json:"keypair_created"`
	Airdropped     bool               `json:"airdropped"`
	Mint           solanago.PublicKey `json:"mint"`
	DustAccount    solanago.PublicKey `json:"dust_account"`
	EmptyAccount   solanago.PublicKey `json:"empty_account"`
	Signature      solanago.Signature `json:"signature"`
}

// Seeder creates a mint, a token account holding DustAmount base units and an
// empty token account, all owned by the wallet.
type Seeder struct {
	ledger   Ledger
	endpoint string
	logger   *slog.Logger
}

// NewSeeder creates a Seeder. endpoint is the RPC URL, checked against mainnet.
func NewSeeder(ledger Ledger, endpoint string, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{ledger: ledger, endpoint: endpoint, logger: logger}
}

// Seed loads or creates the keypair at keypairPath and builds the fixture.
func (s *Seeder) Seed(ctx context.Context, keypairPath string) (*Result, error) {
	if solana.IsMainnetURL(s.endpoint) {
		return nil, ErrMainnet
	}

	key, created, err := wallet.LoadOrCreateKeypair(keypairPath)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.InfoContext(ctx, "created new keypair", "path", keypairPath, "wallet", key.PublicKey().String())
	}

	res, err := s.SeedWallet(ctx, key)
	if err != nil {
		return nil, err
	}
	res.KeypairCreated = created
	return res, nil
}

// SeedWallet builds the fixture for an already loaded key.
func (s *Seeder) SeedWallet(ctx context.Context, key solanago.PrivateKey) (*Result, error) {
	if solana.IsMainnetURL(s.endpoint) {
		return nil, ErrMainnet
	}

	owner := key.PublicKey()
	res := &Result{Wallet: owner}

	balance, err := s.ledger.GetBalance(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance < AirdropThreshold {
		if _, err := s.ledger.RequestAirdrop(ctx, owner, AirdropAmount); err != nil {
			s.logger.WarnContext(ctx, "airdrop failed, continuing with current balance",
				"wallet", owner.String(),
				"balance", balance,
				"error", err,
			)
		} else {
			res.Airdropped = true
		}
	}

	mintRent, err := s.ledger.GetMinimumRentExemptBalance(ctx, solana.MintSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint rent: %w", err)
	}
	accountRent, err := s.ledger.GetMinimumRentExemptBalance(ctx, solana.TokenAccountSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get token account rent: %w", err)
	}

	mint, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	dust, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	empty, err := solanago.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	res.Mint = mint.PublicKey()
	res.DustAccount = dust.PublicKey()
	res.EmptyAccount = empty.PublicKey()

	ixs, err := Instructions(owner, res.Mint, res.DustAccount, res.EmptyAccount, mintRent, accountRent)
	if err != nil {
		return nil, err
	}

	keyring := wallet.NewKeyring(key, mint, dust, empty)
	assembler := cleanup.NewAssembler(s.ledger, owner, keyring, s.logger)
	sig, err := assembler.SubmitAndConfirm(ctx, ixs)
	if err != nil {
		return nil, fmt.Errorf("failed to submit seed transaction: %w", err)
	}
	res.Signature = sig

	s.logger.InfoContext(ctx, "devnet fixture created",
		"wallet", owner.String(),
		"mint", res.Mint.String(),
		"dust_account", res.DustAccount.String(),
		"empty_account", res.EmptyAccount.String(),
		"signature", sig.String(),
	)
	return res, nil
}

// Instructions returns the fixture instructions in order: create and
// initialize the mint, create and initialize both token accounts, then mint
// DustAmount into dustAccount.
func Instructions(owner, mint, dustAccount, emptyAccount solanago.PublicKey, mintRent, accountRent uint64) ([]solanago.Instruction, error) {
	var ixs []solanago.Instruction

	createMint, err := system.NewCreateAccountInstruction(
		mintRent, solana.MintSize, solana.TokenProgramID, owner, mint,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("create mint account: %w", err)
	}
	initMint, err := token.NewInitializeMintInstruction(
		MintDecimals, owner, owner, mint, solanago.SysVarRentPubkey,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("initialize mint: %w", err)
	}
	ixs = append(ixs, createMint, initMint)

	for _, acct := range []solanago.PublicKey{dustAccount, emptyAccount} {
		create, err := system.NewCreateAccountInstruction(
			accountRent, solana.TokenAccountSize, solana.TokenProgramID, owner, acct,
		).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("create token account: %w", err)
		}
		initIx, err := token.NewInitializeAccountInstruction(
			acct, mint, owner, solanago.SysVarRentPubkey,
		).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("initialize token account: %w", err)
		}
		ixs = append(ixs, create, initIx)
	}

	mintTo, err := token.NewMintToInstruction(DustAmount, mint, dustAccount, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("mint to: %w", err)
	}
	return append(ixs, mintTo), nil
}
