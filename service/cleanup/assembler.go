package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// ErrNothingToDo means there were no instructions to submit.
var ErrNothingToDo = errors.New("nothing to do")

// Ledger is the subset of the ledger gateway a cleanup needs.
// *solana.Client satisfies it.
type Ledger interface {
	EnumerateTokenAccounts(ctx context.Context, owner solanago.PublicKey, programs []solanago.PublicKey, encoding solanago.EncodingType) ([]solana.KeyedAccount, error)
	GetBalance(ctx context.Context, account solanago.PublicKey) (uint64, error)
	GetMinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error)
	GetRecentStateAnchor(ctx context.Context) (solana.StateAnchor, error)
	SendTransaction(ctx context.Context, tx *solanago.Transaction) (solanago.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solanago.Signature, lastValidBlockHeight uint64) error
}

// Assembler wraps instructions into one signed transaction paid for by the
// payer and submits it.
type Assembler struct {
	ledger  Ledger
	payer   solanago.PublicKey
	keyring *wallet.Keyring
	logger  *slog.Logger
}

// NewAssembler creates an Assembler. The keyring must hold the payer key and
// the key of every other signer the instructions require.
func NewAssembler(ledger Ledger, payer solanago.PublicKey, keyring *wallet.Keyring, logger *slog.Logger) *Assembler {
	return &Assembler{
		ledger:  ledger,
		payer:   payer,
		keyring: keyring,
		logger:  logger,
	}
}

// Assembled is a signed transaction plus the anchor it was built against.
type Assembled struct {
	Tx     *solanago.Transaction
	Anchor solana.StateAnchor
}

// Signature returns the transaction's first (fee payer) signature.
func (a *Assembled) Signature() solanago.Signature {
	if a == nil || a.Tx == nil || len(a.Tx.Signatures) == 0 {
		return solanago.Signature{}
	}
	return a.Tx.Signatures[0]
}

// RequiredSigners lists the payer followed by every other account the
// instructions mark as a signer, without duplicates.
func RequiredSigners(payer solanago.PublicKey, ixs []solanago.Instruction) []solanago.PublicKey {
	seen := map[solanago.PublicKey]bool{payer: true}
	signers := []solanago.PublicKey{payer}
	for _, ix := range ixs {
		for _, meta := range ix.Accounts() {
			if meta.IsSigner && !seen[meta.PublicKey] {
				seen[meta.PublicKey] = true
				signers = append(signers, meta.PublicKey)
			}
		}
	}
	return signers
}

// Assemble builds and signs a transaction for ixs. An empty list returns
// ErrNothingToDo before touching the network. Missing signer keys are
// reported before the state anchor is fetched.
func (a *Assembler) Assemble(ctx context.Context, ixs []solanago.Instruction) (*Assembled, error) {
	if len(ixs) == 0 {
		return nil, ErrNothingToDo
	}

	signers := RequiredSigners(a.payer, ixs)
	for _, pk := range signers {
		if !a.keyring.Has(pk) {
			return nil, fmt.Errorf("missing signing key for %s", pk)
		}
	}

	anchor, err := a.ledger.GetRecentStateAnchor(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solanago.NewTransaction(ixs, anchor.Blockhash, solanago.TransactionPayer(a.payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(a.keyring.Get); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	a.logger.DebugContext(ctx, "transaction assembled",
		"instructions", len(ixs),
		"signers", len(signers),
		"last_valid_block_height", anchor.LastValidBlockHeight,
	)

	return &Assembled{Tx: tx, Anchor: anchor}, nil
}

// Send submits the transaction once.
func (a *Assembler) Send(ctx context.Context, assembled *Assembled) (solanago.Signature, error) {
	return a.ledger.SendTransaction(ctx, assembled.Tx)
}

// Confirm blocks until the submitted transaction is confirmed or fails.
func (a *Assembler) Confirm(ctx context.Context, assembled *Assembled, sig solanago.Signature) error {
	return a.ledger.WaitForConfirmation(ctx, sig, assembled.Anchor.LastValidBlockHeight)
}

// SubmitAndConfirm assembles, sends and confirms in one call. The signature is
// returned whenever the send succeeded.
func (a *Assembler) SubmitAndConfirm(ctx context.Context, ixs []solanago.Instruction) (solanago.Signature, error) {
	assembled, err := a.Assemble(ctx, ixs)
	if err != nil {
		return solanago.Signature{}, err
	}
	sig, err := a.Send(ctx, assembled)
	if err != nil {
		return solanago.Signature{}, err
	}
	return sig, a.Confirm(ctx, assembled, sig)
}
