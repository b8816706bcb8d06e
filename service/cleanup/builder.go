package cleanup

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/metrics"
	"github.com/brojonat/dustpan/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// ErrInvalidAccount means instructions could not be built for an account.
var ErrInvalidAccount = errors.New("invalid account for cleanup")

// Candidate is one enumerated token account after decoding and classification.
type Candidate struct {
	Address   solanago.PublicKey
	Program   solanago.PublicKey
	Lamports  uint64
	Record    account.Record
	Decision  account.Decision
	DecodeErr error
}

// Builder turns classified accounts into burn and close instructions.
// It does no I/O.
type Builder struct {
	owner       solanago.PublicKey
	destination solanago.PublicKey
	metrics     *metrics.Metrics
}

// NewBuilder creates a Builder. owner is the burn and close authority;
// destination receives reclaimed rent and defaults to owner when zero.
func NewBuilder(owner, destination solanago.PublicKey, m *metrics.Metrics) *Builder {
	if destination.IsZero() {
		destination = owner
	}
	return &Builder{
		owner:       owner,
		destination: destination,
		metrics:     m,
	}
}

// Destination returns where reclaimed rent goes.
func (b *Builder) Destination() solanago.PublicKey {
	return b.destination
}

// Build returns the instructions for one account:
//
//	Dust: burn(full amount), close
//	Idle: close
//	Keep: nothing
func (b *Builder) Build(c Candidate) ([]solanago.Instruction, error) {
	switch c.Decision.Class {
	case account.Keep:
		return nil, nil
	case account.Dust, account.Idle:
	default:
		return nil, fmt.Errorf("%w: %s: unknown class %q", ErrInvalidAccount, c.Address, c.Decision.Class)
	}

	if c.Address.IsZero() {
		return nil, fmt.Errorf("%w: zero account address", ErrInvalidAccount)
	}
	if b.owner.IsZero() {
		return nil, fmt.Errorf("%w: %s: zero owner", ErrInvalidAccount, c.Address)
	}
	if !solana.IsTokenProgram(c.Program) {
		return nil, fmt.Errorf("%w: %s: not owned by a token program (%s)", ErrInvalidAccount, c.Address, c.Program)
	}
	if !c.Record.Owner.IsZero() && !c.Record.Owner.Equals(b.owner) {
		return nil, fmt.Errorf("%w: %s: owned by %s, not %s", ErrInvalidAccount, c.Address, c.Record.Owner, b.owner)
	}
	if ca := c.Record.CloseAuthority; !ca.IsZero() && !ca.Equals(b.owner) {
		return nil, fmt.Errorf("%w: %s: close authority is %s, not %s", ErrInvalidAccount, c.Address, ca, b.owner)
	}

	var ixs []solanago.Instruction

	if c.Decision.Class == account.Dust {
		if c.Record.Amount == 0 {
			return nil, fmt.Errorf("%w: %s: dust with zero amount", ErrInvalidAccount, c.Address)
		}
		if c.Record.Mint.IsZero() {
			return nil, fmt.Errorf("%w: %s: cannot burn without a mint", ErrInvalidAccount, c.Address)
		}
		burn, err := token.NewBurnInstruction(
			c.Record.Amount,
			c.Address,
			c.Record.Mint,
			b.owner,
			nil,
		).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: burn: %v", ErrInvalidAccount, c.Address, err)
		}
		ix, err := forProgram(burn, c.Program)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: burn: %v", ErrInvalidAccount, c.Address, err)
		}
		ixs = append(ixs, ix)
	} else if c.Record.Amount != 0 {
		return nil, fmt.Errorf("%w: %s: idle with amount %d", ErrInvalidAccount, c.Address, c.Record.Amount)
	}

	closeIx, err := token.NewCloseAccountInstruction(
		c.Address,
		b.destination,
		b.owner,
		nil,
	).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: close: %v", ErrInvalidAccount, c.Address, err)
	}
	ix, err := forProgram(closeIx, c.Program)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: close: %v", ErrInvalidAccount, c.Address, err)
	}
	ixs = append(ixs, ix)

	if b.metrics != nil {
		if len(ixs) == 2 {
			b.metrics.RecordInstructionBuilt("burn")
		}
		b.metrics.RecordInstructionBuilt("close")
	}
	return ixs, nil
}

// forProgram re-targets a token instruction at the program that owns the
// account. Token-2022 shares the burn and close encodings with SPL Token.
func forProgram(ix *token.Instruction, program solanago.PublicKey) (solanago.Instruction, error) {
	if program.Equals(ix.ProgramID()) {
		return ix, nil
	}
	data, err := ix.Data()
	if err != nil {
		return nil, err
	}
	return solanago.NewInstruction(program, ix.Accounts(), data), nil
}

// Planned is an account that made it into the instruction list.
type Planned struct {
	Candidate
	Instructions int
}

// Skipped is an actionable account whose instructions could not be built.
type Skipped struct {
	Candidate
	Err error
}

// Plan is the result of building instructions for every candidate.
type Plan struct {
	Instructions []solanago.Instruction
	Planned      []Planned
	Kept         []Candidate
	Skipped      []Skipped
}

// Plan builds instructions for all candidates in order. With strict set, the
// first construction failure aborts the whole batch. Otherwise the failing
// account is skipped with a warning and the rest proceed.
func (b *Builder) Plan(candidates []Candidate, strict bool, logger *slog.Logger) (*Plan, error) {
	plan := &Plan{}
	for _, c := range candidates {
		if !c.Decision.Class.Actionable() {
			plan.Kept = append(plan.Kept, c)
			continue
		}

		ixs, err := b.Build(c)
		if err != nil {
			if strict {
				return nil, err
			}
			logger.Warn("skipping account", "account", c.Address.String(), "error", err)
			plan.Skipped = append(plan.Skipped, Skipped{Candidate: c, Err: err})
			continue
		}
		plan.Instructions = append(plan.Instructions, ixs...)
		plan.Planned = append(plan.Planned, Planned{Candidate: c, Instructions: len(ixs)})
	}
	return plan, nil
}
