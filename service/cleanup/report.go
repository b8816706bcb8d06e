package cleanup

import (
	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// AccountLine is the per-account entry of a report.
type AccountLine struct {
	Address  solanago.PublicKey `json:"address"`
	Program  string             `json:"program"`
	Mint     solanago.PublicKey `json:"mint"`
	Amount   uint64             `json:"amount"`
	Lamports uint64             `json:"lamports"`
	Class    account.Class      `json:"class"`
	Reason   string             `json:"reason,omitempty"`
	Skipped  bool               `json:"skipped,omitempty"`
}

// Summary counts what a scan found and what a cleanup would do.
type Summary struct {
	Enumerated       int    `json:"accounts_enumerated"`
	Dust             int    `json:"dust"`
	Idle             int    `json:"idle"`
	Keep             int    `json:"keep"`
	Skipped          int    `json:"skipped"`
	AccountsToClose  int    `json:"accounts_to_close"`
	TokensToBurn     int    `json:"tokens_to_burn"`
	EstimatedReclaim uint64 `json:"estimated_reclaim_lamports"`
}

// Summarize counts a plan. Dust and Idle count only accounts whose
// instructions were built, so AccountsToClose always equals Dust + Idle and
// never exceeds Enumerated. rentMinimum stands in for accounts the ledger
// reported with zero lamports.
func Summarize(enumerated int, plan *Plan, rentMinimum uint64) Summary {
	s := Summary{
		Enumerated: enumerated,
		Keep:       len(plan.Kept),
		Skipped:    len(plan.Skipped),
	}
	for _, p := range plan.Planned {
		switch p.Decision.Class {
		case account.Dust:
			s.Dust++
			s.TokensToBurn++
		case account.Idle:
			s.Idle++
		}
		lamports := p.Lamports
		if lamports == 0 {
			lamports = rentMinimum
		}
		s.EstimatedReclaim += lamports
	}
	s.AccountsToClose = s.Dust + s.Idle
	return s
}

// Lines lists every candidate in plan order: planned, then kept, then skipped.
func Lines(plan *Plan) []AccountLine {
	lines := make([]AccountLine, 0, len(plan.Planned)+len(plan.Kept)+len(plan.Skipped))
	for _, p := range plan.Planned {
		lines = append(lines, line(p.Candidate, false, ""))
	}
	for _, k := range plan.Kept {
		lines = append(lines, line(k, false, k.Decision.Reason))
	}
	for _, s := range plan.Skipped {
		lines = append(lines, line(s.Candidate, true, s.Err.Error()))
	}
	return lines
}

func line(c Candidate, skipped bool, reason string) AccountLine {
	return AccountLine{
		Address:  c.Address,
		Program:  solana.ProgramName(c.Program),
		Mint:     c.Record.Mint,
		Amount:   c.Record.Amount,
		Lamports: c.Lamports,
		Class:    c.Decision.Class,
		Reason:   reason,
		Skipped:  skipped,
	}
}

// Reconciliation is the wallet balance before and after a cleanup.
type Reconciliation struct {
	Before    uint64 `json:"balance_before_lamports"`
	After     uint64 `json:"balance_after_lamports"`
	NetChange int64  `json:"net_change_lamports"`
}

// Reconcile computes the signed balance delta. A negative change (fees larger
// than reclaimed rent) is reported as is.
func Reconcile(before, after uint64) Reconciliation {
	return Reconciliation{
		Before:    before,
		After:     after,
		NetChange: int64(after) - int64(before),
	}
}
