package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/cleanup"
	"github.com/brojonat/dustpan/service/solana"
)

// Helper function to output JSON
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resultView is the JSON shape of a run.
type resultView struct {
	*cleanup.Result
	Endpoint string `json:"endpoint"`
	Error    string `json:"error,omitempty"`
}

func newResultView(res *cleanup.Result, endpoint string) resultView {
	v := resultView{Result: res, Endpoint: solana.EndpointLabel(endpoint)}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%.9f SOL (%d lamports)", solana.LamportsToSOL(lamports), lamports)
}

func formatSignedSOL(lamports int64) string {
	return fmt.Sprintf("%+.9f SOL (%+d lamports)", solana.SignedLamportsToSOL(lamports), lamports)
}

func printScan(w io.Writer, scan *cleanup.ScanResult) {
	fmt.Fprintf(w, "✓ Wallet:  %s\n", scan.Wallet)
	if !scan.Destination.Equals(scan.Wallet) {
		fmt.Fprintf(w, "  Rent to: %s\n", scan.Destination)
	}
	fmt.Fprintf(w, "✓ Balance: %s\n", formatSOL(scan.BalanceBefore))
	fmt.Fprintf(w, "✓ Found %d token accounts\n", scan.Summary.Enumerated)

	if len(scan.Accounts) > 0 {
		fmt.Fprintln(w)
	}
	for _, a := range scan.Accounts {
		fmt.Fprintln(w, accountLine(a))
	}

	s := scan.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Accounts to close: %d\n", s.AccountsToClose)
	fmt.Fprintf(w, "Tokens to burn:    %d\n", s.TokensToBurn)
	fmt.Fprintf(w, "Dust:    %d (burn + close)\n", s.Dust)
	fmt.Fprintf(w, "Idle:    %d (close)\n", s.Idle)
	fmt.Fprintf(w, "Keep:    %d\n", s.Keep)
	if s.Skipped > 0 {
		fmt.Fprintf(w, "Skipped: %d\n", s.Skipped)
	}
	fmt.Fprintf(w, "Estimated reclaim: %s\n", formatSOL(s.EstimatedReclaim))
}

func accountLine(a cleanup.AccountLine) string {
	var b strings.Builder
	label := strings.ToUpper(string(a.Class))
	if a.Skipped {
		label = "SKIP"
	}
	fmt.Fprintf(&b, "  %-4s  %s", label, a.Address)
	if !a.Mint.IsZero() {
		fmt.Fprintf(&b, "  mint %s", a.Mint)
	}
	if a.Amount > 0 {
		fmt.Fprintf(&b, "  amount %d", a.Amount)
	}
	if a.Program != solana.ProgramName(solana.TokenProgramID) {
		fmt.Fprintf(&b, "  [%s]", a.Program)
	}
	switch {
	case a.Skipped || a.Class == account.Keep:
		if a.Reason != "" {
			fmt.Fprintf(&b, "  (%s)", a.Reason)
		}
	case a.Class == account.Dust:
		b.WriteString("  → burn + close")
	case a.Class == account.Idle:
		b.WriteString("  → close")
	}
	return b.String()
}

func printResult(w io.Writer, res *cleanup.Result) {
	fmt.Fprintln(w)
	switch res.Status {
	case cleanup.StatusNothingToDo:
		fmt.Fprintln(w, "✓ Nothing to clean up")
	case cleanup.StatusDryRun:
		fmt.Fprintln(w, "✓ Dry run: nothing was submitted")
	case cleanup.StatusCancelled:
		fmt.Fprintln(w, "✗ Cancelled: nothing was submitted")
	case cleanup.StatusFailed:
		if res.Signature != nil {
			fmt.Fprintf(w, "✓ Submitted: %s\n", res.Signature)
		}
		fmt.Fprintf(w, "✗ Cleanup failed: %v\n", res.Err)
	case cleanup.StatusUnconfirmed:
		fmt.Fprintf(w, "✓ Submitted: %s\n", res.Signature)
		fmt.Fprintln(w, "? Stopped waiting before confirmation; the outcome is up to the ledger")
		fmt.Fprintf(w, "  Check it with: solana confirm %s\n", res.Signature)
	case cleanup.StatusConfirmed:
		fmt.Fprintf(w, "✓ Submitted: %s\n", res.Signature)
		fmt.Fprintln(w, "✓ Confirmed")
		if r := res.Reconciliation; r != nil {
			fmt.Fprintf(w, "Balance before: %s\n", formatSOL(r.Before))
			fmt.Fprintf(w, "Balance after:  %s\n", formatSOL(r.After))
			fmt.Fprintf(w, "Net change:     %s\n", formatSignedSOL(r.NetChange))
		}
	}
	if res.RunID != 0 {
		fmt.Fprintf(w, "Run ID: %d\n", res.RunID)
	}
}
