package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/db"
	"github.com/brojonat/dustpan/service/metrics"
	"github.com/brojonat/dustpan/service/nats"
	"github.com/brojonat/dustpan/service/solana"
	"github.com/brojonat/dustpan/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// Mode selects whether a run only reports or also submits.
type Mode string

const (
	ModeDryRun  Mode = "dry-run"
	ModeExecute Mode = "execute"
)

// Status is the outcome of a run.
type Status string

const (
	StatusNothingToDo Status = "nothing_to_do"
	StatusDryRun      Status = "dry_run"
	StatusCancelled   Status = "cancelled"
	StatusConfirmed   Status = "confirmed"
	StatusFailed      Status = "failed"
	// StatusUnconfirmed means the transaction was sent but the wait for it was
	// interrupted. The ledger decides the outcome; query the signature.
	StatusUnconfirmed Status = "unconfirmed"
)

// RunStore persists run history. *db.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, params db.CreateRunParams) (*db.Run, error)
	MarkRunSubmitted(ctx context.Context, id int64, signature string) error
	CompleteRun(ctx context.Context, params db.CompleteRunParams) error
}

// RunnerConfig wires a Runner. Store, Publisher and Metrics are optional.
type RunnerConfig struct {
	Ledger          Ledger
	Keyring         *wallet.Keyring
	Owner           solanago.PublicKey
	RentDestination solanago.PublicKey
	Programs        []solanago.PublicKey
	Encoding        solanago.EncodingType
	Decoder         *account.Decoder
	Strict          bool
	Endpoint        string

	Store     RunStore
	Publisher nats.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Runner drives one scan or cleanup of a wallet: enumerate, decode, classify,
// build, and in execute mode assemble, submit, confirm and reconcile.
type Runner struct {
	cfg       RunnerConfig
	builder   *Builder
	assembler *Assembler
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	if len(cfg.Programs) == 0 {
		cfg.Programs = []solanago.PublicKey{solana.TokenProgramID}
	}
	if cfg.Encoding == "" {
		cfg.Encoding = solanago.EncodingBase64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		builder:   NewBuilder(cfg.Owner, cfg.RentDestination, cfg.Metrics),
		assembler: NewAssembler(cfg.Ledger, cfg.Owner, cfg.Keyring, logger),
		logger:    logger,
	}
}

// ScanResult is everything known before anything is submitted.
type ScanResult struct {
	Wallet        solanago.PublicKey `json:"wallet"`
	Destination   solanago.PublicKey `json:"rent_destination"`
	BalanceBefore uint64             `json:"balance_before_lamports"`
	RentMinimum   uint64             `json:"rent_exempt_minimum_lamports"`
	Summary       Summary            `json:"summary"`
	Accounts      []AccountLine      `json:"accounts"`
	Plan          *Plan              `json:"-"`
}

// Result is the outcome of Run. Err carries a submission failure; such
// failures are outcomes, not errors returned from Run.
type Result struct {
	Mode           Mode                `json:"mode"`
	Status         Status              `json:"status"`
	RunID          int64               `json:"run_id,omitempty"`
	Scan           *ScanResult         `json:"scan"`
	Signature      *solanago.Signature `json:"signature,omitempty"`
	Reconciliation *Reconciliation     `json:"reconciliation,omitempty"`
	Err            error               `json:"-"`
}

// ReviewFunc is shown the scan before anything is submitted and returns
// whether to proceed.
type ReviewFunc func(ctx context.Context, scan *ScanResult) (bool, error)

// RunParams selects the mode of a run.
type RunParams struct {
	Mode Mode
	// Review, when set, is called in execute mode after planning. Returning
	// false cancels the run with nothing submitted.
	Review ReviewFunc
}

// Scan enumerates and classifies the wallet's token accounts and builds the
// instruction plan. It never submits anything.
func (r *Runner) Scan(ctx context.Context) (*ScanResult, error) {
	owner := r.cfg.Owner

	before, err := r.cfg.Ledger.GetBalance(ctx, owner)
	if err != nil {
		return nil, err
	}

	rentMinimum, err := r.cfg.Ledger.GetMinimumRentExemptBalance(ctx, solana.TokenAccountSize)
	if err != nil {
		// Only used to fill in unknown deposits for the estimate.
		r.logger.WarnContext(ctx, "could not fetch rent-exempt minimum", "error", err)
		rentMinimum = 0
	}

	keyed, err := r.cfg.Ledger.EnumerateTokenAccounts(ctx, owner, r.cfg.Programs, r.cfg.Encoding)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(keyed))
	for _, ka := range keyed {
		candidates = append(candidates, r.classify(ctx, ka))
	}

	plan, err := r.builder.Plan(candidates, r.cfg.Strict, r.logger)
	if err != nil {
		return nil, err
	}
	if r.cfg.Metrics != nil {
		for range plan.Skipped {
			r.cfg.Metrics.RecordAccountSkipped(owner.String())
		}
	}

	summary := Summarize(len(keyed), plan, rentMinimum)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordEstimatedReclaim(owner.String(), summary.EstimatedReclaim)
	}

	r.logger.InfoContext(ctx, "scan complete",
		"wallet", owner.String(),
		"enumerated", summary.Enumerated,
		"dust", summary.Dust,
		"idle", summary.Idle,
		"keep", summary.Keep,
		"skipped", summary.Skipped,
		"estimated_reclaim", summary.EstimatedReclaim,
	)

	return &ScanResult{
		Wallet:        owner,
		Destination:   r.builder.Destination(),
		BalanceBefore: before,
		RentMinimum:   rentMinimum,
		Summary:       summary,
		Accounts:      Lines(plan),
		Plan:          plan,
	}, nil
}

func (r *Runner) classify(ctx context.Context, ka solana.KeyedAccount) Candidate {
	rec, decodeErr := r.cfg.Decoder.DecodeWire(ka.Data)
	decision := account.Decide(rec, decodeErr)

	if decodeErr != nil {
		encoding := "unknown"
		if p, err := account.PayloadFromWire(ka.Data); err == nil {
			encoding = string(p.Encoding)
		}
		r.logger.WarnContext(ctx, "token account not decoded, leaving it alone",
			"account", ka.Address.String(),
			"encoding", encoding,
			"error", decodeErr,
		)
		if r.cfg.Metrics != nil && !errors.Is(decodeErr, account.ErrMissingAmount) {
			r.cfg.Metrics.RecordDecodeFailure(encoding)
		}
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordAccountScanned(r.cfg.Owner.String(), string(decision.Class))
	}

	return Candidate{
		Address:   ka.Address,
		Program:   ka.Program,
		Lamports:  ka.Lamports,
		Record:    rec,
		Decision:  decision,
		DecodeErr: decodeErr,
	}
}

// Run performs a scan and, in execute mode, submits one transaction for the
// whole plan and waits for it to confirm. Errors returned are setup or scan
// failures; submission failures come back in Result.Err with Status failed.
func (r *Runner) Run(ctx context.Context, params RunParams) (*Result, error) {
	mode := params.Mode
	if mode == "" {
		mode = ModeDryRun
	}

	scan, err := r.Scan(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Mode: mode, Scan: scan}

	switch {
	case len(scan.Plan.Instructions) == 0:
		res.Status = StatusNothingToDo
	case mode == ModeDryRun:
		res.Status = StatusDryRun
	case params.Review != nil:
		ok, err := params.Review(ctx, scan)
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Status = StatusCancelled
		}
	}

	if res.Status != "" {
		r.record(ctx, res)
		return res, nil
	}

	r.execute(ctx, res)
	r.record(context.WithoutCancel(ctx), res)
	return res, nil
}

// execute assembles, submits and confirms the plan, filling in res.
func (r *Runner) execute(ctx context.Context, res *Result) {
	scan := res.Scan

	runID := r.createRun(ctx, res, db.StatusPlanned)
	res.RunID = runID

	fail := func(err error) {
		res.Status = StatusFailed
		res.Err = err
		r.logger.ErrorContext(ctx, "cleanup transaction failed", "wallet", scan.Wallet.String(), "error", err)
		r.completeRun(ctx, res)
	}

	assembled, err := r.assembler.Assemble(ctx, scan.Plan.Instructions)
	if err != nil {
		fail(err)
		return
	}

	sig, err := r.assembler.Send(ctx, assembled)
	if err != nil {
		fail(err)
		return
	}
	res.Signature = &sig
	if runID != 0 {
		if err := r.cfg.Store.MarkRunSubmitted(ctx, runID, sig.String()); err != nil {
			r.logger.WarnContext(ctx, "failed to record submission", "run_id", runID, "error", err)
		}
	}

	if err := r.assembler.Confirm(ctx, assembled, sig); err != nil {
		if ctx.Err() != nil {
			// The run row stays submitted with its signature.
			res.Status = StatusUnconfirmed
			res.Err = err
			r.logger.WarnContext(ctx, "stopped waiting for confirmation, outcome unknown",
				"signature", sig.String(), "error", err)
			return
		}
		fail(err)
		return
	}

	res.Status = StatusConfirmed
	after, err := r.cfg.Ledger.GetBalance(ctx, scan.Wallet)
	if err != nil {
		r.logger.WarnContext(ctx, "confirmed but could not read final balance", "error", err)
	} else {
		rec := Reconcile(scan.BalanceBefore, after)
		res.Reconciliation = &rec
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordNetChange(scan.Wallet.String(), rec.NetChange)
		}
	}
	r.completeRun(ctx, res)
}

// record persists terminal non-submitting outcomes and publishes every outcome.
func (r *Runner) record(ctx context.Context, res *Result) {
	if res.RunID == 0 && !res.Submitting() {
		// nothing_to_do, dry_run and cancelled are final as soon as they are written.
		res.RunID = r.createRun(ctx, res, string(res.Status))
	}

	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordRun(string(res.Mode), string(res.Status))
	}
	r.publish(ctx, res)
}

func (r *Runner) createRun(ctx context.Context, res *Result, status string) int64 {
	if r.cfg.Store == nil {
		return 0
	}
	scan := res.Scan
	accounts := make([]db.RunAccount, 0, len(scan.Accounts))
	for _, a := range scan.Accounts {
		mint := ""
		if !a.Mint.IsZero() {
			mint = a.Mint.String()
		}
		accounts = append(accounts, db.RunAccount{
			Address:  a.Address.String(),
			Program:  a.Program,
			Mint:     mint,
			Class:    string(a.Class),
			Amount:   strconv.FormatUint(a.Amount, 10),
			Lamports: int64(a.Lamports),
			Reason:   a.Reason,
			Skipped:  a.Skipped,
		})
	}

	run, err := r.cfg.Store.CreateRun(ctx, db.CreateRunParams{
		WalletAddress:      scan.Wallet.String(),
		Endpoint:           r.cfg.Endpoint,
		Mode:               string(res.Mode),
		Status:             status,
		AccountsEnumerated: scan.Summary.Enumerated,
		DustCount:          scan.Summary.Dust,
		IdleCount:          scan.Summary.Idle,
		KeepCount:          scan.Summary.Keep,
		SkippedCount:       scan.Summary.Skipped,
		TokensToBurn:       scan.Summary.TokensToBurn,
		EstimatedReclaim:   int64(scan.Summary.EstimatedReclaim),
		BalanceBefore:      int64(scan.BalanceBefore),
		Accounts:           accounts,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record run", "error", err)
		return 0
	}
	return run.ID
}

func (r *Runner) completeRun(ctx context.Context, res *Result) {
	if r.cfg.Store == nil || res.RunID == 0 {
		return
	}
	params := db.CompleteRunParams{ID: res.RunID, Status: db.StatusConfirmed}
	if res.Status == StatusFailed {
		params.Status = db.StatusFailed
	}
	if res.Err != nil {
		msg := res.Err.Error()
		params.Error = &msg
	}
	if res.Reconciliation != nil {
		after := int64(res.Reconciliation.After)
		net := res.Reconciliation.NetChange
		params.BalanceAfter = &after
		params.NetChange = &net
	}
	if err := r.cfg.Store.CompleteRun(ctx, params); err != nil {
		r.logger.WarnContext(ctx, "failed to record run outcome", "run_id", res.RunID, "error", err)
	}
}

func (r *Runner) publish(ctx context.Context, res *Result) {
	if r.cfg.Publisher == nil {
		return
	}
	scan := res.Scan
	event := &nats.CleanupEvent{
		RunID:              res.RunID,
		WalletAddress:      scan.Wallet.String(),
		Endpoint:           r.cfg.Endpoint,
		Mode:               string(res.Mode),
		Status:             string(res.Status),
		AccountsEnumerated: scan.Summary.Enumerated,
		DustCount:          scan.Summary.Dust,
		IdleCount:          scan.Summary.Idle,
		KeepCount:          scan.Summary.Keep,
		SkippedCount:       scan.Summary.Skipped,
		TokensToBurn:       scan.Summary.TokensToBurn,
		EstimatedReclaim:   scan.Summary.EstimatedReclaim,
		BalanceBefore:      scan.BalanceBefore,
		PublishedAt:        time.Now().UTC(),
	}
	if res.Signature != nil {
		event.Signature = res.Signature.String()
	}
	if res.Reconciliation != nil {
		after := res.Reconciliation.After
		net := res.Reconciliation.NetChange
		event.BalanceAfter = &after
		event.NetChange = &net
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}

	if err := r.cfg.Publisher.PublishCleanup(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish cleanup event", "error", err)
	}
}

// Submitting reports whether the run went through execute, where the run row
// is written before submission.
func (res *Result) Submitting() bool {
	switch res.Status {
	case StatusConfirmed, StatusFailed, StatusUnconfirmed:
		return true
	}
	return false
}

// Describe renders a failed result's cause for display.
func (res *Result) Describe() string {
	if res.Err == nil {
		return string(res.Status)
	}
	return fmt.Sprintf("%s: %v", res.Status, res.Err)
}
