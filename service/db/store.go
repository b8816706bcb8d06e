package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/dustpan/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("cleanup run not found")

// Run statuses. A run that submits is written as planned, moves to submitted
// once a signature exists, and ends confirmed or failed. The others are final
// when written.
const (
	StatusPlanned     = "planned"
	StatusSubmitted   = "submitted"
	StatusConfirmed   = "confirmed"
	StatusFailed      = "failed"
	StatusDryRun      = "dry_run"
	StatusNothingToDo = "nothing_to_do"
	StatusCancelled   = "cancelled"
)

// Store provides the run-history database operations.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Run is one scan or cleanup of a wallet.
type Run struct {
	ID                 int64
	WalletAddress      string
	Endpoint           string
	Mode               string
	Status             string
	AccountsEnumerated int
	DustCount          int
	IdleCount          int
	KeepCount          int
	SkippedCount       int
	TokensToBurn       int
	EstimatedReclaim   int64
	BalanceBefore      int64
	BalanceAfter       *int64
	NetChange          *int64
	Signature          *string
	Error              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RunAccount is the per-account line of a run.
type RunAccount struct {
	Address  string
	Program  string
	Mint     string
	Class    string
	Amount   string // decimal u64
	Lamports int64
	Reason   string
	Skipped  bool
}

// CreateRunParams contains the parameters for recording a run.
type CreateRunParams struct {
	WalletAddress      string
	Endpoint           string
	Mode               string
	Status             string
	AccountsEnumerated int
	DustCount          int
	IdleCount          int
	KeepCount          int
	SkippedCount       int
	TokensToBurn       int
	EstimatedReclaim   int64
	BalanceBefore      int64
	Accounts           []RunAccount
}

// CompleteRunParams contains the final outcome of a submitted run.
type CompleteRunParams struct {
	ID           int64
	Status       string
	BalanceAfter *int64
	NetChange    *int64
	Error        *string
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schemaSQL)
	s.observe("migrate", "cleanup_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateRun inserts a run and its accounts in one database transaction.
func (s *Store) CreateRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	start := time.Now()
	run, err := s.createRun(ctx, params)
	s.observe("create_run", "cleanup_runs", start, err)
	return run, err
}

func (s *Store) createRun(ctx context.Context, params CreateRunParams) (*Run, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		INSERT INTO cleanup_runs (
			wallet_address, endpoint, mode, status, accounts_enumerated,
			dust_count, idle_count, keep_count, skipped_count, tokens_to_burn,
			estimated_reclaim_lamports, balance_before_lamports
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+runColumns,
		params.WalletAddress, params.Endpoint, params.Mode, params.Status, params.AccountsEnumerated,
		params.DustCount, params.IdleCount, params.KeepCount, params.SkippedCount, params.TokensToBurn,
		params.EstimatedReclaim, params.BalanceBefore,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	if len(params.Accounts) > 0 {
		batch := &pgx.Batch{}
		for _, a := range params.Accounts {
			batch.Queue(`
				INSERT INTO cleanup_run_accounts (run_id, address, program, mint, class, amount, lamports, reason, skipped)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				run.ID, a.Address, a.Program, a.Mint, a.Class, a.Amount, a.Lamports, a.Reason, a.Skipped,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("failed to insert run accounts: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return run, nil
}

// MarkRunSubmitted records the transaction signature for a run.
func (s *Store) MarkRunSubmitted(ctx context.Context, id int64, signature string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE cleanup_runs
		SET status = $2, signature = $3, updated_at = now()
		WHERE id = $1`,
		id, StatusSubmitted, signature,
	)
	s.observe("mark_run_submitted", "cleanup_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark run submitted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CompleteRun records the final status and balances of a run.
func (s *Store) CompleteRun(ctx context.Context, params CompleteRunParams) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE cleanup_runs
		SET status = $2, balance_after_lamports = $3, net_change_lamports = $4, error = $5, updated_at = now()
		WHERE id = $1`,
		params.ID, params.Status, params.BalanceAfter, params.NetChange, params.Error,
	)
	s.observe("complete_run", "cleanup_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (*Run, error) {
	start := time.Now()
	run, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM cleanup_runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		s.observe("get_run", "cleanup_runs", start, nil)
		return nil, ErrRunNotFound
	}
	s.observe("get_run", "cleanup_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRunsByWallet returns the most recent runs for a wallet, newest first.
func (s *Store) ListRunsByWallet(ctx context.Context, walletAddress string, limit int32) ([]*Run, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+`
		FROM cleanup_runs
		WHERE wallet_address = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		walletAddress, limit,
	)
	if err != nil {
		s.observe("list_runs", "cleanup_runs", start, err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			s.observe("list_runs", "cleanup_runs", start, err)
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	err = rows.Err()
	s.observe("list_runs", "cleanup_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListRunAccounts returns the accounts recorded for a run.
func (s *Store) ListRunAccounts(ctx context.Context, runID int64) ([]*RunAccount, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT address, program, mint, class, amount, lamports, reason, skipped
		FROM cleanup_run_accounts
		WHERE run_id = $1
		ORDER BY address`,
		runID,
	)
	if err != nil {
		s.observe("list_run_accounts", "cleanup_run_accounts", start, err)
		return nil, fmt.Errorf("failed to list run accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*RunAccount, error) {
		var a RunAccount
		err := row.Scan(&a.Address, &a.Program, &a.Mint, &a.Class, &a.Amount, &a.Lamports, &a.Reason, &a.Skipped)
		return &a, err
	})
	s.observe("list_run_accounts", "cleanup_run_accounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list run accounts: %w", err)
	}
	return accounts, nil
}

const runColumns = `id, wallet_address, endpoint, mode, status, accounts_enumerated,
	dust_count, idle_count, keep_count, skipped_count, tokens_to_burn,
	estimated_reclaim_lamports, balance_before_lamports, balance_after_lamports,
	net_change_lamports, signature, error, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.WalletAddress, &r.Endpoint, &r.Mode, &r.Status, &r.AccountsEnumerated,
		&r.DustCount, &r.IdleCount, &r.KeepCount, &r.SkippedCount, &r.TokensToBurn,
		&r.EstimatedReclaim, &r.BalanceBefore, &r.BalanceAfter,
		&r.NetChange, &r.Signature, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
