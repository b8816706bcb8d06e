package nats

import (
	"time"
)

// CleanupEvent is published once per run to the subject "cleanups.{wallet_address}".
type CleanupEvent struct {
	// RunID is the run-history id, zero when no database is configured.
	RunID         int64  `json:"run_id,omitempty"`
	WalletAddress string `json:"wallet_address"`
	Endpoint      string `json:"endpoint"`
	Mode          string `json:"mode"`   // "dry-run" or "execute"
	Status        string `json:"status"` // nothing_to_do, dry_run, cancelled, confirmed, failed, unconfirmed
	Signature     string `json:"signature,omitempty"`

	// Scan summary
	AccountsEnumerated int    `json:"accounts_enumerated"`
	DustCount          int    `json:"dust_count"`
	IdleCount          int    `json:"idle_count"`
	KeepCount          int    `json:"keep_count"`
	SkippedCount       int    `json:"skipped_count"`
	TokensToBurn       int    `json:"tokens_to_burn"`
	EstimatedReclaim   uint64 `json:"estimated_reclaim_lamports"`

	// Reconciliation, set once a submission was confirmed
	BalanceBefore uint64  `json:"balance_before_lamports"`
	BalanceAfter  *uint64 `json:"balance_after_lamports,omitempty"`
	NetChange     *int64  `json:"net_change_lamports,omitempty"`

	Error string `json:"error,omitempty"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *CleanupEvent) Subject() string {
	return SubjectPrefix + e.WalletAddress
}
