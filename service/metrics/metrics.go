package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	confirmationPolls     *prometheus.CounterVec

	// Scan Metrics
	tokenAccountsScannedTotal *prometheus.CounterVec
	decodeFailuresTotal       *prometheus.CounterVec
	instructionsBuiltTotal    *prometheus.CounterVec
	accountsSkippedTotal      *prometheus.CounterVec

	// Run Metrics
	cleanupRunsTotal       *prometheus.CounterVec
	lamportsReclaimedTotal *prometheus.CounterVec
	lastRunNetChange       *prometheus.GaugeVec
	estimatedReclaim       *prometheus.GaugeVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		confirmationPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_confirmation_polls_total",
				Help: "Total number of signature status polls while waiting for confirmation",
			},
			[]string{"endpoint", "outcome"},
		),

		// Scan Metrics
		tokenAccountsScannedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_accounts_scanned_total",
				Help: "Total number of token accounts scanned, by classification",
			},
			[]string{"wallet_address", "class"},
		),
		decodeFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "token_account_decode_failures_total",
				Help: "Total number of token accounts whose data could not be decoded",
			},
			[]string{"encoding"},
		),
		instructionsBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_instructions_built_total",
				Help: "Total number of cleanup instructions built, by kind",
			},
			[]string{"kind"},
		),
		accountsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_accounts_skipped_total",
				Help: "Total number of actionable accounts skipped because instructions could not be built",
			},
			[]string{"wallet_address"},
		),

		// Run Metrics
		cleanupRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_runs_total",
				Help: "Total number of cleanup runs by mode and final status",
			},
			[]string{"mode", "status"},
		),
		lamportsReclaimedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_lamports_reclaimed_total",
				Help: "Total lamports gained by confirmed cleanup runs (positive net changes only)",
			},
			[]string{"wallet_address"},
		),
		lastRunNetChange: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cleanup_last_run_net_change_lamports",
				Help: "Signed wallet balance change of the last confirmed cleanup run",
			},
			[]string{"wallet_address"},
		),
		estimatedReclaim: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cleanup_estimated_reclaim_lamports",
				Help: "Estimated lamports reclaimable by the last scan",
			},
			[]string{"wallet_address"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordConfirmationPoll records one signature status poll and what it saw
// ("pending", "confirmed", "failed", "expired", "error").
func (m *Metrics) RecordConfirmationPoll(endpoint, outcome string) {
	m.confirmationPolls.WithLabelValues(endpoint, outcome).Inc()
}

// Scan metric helpers

// RecordAccountScanned records one scanned token account and its class.
func (m *Metrics) RecordAccountScanned(walletAddress, class string) {
	m.tokenAccountsScannedTotal.WithLabelValues(walletAddress, class).Inc()
}

// RecordDecodeFailure records an account whose data could not be decoded.
func (m *Metrics) RecordDecodeFailure(encoding string) {
	m.decodeFailuresTotal.WithLabelValues(encoding).Inc()
}

// RecordInstructionBuilt records a built instruction ("burn" or "close").
func (m *Metrics) RecordInstructionBuilt(kind string) {
	m.instructionsBuiltTotal.WithLabelValues(kind).Inc()
}

// RecordAccountSkipped records an actionable account left out of the batch.
func (m *Metrics) RecordAccountSkipped(walletAddress string) {
	m.accountsSkippedTotal.WithLabelValues(walletAddress).Inc()
}

// RecordEstimatedReclaim records the reclaim estimate of a scan.
func (m *Metrics) RecordEstimatedReclaim(walletAddress string, lamports uint64) {
	m.estimatedReclaim.WithLabelValues(walletAddress).Set(float64(lamports))
}

// Run metric helpers

// RecordRun records a finished run.
func (m *Metrics) RecordRun(mode, status string) {
	m.cleanupRunsTotal.WithLabelValues(mode, status).Inc()
}

// RecordNetChange records the signed balance change of a confirmed run.
// Negative changes are kept on the gauge but never added to the reclaimed counter.
func (m *Metrics) RecordNetChange(walletAddress string, netChange int64) {
	m.lastRunNetChange.WithLabelValues(walletAddress).Set(float64(netChange))
	if netChange > 0 {
		m.lamportsReclaimedTotal.WithLabelValues(walletAddress).Add(float64(netChange))
	}
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Push sends everything gathered by g to a Prometheus Pushgateway.
// A CLI run is too short-lived to be scraped, so the batch-job push model is used.
func Push(ctx context.Context, gatewayURL, job string, g prometheus.Gatherer) error {
	if err := push.New(gatewayURL, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
