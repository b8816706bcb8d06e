package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordNetChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordNetChange("wallet1", 4_000_000)
	m.RecordNetChange("wallet1", -5000)

	// Gauge holds the last value, counter only grows on gains
	assert.Equal(t, float64(-5000), testutil.ToFloat64(m.lastRunNetChange.WithLabelValues("wallet1")))
	assert.Equal(t, float64(4_000_000), testutil.ToFloat64(m.lamportsReclaimedTotal.WithLabelValues("wallet1")))
}

func TestRecordScanMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordAccountScanned("wallet1", "dust")
	m.RecordAccountScanned("wallet1", "dust")
	m.RecordAccountScanned("wallet1", "idle")
	m.RecordDecodeFailure("base64")
	m.RecordInstructionBuilt("burn")
	m.RecordInstructionBuilt("close")
	m.RecordInstructionBuilt("close")
	m.RecordEstimatedReclaim("wallet1", 2039280)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.tokenAccountsScannedTotal.WithLabelValues("wallet1", "dust")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tokenAccountsScannedTotal.WithLabelValues("wallet1", "idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.decodeFailuresTotal.WithLabelValues("base64")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.instructionsBuiltTotal.WithLabelValues("close")))
	assert.Equal(t, float64(2039280), testutil.ToFloat64(m.estimatedReclaim.WithLabelValues("wallet1")))
}

func TestRecordRPCCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRPCCall("getBalance", "success", "devnet", 0.12)
	m.RecordRPCCall("getBalance", "error", "devnet", 0.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.solanaRPCCallsTotal.WithLabelValues("getBalance", "success", "devnet")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.solanaRPCCallsTotal.WithLabelValues("getBalance", "error", "devnet")))
}

func TestPush(t *testing.T) {
	t.Run("pushes to gateway", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		reg := prometheus.NewRegistry()
		m := NewMetrics(reg)
		m.RecordRun("dry-run", "dry_run")

		err := Push(context.Background(), srv.URL, "dustpan", reg)
		require.NoError(t, err)
		assert.Equal(t, "/metrics/job/dustpan", gotPath)
	})

	t.Run("gateway error is returned", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		reg := prometheus.NewRegistry()
		NewMetrics(reg).RecordRun("execute", "confirmed")

		err := Push(context.Background(), srv.URL, "dustpan", reg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to push metrics")
	})
}
