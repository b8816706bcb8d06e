package cleanup

import (
	"context"
	"testing"

	"github.com/brojonat/dustpan/service/account"
	"github.com/brojonat/dustpan/service/db"
	"github.com/brojonat/dustpan/service/metrics"
	"github.com/brojonat/dustpan/service/nats"
	"github.com/brojonat/dustpan/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockStore implements RunStore using testify/mock.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, params db.CreateRunParams) (*db.Run, error) {
	args := m.Called(ctx, params)
	if run := args.Get(0); run != nil {
		return run.(*db.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) MarkRunSubmitted(ctx context.Context, id int64, signature string) error {
	return m.Called(ctx, id, signature).Error(0)
}

func (m *mockStore) CompleteRun(ctx context.Context, params db.CompleteRunParams) error {
	return m.Called(ctx, params).Error(0)
}

func TestRunTwoAccountScenario(t *testing.T) {
	ctx := context.Background()
	owner := newKey(t)
	a := keyedAccount(t, owner.PublicKey(), 100)
	b := keyedAccount(t, owner.PublicKey(), 0)

	fx := &runnerFixture{
		owner: owner,
		ledger: &fakeLedger{
			accounts: []solana.KeyedAccount{a, b},
			balances: []uint64{1_000_000_000, 1_000_000_000 + 2*rentMinimum - 5000},
		},
	}
	runner := newRunner(t, fx, nil)

	res, err := runner.Run(ctx, RunParams{Mode: ModeExecute})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, res.Status)
	require.NoError(t, res.Err)

	s := res.Scan.Summary
	assert.Equal(t, 1, s.Dust)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 2, s.AccountsToClose)
	assert.Equal(t, 1, s.TokensToBurn)
	assert.Equal(t, uint64(2*rentMinimum), s.EstimatedReclaim)

	// burn(A,100), close(A), close(B) in one transaction
	ixs := res.Scan.Plan.Instructions
	require.Len(t, ixs, 3)
	assert.Equal(t, byte(burnTypeID), instructionKind(t, ixs[0]))
	assert.Equal(t, uint64(100), burnAmount(t, ixs[0]))
	assert.Equal(t, a.Address, ixs[0].Accounts()[0].PublicKey)
	assert.Equal(t, byte(closeTypeID), instructionKind(t, ixs[1]))
	assert.Equal(t, a.Address, ixs[1].Accounts()[0].PublicKey)
	assert.Equal(t, byte(closeTypeID), instructionKind(t, ixs[2]))
	assert.Equal(t, b.Address, ixs[2].Accounts()[0].PublicKey)

	assert.Equal(t, 1, fx.ledger.sendCalls)
	require.Len(t, fx.ledger.sent, 1)
	assert.Len(t, fx.ledger.sent[0].Message.Instructions, 3)

	require.NotNil(t, res.Signature)
	assert.Equal(t, fx.ledger.sent[0].Signatures[0], *res.Signature)
	require.NotNil(t, res.Reconciliation)
	assert.Equal(t, int64(2*rentMinimum-5000), res.Reconciliation.NetChange)
}

func TestRunNoAccounts(t *testing.T) {
	fx := &runnerFixture{owner: newKey(t), ledger: &fakeLedger{balances: []uint64{5}}}
	runner := newRunner(t, fx, nil)

	for _, mode := range []Mode{ModeDryRun, ModeExecute} {
		res, err := runner.Run(context.Background(), RunParams{Mode: mode})
		require.NoError(t, err)
		assert.Equal(t, StatusNothingToDo, res.Status)
		assert.Nil(t, res.Signature)
	}
	assert.Zero(t, fx.ledger.anchorCalls)
	assert.Zero(t, fx.ledger.sendCalls)
}

func TestRunMalformedPayload(t *testing.T) {
	owner := newKey(t)
	bad := malformedAccount(t)
	fx := &runnerFixture{
		owner: owner,
		ledger: &fakeLedger{accounts: []solana.KeyedAccount{
			keyedAccount(t, owner.PublicKey(), 10),
			bad,
			keyedAccount(t, owner.PublicKey(), 0),
			keyedAccount(t, owner.PublicKey(), 0),
		}},
	}
	runner := newRunner(t, fx, nil)

	res, err := runner.Run(context.Background(), RunParams{Mode: ModeDryRun})
	require.NoError(t, err)

	s := res.Scan.Summary
	assert.Equal(t, 4, s.Enumerated)
	assert.Equal(t, 1, s.Dust)
	assert.Equal(t, 2, s.Idle)
	assert.Equal(t, 1, s.Keep)

	var found bool
	for _, line := range res.Scan.Accounts {
		if line.Address == bad.Address {
			found = true
			assert.Equal(t, account.Keep, line.Class)
			assert.Zero(t, line.Amount)
		}
	}
	assert.True(t, found)
	assert.Contains(t, fx.logs.String(), "level=WARN")
	assert.Contains(t, fx.logs.String(), bad.Address.String())
}

func TestRunDryRunNeverSubmits(t *testing.T) {
	owner := newKey(t)
	accounts := []solana.KeyedAccount{
		keyedAccount(t, owner.PublicKey(), 100),
		keyedAccount(t, owner.PublicKey(), 0),
	}

	dry := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts}}
	dryRes, err := newRunner(t, dry, nil).Run(context.Background(), RunParams{Mode: ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, StatusDryRun, dryRes.Status)
	assert.Zero(t, dry.ledger.sendCalls)
	assert.Zero(t, dry.ledger.anchorCalls)

	exec := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts}}
	execRes, err := newRunner(t, exec, nil).Run(context.Background(), RunParams{Mode: ModeExecute})
	require.NoError(t, err)
	assert.Equal(t, 1, exec.ledger.sendCalls)

	// Same classification and reporting either way
	assert.Equal(t, dryRes.Scan.Summary, execRes.Scan.Summary)
	assert.Equal(t, dryRes.Scan.Accounts, execRes.Scan.Accounts)
}

func TestRunReview(t *testing.T) {
	owner := newKey(t)
	accounts := []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)}

	t.Run("declined", func(t *testing.T) {
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts}}
		var reviewed *ScanResult
		res, err := newRunner(t, fx, nil).Run(context.Background(), RunParams{
			Mode: ModeExecute,
			Review: func(ctx context.Context, scan *ScanResult) (bool, error) {
				reviewed = scan
				return false, nil
			},
		})
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, res.Status)
		require.NotNil(t, reviewed)
		assert.Equal(t, 1, reviewed.Summary.AccountsToClose)
		assert.Zero(t, fx.ledger.sendCalls)
	})

	t.Run("review error aborts", func(t *testing.T) {
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts}}
		_, err := newRunner(t, fx, nil).Run(context.Background(), RunParams{
			Mode:   ModeExecute,
			Review: func(context.Context, *ScanResult) (bool, error) { return false, errBoom },
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Zero(t, fx.ledger.sendCalls)
	})
}

func TestRunSubmissionFailureIsAnOutcome(t *testing.T) {
	owner := newKey(t)
	accounts := []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)}

	t.Run("send rejected", func(t *testing.T) {
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts, sendErr: errBoom}}
		res, err := newRunner(t, fx, nil).Run(context.Background(), RunParams{Mode: ModeExecute})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, errBoom)
		assert.Nil(t, res.Signature)
		assert.Nil(t, res.Reconciliation)
		assert.Equal(t, 1, fx.ledger.sendCalls)
	})

	t.Run("failed on ledger", func(t *testing.T) {
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: accounts, confirmErr: solana.ErrTransactionFailed}}
		res, err := newRunner(t, fx, nil).Run(context.Background(), RunParams{Mode: ModeExecute})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, res.Status)
		assert.ErrorIs(t, res.Err, solana.ErrTransactionFailed)
		assert.NotNil(t, res.Signature)
		assert.Contains(t, res.Describe(), "failed")
	})
}

func TestRunInterruptedWhileConfirming(t *testing.T) {
	owner := newKey(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx := &runnerFixture{owner: owner, ledger: &fakeLedger{
		accounts:   []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)},
		confirmErr: context.Canceled,
		onConfirm:  cancel,
	}}

	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.Anything).Return(&db.Run{ID: 3}, nil).Once()
	store.On("MarkRunSubmitted", mock.Anything, int64(3), mock.AnythingOfType("string")).Return(nil).Once()
	publisher := nats.NewMockPublisher()

	res, err := newRunner(t, fx, func(c *RunnerConfig) {
		c.Store = store
		c.Publisher = publisher
	}).Run(ctx, RunParams{Mode: ModeExecute})
	require.NoError(t, err)

	assert.Equal(t, StatusUnconfirmed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	require.NotNil(t, res.Signature)
	assert.Nil(t, res.Reconciliation)
	assert.Equal(t, int64(3), res.RunID)

	// The row is left as submitted rather than marked failed.
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything)

	events := publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "unconfirmed", events[0].Status)
	assert.Equal(t, res.Signature.String(), events[0].Signature)
}

func TestRunScanFailures(t *testing.T) {
	owner := newKey(t)

	t.Run("enumeration error", func(t *testing.T) {
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{enumErr: errBoom}}
		_, err := newRunner(t, fx, nil).Run(context.Background(), RunParams{Mode: ModeExecute})
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("strict aborts on a bad account", func(t *testing.T) {
		// Parsed data with an amount but no mint cannot be burned.
		noMint := solana.KeyedAccount{
			Address:  newPubkey(t),
			Program:  solana.TokenProgramID,
			Lamports: rentMinimum,
			Data:     []byte(`{"parsed":{"info":{"tokenAmount":{"amount":"5"}}}}`),
		}
		fx := &runnerFixture{owner: owner, ledger: &fakeLedger{accounts: []solana.KeyedAccount{
			keyedAccount(t, owner.PublicKey(), 0),
			noMint,
		}}}

		_, err := newRunner(t, fx, func(c *RunnerConfig) { c.Strict = true }).
			Run(context.Background(), RunParams{Mode: ModeExecute})
		assert.ErrorIs(t, err, ErrInvalidAccount)
		assert.Zero(t, fx.ledger.sendCalls)

		lenient := &runnerFixture{owner: owner, ledger: fx.ledger}
		res, err := newRunner(t, lenient, nil).Run(context.Background(), RunParams{Mode: ModeExecute})
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, res.Status)
		assert.Equal(t, 1, res.Scan.Summary.Skipped)
		assert.Equal(t, 1, res.Scan.Summary.AccountsToClose)
	})
}

func TestRunRecordsHistoryAndEvents(t *testing.T) {
	ctx := context.Background()
	owner := newKey(t)
	fx := &runnerFixture{
		owner: owner,
		ledger: &fakeLedger{
			accounts: []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)},
			balances: []uint64{1_000_000, 1_000_000 + rentMinimum - 5000},
		},
	}

	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.MatchedBy(func(p db.CreateRunParams) bool {
		return p.Status == db.StatusPlanned && p.Mode == "execute" && p.IdleCount == 1 && len(p.Accounts) == 1
	})).Return(&db.Run{ID: 7}, nil).Once()
	store.On("MarkRunSubmitted", mock.Anything, int64(7), mock.AnythingOfType("string")).Return(nil).Once()
	store.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p db.CompleteRunParams) bool {
		return p.ID == 7 && p.Status == db.StatusConfirmed && p.NetChange != nil && *p.NetChange == rentMinimum-5000
	})).Return(nil).Once()

	publisher := nats.NewMockPublisher()
	reg := prometheus.NewRegistry()

	runner := newRunner(t, fx, func(c *RunnerConfig) {
		c.Store = store
		c.Publisher = publisher
		c.Metrics = metrics.NewMetrics(reg)
	})

	res, err := runner.Run(ctx, RunParams{Mode: ModeExecute})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Equal(t, int64(7), res.RunID)
	store.AssertExpectations(t)

	events := publisher.GetPublishedEventsForWallet(owner.PublicKey().String())
	require.Len(t, events, 1)
	assert.Equal(t, "confirmed", events[0].Status)
	assert.Equal(t, int64(7), events[0].RunID)
	assert.Equal(t, res.Signature.String(), events[0].Signature)
	require.NotNil(t, events[0].NetChange)
	assert.Equal(t, int64(rentMinimum-5000), *events[0].NetChange)
}

func TestRunDryRunHistory(t *testing.T) {
	owner := newKey(t)
	fx := &runnerFixture{owner: owner, ledger: &fakeLedger{
		accounts: []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 3)},
	}}

	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.MatchedBy(func(p db.CreateRunParams) bool {
		return p.Status == db.StatusDryRun && p.DustCount == 1
	})).Return(&db.Run{ID: 1}, nil).Once()

	res, err := newRunner(t, fx, func(c *RunnerConfig) { c.Store = store }).
		Run(context.Background(), RunParams{Mode: ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RunID)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkRunSubmitted", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunHistoryFailureDoesNotBlockCleanup(t *testing.T) {
	owner := newKey(t)
	fx := &runnerFixture{owner: owner, ledger: &fakeLedger{
		accounts: []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)},
	}}

	store := &mockStore{}
	store.On("CreateRun", mock.Anything, mock.Anything).Return(nil, errBoom)

	publisher := nats.NewMockPublisher()
	publisher.SetPublishError(errBoom)

	res, err := newRunner(t, fx, func(c *RunnerConfig) {
		c.Store = store
		c.Publisher = publisher
	}).Run(context.Background(), RunParams{Mode: ModeExecute})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Status)
	assert.Zero(t, res.RunID)
	store.AssertNotCalled(t, "MarkRunSubmitted", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunRentDestination(t *testing.T) {
	owner := newKey(t)
	dest := newPubkey(t)
	fx := &runnerFixture{owner: owner, ledger: &fakeLedger{
		accounts: []solana.KeyedAccount{keyedAccount(t, owner.PublicKey(), 0)},
	}}

	res, err := newRunner(t, fx, func(c *RunnerConfig) { c.RentDestination = dest }).
		Run(context.Background(), RunParams{Mode: ModeDryRun})
	require.NoError(t, err)
	assert.Equal(t, dest, res.Scan.Destination)
	assert.Equal(t, dest, res.Scan.Plan.Instructions[0].Accounts()[1].PublicKey)
	assert.NotEqual(t, solanago.PublicKey{}, res.Scan.Wallet)
}
