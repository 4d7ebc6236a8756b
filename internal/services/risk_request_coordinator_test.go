package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositOpensPendingPositionAndDispatches(t *testing.T) {
	env := newTestEnv(t)

	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)

	assert.True(t, res.Position.HasPendingRequest)
	assert.Equal(t, res.Request.ID, res.Position.RequestID)
	assert.Equal(t, 0, res.Position.CollateralRatio)
	assert.True(t, res.Position.TotalValueUSD.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, testVault, res.Position.Vault)
	assert.True(t, env.custody(t, alice, dai).Equal(decimal.NewFromInt(100)))

	require.Equal(t, 1, env.oracle.dispatchCount())
	assert.Equal(t, res.Request.ID, env.oracle.dispatched[0].RequestID)
	assert.Equal(t, res.Request.BasketDigest, env.oracle.dispatched[0].BasketDigest)
}

func TestDepositRequiresVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.txm.Do(ctx, func(tx *Tx) error {
		return tx.Repos.GlobalConfig.Set(ctx, models.ConfigKeyVault, "", "test", "")
	}))

	_, err := env.deposits.DepositBasket(ctx, alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(1)}, "", decimal.Zero)
	assert.ErrorIs(t, err, ErrVaultNotSet)
}

func TestDepositRejectsUnknownEngine(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.deposits.DepositBasket(context.Background(), alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(1)}, "GUESS", decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidEngine)
}

func TestCallbackMintsAtOracleRatio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)

	result, err := env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:150 CONFIDENCE:80 SOURCE:ALGORITHMIC")
	require.NoError(t, err)

	assert.Equal(t, 150, result.Position.CollateralRatio)
	assert.False(t, result.Position.HasPendingRequest)
	assert.Equal(t, "66.67", result.Position.MintedAmount.StringFixed(2))
	assert.Equal(t, models.OutcomeOracle, result.Request.Outcome)
	assert.Equal(t, "ALGORITHMIC", result.Request.Source)
	assert.Empty(t, result.Deviation)
	assert.True(t, env.balance(t, alice).Equal(result.Position.MintedAmount))

	state, failures := env.breaker.State()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 0, failures)
}

func TestDuplicateCallbackDoesNotMintTwice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)

	_, err := env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:150 CONFIDENCE:80 SOURCE:ALGORITHMIC")
	require.NoError(t, err)
	minted := env.balance(t, alice)

	_, err = env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:125 CONFIDENCE:99 SOURCE:ALGORITHMIC")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, KindLifecycle, KindOf(err))
	assert.True(t, env.balance(t, alice).Equal(minted))
	assert.Equal(t, 150, env.position(t, res.Position.ID).CollateralRatio)
}

func TestCallbackUnknownRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.coordinator.OnCallback(context.Background(), 999, "RATIO:150 CONFIDENCE:80 SOURCE:X")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestBadCallbacksCoercedToFloor(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"malformed", "hello oracle"},
		{"missing field", "RATIO:150 CONFIDENCE:80"},
		{"below band", "RATIO:110 CONFIDENCE:90 SOURCE:AI"},
		{"above band", "RATIO:250 CONFIDENCE:90 SOURCE:AI"},
		{"low confidence", "RATIO:150 CONFIDENCE:20 SOURCE:AI"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			res := env.deposit(t, alice, 100, models.EngineExternalAI)

			result, err := env.coordinator.OnCallback(context.Background(), res.Request.ID, tc.payload)
			require.NoError(t, err)

			assert.Equal(t, 125, result.Position.CollateralRatio)
			assert.Equal(t, models.OutcomeFallback, result.Request.Outcome)
			assert.NotEmpty(t, result.Deviation)
			assert.True(t, result.Position.MintedAmount.Equal(decimal.NewFromInt(80)))
			assert.True(t, env.balance(t, alice).Equal(decimal.NewFromInt(80)))

			_, failures := env.breaker.State()
			assert.Equal(t, 1, failures)
		})
	}
}

func TestTestTimeoutCallbacksSkipBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := env.deposit(t, alice, 100, models.EngineTestTimeout)
	result, err := env.coordinator.OnCallback(ctx, bad.Request.ID, "hello oracle")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFallback, result.Request.Outcome)
	_, failures := env.breaker.State()
	assert.Equal(t, 0, failures)

	env.breaker.RecordFailure()
	env.breaker.RecordFailure()
	good := env.deposit(t, bob, 100, models.EngineTestTimeout)
	_, err = env.coordinator.OnCallback(ctx, good.Request.ID, "RATIO:150 CONFIDENCE:90 SOURCE:ALGORITHMIC")
	require.NoError(t, err)
	_, failures = env.breaker.State()
	assert.Equal(t, 2, failures)
}

func TestDispatchFailureFlagsRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.oracle.err = errors.New("oracle down")

	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	_, failures := env.breaker.State()
	assert.Equal(t, 1, failures)

	req, err := env.coordinator.GetRequest(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.True(t, req.DispatchFailed)
	assert.False(t, req.Processed)

	events, err := env.admin.AuditLog(ctx, "request.dispatch_failed", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestManualRequestCountsTimeoutOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := NewRequestTimeoutService(env.txm, env.breaker, time.Hour, time.Minute)
	sweeper.SetClock(env.clock.Now)

	oracleReq := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	testReq := env.deposit(t, bob, 100, models.EngineTestTimeout)
	env.clock.Advance(time.Hour + time.Second)

	_, err := env.coordinator.RequestManualProcessing(ctx, alice, oracleReq.Request.ID)
	require.NoError(t, err)
	_, err = env.coordinator.RequestManualProcessing(ctx, alice, oracleReq.Request.ID)
	require.NoError(t, err)
	_, err = env.coordinator.RequestManualProcessing(ctx, bob, testReq.Request.ID)
	require.NoError(t, err)
	_, failures := env.breaker.State()
	assert.Equal(t, 1, failures)

	assert.Equal(t, 0, sweeper.Sweep(ctx))
	_, failures = env.breaker.State()
	assert.Equal(t, 1, failures)
}

func TestSubmitRejectsPositionWithPendingRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)

	_, err := env.coordinator.Submit(ctx, nil, res.Position, models.EngineAlgorithmic, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestSubmitChargesQuotedFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.coordinator.cfg.UseQuotedFee = true
	env.oracle.fee = decimal.RequireFromString("0.5")

	_, err := env.deposits.DepositBasket(ctx, alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(100)}, "", decimal.RequireFromString("0.1"))
	assert.ErrorIs(t, err, ErrInsufficientFee)
	assert.True(t, env.custody(t, alice, dai).IsZero())

	res, err := env.deposits.DepositBasket(ctx, alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(100)}, "", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, res.Request.FeeCharged.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, env.custody(t, models.FeeAccount, env.coordinator.cfg.FeeAsset).Equal(decimal.RequireFromString("0.5")))
}

func TestManualProcessingPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)
	assert.Equal(t, 0, env.oracle.dispatchCount())

	_, err := env.coordinator.RequestManualProcessing(ctx, alice, res.Request.ID)
	assert.ErrorIs(t, err, ErrNotYetEligible)

	env.clock.Advance(time.Hour + time.Second)

	_, err = env.coordinator.RequestManualProcessing(ctx, bob, res.Request.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	req, err := env.coordinator.RequestManualProcessing(ctx, alice, res.Request.ID)
	require.NoError(t, err)
	assert.True(t, req.ManualProcessingRequested)
	assert.Equal(t, "manual_requested", req.Status())

	// asking twice changes nothing
	_, err = env.coordinator.RequestManualProcessing(ctx, alice, res.Request.ID)
	require.NoError(t, err)

	_, err = env.coordinator.ProcessManually(ctx, alice, res.Request.ID, 125, "")
	assert.ErrorIs(t, err, ErrNotYetEligible)

	env.clock.Advance(24 * time.Hour)

	result, err := env.coordinator.ProcessManually(ctx, alice, res.Request.ID, 125, "MANUAL")
	require.NoError(t, err)
	assert.Equal(t, 125, result.Position.CollateralRatio)
	assert.Equal(t, models.OutcomeManual, result.Request.Outcome)
	assert.True(t, env.balance(t, alice).Equal(decimal.NewFromInt(80)))

	_, err = env.coordinator.ProcessManually(ctx, alice, res.Request.ID, 125, "MANUAL")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestOperatorProcessesAfterTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)

	_, err := env.coordinator.ProcessManually(ctx, testOperator, res.Request.ID, 160, "")
	assert.ErrorIs(t, err, ErrNotYetEligible)

	env.clock.Advance(2 * time.Hour)

	_, err = env.coordinator.ProcessManually(ctx, bob, res.Request.ID, 160, "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	result, err := env.coordinator.ProcessManually(ctx, testOperator, res.Request.ID, 160, "")
	require.NoError(t, err)
	assert.Equal(t, 160, result.Position.CollateralRatio)
	assert.Equal(t, SourceManual, result.Request.Source)
	assert.True(t, result.Position.MintedAmount.Equal(decimal.RequireFromString("62.5")))
}

func TestManualRatioOutOfBandCoerced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)
	env.clock.Advance(2 * time.Hour)

	result, err := env.coordinator.ProcessManually(ctx, testOwner, res.Request.ID, 400, "")
	require.NoError(t, err)
	assert.Equal(t, 125, result.Position.CollateralRatio)
	assert.Contains(t, result.Deviation, "coerced")
}

func TestBreakerOpensAfterDispatchFailures(t *testing.T) {
	env := newTestEnv(t)
	env.oracle.err = errors.New("oracle down")

	for i := 0; i < 3; i++ {
		env.deposit(t, alice, 100, models.EngineAlgorithmic)
	}
	state, _ := env.breaker.State()
	require.Equal(t, BreakerOpen, state)
	require.Equal(t, 3, env.oracle.dispatchCount())

	res := env.deposit(t, bob, 100, models.EngineAlgorithmic)
	assert.Equal(t, 3, env.oracle.dispatchCount())
	assert.Equal(t, models.OutcomeFallback, res.Request.Outcome)
	assert.True(t, res.Request.Processed)
	assert.Equal(t, 125, res.Position.CollateralRatio)
	assert.False(t, res.Position.HasPendingRequest)
	assert.True(t, env.balance(t, bob).Equal(decimal.NewFromInt(80)))

	// after the cooldown one trial goes through and a good answer closes the breaker
	env.oracle.err = nil
	env.clock.Advance(11 * time.Minute)
	trial := env.deposit(t, carol, 100, models.EngineAlgorithmic)
	assert.Equal(t, 4, env.oracle.dispatchCount())
	state, _ = env.breaker.State()
	assert.Equal(t, BreakerHalfOpen, state)

	_, err := env.coordinator.OnCallback(context.Background(), trial.Request.ID, "RATIO:140 CONFIDENCE:90 SOURCE:ALGORITHMIC")
	require.NoError(t, err)
	state, _ = env.breaker.State()
	assert.Equal(t, BreakerClosed, state)
}

func TestResetBreakerRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.breaker.RecordFailure()
	}

	assert.ErrorIs(t, env.coordinator.ResetBreaker(ctx, alice), ErrUnauthorized)
	require.NoError(t, env.coordinator.ResetBreaker(ctx, testOwner))
	state, _ := env.breaker.State()
	assert.Equal(t, BreakerClosed, state)
}

func TestMintAmount(t *testing.T) {
	assert.Equal(t, "66.666666666666666666", MintAmount(decimal.NewFromInt(100), 150).String())
	assert.True(t, MintAmount(decimal.NewFromInt(100), 125).Equal(decimal.NewFromInt(80)))
	assert.True(t, MintAmount(decimal.NewFromInt(100), 200).Equal(decimal.NewFromInt(50)))
	assert.True(t, MintAmount(decimal.NewFromInt(100), 0).IsZero())
}
