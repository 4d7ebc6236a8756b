package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"collateral-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminVaultAndStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.admin.SetVault(ctx, alice, carol), ErrUnauthorized)
	assert.ErrorIs(t, env.admin.SetVault(ctx, testOperator, "0x12"), ErrInvalidAddress)
	require.NoError(t, env.admin.SetVault(ctx, testOperator, carol))

	status, err := env.admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, testOwner, status.Owner)
	assert.Equal(t, carol, status.Vault)
	assert.True(t, status.AutomationEnabled)
	assert.Equal(t, BreakerClosed, status.BreakerState)
	assert.Equal(t, "0", status.TotalSupply)

	events, err := env.admin.AuditLog(ctx, "admin.vault_set", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, testOperator, events[0].Actor)

	// bootstrap never overwrites a stored vault
	require.NoError(t, env.admin.Bootstrap(ctx, testVault))
	status, err = env.admin.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, carol, status.Vault)
}

func TestTimeoutSweepFeedsBreaker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := NewRequestTimeoutService(env.txm, env.breaker, time.Hour, time.Minute)
	sweeper.SetClock(env.clock.Now)

	oracleReq := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	testReq := env.deposit(t, bob, 100, models.EngineTestTimeout)

	assert.Equal(t, 0, sweeper.Sweep(ctx))

	env.clock.Advance(time.Hour + time.Second)
	assert.Equal(t, 2, sweeper.Sweep(ctx))
	assert.Equal(t, 0, sweeper.Sweep(ctx))

	_, failures := env.breaker.State()
	assert.Equal(t, 1, failures)

	for _, id := range []uint64{oracleReq.Request.ID, testReq.Request.ID} {
		req, err := env.coordinator.GetRequest(ctx, id)
		require.NoError(t, err)
		assert.True(t, req.TimedOut)
		assert.False(t, req.Processed)
	}
}

func TestSweepSkipsFailedDispatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sweeper := NewRequestTimeoutService(env.txm, env.breaker, time.Hour, time.Minute)
	sweeper.SetClock(env.clock.Now)
	env.oracle.err = errors.New("oracle down")

	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	_, failures := env.breaker.State()
	require.Equal(t, 1, failures)

	env.clock.Advance(time.Hour + time.Second)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	_, failures = env.breaker.State()
	assert.Equal(t, 1, failures)

	req, err := env.coordinator.GetRequest(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.True(t, req.TimedOut)
	assert.True(t, req.DispatchFailed)
}
