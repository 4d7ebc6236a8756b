package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnershipHandshake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.access.TransferOwnership(ctx, alice, bob), ErrUnauthorized)
	assert.ErrorIs(t, env.access.AcceptOwnership(ctx, bob), ErrUnauthorized)
	assert.ErrorIs(t, env.access.CancelTransfer(ctx, testOwner), ErrNotYetEligible)

	require.NoError(t, env.access.TransferOwnership(ctx, testOwner, bob))
	pending, err := env.access.PendingOwner(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob, pending)

	assert.ErrorIs(t, env.access.AcceptOwnership(ctx, carol), ErrUnauthorized)
	require.NoError(t, env.access.AcceptOwnership(ctx, bob))

	owner, err := env.access.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, bob, owner)
	pending, err = env.access.PendingOwner(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	isOp, err := env.access.IsOperator(ctx, testOwner)
	require.NoError(t, err)
	assert.False(t, isOp)
	isOp, err = env.access.IsOperator(ctx, bob)
	require.NoError(t, err)
	assert.True(t, isOp)
}

func TestPendingOwnerMayRejectTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.access.TransferOwnership(ctx, testOwner, bob))
	assert.ErrorIs(t, env.access.CancelTransfer(ctx, carol), ErrUnauthorized)
	require.NoError(t, env.access.CancelTransfer(ctx, bob))

	assert.ErrorIs(t, env.access.AcceptOwnership(ctx, bob), ErrUnauthorized)
	owner, err := env.access.Owner(ctx)
	require.NoError(t, err)
	assert.Equal(t, testOwner, owner)
}

func TestOperatorsFromConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, env.access.RequireOperator(ctx, testOperator))
	assert.NoError(t, env.access.RequireOperator(ctx, "0x6666666666666666666666666666666666666666"))
	assert.ErrorIs(t, env.access.RequireOperator(ctx, alice), ErrUnauthorized)
	assert.ErrorIs(t, env.access.RequireOperator(ctx, "not-an-address"), ErrUnauthorized)

	isOwner, err := env.access.IsOwner(ctx, testOperator)
	require.NoError(t, err)
	assert.False(t, isOwner)
}
