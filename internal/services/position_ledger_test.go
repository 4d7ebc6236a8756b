package services

import (
	"context"
	"testing"
	"time"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPositionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	cases := []struct {
		name    string
		owner   string
		tokens  []string
		amounts []decimal.Decimal
		want    error
	}{
		{"empty basket", alice, nil, nil, ErrEmptyBasket},
		{"length mismatch", alice, []string{dai, weth}, []decimal.Decimal{one}, ErrLengthMismatch},
		{"duplicate asset", alice, []string{dai, dai}, []decimal.Decimal{one, one}, ErrDuplicateAsset},
		{"zero amount", alice, []string{dai}, []decimal.Decimal{decimal.Zero}, ErrInvalidAmount},
		{"negative amount", alice, []string{dai}, []decimal.Decimal{one.Neg()}, ErrInvalidAmount},
		{"bad token", alice, []string{"0x1234"}, []decimal.Decimal{one}, ErrInvalidAddress},
		{"zero owner", "0x0000000000000000000000000000000000000000", []string{dai}, []decimal.Decimal{one}, ErrZeroAddress},
		{"unpriced asset", alice, []string{unpriced}, []decimal.Decimal{one}, ErrUnknownAsset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.ledger.OpenPosition(ctx, tc.owner, tc.tokens, tc.amounts)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	positions, err := env.ledger.PositionsOf(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestOpenPositionValuesBasket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.ledger.OpenPosition(ctx, "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		[]string{dai, weth}, []decimal.Decimal{decimal.NewFromInt(100), decimal.RequireFromString("0.5")})
	require.NoError(t, err)

	assert.Equal(t, alice, p.Owner)
	assert.True(t, p.TotalValueUSD.Equal(decimal.NewFromInt(1100)))
	assert.False(t, p.HasPendingRequest)
	assert.Equal(t, []string{dai, weth}, p.Basket.Tokens())

	stored := env.position(t, p.ID)
	assert.True(t, stored.Basket[1].Amount.Equal(decimal.RequireFromString("0.5")))
}

func TestAttachRequestOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, err := env.ledger.OpenPosition(ctx, alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(10)})
	require.NoError(t, err)

	require.NoError(t, env.ledger.AttachRequest(ctx, p.ID, 7))
	assert.ErrorIs(t, env.ledger.AttachRequest(ctx, p.ID, 8), ErrInvalidPosition)
	assert.ErrorIs(t, env.ledger.AttachRequest(ctx, 999, 9), ErrPositionNotFound)
	assert.Equal(t, uint64(7), env.position(t, p.ID).RequestID)
}

func TestFinalizeRejectsRatioOutsideBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, err := env.ledger.OpenPosition(ctx, alice, []string{dai}, []decimal.Decimal{decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.NoError(t, env.ledger.AttachRequest(ctx, p.ID, 1))

	_, err = env.ledger.finalize(ctx, p.ID, 1, 124, decimal.NewFromInt(8))
	assert.ErrorIs(t, err, ErrInvalidRatio)
	_, err = env.ledger.finalize(ctx, p.ID, 2, 150, decimal.NewFromInt(8))
	assert.ErrorIs(t, err, ErrNoPendingRequest)

	final, err := env.ledger.finalize(ctx, p.ID, 1, 125, decimal.NewFromInt(8))
	require.NoError(t, err)
	assert.Equal(t, 125, final.CollateralRatio)
	assert.False(t, final.HasPendingRequest)
}

func TestClearForWithdrawalIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p, err := env.ledger.OpenPosition(ctx, alice, []string{dai, weth},
		[]decimal.Decimal{decimal.NewFromInt(100), decimal.RequireFromString("0.5")})
	require.NoError(t, err)
	require.NoError(t, env.ledger.AttachRequest(ctx, p.ID, 3))

	released, alreadyEmpty, err := env.ledger.ClearForWithdrawal(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, alreadyEmpty)
	assert.Equal(t, []string{dai, weth}, released.Tokens())
	first := env.position(t, p.ID)
	require.NotNil(t, first.WithdrawnAt)

	env.clock.Advance(time.Hour)
	released, alreadyEmpty, err = env.ledger.ClearForWithdrawal(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, alreadyEmpty)
	assert.Empty(t, released)

	second := env.position(t, p.ID)
	require.NotNil(t, second.WithdrawnAt)
	assert.True(t, first.WithdrawnAt.Equal(*second.WithdrawnAt))
	assert.Equal(t, first.Basket, second.Basket)
	assert.Equal(t, first.HasPendingRequest, second.HasPendingRequest)
	assert.True(t, first.MintedAmount.Equal(second.MintedAmount))
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))

	_, _, err = env.ledger.ClearForWithdrawal(ctx, 999)
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestUserWithdrawRepaysAndReleases(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)

	_, err := env.deposits.Withdraw(ctx, alice, res.Position.ID)
	assert.ErrorIs(t, err, ErrNotYetEligible)

	_, err = env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:125 CONFIDENCE:80 SOURCE:ALGORITHMIC")
	require.NoError(t, err)
	require.True(t, env.balance(t, alice).Equal(decimal.NewFromInt(80)))

	_, err = env.deposits.Withdraw(ctx, bob, res.Position.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	released, err := env.deposits.Withdraw(ctx, alice, res.Position.ID)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, dai, released[0].Token)
	assert.True(t, released[0].Amount.Equal(decimal.NewFromInt(100)))

	assert.True(t, env.balance(t, alice).IsZero())
	assert.True(t, env.custody(t, alice, dai).IsZero())
	p := env.position(t, res.Position.ID)
	assert.NotNil(t, p.WithdrawnAt)
	assert.True(t, p.MintedAmount.IsZero())
	assert.True(t, p.Basket.IsEmpty())

	_, err = env.deposits.Withdraw(ctx, alice, res.Position.ID)
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

func TestUserWithdrawNeedsMintedBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	_, err := env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:125 CONFIDENCE:80 SOURCE:ALGORITHMIC")
	require.NoError(t, err)

	require.NoError(t, env.txm.Do(ctx, func(tx *Tx) error {
		return tx.Repos.Tokens.Debit(ctx, alice, decimal.NewFromInt(1))
	}))

	_, err = env.deposits.Withdraw(ctx, alice, res.Position.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, env.custody(t, alice, dai).Equal(decimal.NewFromInt(100)))
	assert.Nil(t, env.position(t, res.Position.ID).WithdrawnAt)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.deposit(t, alice, 100, models.EngineAlgorithmic)
	env.deposit(t, alice, 50, models.EngineAlgorithmic)
	_, err := env.coordinator.OnCallback(ctx, first.Request.ID, "RATIO:200 CONFIDENCE:80 SOURCE:ALGORITHMIC")
	require.NoError(t, err)

	summary, err := env.ledger.Summary(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 2, summary.ActiveCount)
	assert.True(t, summary.TotalValue.Equal(decimal.NewFromInt(150)))
	assert.True(t, summary.TotalMinted.Equal(decimal.NewFromInt(50)))
}
