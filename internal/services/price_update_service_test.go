package services

import (
	"context"
	"testing"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticFeed map[string]decimal.Decimal

func (f staticFeed) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if p, ok := f[asset]; ok {
		return p, nil
	}
	return decimal.Zero, clients.ErrPriceNotFound
}

type memoryStore map[string]decimal.Decimal

func (m memoryStore) Get(ctx context.Context, asset string) (decimal.Decimal, error) {
	if p, ok := m[asset]; ok {
		return p, nil
	}
	return decimal.Zero, clients.ErrPriceNotFound
}

func (m memoryStore) Set(ctx context.Context, asset string, price decimal.Decimal) error {
	m[asset] = price
	return nil
}

func TestPriceUpdateRefreshesHeldAssets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.txm.Do(ctx, func(tx *Tx) error {
		if err := tx.Repos.Custody.Lock(ctx, testVault, alice, dai, decimal.NewFromInt(5)); err != nil {
			return err
		}
		if err := tx.Repos.Custody.Lock(ctx, testVault, alice, unpriced, decimal.NewFromInt(2)); err != nil {
			return err
		}
		if err := tx.Repos.Custody.Lock(ctx, testVault, bob, unpriced, decimal.NewFromInt(1)); err != nil {
			return err
		}
		return tx.Repos.Custody.Lock(ctx, testVault, models.FeeAccount, weth, decimal.NewFromInt(1))
	}))

	held, err := env.txm.Repos().Custody.HeldAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dai, unpriced}, held)

	store := memoryStore{}
	feed := staticFeed{unpriced: decimal.NewFromInt(3), weth: decimal.NewFromInt(2000)}
	prices, err := NewPriceService(map[string]string{dai: "1"}, store, feed)
	require.NoError(t, err)

	updater := NewPriceUpdateService(env.txm, prices, 0)
	assert.Equal(t, 1, updater.UpdatePrices(ctx))
	assert.True(t, store[unpriced].Equal(decimal.NewFromInt(3)))
	_, cached := store[dai]
	assert.False(t, cached)

	feed[unpriced] = decimal.NewFromInt(4)
	assert.Equal(t, 1, updater.UpdatePrices(ctx))
	price, err := prices.PriceUSD(ctx, unpriced)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(4)))
}

func TestPriceServiceFallsBackToFeed(t *testing.T) {
	ctx := context.Background()
	store := memoryStore{}
	prices, err := NewPriceService(map[string]string{dai: "1"}, store, staticFeed{weth: decimal.NewFromInt(2000)})
	require.NoError(t, err)

	p, err := prices.PriceUSD(ctx, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(2000)))
	assert.Contains(t, store, weth)

	_, err = prices.PriceUSD(ctx, unpriced)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = NewPriceService(map[string]string{"nope": "1"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
