package services

import (
	"context"
	"errors"
	"testing"

	"collateral-backend/internal/models"
	"collateral-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRouter  = "0x3333333333333333333333333333333333333333"
	bridgeLocal = "0x2222222222222222222222222222222222222222"
	bridgePeer  = "0x7777777777777777777777777777777777777777"
	feeToken    = "0x4444444444444444444444444444444444444444"
	nativeCoin  = "0x0000000000000000000000000000000000000000"
)

// loopback delivers every published envelope straight into the peer service
type loopback struct {
	peer      *BridgeService
	err       error
	delivered []*models.BridgeEnvelope
}

func (l *loopback) PublishEnvelope(ctx context.Context, env *models.BridgeEnvelope) error {
	if l.err != nil {
		return l.err
	}
	copied := *env
	l.delivered = append(l.delivered, &copied)
	_, err := l.peer.Receive(ctx, env)
	return err
}

type bridgePair struct {
	a, b       *testEnv
	bridgeA    *BridgeService
	bridgeB    *BridgeService
	transportA *loopback
}

func newBridgePair(t *testing.T) *bridgePair {
	t.Helper()
	ctx := context.Background()
	fees := map[models.FeeCurrency]FeeSchedule{
		models.FeeCurrencyNative:   {Base: decimal.RequireFromString("0.5"), PerByte: decimal.RequireFromString("0.01")},
		models.FeeCurrencyFeeToken: {Base: decimal.NewFromInt(2), PerByte: decimal.Zero},
	}

	a, b := newTestEnv(t), newTestEnv(t)
	bridgeB := NewBridgeService(b.txm, b.access, nil, BridgeConfig{LocalDomain: 2, LocalAddress: bridgePeer, NativeAsset: nativeCoin, Fees: fees})
	transportA := &loopback{peer: bridgeB}
	bridgeA := NewBridgeService(a.txm, a.access, transportA, BridgeConfig{LocalDomain: 1, LocalAddress: bridgeLocal, NativeAsset: nativeCoin, Fees: fees})

	require.NoError(t, bridgeA.Bootstrap(ctx, testRouter, ""))
	require.NoError(t, bridgeB.Bootstrap(ctx, testRouter, ""))
	require.NoError(t, bridgeA.SetRoute(ctx, testOwner, 2, true))
	require.NoError(t, bridgeA.SetTrustedPeer(ctx, testOwner, 2, bridgePeer))
	require.NoError(t, bridgeB.SetRoute(ctx, testOwner, 1, true))
	require.NoError(t, bridgeB.SetTrustedPeer(ctx, testOwner, 1, bridgeLocal))

	require.NoError(t, a.txm.Do(ctx, func(tx *Tx) error {
		return tx.Repos.Tokens.Credit(ctx, alice, decimal.NewFromInt(100))
	}))
	return &bridgePair{a: a, b: b, bridgeA: bridgeA, bridgeB: bridgeB, transportA: transportA}
}

func (p *bridgePair) supply(t *testing.T) decimal.Decimal {
	t.Helper()
	ctx := context.Background()
	sa, err := p.a.txm.Repos().Tokens.TotalSupply(ctx)
	require.NoError(t, err)
	sb, err := p.b.txm.Repos().Tokens.TotalSupply(ctx)
	require.NoError(t, err)
	return sa.Add(sb)
}

func TestBridgeSendConservesSupply(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()

	msg, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(40), models.FeeCurrencyNative)
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusRelayed, msg.Status)
	assert.Equal(t, uint64(1), msg.Nonce)
	assert.True(t, msg.FeeAmount.Equal(decimal.RequireFromString("1.14")))

	assert.True(t, p.a.balance(t, alice).Equal(decimal.NewFromInt(60)))
	assert.True(t, p.b.balance(t, bob).Equal(decimal.NewFromInt(40)))
	assert.True(t, p.supply(t).Equal(decimal.NewFromInt(100)))
	assert.True(t, p.a.custody(t, models.FeeAccount, nativeCoin).Equal(decimal.RequireFromString("1.14")))

	inbound, err := p.bridgeB.Message(ctx, msg.MessageID)
	require.NoError(t, err)
	require.NotNil(t, inbound)
	assert.Equal(t, models.DirectionInbound, inbound.Direction)
	assert.Equal(t, bridgeLocal, inbound.Sender)

	second, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(10), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Nonce)
	assert.NotEqual(t, msg.MessageID, second.MessageID)
	assert.True(t, p.a.custody(t, models.FeeAccount, nativeCoin).Equal(decimal.RequireFromString("2.28")))
}

func TestBridgeRejectsSubWeiPrecision(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()
	amount := decimal.RequireFromString("1.0000000000000000009")

	_, err := p.bridgeA.CalculateFees(ctx, 2, bob, amount, models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = p.bridgeA.Send(ctx, alice, 2, bob, amount, models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = p.bridgeA.Send(ctx, alice, 2, bob, decimal.RequireFromString("0.0000000000000000001"), models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	assert.True(t, p.a.balance(t, alice).Equal(decimal.NewFromInt(100)))
	assert.True(t, p.supply(t).Equal(decimal.NewFromInt(100)))
	assert.Empty(t, p.transportA.delivered)
	assert.True(t, p.a.custody(t, models.FeeAccount, nativeCoin).IsZero())

	msg, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.RequireFromString("1.000000000000000001"), models.FeeCurrencyNative)
	require.NoError(t, err)
	assert.True(t, p.b.balance(t, bob).Equal(msg.Amount))
	assert.True(t, p.supply(t).Equal(decimal.NewFromInt(100)))
}

func TestBridgeRejectsReplay(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()
	_, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(40), models.FeeCurrencyNative)
	require.NoError(t, err)
	require.Len(t, p.transportA.delivered, 1)

	_, err = p.bridgeB.Receive(ctx, p.transportA.delivered[0])
	assert.ErrorIs(t, err, ErrDuplicateMessage)
	assert.True(t, p.b.balance(t, bob).Equal(decimal.NewFromInt(40)))
}

func TestBridgeReceiveChecks(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()
	payload, err := utils.EncodeBridgePayload(bob, decimal.NewFromInt(5))
	require.NoError(t, err)

	valid := func() *models.BridgeEnvelope {
		return &models.BridgeEnvelope{
			SourceDomain:      1,
			DestinationDomain: 2,
			SenderAddress:     bridgeLocal,
			Router:            testRouter,
			MessageID:         "0x01",
			Nonce:             1,
			Payload:           hexutil.Encode(payload),
		}
	}

	cases := []struct {
		name   string
		mutate func(env *models.BridgeEnvelope)
		want   error
	}{
		{"wrong router", func(env *models.BridgeEnvelope) { env.Router = feeToken }, ErrInvalidRouter},
		{"untrusted sender", func(env *models.BridgeEnvelope) { env.SenderAddress = carol }, ErrUntrustedSource},
		{"unknown source", func(env *models.BridgeEnvelope) { env.SourceDomain = 9 }, ErrUntrustedSource},
		{"wrong destination", func(env *models.BridgeEnvelope) { env.DestinationDomain = 3 }, ErrChainNotSupported},
		{"bad payload", func(env *models.BridgeEnvelope) { env.Payload = "0xzz" }, ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := valid()
			tc.mutate(env)
			_, err := p.bridgeB.Receive(ctx, env)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.True(t, p.b.balance(t, bob).IsZero())

	msg, err := p.bridgeB.Receive(ctx, valid())
	require.NoError(t, err)
	assert.Equal(t, bob, msg.Recipient)
	assert.True(t, p.b.balance(t, bob).Equal(decimal.NewFromInt(5)))
}

func TestBridgeSendValidation(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()

	_, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(1000), models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = p.bridgeA.Send(ctx, alice, 5, bob, decimal.NewFromInt(1), models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrChainNotSupported)

	_, err = p.bridgeA.Send(ctx, alice, 2, bob, decimal.Zero, models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = p.bridgeA.Send(ctx, alice, 2, "0x0000000000000000000000000000000000000000", decimal.NewFromInt(1), models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrZeroAddress)

	_, err = p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(1), models.FeeCurrencyFeeToken)
	assert.ErrorIs(t, err, ErrZeroAddress)

	require.NoError(t, p.bridgeA.SetRoute(ctx, testOwner, 2, false))
	_, err = p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(1), models.FeeCurrencyNative)
	assert.ErrorIs(t, err, ErrRouteDisabled)

	assert.True(t, p.a.balance(t, alice).Equal(decimal.NewFromInt(100)))
	assert.Empty(t, p.transportA.delivered)
}

func TestBridgeFeeTokenCurrency(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.bridgeA.SetFeeToken(ctx, alice, feeToken), ErrUnauthorized)
	require.NoError(t, p.bridgeA.SetFeeToken(ctx, testOwner, feeToken))

	fee, err := p.bridgeA.CalculateFees(ctx, 2, bob, decimal.NewFromInt(1), models.FeeCurrencyFeeToken)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(2)))

	msg, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(1), models.FeeCurrencyFeeToken)
	require.NoError(t, err)
	assert.Equal(t, models.FeeCurrencyFeeToken, msg.FeeCurrency)
	assert.True(t, p.a.custody(t, models.FeeAccount, feeToken).Equal(decimal.NewFromInt(2)))
	assert.True(t, p.a.custody(t, models.FeeAccount, nativeCoin).IsZero())
}

func TestBridgeRelaysAfterTransportFailure(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()
	p.transportA.err = errors.New("nats down")

	msg, err := p.bridgeA.Send(ctx, alice, 2, bob, decimal.NewFromInt(25), models.FeeCurrencyNative)
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusPending, msg.Status)
	assert.True(t, p.a.balance(t, alice).Equal(decimal.NewFromInt(75)))
	assert.True(t, p.b.balance(t, bob).IsZero())

	p.transportA.err = nil
	relayed, err := p.bridgeA.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, relayed)
	assert.True(t, p.b.balance(t, bob).Equal(decimal.NewFromInt(25)))
	assert.True(t, p.supply(t).Equal(decimal.NewFromInt(100)))

	stored, err := p.bridgeA.Message(ctx, msg.MessageID)
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusRelayed, stored.Status)

	relayed, err = p.bridgeA.RelayPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, relayed)
}

func TestBridgeAdminRequiresOperator(t *testing.T) {
	p := newBridgePair(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.bridgeA.SetRoute(ctx, alice, 3, true), ErrUnauthorized)
	assert.ErrorIs(t, p.bridgeA.SetTrustedPeer(ctx, alice, 3, carol), ErrUnauthorized)
	assert.ErrorIs(t, p.bridgeA.SetRouter(ctx, alice, carol), ErrUnauthorized)
	assert.ErrorIs(t, p.bridgeA.SetRoute(ctx, testOwner, 1, true), ErrChainNotSupported)

	routes, err := p.bridgeA.Routes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, bridgePeer, routes[0].TrustedSender)
}
