package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"collateral-backend/internal/clients"
	"collateral-backend/internal/config"
	"collateral-backend/internal/db"
	"collateral-backend/internal/models"
	"collateral-backend/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testVault    = "0x1111111111111111111111111111111111111111"
	testOwner    = "0x5555555555555555555555555555555555555555"
	testOperator = "0x6666666666666666666666666666666666666666"
	alice        = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob          = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	carol        = "0xcccccccccccccccccccccccccccccccccccccccc"
	dai          = "0x6b175474e89094c44da98b954eedeac495271d0f"
	weth         = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	unpriced     = "0xdddddddddddddddddddddddddddddddddddddddd"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeOracle struct {
	mu         sync.Mutex
	fee        decimal.Decimal
	err        error
	dispatched []*clients.AssessmentRequest
}

func (f *fakeOracle) QuoteFee(ctx context.Context, engine models.Engine) (decimal.Decimal, error) {
	return f.fee, nil
}

func (f *fakeOracle) Dispatch(ctx context.Context, assessment *clients.AssessmentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, assessment)
	return f.err
}

func (f *fakeOracle) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type testEnv struct {
	db          *gorm.DB
	txm         *TxManager
	access      *AccessControl
	breaker     *CircuitBreaker
	ledger      *PositionLedger
	coordinator *RiskRequestCoordinator
	deposits    *DepositService
	scheduler   *EmergencyWithdrawalScheduler
	admin       *AdminService
	oracle      *fakeOracle
	clock       *testClock
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return conn
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn := newTestDB(t)
	clock := &testClock{now: testStart}

	txm := NewTxManager(conn, repository.NewRepositories(conn))
	txm.SetClock(clock.Now)

	prices, err := NewPriceService(map[string]string{dai: "1", weth: "2000"}, nil, nil)
	require.NoError(t, err)

	access := NewAccessControl(txm, []string{testOperator})
	breaker := NewCircuitBreaker(3, 10*time.Minute)
	breaker.SetClock(clock.Now)

	ledger := NewPositionLedger(txm, prices)
	ledger.SetClock(clock.Now)

	oracle := &fakeOracle{fee: decimal.Zero}
	coordinator := NewRiskRequestCoordinator(txm, ledger, oracle, breaker, access, CoordinatorConfig{
		TimeoutWindow:       time.Hour,
		OwnerManualDelay:    24 * time.Hour,
		MinRatio:            125,
		MaxRatio:            200,
		ConfidenceThreshold: 50,
		FixedFee:            decimal.Zero,
		FeeAsset:            "0x0000000000000000000000000000000000000000",
		DispatchTimeout:     time.Second,
	})
	coordinator.SetClock(clock.Now)

	scheduler := NewEmergencyWithdrawalScheduler(txm, ledger, SchedulerConfig{
		EmergencyDelay: 7 * 24 * time.Hour,
		MaxBatch:       10,
		DefaultEnabled: true,
	})
	scheduler.SetClock(clock.Now)

	admin := NewAdminService(txm, access, breaker, true)
	require.NoError(t, access.Bootstrap(ctx, testOwner))
	require.NoError(t, admin.Bootstrap(ctx, testVault))

	return &testEnv{
		db:          conn,
		txm:         txm,
		access:      access,
		breaker:     breaker,
		ledger:      ledger,
		coordinator: coordinator,
		deposits:    NewDepositService(txm, ledger, coordinator),
		scheduler:   scheduler,
		admin:       admin,
		oracle:      oracle,
		clock:       clock,
	}
}

func (e *testEnv) deposit(t *testing.T, owner string, amount int64, engine models.Engine) *DepositResult {
	t.Helper()
	res, err := e.deposits.DepositBasket(context.Background(), owner, []string{dai}, []decimal.Decimal{decimal.NewFromInt(amount)}, string(engine), decimal.Zero)
	require.NoError(t, err)
	return res
}

func (e *testEnv) position(t *testing.T, id uint64) *models.Position {
	t.Helper()
	p, err := e.ledger.GetPosition(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) balance(t *testing.T, address string) decimal.Decimal {
	t.Helper()
	b, err := e.txm.Repos().Tokens.BalanceOf(context.Background(), address)
	require.NoError(t, err)
	return b
}

func (e *testEnv) custody(t *testing.T, owner, asset string) decimal.Decimal {
	t.Helper()
	b, err := e.txm.Repos().Custody.Balance(context.Background(), testVault, owner, asset)
	require.NoError(t, err)
	return b
}
