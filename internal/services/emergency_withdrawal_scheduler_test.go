package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emergencyDelay = 7 * 24 * time.Hour

func testUser(i int) string {
	return fmt.Sprintf("0x%040x", 0x1000+i)
}

func TestOptInIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	require.NoError(t, env.scheduler.OptOut(ctx, alice))
	require.NoError(t, env.scheduler.OptIn(ctx, alice))

	count, err := env.txm.Repos().Automation.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	in, err := env.scheduler.IsOptedIn(ctx, alice)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = env.scheduler.IsOptedIn(ctx, bob)
	require.NoError(t, err)
	assert.False(t, in)
}

func TestEmergencyWithdrawalReleasesCollateral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)

	report, err := env.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.True(t, env.custody(t, alice, dai).Equal(decimal.NewFromInt(100)))

	env.clock.Advance(emergencyDelay)

	scan, err := env.scheduler.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, scan.Entries, 1)
	assert.Equal(t, ScanEntry{User: alice, PositionID: res.Position.ID}, scan.Entries[0])

	report, err = env.scheduler.Apply(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, report.Failures)

	p := env.position(t, res.Position.ID)
	assert.NotNil(t, p.WithdrawnAt)
	assert.False(t, p.HasPendingRequest)
	assert.True(t, p.MintedAmount.IsZero())
	assert.True(t, env.custody(t, alice, dai).IsZero())
	assert.True(t, env.balance(t, alice).IsZero())

	// a late oracle answer cannot mint against the emptied position
	_, err = env.coordinator.OnCallback(ctx, res.Request.ID, "RATIO:150 CONFIDENCE:90 SOURCE:ALGORITHMIC")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
	assert.True(t, env.balance(t, alice).IsZero())
	req, err := env.coordinator.GetRequest(ctx, res.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAbandoned, req.Outcome)
	assert.True(t, req.Processed)
}

func TestApplyRevalidatesEntries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)
	young := env.deposit(t, bob, 100, models.EngineTestTimeout)
	env.clock.Advance(emergencyDelay)

	scan := &ScanResult{Entries: []ScanEntry{
		{User: alice, PositionID: res.Position.ID},
		{User: alice, PositionID: res.Position.ID},
		{User: bob, PositionID: young.Position.ID},
		{User: alice, PositionID: young.Position.ID},
		{User: alice, PositionID: 999},
	}}
	report, err := env.scheduler.Apply(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Attempted)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failures, 4)
	assert.Equal(t, KindLifecycle, report.Failures[0].Kind)
	assert.Equal(t, KindLifecycle, report.Failures[1].Kind)
	assert.Equal(t, KindAuthorization, report.Failures[2].Kind)
	assert.Equal(t, KindNotFound, report.Failures[3].Kind)

	assert.Nil(t, env.position(t, young.Position.ID).WithdrawnAt)
}

func TestOptedOutUserIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	res := env.deposit(t, alice, 100, models.EngineTestTimeout)
	require.NoError(t, env.scheduler.OptOut(ctx, alice))
	env.clock.Advance(emergencyDelay)

	report, err := env.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Nil(t, env.position(t, res.Position.ID).WithdrawnAt)
}

func TestAutomationDisabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, env.admin.SetAutomationEnabled(ctx, alice, false), ErrUnauthorized)
	require.NoError(t, env.admin.SetAutomationEnabled(ctx, testOwner, false))

	_, err := env.scheduler.Scan(ctx)
	assert.ErrorIs(t, err, ErrAutomationDisabled)
	_, err = env.scheduler.Apply(ctx, &ScanResult{})
	assert.ErrorIs(t, err, ErrAutomationDisabled)
}

func TestEveryUserCoveredWithinBoundedCycles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const users = 25
	positions := make([]uint64, users)
	for i := 0; i < users; i++ {
		u := testUser(i)
		require.NoError(t, env.scheduler.OptIn(ctx, u))
		positions[i] = env.deposit(t, u, 10, models.EngineTestTimeout).Position.ID
	}
	env.clock.Advance(emergencyDelay)

	// ceil(25 / 10) cycles; the last one laps the emptied users and falls back to +1
	cursors := []uint64{10, 20, 21}
	for cycle := 0; cycle < 3; cycle++ {
		report, err := env.scheduler.RunCycle(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, report.Attempted, 10)
		assert.Equal(t, cursors[cycle], report.Cursor, "cycle %d", cycle)
		assert.Less(t, report.Cursor, uint64(users))
	}
	for i, id := range positions {
		assert.NotNil(t, env.position(t, id).WithdrawnAt, "user %d not reached", i)
	}
}

func TestOversizedUserDoesNotStallCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.scheduler.OptIn(ctx, alice))
	require.NoError(t, env.scheduler.OptIn(ctx, bob))
	for i := 0; i < 15; i++ {
		env.deposit(t, alice, 1, models.EngineTestTimeout)
	}
	bobPosition := env.deposit(t, bob, 1, models.EngineTestTimeout)
	env.clock.Advance(emergencyDelay)

	first, err := env.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Succeeded)
	assert.Equal(t, uint64(1), first.Cursor)

	second, err := env.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, second.Succeeded)
	assert.NotNil(t, env.position(t, bobPosition.Position.ID).WithdrawnAt)

	pending, err := env.txm.Repos().Positions.FindPendingByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCursorAdvancesByOneWithNothingToDo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const users = 3
	for i := 0; i < users; i++ {
		u := testUser(i)
		require.NoError(t, env.scheduler.OptIn(ctx, u))
		require.NoError(t, env.scheduler.OptOut(ctx, u))
	}

	for cycle := 0; cycle < 2*users; cycle++ {
		report, err := env.scheduler.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Attempted)
		assert.Equal(t, (report.PreviousCursor+1)%users, report.Cursor, "cycle %d", cycle)
	}

	// opted in but nothing eligible yet: a full lap still moves by one
	require.NoError(t, env.scheduler.OptIn(ctx, testUser(0)))
	env.deposit(t, testUser(0), 10, models.EngineTestTimeout)
	report, err := env.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, (report.PreviousCursor+1)%users, report.Cursor)
}

func TestApplyIgnoresCallerCursor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const users = 25
	for i := 0; i < users; i++ {
		u := testUser(i)
		require.NoError(t, env.scheduler.OptIn(ctx, u))
		env.deposit(t, u, 10, models.EngineTestTimeout)
	}
	env.clock.Advance(emergencyDelay)

	scan, err := env.scheduler.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, scan.Entries, 10)
	scan.NextCursor = 20

	report, err := env.scheduler.Apply(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Succeeded)
	assert.Equal(t, uint64(10), report.Cursor)

	// a forged trigger with no entries cannot jump past users still waiting
	report, err = env.scheduler.Apply(ctx, &ScanResult{NextCursor: 24})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Attempted)
	assert.Equal(t, uint64(11), report.Cursor)

	// a trigger covering only part of the scanned users advances past that part only
	scan, err = env.scheduler.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, scan.Entries, 10)
	scan.Entries = scan.Entries[:4]
	scan.NextCursor = 0
	report, err = env.scheduler.Apply(ctx, scan)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, uint64(15), report.Cursor)
}

func TestTriggerPayloadRoundTrip(t *testing.T) {
	scan := &ScanResult{
		Entries:    []ScanEntry{{User: alice, PositionID: 3}, {User: bob, PositionID: 9}},
		NextCursor: 2,
	}
	back, err := ScanFromPayload(scan.Payload())
	require.NoError(t, err)
	assert.Equal(t, scan.Entries, back.Entries)
	assert.Equal(t, scan.NextCursor, back.NextCursor)

	_, err = ScanFromPayload(TriggerPayload{EligibleUsers: []string{alice}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
