package rewards

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/lmt/internal/types"
)

type fakeShares struct {
	share float64
	total float64
	err   error
}

func (f *fakeShares) TotalActiveLiquidity(minValueUSD float64) (float64, error) {
	return f.total, f.err
}

func (f *fakeShares) LiquidityShare(pos types.Position, minValueUSD float64) (float64, error) {
	return f.share, f.err
}

type memRecords struct {
	records map[types.PositionID]types.RewardRecord
	failOn  error
}

func (m *memRecords) GetRewardRecord(id types.PositionID) (*types.RewardRecord, bool, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (m *memRecords) UpsertRewardRecord(record types.RewardRecord) error {
	if m.failOn != nil {
		return m.failOn
	}
	if m.records == nil {
		m.records = make(map[types.PositionID]types.RewardRecord)
	}
	m.records[record.PositionID] = record
	return nil
}

type fakeParams struct {
	params types.TreasuryParameters
	err    error
}

func (f *fakeParams) ActiveParameters() (types.TreasuryParameters, error) {
	return f.params, f.err
}

func testParams() types.TreasuryParameters {
	return types.TreasuryParameters{
		Name:                "test",
		Version:             1,
		TotalAllocation:     450_000,
		ProgramDurationDays: 90,
		DailyBudget:         5000,
		LockPeriodDays:      7,
		MinPositionValueUSD: 10,
		TimeBoostCoeff:      0.6,
		FullRangeBonus:      1.2,
		DefaultInRangeRatio: 0.5,
	}
}

func newTestEngine(t *testing.T, shares ShareSource, params ParamsSource, now time.Time) (*Engine, *memRecords) {
	t.Helper()
	records := &memRecords{records: make(map[types.PositionID]types.RewardRecord)}
	e, err := New(Config{Shares: shares, Records: records, Params: params})
	require.NoError(t, err)
	e.now = func() time.Time { return now }
	return e, records
}

func fullRangePosition(id uint64, createdDaysAgo int, now time.Time) types.Position {
	return types.Position{
		ID:             types.PositionID(id),
		Owner:          "0xa",
		TickLower:      types.MinUsableTick,
		TickUpper:      types.MaxUsableTick,
		ValueUSD:       1000,
		Active:         true,
		RewardEligible: true,
		CreatedAt:      now.Add(-time.Duration(createdDaysAgo) * 24 * time.Hour),
	}
}

func TestDailyRewardWorkedExample(t *testing.T) {
	// share 0.01, 30 of 90 days, b_time 0.6, full range (IRM 1.0, FRB 1.2),
	// budget 5000: timeBoost = 1.2, reward = 0.01 * 1.2 * 1.0 * 1.2 * 5000 = 72.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)
	pos := fullRangePosition(1, 30, now)

	reward, err := e.DailyReward(pos, testParams())
	require.NoError(t, err)
	require.InDelta(t, 72.0, reward, 1e-9)
}

func TestDailyRewardMonotonicInShareAndAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	params := testParams()

	eLow, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: params}, now)
	eHigh, _ := newTestEngine(t, &fakeShares{share: 0.02}, &fakeParams{params: params}, now)

	young := fullRangePosition(1, 10, now)
	old := fullRangePosition(2, 60, now)

	lowYoung, err := eLow.DailyReward(young, params)
	require.NoError(t, err)
	highYoung, err := eHigh.DailyReward(young, params)
	require.NoError(t, err)
	require.Greater(t, highYoung, lowYoung)

	lowOld, err := eLow.DailyReward(old, params)
	require.NoError(t, err)
	require.Greater(t, lowOld, lowYoung)
}

func TestDailyRewardZeroShare(t *testing.T) {
	now := time.Now()
	e, _ := newTestEngine(t, &fakeShares{share: 0}, &fakeParams{params: testParams()}, now)

	reward, err := e.DailyReward(fullRangePosition(1, 30, now), testParams())
	require.NoError(t, err)
	require.Equal(t, 0.0, reward)
}

func TestTimeBoost(t *testing.T) {
	params := testParams()

	require.InDelta(t, 1.0, TimeBoost(0, params), 1e-12)
	require.InDelta(t, 1.2, TimeBoost(30, params), 1e-12)
	require.InDelta(t, 1.6, TimeBoost(90, params), 1e-12)
	// Capped at full duration.
	require.InDelta(t, 1.6, TimeBoost(400, params), 1e-12)

	// Degenerate parameters never produce a boost below 1.
	require.Equal(t, 1.0, TimeBoost(30, types.TreasuryParameters{}))
}

func TestInRangeMultiplier(t *testing.T) {
	now := time.Now()
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)

	full := fullRangePosition(1, 0, now)
	require.Equal(t, 1.0, e.InRangeMultiplier(full, testParams()))

	concentrated := types.Position{ID: 2, TickLower: -60, TickUpper: 60, Active: true, RewardEligible: true}

	// No sampling history: configured default.
	require.Equal(t, 0.5, e.InRangeMultiplier(concentrated, testParams()))

	// Three in-range samples out of four.
	e.RecordRangeSample(concentrated, 0)
	e.RecordRangeSample(concentrated, 30)
	e.RecordRangeSample(concentrated, 120) // out of range
	e.RecordRangeSample(concentrated, -30)
	require.InDelta(t, 0.75, e.InRangeMultiplier(concentrated, testParams()), 1e-12)
}

func TestInRangeMultiplierFullyOutOfRange(t *testing.T) {
	now := time.Now()
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)

	concentrated := types.Position{ID: 3, TickLower: -60, TickUpper: 60, Active: true, RewardEligible: true}
	e.RecordRangeSample(concentrated, 500)
	e.RecordRangeSample(concentrated, 600)

	require.Equal(t, 0.0, e.InRangeMultiplier(concentrated, testParams()))
}

func TestRecalculateCatchUpAndIdempotence(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)
	pos := fullRangePosition(1, 3, now)

	daily, err := e.DailyReward(pos, testParams())
	require.NoError(t, err)

	record, err := e.Recalculate(pos)
	require.NoError(t, err)
	require.InDelta(t, daily*3, record.AccumulatedReward, 1e-9)
	require.Equal(t, pos.CreatedAt.Add(3*24*time.Hour), record.LastCalculated)

	// Re-running with the same inputs must not accrue anything further.
	again, err := e.Recalculate(pos)
	require.NoError(t, err)
	require.Equal(t, record.AccumulatedReward, again.AccumulatedReward)
	require.Equal(t, record.LastCalculated, again.LastCalculated)
}

func TestRecalculateAccumulatesDayByDay(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	current := start
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, current)
	e.now = func() time.Time { return current }

	pos := types.Position{
		ID:             1,
		Owner:          "0xa",
		TickLower:      types.MinUsableTick,
		TickUpper:      types.MaxUsableTick,
		ValueUSD:       1000,
		Active:         true,
		RewardEligible: true,
		CreatedAt:      start,
	}

	var previous float64
	for day := 1; day <= 5; day++ {
		current = start.Add(time.Duration(day) * 24 * time.Hour)
		record, err := e.Recalculate(pos)
		require.NoError(t, err)
		require.GreaterOrEqual(t, record.AccumulatedReward, previous, "accrual must be non-decreasing")
		previous = record.AccumulatedReward
	}
	require.Greater(t, previous, 0.0)
}

func TestRecalculateFreezesInactivePositions(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e, records := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)

	pos := fullRangePosition(1, 5, now)
	_, err := e.Recalculate(pos)
	require.NoError(t, err)
	frozen := records.records[pos.ID].AccumulatedReward

	pos.Active = false
	e.now = func() time.Time { return now.Add(10 * 24 * time.Hour) }
	record, err := e.Recalculate(pos)
	require.NoError(t, err)
	require.Equal(t, frozen, record.AccumulatedReward)
}

func TestClaimEligibility(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)

	record, err := e.Recalculate(fullRangePosition(1, 6, now))
	require.NoError(t, err)
	require.False(t, record.ClaimEligible)

	record, err = e.Recalculate(fullRangePosition(2, 7, now))
	require.NoError(t, err)
	require.True(t, record.ClaimEligible)
}

func TestStatusCountdown(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, &fakeShares{share: 0.01}, &fakeParams{params: testParams()}, now)

	status, err := e.Status(fullRangePosition(1, 4, now))
	require.NoError(t, err)
	require.False(t, status.ClaimEligible)
	require.Equal(t, 3, status.DaysUntilClaim)

	status, err = e.Status(fullRangePosition(2, 30, now))
	require.NoError(t, err)
	require.True(t, status.ClaimEligible)
	require.Equal(t, 0, status.DaysUntilClaim)
}

func TestParameterFallbackOnStoreFailure(t *testing.T) {
	now := time.Now()
	e, _ := newTestEngine(t, &fakeShares{share: 0.01},
		&fakeParams{err: errors.New("admin store down")}, now)

	params := e.ActiveParameters()
	require.Equal(t, "default", params.Name)

	// Reward computation stays defined on the fallback set.
	reward, err := e.DailyReward(fullRangePosition(1, 0, now), params)
	require.NoError(t, err)
	require.Greater(t, reward, 0.0)
}

func TestShareSourceErrorPropagates(t *testing.T) {
	now := time.Now()
	boom := errors.New("aggregate unavailable")
	e, _ := newTestEngine(t, &fakeShares{err: boom}, &fakeParams{params: testParams()}, now)

	_, err := e.DailyReward(fullRangePosition(1, 0, now), testParams())
	require.ErrorIs(t, err, boom)
}
