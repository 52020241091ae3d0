package treasury

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/lmt/internal/analytics"
	"github.com/veridian-labs/lmt/internal/rewards"
	"github.com/veridian-labs/lmt/internal/types"
)

type fakeLedger struct {
	mu        sync.Mutex
	positions []types.Position
	err       error
}

func (f *fakeLedger) ActivePositions() ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

type fakeReader struct {
	mu    sync.Mutex
	tick  int
	err   error
	calls int
}

func (f *fakeReader) PoolState(_ context.Context, pool string, tickLower, tickUpper int) (types.PoolState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return types.PoolState{}, f.err
	}
	return types.PoolState{
		Pool:        pool,
		CurrentTick: f.tick,
		Lower:       types.TickInfo{Tick: tickLower},
		Upper:       types.TickInfo{Tick: tickUpper},
		ObservedAt:  time.Now(),
	}, nil
}

type memRecords struct {
	mu      sync.Mutex
	records map[types.PositionID]types.RewardRecord
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[types.PositionID]types.RewardRecord)}
}

func (m *memRecords) GetRewardRecord(id types.PositionID) (*types.RewardRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (m *memRecords) UpsertRewardRecord(record types.RewardRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.PositionID] = record
	return nil
}

type fixedParams struct {
	params types.TreasuryParameters
}

func (f fixedParams) ActiveParameters() (types.TreasuryParameters, error) {
	return f.params, nil
}

func testPositions(n int) []types.Position {
	positions := make([]types.Position, 0, n)
	for i := 0; i < n; i++ {
		positions = append(positions, types.Position{
			ID:             types.PositionID(i + 1),
			Owner:          fmt.Sprintf("owner-%d", i+1),
			Pool:           "0xpool",
			TickLower:      types.MinUsableTick,
			TickUpper:      types.MaxUsableTick,
			Liquidity:      uint256.NewInt(1_000_000),
			ValueUSD:       1000,
			Active:         true,
			RewardEligible: true,
			CreatedAt:      time.Now().AddDate(0, 0, -30),
		})
	}
	return positions
}

func newTestTreasury(t *testing.T, ledger *fakeLedger, reader *fakeReader) (*Treasury, *memRecords, *[]types.RecalculationRun) {
	t.Helper()

	records := newMemRecords()
	params := types.TreasuryParameters{
		Name:                "default",
		Version:             3,
		IsActive:            true,
		TotalAllocation:     450_000,
		ProgramDurationDays: 90,
		DailyBudget:         5000,
		LockPeriodDays:      7,
		MinPositionValueUSD: 10,
		TimeBoostCoeff:      0.6,
		FullRangeBonus:      1.2,
		DefaultInRangeRatio: 0.5,
	}

	shares, err := analytics.New(ledger, nil)
	require.NoError(t, err)

	engine, err := rewards.New(rewards.Config{
		Shares:  shares,
		Records: records,
		Params:  fixedParams{params: params},
	})
	require.NoError(t, err)

	var (
		runMu sync.Mutex
		runs  []types.RecalculationRun
	)
	cycle := 0

	tr, err := New(Config{
		Engine:    engine,
		Analytics: shares,
		Ledger:    ledger,
		Reader:    reader,
		NextCycle: func() (int, error) {
			cycle++
			return cycle, nil
		},
		SaveRun: func(run types.RecalculationRun) error {
			runMu.Lock()
			defer runMu.Unlock()
			runs = append(runs, run)
			return nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(tr.Stop)

	return tr, records, &runs
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Ledger: &fakeLedger{}, Reader: &fakeReader{}})
	assert.Error(t, err)
}

func TestRunCycleProcessesAllPositions(t *testing.T) {
	ledger := &fakeLedger{positions: testPositions(5)}
	reader := &fakeReader{tick: 0}
	tr, records, runs := newTestTreasury(t, ledger, reader)

	tr.RunCycle(context.Background())

	require.Len(t, *runs, 1)
	run := (*runs)[0]
	assert.Equal(t, int64(1), run.CycleNumber)
	assert.Equal(t, 5, run.PositionsProcessed)
	assert.Equal(t, 0, run.PositionsFailed)
	assert.Equal(t, 3, run.ParameterVersion)
	assert.NotEmpty(t, run.RunID)
	assert.InDelta(t, 5000.0, run.TotalActiveLiquidity, 1e-9)

	// Equal positions split the budget equally: each carries a fifth of
	// the boosted daily reward.
	records.mu.Lock()
	defer records.mu.Unlock()
	require.Len(t, records.records, 5)
	for _, rec := range records.records {
		assert.Greater(t, rec.DailyReward, 0.0)
	}
	assert.InDelta(t, run.TotalDailyReward, 5*records.records[1].DailyReward, 1e-9)
}

func TestRunCycleEmptyLedgerStillWritesAuditRow(t *testing.T) {
	ledger := &fakeLedger{}
	reader := &fakeReader{}
	tr, _, runs := newTestTreasury(t, ledger, reader)

	tr.RunCycle(context.Background())

	require.Len(t, *runs, 1)
	assert.Equal(t, 0, (*runs)[0].PositionsProcessed)
	assert.Equal(t, 0, reader.calls)
}

func TestRunCycleSurvivesUnavailablePoolState(t *testing.T) {
	ledger := &fakeLedger{positions: testPositions(3)}
	reader := &fakeReader{err: fmt.Errorf("rpc down")}
	tr, _, runs := newTestTreasury(t, ledger, reader)

	tr.RunCycle(context.Background())

	// Sampling fails but the recalculation still completes.
	require.Len(t, *runs, 1)
	assert.Equal(t, 3, (*runs)[0].PositionsProcessed)
	assert.Equal(t, 3, reader.calls)
}

func TestRunCycleAbortsOnLedgerError(t *testing.T) {
	ledger := &fakeLedger{err: fmt.Errorf("db down")}
	reader := &fakeReader{}
	tr, _, runs := newTestTreasury(t, ledger, reader)

	tr.RunCycle(context.Background())

	assert.Empty(t, *runs)
}

func TestRunCycleIncrementsCycleNumber(t *testing.T) {
	ledger := &fakeLedger{positions: testPositions(1)}
	reader := &fakeReader{}
	tr, _, runs := newTestTreasury(t, ledger, reader)

	tr.RunCycle(context.Background())
	tr.RunCycle(context.Background())

	require.Len(t, *runs, 2)
	assert.Equal(t, int64(1), (*runs)[0].CycleNumber)
	assert.Equal(t, int64(2), (*runs)[1].CycleNumber)
}

func TestStartSchedulerRejectsBadSpec(t *testing.T) {
	ledger := &fakeLedger{}
	reader := &fakeReader{}
	tr, _, _ := newTestTreasury(t, ledger, reader)

	err := tr.StartScheduler(context.Background(), "not a cron spec")
	assert.Error(t, err)
}
