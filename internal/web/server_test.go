package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/lmt/internal/chainreader"
	"github.com/veridian-labs/lmt/internal/config"
	"github.com/veridian-labs/lmt/internal/state"
	"github.com/veridian-labs/lmt/internal/types"
)

type stubReader struct {
	state types.PoolState
	err   error
}

func (s stubReader) PoolState(context.Context, string, int, int) (types.PoolState, error) {
	return s.state, s.err
}

type stubRewards struct {
	status types.RewardStatus
	err    error
	params types.TreasuryParameters
}

func (s stubRewards) Status(types.Position) (types.RewardStatus, error) {
	return s.status, s.err
}

func (s stubRewards) ActiveParameters() types.TreasuryParameters {
	return s.params
}

type stubProgram struct {
	report types.ProgramAnalytics
	stats  types.PoolStats
	err    error
}

func (s stubProgram) ProgramAnalytics(types.TreasuryParameters, float64) (types.ProgramAnalytics, error) {
	return s.report, s.err
}

func (s stubProgram) PoolStats(pool string, currentTick int, minValueUSD float64) (types.PoolStats, error) {
	if s.err != nil {
		return types.PoolStats{}, s.err
	}
	stats := s.stats
	stats.Pool = pool
	stats.CurrentTick = currentTick
	return stats, nil
}

type stubPrices struct {
	prices map[string]float64
}

func (s stubPrices) CurrentPrice(symbol string) float64 {
	return s.prices[symbol]
}

func testPosition() *types.Position {
	return &types.Position{
		ID:                   7,
		Owner:                "0xowner",
		Pool:                 "0xpool",
		TickLower:            types.MinUsableTick,
		TickUpper:            types.MaxUsableTick,
		Liquidity:            uint256.NewInt(5_000_000),
		FeeGrowthInsideLast0: uint256.NewInt(0),
		FeeGrowthInsideLast1: uint256.NewInt(0),
		TokensOwed0:          uint256.NewInt(0),
		TokensOwed1:          uint256.NewInt(0),
		ValueUSD:             1000,
		Active:               true,
		RewardEligible:       true,
		CreatedAt:            time.Now().AddDate(0, 0, -30),
	}
}

func poolSnapshot() types.PoolState {
	growth0 := new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	return types.PoolState{
		Pool:                 "0xpool",
		CurrentTick:          0,
		FeeGrowthGlobal0X128: growth0,
		FeeGrowthGlobal1X128: uint256.NewInt(0),
		Lower:                types.TickInfo{Tick: types.MinUsableTick, FeeGrowthOutside0X128: uint256.NewInt(0), FeeGrowthOutside1X128: uint256.NewInt(0)},
		Upper:                types.TickInfo{Tick: types.MaxUsableTick, FeeGrowthOutside0X128: uint256.NewInt(0), FeeGrowthOutside1X128: uint256.NewInt(0)},
		ObservedAt:           time.Now(),
	}
}

func newTestServer(t *testing.T, h *Handlers) *WebServer {
	t.Helper()
	ws, err := NewWebServer("0", h)
	require.NoError(t, err)
	return ws
}

func newTestHandlers(t *testing.T, reader PoolStateReader, rewards RewardReporter, program ProgramReporter, prices PriceSource, pos *types.Position) *Handlers {
	t.Helper()
	h, err := NewHandlers(reader, rewards, program, prices)
	require.NoError(t, err)
	h.getPosition = func(id types.PositionID) (*types.Position, error) {
		if pos == nil || id != pos.ID {
			return nil, fmt.Errorf("position %d: %w", id, state.ErrNotFound)
		}
		return pos, nil
	}
	h.recentRuns = func(int) ([]types.RecalculationRun, error) {
		return []types.RecalculationRun{{RunID: "run-1", CycleNumber: 12, StartedAt: time.Now()}}, nil
	}
	h.programSummary = func() (*state.ProgramSummary, error) {
		return &state.ProgramSummary{ParticipantCount: 3}, nil
	}
	h.pingDB = func() error { return nil }
	h.upsertPosition = func(types.Position) error { return nil }
	h.updateValue = func(types.PositionID, float64) error { return nil }
	h.updateCheckpoints = func(types.PositionID, *uint256.Int, *uint256.Int, *uint256.Int, *uint256.Int) error { return nil }
	h.deactivate = func(types.PositionID) error { return nil }
	return h
}

func doGet(t *testing.T, ws *WebServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ws.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetPositionFees(t *testing.T) {
	pos := testPosition()
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/7/fees")
	require.Equal(t, http.StatusOK, rec.Code)

	var fees types.UnclaimedFees
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fees))
	assert.Equal(t, types.PositionID(7), fees.PositionID)
	// 5,000,000 liquidity at 4x Q128 growth owes 20,000,000 raw units.
	assert.Equal(t, "20000000", fees.Amount0.Dec())
	assert.Nil(t, fees.ValueUSD)
}

func TestGetPositionFeesUSD(t *testing.T) {
	cleanup := setPairConfig("USDC", 6, "WETH", 18)
	defer cleanup()

	pos := testPosition()
	prices := stubPrices{prices: map[string]float64{"USDC": 1.0, "WETH": 2000}}
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{}, stubProgram{}, prices, pos)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/7/fees?usd=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var fees types.UnclaimedFees
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fees))
	require.NotNil(t, fees.ValueUSD)
	// 20,000,000 raw units of a 6-decimal token at $1.
	assert.InDelta(t, 20.0, *fees.ValueUSD, 1e-9)
}

func TestGetPositionFeesNotFound(t *testing.T) {
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/99/fees")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPositionFeesBadID(t *testing.T) {
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/not-a-number/fees")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPositionFeesChainUnavailable(t *testing.T) {
	pos := testPosition()
	reader := stubReader{err: fmt.Errorf("all endpoints failed: %w", chainreader.ErrDataUnavailable)}
	h := newTestHandlers(t, reader, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/7/fees")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetPositionReward(t *testing.T) {
	pos := testPosition()
	status := types.RewardStatus{PositionID: 7, DailyReward: 72, AccumulatedReward: 2160, ClaimEligible: true}
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{status: status}, stubProgram{}, stubPrices{}, pos)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/positions/7/reward")
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.RewardStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 72.0, got.DailyReward)
	assert.True(t, got.ClaimEligible)
}

func TestGetProgramAnalytics(t *testing.T) {
	report := types.ProgramAnalytics{TotalActiveLiquidityUSD: 500_000, ParticipantCount: 42, DailyBudget: 5000}
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{report: report}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/program/analytics")
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.ProgramAnalytics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 42, got.ParticipantCount)
}

func TestGetTreasuryParameters(t *testing.T) {
	params := config.DefaultTreasuryParameters()
	h := newTestHandlers(t, stubReader{}, stubRewards{params: params}, stubProgram{}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/treasury/parameters")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lock_period_days")
}

func TestGetRecentRunsRespectsLimit(t *testing.T) {
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	var gotLimit int
	h.recentRuns = func(limit int) ([]types.RecalculationRun, error) {
		gotLimit = limit
		return nil, nil
	}
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gotLimit)

	// Out-of-range limits fall back to the default.
	doGet(t, ws, "/api/runs?limit=9999")
	assert.Equal(t, 20, gotLimit)
}

func TestHealthReportsStaleCycles(t *testing.T) {
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	h.recentRuns = func(int) ([]types.RecalculationRun, error) {
		return []types.RecalculationRun{{RunID: "old", StartedAt: time.Now().Add(-72 * time.Hour)}}, nil
	}
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "DEGRADED")
	assert.Contains(t, rec.Body.String(), "stale")
}

func TestHealthOK(t *testing.T) {
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "\"status\":\"OK\"")
}

func setPairConfig(sym0 string, dec0 uint8, sym1 string, dec1 uint8) func() {
	prev0, prevD0 := config.Token0Symbol, config.Token0Decimals
	prev1, prevD1 := config.Token1Symbol, config.Token1Decimals
	config.Token0Symbol, config.Token0Decimals = sym0, dec0
	config.Token1Symbol, config.Token1Decimals = sym1, dec1
	return func() {
		config.Token0Symbol, config.Token0Decimals = prev0, prevD0
		config.Token1Symbol, config.Token1Decimals = prev1, prevD1
	}
}

func doJSON(t *testing.T, ws *WebServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ws.Router().ServeHTTP(rec, req)
	return rec
}

func TestRegisterPosition(t *testing.T) {
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	var stored types.Position
	h.upsertPosition = func(pos types.Position) error {
		stored = pos
		return nil
	}
	ws := newTestServer(t, h)

	body := `{
		"id": 42,
		"owner": "0xowner",
		"pool": "0xpool",
		"tick_lower": -887220,
		"tick_upper": 887220,
		"liquidity": "0x4c4b40",
		"value_usd": 1500,
		"active": true,
		"reward_eligible": true
	}`
	rec := doJSON(t, ws, http.MethodPost, "/api/positions", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, types.PositionID(42), stored.ID)
	assert.Equal(t, "0xowner", stored.Owner)
	assert.Equal(t, "5000000", stored.Liquidity.Dec())
	assert.Equal(t, 1500.0, stored.ValueUSD)
}

func TestRegisterPositionRejectsInvalid(t *testing.T) {
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, nil)
	called := false
	h.upsertPosition = func(types.Position) error {
		called = true
		return nil
	}
	ws := newTestServer(t, h)

	cases := []string{
		`not json`,
		`{"id": 0, "owner": "a", "pool": "b", "tick_lower": -10, "tick_upper": 10, "liquidity": "0x1"}`,
		`{"id": 1, "owner": "", "pool": "b", "tick_lower": -10, "tick_upper": 10, "liquidity": "0x1"}`,
		`{"id": 1, "owner": "a", "pool": "b", "tick_lower": 10, "tick_upper": 10, "liquidity": "0x1"}`,
		`{"id": 1, "owner": "a", "pool": "b", "tick_lower": -900000, "tick_upper": 10, "liquidity": "0x1"}`,
		`{"id": 1, "owner": "a", "pool": "b", "tick_lower": -10, "tick_upper": 10}`,
		`{"id": 1, "owner": "a", "pool": "b", "tick_lower": -10, "tick_upper": 10, "liquidity": "0x1", "value_usd": -5}`,
	}
	for _, body := range cases {
		rec := doJSON(t, ws, http.MethodPost, "/api/positions", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "payload: %s", body)
	}
	assert.False(t, called)
}

func TestUpdatePositionValue(t *testing.T) {
	pos := testPosition()
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	var gotID types.PositionID
	var gotValue float64
	h.updateValue = func(id types.PositionID, v float64) error {
		gotID, gotValue = id, v
		return nil
	}
	ws := newTestServer(t, h)

	rec := doJSON(t, ws, http.MethodPut, "/api/positions/7/value", `{"value_usd": 2500.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.PositionID(7), gotID)
	assert.Equal(t, 2500.5, gotValue)

	rec = doJSON(t, ws, http.MethodPut, "/api/positions/7/value", `{"value_usd": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, ws, http.MethodPut, "/api/positions/99/value", `{"value_usd": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckpointPosition(t *testing.T) {
	pos := testPosition()
	h := newTestHandlers(t, stubReader{state: poolSnapshot()}, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	var gotInside0, gotOwed0 *uint256.Int
	h.updateCheckpoints = func(id types.PositionID, inside0, inside1, owed0, owed1 *uint256.Int) error {
		require.Equal(t, types.PositionID(7), id)
		gotInside0, gotOwed0 = inside0, owed0
		return nil
	}
	ws := newTestServer(t, h)

	rec := doJSON(t, ws, http.MethodPost, "/api/positions/7/checkpoint", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Checkpoint advances to the current inside accumulator (4 << 128) and
	// the earned delta lands in tokensOwed.
	expectedInside := new(uint256.Int).Lsh(uint256.NewInt(1), 130)
	require.NotNil(t, gotInside0)
	assert.True(t, gotInside0.Eq(expectedInside))
	require.NotNil(t, gotOwed0)
	assert.Equal(t, "20000000", gotOwed0.Dec())

	var fees types.UnclaimedFees
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fees))
	assert.Equal(t, "20000000", fees.Amount0.Dec())
}

func TestCheckpointPositionChainUnavailable(t *testing.T) {
	pos := testPosition()
	reader := stubReader{err: fmt.Errorf("all endpoints failed: %w", chainreader.ErrDataUnavailable)}
	h := newTestHandlers(t, reader, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	called := false
	h.updateCheckpoints = func(types.PositionID, *uint256.Int, *uint256.Int, *uint256.Int, *uint256.Int) error {
		called = true
		return nil
	}
	ws := newTestServer(t, h)

	rec := doJSON(t, ws, http.MethodPost, "/api/positions/7/checkpoint", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, called)
}

func TestDeactivatePosition(t *testing.T) {
	pos := testPosition()
	h := newTestHandlers(t, stubReader{}, stubRewards{}, stubProgram{}, stubPrices{}, pos)
	var gotID types.PositionID
	h.deactivate = func(id types.PositionID) error {
		gotID = id
		return nil
	}
	ws := newTestServer(t, h)

	req := httptest.NewRequest(http.MethodDelete, "/api/positions/7", nil)
	rec := httptest.NewRecorder()
	ws.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, types.PositionID(7), gotID)

	req = httptest.NewRequest(http.MethodDelete, "/api/positions/99", nil)
	rec = httptest.NewRecorder()
	ws.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPoolStats(t *testing.T) {
	stats := types.PoolStats{TotalLiquidityUSD: 500_000, ParticipantCount: 42}
	snapshot := poolSnapshot()
	snapshot.CurrentTick = 12345
	h := newTestHandlers(t, stubReader{state: snapshot}, stubRewards{}, stubProgram{stats: stats}, stubPrices{}, nil)
	ws := newTestServer(t, h)

	rec := doGet(t, ws, "/api/pool/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.PoolStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12345, got.CurrentTick)
	assert.Equal(t, 42, got.ParticipantCount)
	assert.InDelta(t, 500_000.0, got.TotalLiquidityUSD, 1e-9)
}
