/*

This file contains the reward engine: proportional distribution of the daily
budget across qualifying positions, with a time boost, an in-range
multiplier and a full-range bonus. All formula-level arithmetic clamps
locally; a position can never accrue a negative reward and a calculation
never fails because of a missing parameter set.

Recalculation is idempotent catch-up: accrual advances by whole elapsed days
since the record's last-calculated timestamp, so re-running a cycle, or
running one late, never double-counts a day.

*/

package rewards

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/veridian-labs/lmt/internal/config"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/types"
)

var engineLogger = logger.GetForComponent("reward_engine")

// rangeSampleWindow caps the rolling in-range history per position at the
// most recent 48 observations; older samples fall out of the ratio.
const rangeSampleWindow = 48

// ShareSource provides liquidity shares against the live aggregate.
type ShareSource interface {
	TotalActiveLiquidity(minValueUSD float64) (float64, error)
	LiquidityShare(pos types.Position, minValueUSD float64) (float64, error)
}

// RecordStore persists per-position accrual records.
type RecordStore interface {
	GetRewardRecord(id types.PositionID) (*types.RewardRecord, bool, error)
	UpsertRewardRecord(record types.RewardRecord) error
}

// ParamsSource yields the active treasury parameter set.
type ParamsSource interface {
	ActiveParameters() (types.TreasuryParameters, error)
}

// Config bundles the engine dependencies.
type Config struct {
	Shares  ShareSource
	Records RecordStore
	Params  ParamsSource
}

// Engine computes and persists daily rewards.
type Engine struct {
	shares  ShareSource
	records RecordStore
	params  ParamsSource

	mu      sync.Mutex
	locks   map[types.PositionID]*sync.Mutex
	samples map[types.PositionID][]bool

	now func() time.Time
}

// New validates the configuration and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Shares == nil {
		return nil, errors.New("reward engine requires a share source")
	}
	if cfg.Records == nil {
		return nil, errors.New("reward engine requires a record store")
	}
	if cfg.Params == nil {
		return nil, errors.New("reward engine requires a parameter source")
	}
	return &Engine{
		shares:  cfg.Shares,
		records: cfg.Records,
		params:  cfg.Params,
		locks:   make(map[types.PositionID]*sync.Mutex),
		samples: make(map[types.PositionID][]bool),
		now:     time.Now,
	}, nil
}

// ActiveParameters resolves the current parameter set, falling back to the
// built-in defaults when the store has nothing usable. Reward computation
// must stay defined even with a broken admin store.
func (e *Engine) ActiveParameters() types.TreasuryParameters {
	params, err := e.params.ActiveParameters()
	if err != nil {
		engineLogger.Warn().
			Err(err).
			Msg("Falling back to default treasury parameters")
		return config.DefaultTreasuryParameters()
	}
	return params
}

// RecordRangeSample appends one in-range observation for a position. Called
// once per cycle by the treasury so the in-range multiplier tracks how often
// a concentrated range actually held the pool price.
func (e *Engine) RecordRangeSample(pos types.Position, currentTick int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := append(e.samples[pos.ID], pos.InRange(currentTick))
	if len(window) > rangeSampleWindow {
		window = window[len(window)-rangeSampleWindow:]
	}
	e.samples[pos.ID] = window
}

// InRangeMultiplier returns 1.0 for full-range positions. Concentrated
// positions get the observed fraction of sampling intervals in range, or the
// configured default when no history exists yet.
func (e *Engine) InRangeMultiplier(pos types.Position, params types.TreasuryParameters) float64 {
	if pos.FullRange() {
		return 1.0
	}

	e.mu.Lock()
	window := e.samples[pos.ID]
	e.mu.Unlock()

	if len(window) == 0 {
		return clamp01(params.DefaultInRangeRatio)
	}
	inRange := 0
	for _, in := range window {
		if in {
			inRange++
		}
	}
	return float64(inRange) / float64(len(window))
}

// TimeBoost scales rewards up with position age: 1 at day zero, rising
// linearly to 1 + b_time at full program duration, capped there.
func TimeBoost(daysActive int, params types.TreasuryParameters) float64 {
	if params.ProgramDurationDays <= 0 || params.TimeBoostCoeff <= 0 {
		return 1.0
	}
	progress := float64(daysActive) / float64(params.ProgramDurationDays)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}
	return 1 + progress*params.TimeBoostCoeff
}

// DailyReward computes one day's accrual for a position under the given
// parameters. A position holding no qualifying share earns zero; so does an
// empty pool. The result is clamped non-negative and finite.
func (e *Engine) DailyReward(pos types.Position, params types.TreasuryParameters) (float64, error) {
	share, err := e.shares.LiquidityShare(pos, params.MinPositionValueUSD)
	if err != nil {
		return 0, fmt.Errorf("liquidity share for position %d: %w", pos.ID, err)
	}
	if share <= 0 {
		return 0, nil
	}

	boost := TimeBoost(pos.DaysActive(e.now()), params)
	irm := e.InRangeMultiplier(pos, params)

	frb := 1.0
	if pos.FullRange() && params.FullRangeBonus > 0 {
		frb = params.FullRangeBonus
	}

	reward := share * boost * irm * frb * params.EffectiveDailyBudget()
	if math.IsNaN(reward) || math.IsInf(reward, 0) || reward < 0 {
		engineLogger.Warn().
			Uint64("position", uint64(pos.ID)).
			Float64("share", share).
			Float64("boost", boost).
			Float64("irm", irm).
			Msg("Clamping invalid reward to zero")
		return 0, nil
	}
	return reward, nil
}

// Recalculate advances a position's accrual record to now, catching up any
// whole days missed since the last run, and persists the result.
// Calls for the same position are serialized; calls for different positions
// can run in parallel.
func (e *Engine) Recalculate(pos types.Position) (types.RewardRecord, error) {
	lock := e.lockFor(pos.ID)
	lock.Lock()
	defer lock.Unlock()

	params := e.ActiveParameters()
	now := e.now()

	record, found, err := e.records.GetRewardRecord(pos.ID)
	if err != nil {
		return types.RewardRecord{}, fmt.Errorf("load reward record for position %d: %w", pos.ID, err)
	}
	if !found {
		record = &types.RewardRecord{
			PositionID:     pos.ID,
			LastCalculated: pos.CreatedAt,
		}
	}

	// Accrual freezes when a position goes inactive; only the eligibility
	// flag keeps tracking.
	if pos.Active {
		daily, err := e.DailyReward(pos, params)
		if err != nil {
			return types.RewardRecord{}, err
		}
		record.DailyReward = daily

		elapsedDays := int(now.Sub(record.LastCalculated).Hours() / 24)
		if elapsedDays > 0 {
			record.AccumulatedReward += daily * float64(elapsedDays)
			record.LastCalculated = record.LastCalculated.Add(time.Duration(elapsedDays) * 24 * time.Hour)
		}
	}

	record.ClaimEligible = pos.DaysActive(now) >= params.LockPeriodDays

	if err := e.records.UpsertRewardRecord(*record); err != nil {
		return types.RewardRecord{}, fmt.Errorf("persist reward record for position %d: %w", pos.ID, err)
	}
	return *record, nil
}

// Status assembles the API view of a position's rewards, including the
// countdown until the lock period expires.
func (e *Engine) Status(pos types.Position) (types.RewardStatus, error) {
	params := e.ActiveParameters()
	now := e.now()

	record, found, err := e.records.GetRewardRecord(pos.ID)
	if err != nil {
		return types.RewardStatus{}, fmt.Errorf("load reward record for position %d: %w", pos.ID, err)
	}
	if !found {
		record = &types.RewardRecord{PositionID: pos.ID, LastCalculated: pos.CreatedAt}
	}

	daysUntil := params.LockPeriodDays - pos.DaysActive(now)
	if daysUntil < 0 {
		daysUntil = 0
	}

	return types.RewardStatus{
		PositionID:        pos.ID,
		DailyReward:       record.DailyReward,
		AccumulatedReward: record.AccumulatedReward,
		ClaimableReward:   record.Claimable(),
		ClaimEligible:     pos.DaysActive(now) >= params.LockPeriodDays,
		DaysUntilClaim:    daysUntil,
		LastCalculated:    record.LastCalculated,
	}, nil
}

func (e *Engine) lockFor(id types.PositionID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
