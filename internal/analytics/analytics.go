/*

This file contains the pool analytics layer: total active liquidity, per
position liquidity shares and the program-level APR band. Aggregates are
cached so a burst of share lookups during a recalculation cycle hits the
database once.

*/

package analytics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/veridian-labs/lmt/internal/cache"
	"github.com/veridian-labs/lmt/internal/logger"
	"github.com/veridian-labs/lmt/internal/types"
)

var analyticsLogger = logger.GetForComponent("pool_analytics")

const totalLiquidityKey = "analytics:total_active_liquidity"

// PositionLedger supplies the active, reward-eligible position set.
type PositionLedger interface {
	ActivePositions() ([]types.Position, error)
}

// Analytics aggregates liquidity across the position ledger.
type Analytics struct {
	ledger PositionLedger
	cache  *cache.DataCache
}

// New builds an Analytics over a ledger. The cache is optional.
func New(ledger PositionLedger, dataCache *cache.DataCache) (*Analytics, error) {
	if ledger == nil {
		return nil, errors.New("analytics requires a position ledger")
	}
	return &Analytics{ledger: ledger, cache: dataCache}, nil
}

// TotalActiveLiquidity sums the USD value of every active, reward-eligible
// position worth at least minValueUSD. Positions with a non-finite or
// negative appraisal are skipped rather than poisoning the aggregate.
func (a *Analytics) TotalActiveLiquidity(minValueUSD float64) (float64, error) {
	key := fmt.Sprintf("%s:%.2f", totalLiquidityKey, minValueUSD)
	if a.cache != nil {
		if total, ok := cache.Lookup[float64](a.cache, key); ok {
			return total, nil
		}
	}

	positions, err := a.ledger.ActivePositions()
	if err != nil {
		return 0, fmt.Errorf("failed to load active positions: %w", err)
	}

	total := 0.0
	for _, pos := range positions {
		if math.IsNaN(pos.ValueUSD) || math.IsInf(pos.ValueUSD, 0) || pos.ValueUSD < 0 {
			analyticsLogger.Warn().
				Uint64("position", uint64(pos.ID)).
				Float64("valueUSD", pos.ValueUSD).
				Msg("Skipping position with invalid appraisal")
			continue
		}
		if pos.ValueUSD < minValueUSD {
			continue
		}
		total += pos.ValueUSD
	}

	if a.cache != nil {
		a.cache.Set(key, total, cache.AnalyticsTTL)
	}
	return total, nil
}

// LiquidityShare returns the position's fraction of total qualifying
// liquidity, clamped to [0, 1]. Positions below the qualifying minimum, or
// an empty pool, yield a share of zero.
func (a *Analytics) LiquidityShare(pos types.Position, minValueUSD float64) (float64, error) {
	if !pos.Active || !pos.RewardEligible {
		return 0, nil
	}
	if math.IsNaN(pos.ValueUSD) || math.IsInf(pos.ValueUSD, 0) || pos.ValueUSD < minValueUSD {
		return 0, nil
	}

	total, err := a.TotalActiveLiquidity(minValueUSD)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, nil
	}

	share := pos.ValueUSD / total
	if share < 0 {
		return 0, nil
	}
	if share > 1 {
		share = 1
	}
	return share, nil
}

// ParticipantCount returns the number of distinct owners among qualifying
// positions.
func (a *Analytics) ParticipantCount(minValueUSD float64) (int, error) {
	positions, err := a.ledger.ActivePositions()
	if err != nil {
		return 0, fmt.Errorf("failed to load active positions: %w", err)
	}

	owners := make(map[string]struct{})
	for _, pos := range positions {
		if pos.ValueUSD >= minValueUSD {
			owners[pos.Owner] = struct{}{}
		}
	}
	return len(owners), nil
}

// PoolStats assembles the per-pool aggregate view served by the pool stats
// endpoint: qualifying liquidity and participant count at the given tick.
func (a *Analytics) PoolStats(pool string, currentTick int, minValueUSD float64) (types.PoolStats, error) {
	total, err := a.TotalActiveLiquidity(minValueUSD)
	if err != nil {
		return types.PoolStats{}, err
	}
	participants, err := a.ParticipantCount(minValueUSD)
	if err != nil {
		return types.PoolStats{}, err
	}
	return types.PoolStats{
		Pool:              pool,
		CurrentTick:       currentTick,
		TotalLiquidityUSD: total,
		ParticipantCount:  participants,
		ObservedAt:        time.Now(),
	}, nil
}

// ProgramAnalytics derives the aggregate program view, including the APR
// band between an unboosted concentrated position and a fully boosted
// full-range one. rewardPriceUSD is the oracle price of the reward token.
func (a *Analytics) ProgramAnalytics(params types.TreasuryParameters, rewardPriceUSD float64) (types.ProgramAnalytics, error) {
	total, err := a.TotalActiveLiquidity(params.MinPositionValueUSD)
	if err != nil {
		return types.ProgramAnalytics{}, err
	}
	participants, err := a.ParticipantCount(params.MinPositionValueUSD)
	if err != nil {
		return types.ProgramAnalytics{}, err
	}

	out := types.ProgramAnalytics{
		TotalActiveLiquidityUSD: total,
		ParticipantCount:        participants,
		DailyBudget:             params.EffectiveDailyBudget(),
		ComputedAt:              time.Now(),
	}

	if total > 0 && rewardPriceUSD > 0 && !math.IsNaN(rewardPriceUSD) && !math.IsInf(rewardPriceUSD, 0) {
		baseAPR := out.DailyBudget * rewardPriceUSD * 365 / total
		out.EstimatedAPRMin = baseAPR * params.DefaultInRangeRatio
		out.EstimatedAPRMax = baseAPR * (1 + params.TimeBoostCoeff) * params.FullRangeBonus
	}
	return out, nil
}
