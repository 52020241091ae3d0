/*

This file contains the reward-side types: the per-position accrual record the
engine maintains, the per-run audit snapshot, and the status view served over
the API.

*/

package types

import "time"

// RewardRecord tracks reward accrual for a single position. One row per
// position, updated in place by the daily recalculation.
type RewardRecord struct {
	PositionID        PositionID `json:"position_id"`
	DailyReward       float64    `json:"daily_reward"`       // Most recent per-day accrual
	AccumulatedReward float64    `json:"accumulated_reward"` // Lifetime accrual including claimed
	ClaimedReward     float64    `json:"claimed_reward"`     // Portion already paid out
	LastCalculated    time.Time  `json:"last_calculated"`    // End of the last accounted day
	ClaimEligible     bool       `json:"claim_eligible"`
	UpdatedAt         time.Time  `json:"updated_at,omitempty"`
}

// Claimable returns the accrued reward not yet paid out. Clamped at zero.
func (r RewardRecord) Claimable() float64 {
	c := r.AccumulatedReward - r.ClaimedReward
	if c < 0 {
		return 0
	}
	return c
}

// RewardStatus is the API view of a position's reward state, extended with
// the countdown until the lock period expires.
type RewardStatus struct {
	PositionID        PositionID `json:"position_id"`
	DailyReward       float64    `json:"daily_reward"`
	AccumulatedReward float64    `json:"accumulated_reward"`
	ClaimableReward   float64    `json:"claimable_reward"`
	ClaimEligible     bool       `json:"claim_eligible"`
	DaysUntilClaim    int        `json:"days_until_claim"` // 0 once eligible
	LastCalculated    time.Time  `json:"last_calculated"`
}

// RecalculationRun is the audit snapshot persisted after each treasury cycle.
type RecalculationRun struct {
	RunID                string    `json:"run_id"` // UUID of the cycle
	CycleNumber          int64     `json:"cycle_number"`
	StartedAt            time.Time `json:"started_at"`
	DurationMS           int64     `json:"duration_ms"`
	PositionsProcessed   int       `json:"positions_processed"`
	PositionsFailed      int       `json:"positions_failed"`
	TotalDailyReward     float64   `json:"total_daily_reward"`     // Sum of daily rewards this run
	TotalActiveLiquidity float64   `json:"total_active_liquidity"` // USD denominator used for shares
	ParameterVersion     int       `json:"parameter_version"`      // Treasury parameter version applied
}

// ProgramAnalytics is the aggregate program view served by the web API.
type ProgramAnalytics struct {
	TotalActiveLiquidityUSD float64   `json:"total_active_liquidity_usd"`
	ParticipantCount        int       `json:"participant_count"`
	DailyBudget             float64   `json:"daily_budget"`
	EstimatedAPRMin         float64   `json:"estimated_apr_min"` // Annualized, no boosts
	EstimatedAPRMax         float64   `json:"estimated_apr_max"` // Annualized, all boosts applied
	ComputedAt              time.Time `json:"computed_at"`
}
