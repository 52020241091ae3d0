/*

This file contains the treasury parameter set: the tunable knobs of the
liquidity-mining program. Parameter sets are versioned in the database so a
reward can always be traced back to the exact parameters that produced it.

*/

package types

import "time"

// TreasuryParameters defines one version of the mining program configuration.
type TreasuryParameters struct {
	ID        int64     `json:"id,omitempty"`         // Database id, 0 until saved
	Name      string    `json:"name"`                 // Named configuration, e.g. "production"
	Version   int       `json:"version"`              // Monotonic per name
	IsActive  bool      `json:"is_active"`            // Exactly one active version per name
	CreatedAt time.Time `json:"created_at,omitempty"` // Set by the database

	TotalAllocation     float64 `json:"total_allocation"`       // Total reward tokens for the program
	ProgramDurationDays int     `json:"program_duration_days"`  // Length of the program
	DailyBudget         float64 `json:"daily_budget"`           // 0 means TotalAllocation / ProgramDurationDays
	LockPeriodDays      int     `json:"lock_period_days"`       // Days before accrued rewards become claimable
	MinPositionValueUSD float64 `json:"min_position_value_usd"` // Positions below this earn nothing
	TimeBoostCoeff      float64 `json:"time_boost_coeff"`       // b_time in the time boost term
	FullRangeBonus      float64 `json:"full_range_bonus"`       // Multiplier for full-range positions
	DefaultInRangeRatio float64 `json:"default_in_range_ratio"` // IRM used before any range samples exist
}

// EffectiveDailyBudget resolves the daily budget, deriving it from the total
// allocation when no explicit budget is set.
func (p TreasuryParameters) EffectiveDailyBudget() float64 {
	if p.DailyBudget > 0 {
		return p.DailyBudget
	}
	if p.ProgramDurationDays <= 0 {
		return 0
	}
	return p.TotalAllocation / float64(p.ProgramDurationDays)
}
