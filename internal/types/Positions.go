/*

This file contains the types for liquidity-mining positions: the on-chain
checkpoint data needed for exact fee accounting plus the program-level flags
used by reward distribution.

*/

package types

import (
	"time"

	"github.com/holiman/uint256"
)

// PositionID is the NFT token id of a concentrated-liquidity position.
type PositionID uint64

// Usable tick bounds for a pool with 60 tick spacing. Positions at or beyond
// these bounds cover the whole price range.
const (
	MinUsableTick = -887220
	MaxUsableTick = 887220
)

// Position is a single staked liquidity position tracked by the treasury.
// The fee-growth checkpoints are Q128.128 fixed-point accumulator snapshots
// taken the last time fees were settled for this position.
type Position struct {
	ID                   PositionID   `json:"id"`
	Owner                string       `json:"owner"`                   // Hex address of the position owner
	Pool                 string       `json:"pool"`                    // Hex address of the pool contract
	TickLower            int          `json:"tick_lower"`              // Inclusive lower bound of the range
	TickUpper            int          `json:"tick_upper"`              // Exclusive upper bound of the range
	Liquidity            *uint256.Int `json:"liquidity"`               // Position liquidity, fits in 128 bits
	FeeGrowthInsideLast0 *uint256.Int `json:"fee_growth_inside_last0"` // Token0 checkpoint, Q128.128
	FeeGrowthInsideLast1 *uint256.Int `json:"fee_growth_inside_last1"` // Token1 checkpoint, Q128.128
	TokensOwed0          *uint256.Int `json:"tokens_owed0"`            // Token0 already settled but unclaimed
	TokensOwed1          *uint256.Int `json:"tokens_owed1"`            // Token1 already settled but unclaimed
	ValueUSD             float64      `json:"value_usd"`               // Last appraised position value in USD
	Active               bool         `json:"active"`                  // Liquidity currently staked
	RewardEligible       bool         `json:"reward_eligible"`         // Enrolled in the mining program
	CreatedAt            time.Time    `json:"created_at"`              // When the position entered the program
}

// FullRange reports whether the position covers the entire usable tick range.
func (p Position) FullRange() bool {
	return p.TickLower <= MinUsableTick && p.TickUpper >= MaxUsableTick
}

// InRange reports whether the given pool tick falls inside the position's
// half-open range [TickLower, TickUpper).
func (p Position) InRange(currentTick int) bool {
	return currentTick >= p.TickLower && currentTick < p.TickUpper
}

// DaysActive returns the number of whole days the position has been enrolled,
// measured against now. Never negative.
func (p Position) DaysActive(now time.Time) int {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return int(now.Sub(p.CreatedAt).Hours() / 24)
}

// UnclaimedFees is the result of an exact fee computation for one position.
type UnclaimedFees struct {
	PositionID PositionID   `json:"position_id"`
	Amount0    *uint256.Int `json:"amount0"`             // Raw token0 units owed
	Amount1    *uint256.Int `json:"amount1"`             // Raw token1 units owed
	ValueUSD   *float64     `json:"value_usd,omitempty"` // Populated only when a USD figure was requested
	ComputedAt time.Time    `json:"computed_at"`
}
