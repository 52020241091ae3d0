/*

This file contains the pool-level observation types: the accumulator snapshot
read from the chain that fee accounting runs against.

*/

package types

import (
	"time"

	"github.com/holiman/uint256"
)

// TickInfo holds the fee-growth-outside accumulators recorded at an
// initialized tick. Values are Q128.128 and wrap modulo 2^256.
type TickInfo struct {
	Tick                  int          `json:"tick"`
	FeeGrowthOutside0X128 *uint256.Int `json:"fee_growth_outside0_x128"`
	FeeGrowthOutside1X128 *uint256.Int `json:"fee_growth_outside1_x128"`
}

// PoolState is a consistent snapshot of the pool accumulators needed to
// compute fee growth inside a single position's range. Lower and Upper are
// the tick records at the position's bounds.
type PoolState struct {
	Pool                 string       `json:"pool"` // Hex address of the pool contract
	CurrentTick          int          `json:"current_tick"`
	FeeGrowthGlobal0X128 *uint256.Int `json:"fee_growth_global0_x128"`
	FeeGrowthGlobal1X128 *uint256.Int `json:"fee_growth_global1_x128"`
	Lower                TickInfo     `json:"lower"`
	Upper                TickInfo     `json:"upper"`
	ObservedAt           time.Time    `json:"observed_at"`
}

// PoolStats is the cached aggregate view of a pool used by the analytics
// endpoints. Derived values, not chain state.
type PoolStats struct {
	Pool              string    `json:"pool"`
	CurrentTick       int       `json:"current_tick"`
	TotalLiquidityUSD float64   `json:"total_liquidity_usd"`
	ParticipantCount  int       `json:"participant_count"`
	ObservedAt        time.Time `json:"observed_at"`
}
