/*

This file contains the default treasury parameter set.

The defaults serve two purposes: they seed the database on first boot, and
they are the documented conservative fallback when no active parameter set
can be loaded. Reward computation must never block on missing configuration,
so every field here has a value that errs on the side of paying out less.

*/

package config

import "github.com/veridian-labs/lmt/internal/types"

// DefaultTreasuryParameters returns the built-in parameter set used when the
// database has no active configuration for the program.
func DefaultTreasuryParameters() types.TreasuryParameters {
	return types.TreasuryParameters{
		Name:    "default",
		Version: 1,

		// 1,000,000 reward tokens over a 90 day program. DailyBudget of 0
		// means the budget is derived from the allocation and duration.
		TotalAllocation:     1_000_000,
		ProgramDurationDays: 90,
		DailyBudget:         0,

		// A week's lock discourages mercenary liquidity without locking
		// genuine LPs out for long.
		LockPeriodDays: 7,

		// Dust positions cost as much to account for as large ones and can
		// be used to farm range samples. Anything under $10 earns nothing.
		MinPositionValueUSD: 10,

		// Time boost scales linearly up to +60% at full program duration.
		TimeBoostCoeff: 0.6,

		// Full-range positions take on more inventory risk per dollar of
		// fees earned, so they get a flat 20% bonus.
		FullRangeBonus: 1.2,

		// Concentrated positions with no sampling history yet are assumed
		// in range half the time. Conservative middle ground until real
		// samples accumulate.
		DefaultInRangeRatio: 0.5,
	}
}
