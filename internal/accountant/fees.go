/*

This file contains the exact unclaimed-fee computation for concentrated
liquidity positions. It mirrors the pool contract's own accounting: all
accumulators are Q128.128 fixed-point values that wrap modulo 2^256, and
every subtraction here is a wrapping subtraction. Differences between
accumulator snapshots are meaningful even when the raw values have wrapped,
as long as true fee growth between the snapshots is below 2^256.

*/

package accountant

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/veridian-labs/lmt/internal/types"
)

var (
	// ErrFeeOverflow is returned when liquidity * feeGrowthDelta / 2^128
	// does not fit in 256 bits. Cannot happen for liquidity within 128 bits.
	ErrFeeOverflow = errors.New("fee computation overflow")

	// ErrPoolMismatch is returned when a pool snapshot is applied to a
	// position from a different pool.
	ErrPoolMismatch = errors.New("pool state does not match position pool")
)

// q128 is the Q128.128 fixed-point scale.
var q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// FeeGrowthInside computes the all-time fee growth per unit of liquidity
// inside the half-open tick range [Lower.Tick, Upper.Tick) for both tokens.
//
// The accumulators split three ways around the current tick: growth below the
// lower tick, growth above the upper tick, and the remainder inside the
// range. Which side of a tick's feeGrowthOutside counts as "below" or
// "above" flips as the current tick crosses it, so both branches are needed.
// A current tick exactly at the upper bound counts as above the range.
func FeeGrowthInside(state types.PoolState) (inside0, inside1 *uint256.Int) {
	var below0, below1, above0, above1 uint256.Int

	if state.CurrentTick >= state.Lower.Tick {
		below0.Set(valueOrZero(state.Lower.FeeGrowthOutside0X128))
		below1.Set(valueOrZero(state.Lower.FeeGrowthOutside1X128))
	} else {
		below0.Sub(valueOrZero(state.FeeGrowthGlobal0X128), valueOrZero(state.Lower.FeeGrowthOutside0X128))
		below1.Sub(valueOrZero(state.FeeGrowthGlobal1X128), valueOrZero(state.Lower.FeeGrowthOutside1X128))
	}

	if state.CurrentTick < state.Upper.Tick {
		above0.Set(valueOrZero(state.Upper.FeeGrowthOutside0X128))
		above1.Set(valueOrZero(state.Upper.FeeGrowthOutside1X128))
	} else {
		above0.Sub(valueOrZero(state.FeeGrowthGlobal0X128), valueOrZero(state.Upper.FeeGrowthOutside0X128))
		above1.Sub(valueOrZero(state.FeeGrowthGlobal1X128), valueOrZero(state.Upper.FeeGrowthOutside1X128))
	}

	inside0 = new(uint256.Int).Sub(valueOrZero(state.FeeGrowthGlobal0X128), &below0)
	inside0.Sub(inside0, &above0)
	inside1 = new(uint256.Int).Sub(valueOrZero(state.FeeGrowthGlobal1X128), &below1)
	inside1.Sub(inside1, &above1)
	return inside0, inside1
}

// ComputeUnclaimedFees returns the exact unclaimed fee amounts for a position
// given a consistent pool snapshot: tokensOwed plus the growth accrued since
// the position's last checkpoint. A position with zero liquidity earns
// nothing beyond what is already owed.
func ComputeUnclaimedFees(pos types.Position, state types.PoolState) (types.UnclaimedFees, error) {
	if state.Pool != "" && pos.Pool != "" && state.Pool != pos.Pool {
		return types.UnclaimedFees{}, fmt.Errorf("%w: position pool %s, snapshot pool %s", ErrPoolMismatch, pos.Pool, state.Pool)
	}

	fees := types.UnclaimedFees{
		PositionID: pos.ID,
		Amount0:    new(uint256.Int).Set(valueOrZero(pos.TokensOwed0)),
		Amount1:    new(uint256.Int).Set(valueOrZero(pos.TokensOwed1)),
		ComputedAt: state.ObservedAt,
	}

	liquidity := valueOrZero(pos.Liquidity)
	if liquidity.IsZero() {
		return fees, nil
	}

	inside0, inside1 := FeeGrowthInside(state)

	accrued0, err := feeDelta(inside0, valueOrZero(pos.FeeGrowthInsideLast0), liquidity)
	if err != nil {
		return types.UnclaimedFees{}, fmt.Errorf("token0: %w", err)
	}
	accrued1, err := feeDelta(inside1, valueOrZero(pos.FeeGrowthInsideLast1), liquidity)
	if err != nil {
		return types.UnclaimedFees{}, fmt.Errorf("token1: %w", err)
	}

	fees.Amount0.Add(fees.Amount0, accrued0)
	fees.Amount1.Add(fees.Amount1, accrued1)
	return fees, nil
}

// feeDelta converts a fee-growth-inside movement into raw token units:
// liquidity * (inside - insideLast) / 2^128, with a wrapping subtraction and
// a 512-bit intermediate product.
func feeDelta(inside, insideLast, liquidity *uint256.Int) (*uint256.Int, error) {
	delta := new(uint256.Int).Sub(inside, insideLast)
	fee, overflow := new(uint256.Int).MulDivOverflow(delta, liquidity, q128)
	if overflow {
		return nil, ErrFeeOverflow
	}
	return fee, nil
}

// TokensToFloat converts a raw integer token amount to a whole-token float
// using the token's decimals. Precision loss is acceptable here: the float
// path is only used for USD display values, never for accounting.
func TokensToFloat(amount *uint256.Int, decimals uint8) float64 {
	if amount == nil || amount.IsZero() {
		return 0
	}
	f := new(big.Float).SetInt(amount.ToBig())
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, scale).Float64()
	return out
}

// FeesUSD values a pair of raw fee amounts in USD given spot prices for both
// tokens.
func FeesUSD(amount0, amount1 *uint256.Int, dec0, dec1 uint8, price0, price1 float64) float64 {
	return TokensToFloat(amount0, dec0)*price0 + TokensToFloat(amount1, dec1)*price1
}

func valueOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
