// Package poolmath replicates the vault's pool invariants in integer
// arithmetic: weighted product, stable invariant and linear nominal math,
// plus the marginal spot prices used for price impact.
package poolmath

import (
	"errors"
	"math/big"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
)

var (
	ErrMaxInRatio           = errors.New("max in ratio exceeded")
	ErrMinBptInForTokenOut  = errors.New("bpt in exceeds exit limit")
	ErrInvariantNotConverge = errors.New("stable invariant did not converge")
	ErrBalanceNotConverge   = errors.New("stable balance did not converge")
	ErrZeroInvariant        = errors.New("zero invariant")
	ErrZeroBalance          = errors.New("zero pool balance")
)

// ScalingFactor returns the 1e18 fixed point factor that lifts a raw token
// amount to 18 decimals, including its price rate.
func ScalingFactor(decimals uint8, rate *big.Int) *big.Int {
	var factor *big.Int
	if decimals > 18 {
		factor = new(big.Int).Quo(fixedpoint.One, fixedpoint.Ten(int(decimals)-18))
	} else {
		factor = new(big.Int).Mul(fixedpoint.One, fixedpoint.Ten(18-int(decimals)))
	}
	if rate == nil || rate.Sign() == 0 {
		return factor
	}
	return fixedpoint.MulDown(factor, rate)
}

// TokenScalingFactor returns the scaling factor of a pool token.
func TokenScalingFactor(token model.PoolToken) *big.Int {
	return ScalingFactor(token.Decimals, token.PriceRate)
}

// DecimalScalingFactor returns the scaling factor of a pool token ignoring
// its price rate.
func DecimalScalingFactor(token model.PoolToken) *big.Int {
	return ScalingFactor(token.Decimals, nil)
}

// Upscale lifts a raw amount to the pool's internal 18 decimal units.
func Upscale(amount, factor *big.Int) *big.Int {
	return fixedpoint.MulDown(amount, factor)
}

// DownscaleDown converts an internal amount back to raw units, rounding down.
func DownscaleDown(amount, factor *big.Int) *big.Int {
	return fixedpoint.DivDown(amount, factor)
}

// DownscaleUp converts an internal amount back to raw units, rounding up.
func DownscaleUp(amount, factor *big.Int) *big.Int {
	return fixedpoint.DivUp(amount, factor)
}

func sum(values []*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, v)
	}
	return total
}

// SubtractFee removes the swap fee from an exact amount in, rounding the
// fee up.
func SubtractFee(amount, swapFee *big.Int) *big.Int {
	fee := fixedpoint.MulUp(amount, swapFee)
	return new(big.Int).Sub(amount, fee)
}
