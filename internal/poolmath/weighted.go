package poolmath

import (
	"math/big"

	"nestedLiquidity/internal/fixedpoint"
)

var (
	maxInRatio        = big.NewInt(3e17)
	minInvariantRatio = big.NewInt(7e17)
)

// WeightedOutGivenIn returns the amount of tokenOut received for amountIn of
// tokenIn. amountIn must already have the swap fee removed. All amounts are
// upscaled.
func WeightedOutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn *big.Int) (*big.Int, error) {
	if balanceIn.Sign() == 0 || weightOut.Sign() == 0 {
		return nil, ErrZeroBalance
	}
	if amountIn.Cmp(fixedpoint.MulDown(balanceIn, maxInRatio)) > 0 {
		return nil, ErrMaxInRatio
	}

	denominator := new(big.Int).Add(balanceIn, amountIn)
	base := fixedpoint.DivUp(balanceIn, denominator)
	exponent := fixedpoint.DivDown(weightIn, weightOut)
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDown(balanceOut, fixedpoint.Complement(power)), nil
}

// WeightedBptOutGivenExactTokensIn returns the BPT minted for an exact set
// of token amounts. Amounts that unbalance the pool pay the swap fee on the
// disproportionate part.
func WeightedBptOutGivenExactTokensIn(balances, weights, amountsIn []*big.Int, totalSupply, swapFee *big.Int) (*big.Int, error) {
	if hasZero(balances) {
		return nil, ErrZeroBalance
	}
	ratiosWithFee := make([]*big.Int, len(balances))
	invariantRatioWithFees := new(big.Int)
	for i := range balances {
		ratiosWithFee[i] = fixedpoint.DivDown(new(big.Int).Add(balances[i], amountsIn[i]), balances[i])
		invariantRatioWithFees.Add(invariantRatioWithFees, fixedpoint.MulDown(ratiosWithFee[i], weights[i]))
	}

	invariantRatio := new(big.Int).Set(fixedpoint.One)
	for i := range balances {
		amountInWithoutFee := amountsIn[i]
		if ratiosWithFee[i].Cmp(invariantRatioWithFees) > 0 {
			nonTaxable := fixedpoint.MulDown(balances[i], new(big.Int).Sub(invariantRatioWithFees, fixedpoint.One))
			taxable := new(big.Int).Sub(amountsIn[i], nonTaxable)
			amountInWithoutFee = new(big.Int).Add(nonTaxable, fixedpoint.MulDown(taxable, fixedpoint.Complement(swapFee)))
		}

		balanceRatio := fixedpoint.DivDown(new(big.Int).Add(balances[i], amountInWithoutFee), balances[i])
		factor, err := fixedpoint.PowDown(balanceRatio, weights[i])
		if err != nil {
			return nil, err
		}
		invariantRatio = fixedpoint.MulDown(invariantRatio, factor)
	}

	if invariantRatio.Cmp(fixedpoint.One) <= 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDown(totalSupply, new(big.Int).Sub(invariantRatio, fixedpoint.One)), nil
}

// WeightedTokenOutGivenExactBptIn returns the single token paid out for
// burning bptIn.
func WeightedTokenOutGivenExactBptIn(balance, weight, bptIn, totalSupply, swapFee *big.Int) (*big.Int, error) {
	if totalSupply.Sign() == 0 || weight.Sign() == 0 {
		return nil, ErrZeroBalance
	}
	invariantRatio := fixedpoint.DivUp(new(big.Int).Sub(totalSupply, bptIn), totalSupply)
	if invariantRatio.Cmp(minInvariantRatio) < 0 {
		return nil, ErrMinBptInForTokenOut
	}

	balanceRatio, err := fixedpoint.PowUp(invariantRatio, fixedpoint.DivDown(fixedpoint.One, weight))
	if err != nil {
		return nil, err
	}
	amountOutWithoutFee := fixedpoint.MulDown(balance, fixedpoint.Complement(balanceRatio))

	taxable := fixedpoint.MulUp(amountOutWithoutFee, fixedpoint.Complement(weight))
	nonTaxable := new(big.Int).Sub(amountOutWithoutFee, taxable)
	return nonTaxable.Add(nonTaxable, fixedpoint.MulDown(taxable, fixedpoint.Complement(swapFee))), nil
}

// WeightedBptPerToken is the marginal BPT minted per unit of token i:
// totalSupply * weight / balance.
func WeightedBptPerToken(balance, weight, totalSupply *big.Int) *big.Int {
	if balance.Sign() == 0 {
		return new(big.Int)
	}
	return fixedpoint.DivDown(fixedpoint.MulDown(totalSupply, weight), balance)
}

// ProportionalAmountsOut returns each balance's share bptIn/totalSupply,
// rounded down. Balances are upscaled.
func ProportionalAmountsOut(balances []*big.Int, bptIn, totalSupply *big.Int) ([]*big.Int, error) {
	if totalSupply.Sign() == 0 {
		return nil, ErrZeroBalance
	}
	ratio := fixedpoint.DivDown(bptIn, totalSupply)
	out := make([]*big.Int, len(balances))
	for i, balance := range balances {
		out[i] = fixedpoint.MulDown(balance, ratio)
	}
	return out, nil
}
