package poolmath

import (
	"math/big"

	"nestedLiquidity/internal/fixedpoint"
)

// AmpPrecision is the scale of the amplification parameter inside the math.
var AmpPrecision = big.NewInt(1000)

const maxStableIterations = 255

// StableInvariant solves the stable invariant D for upscaled balances. amp
// is the amplification parameter multiplied by AmpPrecision.
func StableInvariant(amp *big.Int, balances []*big.Int) (*big.Int, error) {
	total := sum(balances)
	if total.Sign() == 0 {
		return new(big.Int), nil
	}
	if hasZero(balances) {
		return nil, ErrZeroInvariant
	}

	n := big.NewInt(int64(len(balances)))
	ampTimesTotal := new(big.Int).Mul(amp, n)
	invariant := new(big.Int).Set(total)

	for i := 0; i < maxStableIterations; i++ {
		dP := new(big.Int).Set(invariant)
		for _, b := range balances {
			dP.Mul(dP, invariant)
			dP.Quo(dP, new(big.Int).Mul(b, n))
		}
		prev := invariant

		// ((ampTotal*S/P + D_P*n) * D) / ((ampTotal-P)*D/P + (n+1)*D_P)
		num := new(big.Int).Mul(ampTimesTotal, total)
		num.Quo(num, AmpPrecision)
		num.Add(num, new(big.Int).Mul(dP, n))
		num.Mul(num, prev)

		den := new(big.Int).Sub(ampTimesTotal, AmpPrecision)
		den.Mul(den, prev)
		den.Quo(den, AmpPrecision)
		den.Add(den, new(big.Int).Mul(new(big.Int).Add(n, big.NewInt(1)), dP))

		invariant = num.Quo(num, den)
		if fixedpoint.AbsDiff(invariant, prev).Cmp(big.NewInt(1)) <= 0 {
			return invariant, nil
		}
	}
	return nil, ErrInvariantNotConverge
}

// StableOutGivenIn returns the amount of token out for amountIn of token in,
// both upscaled, with amountIn already net of fees.
func StableOutGivenIn(amp *big.Int, balances []*big.Int, indexIn, indexOut int, amountIn, invariant *big.Int) (*big.Int, error) {
	adjusted := cloneAll(balances)
	adjusted[indexIn].Add(adjusted[indexIn], amountIn)

	finalOut, err := stableBalanceGivenInvariant(amp, adjusted, invariant, indexOut)
	if err != nil {
		return nil, err
	}

	out := new(big.Int).Sub(balances[indexOut], finalOut)
	out.Sub(out, big.NewInt(1))
	if out.Sign() < 0 {
		return new(big.Int), nil
	}
	return out, nil
}

// StableBptOutGivenExactTokensIn returns the BPT minted for an exact set of
// upscaled token amounts.
func StableBptOutGivenExactTokensIn(amp *big.Int, balances, amountsIn []*big.Int, totalSupply, invariant, swapFee *big.Int) (*big.Int, error) {
	total := sum(balances)
	if total.Sign() == 0 || hasZero(balances) {
		return nil, ErrZeroBalance
	}
	ratiosWithFee := make([]*big.Int, len(balances))
	invariantRatioWithFees := new(big.Int)
	for i := range balances {
		weight := fixedpoint.DivDown(balances[i], total)
		ratiosWithFee[i] = fixedpoint.DivDown(new(big.Int).Add(balances[i], amountsIn[i]), balances[i])
		invariantRatioWithFees.Add(invariantRatioWithFees, fixedpoint.MulDown(ratiosWithFee[i], weight))
	}

	newBalances := make([]*big.Int, len(balances))
	for i := range balances {
		amountInWithoutFee := amountsIn[i]
		if ratiosWithFee[i].Cmp(invariantRatioWithFees) > 0 {
			nonTaxable := fixedpoint.MulDown(balances[i], new(big.Int).Sub(invariantRatioWithFees, fixedpoint.One))
			taxable := new(big.Int).Sub(amountsIn[i], nonTaxable)
			amountInWithoutFee = new(big.Int).Add(nonTaxable, fixedpoint.MulDown(taxable, fixedpoint.Complement(swapFee)))
		}
		newBalances[i] = new(big.Int).Add(balances[i], amountInWithoutFee)
	}

	newInvariant, err := StableInvariant(amp, newBalances)
	if err != nil {
		return nil, err
	}
	if invariant.Sign() == 0 {
		return nil, ErrZeroInvariant
	}
	invariantRatio := fixedpoint.DivDown(newInvariant, invariant)
	if invariantRatio.Cmp(fixedpoint.One) <= 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDown(totalSupply, new(big.Int).Sub(invariantRatio, fixedpoint.One)), nil
}

// StableTokenOutGivenExactBptIn returns the single token paid out for
// burning bptIn.
func StableTokenOutGivenExactBptIn(amp *big.Int, balances []*big.Int, tokenIndex int, bptIn, totalSupply, invariant, swapFee *big.Int) (*big.Int, error) {
	if totalSupply.Sign() == 0 {
		return nil, ErrZeroBalance
	}
	ratio := fixedpoint.DivUp(new(big.Int).Sub(totalSupply, bptIn), totalSupply)
	newInvariant := fixedpoint.MulUp(ratio, invariant)

	newBalance, err := stableBalanceGivenInvariant(amp, balances, newInvariant, tokenIndex)
	if err != nil {
		return nil, err
	}
	amountOutWithoutFee := new(big.Int).Sub(balances[tokenIndex], newBalance)

	weight := fixedpoint.DivDown(balances[tokenIndex], sum(balances))
	taxable := fixedpoint.MulUp(amountOutWithoutFee, fixedpoint.Complement(weight))
	nonTaxable := new(big.Int).Sub(amountOutWithoutFee, taxable)
	return nonTaxable.Add(nonTaxable, fixedpoint.MulDown(taxable, fixedpoint.Complement(swapFee))), nil
}

// StableBptPerToken is the marginal BPT minted per upscaled unit of token i,
// totalSupply * dD/dx_i / D, where with a = amp*n and
// D_P = D^(n+1) / (n^n * prod(x)):
//
//	dD/dx_i = (a + D_P/x_i) / (a - 1 + (n+1)*D_P/D)
func StableBptPerToken(amp *big.Int, balances []*big.Int, tokenIndex int, totalSupply, invariant *big.Int) *big.Int {
	if invariant.Sign() == 0 || hasZero(balances) {
		return new(big.Int)
	}

	n := big.NewInt(int64(len(balances)))
	dP := new(big.Int).Set(invariant)
	for _, b := range balances {
		dP.Mul(dP, invariant)
		dP.Quo(dP, new(big.Int).Mul(b, n))
	}

	a := new(big.Int).Mul(amp, n)
	a.Mul(a, fixedpoint.One)
	a.Quo(a, AmpPrecision)

	num := new(big.Int).Add(a, fixedpoint.DivDown(dP, balances[tokenIndex]))
	den := new(big.Int).Sub(a, fixedpoint.One)
	den.Add(den, fixedpoint.DivDown(new(big.Int).Mul(new(big.Int).Add(n, big.NewInt(1)), dP), invariant))
	if den.Sign() <= 0 {
		return new(big.Int)
	}

	derivative := fixedpoint.DivDown(num, den)
	return fixedpoint.DivDown(fixedpoint.MulDown(totalSupply, derivative), invariant)
}

func stableBalanceGivenInvariant(amp *big.Int, balances []*big.Int, invariant *big.Int, tokenIndex int) (*big.Int, error) {
	if invariant.Sign() == 0 || hasZero(balances) {
		return nil, ErrZeroInvariant
	}
	n := big.NewInt(int64(len(balances)))
	ampTimesTotal := new(big.Int).Mul(amp, n)

	total := new(big.Int).Set(balances[0])
	pD := new(big.Int).Mul(balances[0], n)
	for j := 1; j < len(balances); j++ {
		pD.Mul(pD, balances[j])
		pD.Mul(pD, n)
		pD.Quo(pD, invariant)
		total.Add(total, balances[j])
	}
	total.Sub(total, balances[tokenIndex])

	inv2 := new(big.Int).Mul(invariant, invariant)
	c := fixedpoint.DivUpRaw(inv2, new(big.Int).Mul(ampTimesTotal, pD))
	c.Mul(c, AmpPrecision)
	c.Mul(c, balances[tokenIndex])

	b := new(big.Int).Quo(invariant, ampTimesTotal)
	b.Mul(b, AmpPrecision)
	b.Add(b, total)

	tokenBalance := fixedpoint.DivUpRaw(new(big.Int).Add(inv2, c), new(big.Int).Add(invariant, b))
	for i := 0; i < maxStableIterations; i++ {
		prev := tokenBalance

		num := new(big.Int).Mul(tokenBalance, tokenBalance)
		num.Add(num, c)
		den := new(big.Int).Mul(tokenBalance, big.NewInt(2))
		den.Add(den, b)
		den.Sub(den, invariant)
		if den.Sign() <= 0 {
			return nil, ErrBalanceNotConverge
		}
		tokenBalance = fixedpoint.DivUpRaw(num, den)

		if fixedpoint.AbsDiff(tokenBalance, prev).Cmp(big.NewInt(1)) <= 0 {
			return tokenBalance, nil
		}
	}
	return nil, ErrBalanceNotConverge
}

func hasZero(values []*big.Int) bool {
	for _, v := range values {
		if v.Sign() == 0 {
			return true
		}
	}
	return false
}

func cloneAll(values []*big.Int) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
