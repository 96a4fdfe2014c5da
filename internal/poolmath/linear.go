package poolmath

import (
	"math/big"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
)

// LinearParams are the fee band of a linear pool, all upscaled.
type LinearParams struct {
	Fee         *big.Int
	LowerTarget *big.Int
	UpperTarget *big.Int
}

// LinearParamsOf reads the fee band from a linear pool snapshot. Missing
// targets collapse the band so every balance is in range.
func LinearParamsOf(pool model.Pool) LinearParams {
	params := LinearParams{
		Fee:         fixedpoint.OrZero(pool.SwapFee),
		LowerTarget: fixedpoint.OrZero(pool.LowerTarget),
		UpperTarget: pool.UpperTarget,
	}
	if params.UpperTarget == nil {
		params.UpperTarget = new(big.Int).Lsh(big.NewInt(1), 255)
	}
	return params
}

// LinearBptOutPerMainIn returns BPT minted for mainIn of the main token.
func LinearBptOutPerMainIn(mainIn, mainBalance, wrappedBalance, bptSupply *big.Int, params LinearParams) *big.Int {
	if bptSupply.Sign() == 0 {
		return toNominal(mainIn, params)
	}
	previousNominalMain := toNominal(mainBalance, params)
	afterNominalMain := toNominal(new(big.Int).Add(mainBalance, mainIn), params)
	deltaNominalMain := new(big.Int).Sub(afterNominalMain, previousNominalMain)
	invariant := new(big.Int).Add(previousNominalMain, wrappedBalance)
	if invariant.Sign() == 0 {
		return deltaNominalMain
	}

	out := new(big.Int).Mul(bptSupply, deltaNominalMain)
	return out.Quo(out, invariant)
}

// LinearMainOutPerBptIn returns main tokens paid for burning bptIn.
func LinearMainOutPerBptIn(bptIn, mainBalance, wrappedBalance, bptSupply *big.Int, params LinearParams) (*big.Int, error) {
	if bptSupply.Sign() == 0 {
		return nil, model.ErrInsufficientBalance
	}
	previousNominalMain := toNominal(mainBalance, params)
	invariant := new(big.Int).Add(previousNominalMain, wrappedBalance)
	deltaNominalMain := new(big.Int).Mul(invariant, bptIn)
	deltaNominalMain.Quo(deltaNominalMain, bptSupply)

	afterNominalMain := new(big.Int).Sub(previousNominalMain, deltaNominalMain)
	if afterNominalMain.Sign() < 0 {
		return nil, model.ErrInsufficientBalance
	}
	newMainBalance := fromNominal(afterNominalMain, params)
	out := new(big.Int).Sub(mainBalance, newMainBalance)
	if out.Sign() < 0 {
		return nil, model.ErrInsufficientBalance
	}
	return out, nil
}

// LinearBptOutPerWrappedIn returns BPT minted for wrappedIn of the wrapped
// token.
func LinearBptOutPerWrappedIn(wrappedIn, mainBalance, wrappedBalance, bptSupply *big.Int, params LinearParams) *big.Int {
	if bptSupply.Sign() == 0 {
		return new(big.Int).Set(wrappedIn)
	}
	nominalMain := toNominal(mainBalance, params)
	previousInvariant := new(big.Int).Add(nominalMain, wrappedBalance)
	if previousInvariant.Sign() == 0 {
		return new(big.Int).Set(wrappedIn)
	}
	newInvariant := new(big.Int).Add(previousInvariant, wrappedIn)

	newBptBalance := new(big.Int).Mul(bptSupply, newInvariant)
	newBptBalance.Quo(newBptBalance, previousInvariant)
	return newBptBalance.Sub(newBptBalance, bptSupply)
}

// LinearWrappedOutPerBptIn returns wrapped tokens paid for burning bptIn.
func LinearWrappedOutPerBptIn(bptIn, mainBalance, wrappedBalance, bptSupply *big.Int, params LinearParams) (*big.Int, error) {
	if bptSupply.Sign() == 0 {
		return nil, model.ErrInsufficientBalance
	}
	nominalMain := toNominal(mainBalance, params)
	previousInvariant := new(big.Int).Add(nominalMain, wrappedBalance)
	newBptBalance := new(big.Int).Sub(bptSupply, bptIn)

	newWrappedBalance := fixedpoint.DivUpRaw(new(big.Int).Mul(newBptBalance, previousInvariant), bptSupply)
	newWrappedBalance.Sub(newWrappedBalance, nominalMain)
	out := new(big.Int).Sub(wrappedBalance, newWrappedBalance)
	if out.Sign() < 0 {
		return nil, model.ErrInsufficientBalance
	}
	return out, nil
}

// LinearBptPerToken is the marginal BPT per upscaled unit of either main or
// wrapped token: supply / (nominalMain + wrapped).
func LinearBptPerToken(mainBalance, wrappedBalance, bptSupply *big.Int, params LinearParams) *big.Int {
	invariant := new(big.Int).Add(toNominal(mainBalance, params), wrappedBalance)
	if invariant.Sign() == 0 {
		return new(big.Int).Set(fixedpoint.One)
	}
	return fixedpoint.DivDown(bptSupply, invariant)
}

func toNominal(amount *big.Int, params LinearParams) *big.Int {
	switch {
	case amount.Cmp(params.LowerTarget) < 0:
		fees := fixedpoint.MulDown(new(big.Int).Sub(params.LowerTarget, amount), params.Fee)
		return new(big.Int).Sub(amount, fees)
	case amount.Cmp(params.UpperTarget) <= 0:
		return new(big.Int).Set(amount)
	default:
		fees := fixedpoint.MulDown(new(big.Int).Sub(amount, params.UpperTarget), params.Fee)
		return new(big.Int).Sub(amount, fees)
	}
}

func fromNominal(nominal *big.Int, params LinearParams) *big.Int {
	switch {
	case nominal.Cmp(params.LowerTarget) < 0:
		num := new(big.Int).Add(nominal, fixedpoint.MulDown(params.Fee, params.LowerTarget))
		return fixedpoint.DivDown(num, new(big.Int).Add(fixedpoint.One, params.Fee))
	case nominal.Cmp(params.UpperTarget) <= 0:
		return new(big.Int).Set(nominal)
	default:
		num := new(big.Int).Sub(nominal, fixedpoint.MulDown(params.Fee, params.UpperTarget))
		return fixedpoint.DivDown(num, new(big.Int).Sub(fixedpoint.One, params.Fee))
	}
}
