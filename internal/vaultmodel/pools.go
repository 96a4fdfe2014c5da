package vaultmodel

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/poolmath"
)

// joinExactTokensIn mints BPT for amountsIn, keyed by token, and applies
// the resulting balances to pool.
func joinExactTokensIn(pool *model.Pool, amountsIn map[common.Address]*big.Int) (*big.Int, error) {
	scaled := poolmath.ScaleTokens(*pool)
	upscaled := make([]*big.Int, len(scaled.Tokens))
	raw := make([]*big.Int, len(scaled.Tokens))
	for i, token := range scaled.Tokens {
		amount := fixedpoint.OrZero(amountsIn[token.Address])
		raw[i] = amount
		upscaled[i] = poolmath.Upscale(amount, scaled.Factors[i])
	}
	for token := range amountsIn {
		if scaled.Index(token) < 0 {
			return nil, fmt.Errorf("token %s not in pool: %w", token.Hex(), model.ErrInputTokenInvalid)
		}
	}

	supply := fixedpoint.OrZero(pool.TotalShares)
	swapFee := fixedpoint.OrZero(pool.SwapFee)
	var (
		bptOut *big.Int
		err    error
	)
	switch {
	case pool.PoolType.IsWeighted():
		weights := make([]*big.Int, len(scaled.Tokens))
		for i, token := range scaled.Tokens {
			weights[i] = fixedpoint.OrZero(token.Weight)
		}
		bptOut, err = poolmath.WeightedBptOutGivenExactTokensIn(scaled.Balances, weights, upscaled, supply, swapFee)
	case pool.PoolType.IsStable():
		amp := poolmath.ScaledAmp(*pool)
		var invariant *big.Int
		invariant, err = poolmath.StableInvariant(amp, scaled.Balances)
		if err != nil {
			return nil, err
		}
		bptOut, err = poolmath.StableBptOutGivenExactTokensIn(amp, scaled.Balances, upscaled, supply, invariant, swapFee)
	default:
		return nil, fmt.Errorf("join on %s: %w", pool.PoolType, model.ErrUnsupportedPoolType)
	}
	if err != nil {
		return nil, err
	}

	for i := range scaled.Tokens {
		deposit(pool, scaled.PoolIndex[i], raw[i])
	}
	mint(pool, bptOut)
	return bptOut, nil
}

// exitExactBptIn burns bptIn for tokenOut and applies the resulting
// balances to pool.
func exitExactBptIn(pool *model.Pool, bptIn *big.Int, tokenOut common.Address) (*big.Int, error) {
	scaled := poolmath.ScaleTokens(*pool)
	idx := scaled.Index(tokenOut)
	if idx < 0 {
		return nil, fmt.Errorf("token %s not in pool: %w", tokenOut.Hex(), model.ErrInputTokenInvalid)
	}
	supply := fixedpoint.OrZero(pool.TotalShares)
	if bptIn.Cmp(supply) > 0 {
		return nil, fmt.Errorf("bpt in %s exceeds supply: %w", bptIn, model.ErrInsufficientBalance)
	}
	swapFee := fixedpoint.OrZero(pool.SwapFee)

	var (
		upOut *big.Int
		err   error
	)
	switch {
	case pool.PoolType.IsWeighted():
		upOut, err = poolmath.WeightedTokenOutGivenExactBptIn(scaled.Balances[idx], fixedpoint.OrZero(scaled.Tokens[idx].Weight), bptIn, supply, swapFee)
	case pool.PoolType.IsStable():
		amp := poolmath.ScaledAmp(*pool)
		var invariant *big.Int
		invariant, err = poolmath.StableInvariant(amp, scaled.Balances)
		if err != nil {
			return nil, err
		}
		upOut, err = poolmath.StableTokenOutGivenExactBptIn(amp, scaled.Balances, idx, bptIn, supply, invariant, swapFee)
	default:
		return nil, fmt.Errorf("exit on %s: %w", pool.PoolType, model.ErrUnsupportedPoolType)
	}
	if err != nil {
		return nil, err
	}

	amountOut := poolmath.DownscaleDown(upOut, scaled.Factors[idx])
	if err := withdraw(pool, scaled.PoolIndex[idx], amountOut); err != nil {
		return nil, err
	}
	burn(pool, bptIn)
	return amountOut, nil
}

// exitExactBptInForTokensOut burns bptIn for a share of every pool token
// matching bptIn's share of the supply. Proportional exits pay no fee.
func exitExactBptInForTokensOut(pool *model.Pool, bptIn *big.Int) (map[common.Address]*big.Int, error) {
	supply := fixedpoint.OrZero(pool.TotalShares)
	if supply.Sign() == 0 || bptIn.Cmp(supply) > 0 {
		return nil, fmt.Errorf("bpt in %s of supply %s: %w", bptIn, supply, model.ErrInsufficientBalance)
	}
	scaled := poolmath.ScaleTokens(*pool)
	upOut, err := poolmath.ProportionalAmountsOut(scaled.Balances, bptIn, supply)
	if err != nil {
		return nil, err
	}

	out := make(map[common.Address]*big.Int, len(scaled.Tokens))
	for i, token := range scaled.Tokens {
		amount := poolmath.DownscaleDown(upOut[i], scaled.Factors[i])
		if err := withdraw(pool, scaled.PoolIndex[i], amount); err != nil {
			return nil, err
		}
		out[token.Address] = amount
	}
	burn(pool, bptIn)
	return out, nil
}

// swapExactIn trades amountIn of tokenIn for tokenOut. Swaps that take or
// return the pool's own BPT act as single-token joins and exits.
func swapExactIn(pool *model.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if pool.PoolType.IsLinear() {
		return linearSwap(pool, tokenIn, tokenOut, amountIn)
	}
	if pool.PoolType == model.PoolTypeElement {
		return nil, fmt.Errorf("%s pools: %w", pool.PoolType, model.ErrUnsupportedSwap)
	}
	if tokenOut == pool.Address {
		return joinExactTokensIn(pool, map[common.Address]*big.Int{tokenIn: amountIn})
	}
	if tokenIn == pool.Address {
		return exitExactBptIn(pool, amountIn, tokenOut)
	}

	scaled := poolmath.ScaleTokens(*pool)
	in, out := scaled.Index(tokenIn), scaled.Index(tokenOut)
	if in < 0 || out < 0 {
		return nil, fmt.Errorf("pair %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), model.ErrUnsupportedSwap)
	}
	net := poolmath.SubtractFee(poolmath.Upscale(amountIn, scaled.Factors[in]), fixedpoint.OrZero(pool.SwapFee))

	var (
		upOut *big.Int
		err   error
	)
	switch {
	case pool.PoolType.IsWeighted():
		upOut, err = poolmath.WeightedOutGivenIn(
			scaled.Balances[in], fixedpoint.OrZero(scaled.Tokens[in].Weight),
			scaled.Balances[out], fixedpoint.OrZero(scaled.Tokens[out].Weight),
			net,
		)
	case pool.PoolType.IsStable():
		amp := poolmath.ScaledAmp(*pool)
		var invariant *big.Int
		invariant, err = poolmath.StableInvariant(amp, scaled.Balances)
		if err != nil {
			return nil, err
		}
		upOut, err = poolmath.StableOutGivenIn(amp, scaled.Balances, in, out, net, invariant)
	default:
		return nil, fmt.Errorf("swap on %s: %w", pool.PoolType, model.ErrUnsupportedSwap)
	}
	if err != nil {
		return nil, err
	}

	amountOut := poolmath.DownscaleDown(upOut, scaled.Factors[out])
	if err := withdraw(pool, scaled.PoolIndex[out], amountOut); err != nil {
		return nil, err
	}
	deposit(pool, scaled.PoolIndex[in], amountIn)
	return amountOut, nil
}

func linearSwap(pool *model.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if pool.MainIndex == nil || pool.WrappedIndex == nil {
		return nil, fmt.Errorf("linear pool %s: %w", pool.ID, model.ErrUnsupportedPoolType)
	}
	mainIdx, wrappedIdx := *pool.MainIndex, *pool.WrappedIndex
	main, wrapped := pool.Tokens[mainIdx], pool.Tokens[wrappedIdx]
	mainFactor := poolmath.TokenScalingFactor(main)
	wrappedFactor := poolmath.TokenScalingFactor(wrapped)
	mainBalance := poolmath.Upscale(fixedpoint.OrZero(main.Balance), mainFactor)
	wrappedBalance := poolmath.Upscale(fixedpoint.OrZero(wrapped.Balance), wrappedFactor)
	supply := fixedpoint.OrZero(pool.TotalShares)
	params := poolmath.LinearParamsOf(*pool)

	switch {
	case tokenIn == main.Address && tokenOut == pool.Address:
		out := poolmath.LinearBptOutPerMainIn(poolmath.Upscale(amountIn, mainFactor), mainBalance, wrappedBalance, supply, params)
		deposit(pool, mainIdx, amountIn)
		mint(pool, out)
		return out, nil
	case tokenIn == wrapped.Address && tokenOut == pool.Address:
		out := poolmath.LinearBptOutPerWrappedIn(poolmath.Upscale(amountIn, wrappedFactor), mainBalance, wrappedBalance, supply, params)
		deposit(pool, wrappedIdx, amountIn)
		mint(pool, out)
		return out, nil
	case tokenIn == pool.Address && tokenOut == main.Address:
		upOut, err := poolmath.LinearMainOutPerBptIn(amountIn, mainBalance, wrappedBalance, supply, params)
		if err != nil {
			return nil, err
		}
		out := poolmath.DownscaleDown(upOut, mainFactor)
		if err := withdraw(pool, mainIdx, out); err != nil {
			return nil, err
		}
		burn(pool, amountIn)
		return out, nil
	case tokenIn == pool.Address && tokenOut == wrapped.Address:
		upOut, err := poolmath.LinearWrappedOutPerBptIn(amountIn, mainBalance, wrappedBalance, supply, params)
		if err != nil {
			return nil, err
		}
		out := poolmath.DownscaleDown(upOut, wrappedFactor)
		if err := withdraw(pool, wrappedIdx, out); err != nil {
			return nil, err
		}
		burn(pool, amountIn)
		return out, nil
	default:
		return nil, fmt.Errorf("linear pair %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), model.ErrUnsupportedSwap)
	}
}

func deposit(pool *model.Pool, idx int, amount *big.Int) {
	token := &pool.Tokens[idx]
	token.Balance = new(big.Int).Add(fixedpoint.OrZero(token.Balance), amount)
}

func withdraw(pool *model.Pool, idx int, amount *big.Int) error {
	token := &pool.Tokens[idx]
	balance := fixedpoint.OrZero(token.Balance)
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("withdraw %s of %s from %s: %w", amount, token.Address.Hex(), pool.ID, model.ErrInsufficientBalance)
	}
	token.Balance = new(big.Int).Sub(balance, amount)
	return nil
}

// mint issues BPT. Pools holding their own pre-minted BPT hand it out of
// their balance; TotalShares tracks the circulating supply either way.
func mint(pool *model.Pool, amount *big.Int) {
	pool.TotalShares = new(big.Int).Add(fixedpoint.OrZero(pool.TotalShares), amount)
	if !pool.PoolType.HoldsOwnShareToken() {
		return
	}
	if bpt := pool.BptIndex(); bpt >= 0 {
		token := &pool.Tokens[bpt]
		token.Balance = new(big.Int).Sub(fixedpoint.OrZero(token.Balance), amount)
	}
}

func burn(pool *model.Pool, amount *big.Int) {
	pool.TotalShares = new(big.Int).Sub(fixedpoint.OrZero(pool.TotalShares), amount)
	if !pool.PoolType.HoldsOwnShareToken() {
		return
	}
	if bpt := pool.BptIndex(); bpt >= 0 {
		token := &pool.Tokens[bpt]
		token.Balance = new(big.Int).Add(fixedpoint.OrZero(token.Balance), amount)
	}
}

func wrapAmount(amount, rate *big.Int) *big.Int {
	return fixedpoint.DivDown(amount, rate)
}

func unwrapAmount(amount, rate *big.Int) *big.Int {
	return fixedpoint.MulDown(amount, rate)
}
