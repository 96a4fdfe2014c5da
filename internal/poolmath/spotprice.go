package poolmath

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
)

// ScaledTokens holds a pool's non-BPT tokens with their upscaled balances.
type ScaledTokens struct {
	Tokens   []model.PoolToken
	Balances []*big.Int
	Factors  []*big.Int
	// PoolIndex maps a position here back to the pool's token list.
	PoolIndex []int
}

// Index returns the position of token among the scaled tokens, or -1.
func (s ScaledTokens) Index(token common.Address) int {
	for i, t := range s.Tokens {
		if t.Address == token {
			return i
		}
	}
	return -1
}

// ScaleTokens upscales every balance of the pool except its own BPT.
func ScaleTokens(pool model.Pool) ScaledTokens {
	var out ScaledTokens
	for i, token := range pool.Tokens {
		if token.Address == pool.Address {
			continue
		}
		factor := TokenScalingFactor(token)
		out.Tokens = append(out.Tokens, token)
		out.Factors = append(out.Factors, factor)
		out.Balances = append(out.Balances, Upscale(fixedpoint.OrZero(token.Balance), factor))
		out.PoolIndex = append(out.PoolIndex, i)
	}
	return out
}

// ScaledAmp returns the pool's amplification multiplied by AmpPrecision.
func ScaledAmp(pool model.Pool) *big.Int {
	return new(big.Int).Mul(fixedpoint.OrZero(pool.Amp), AmpPrecision)
}

// SpotPrices returns, for every non-BPT token of the pool, the BPT obtained
// per 18-decimal unit of that token at the margin.
func SpotPrices(pool model.Pool) (map[common.Address]*big.Int, error) {
	scaled := ScaleTokens(pool)
	supply := fixedpoint.OrZero(pool.TotalShares)
	prices := make(map[common.Address]*big.Int, len(scaled.Tokens))

	switch {
	case pool.PoolType.IsWeighted():
		for i, token := range scaled.Tokens {
			sp := WeightedBptPerToken(scaled.Balances[i], fixedpoint.OrZero(token.Weight), supply)
			prices[token.Address] = applyRate(sp, token)
		}
	case pool.PoolType.IsStable():
		amp := ScaledAmp(pool)
		invariant, err := StableInvariant(amp, scaled.Balances)
		if err != nil {
			return nil, fmt.Errorf("pool %s invariant: %w", pool.ID, err)
		}
		for i, token := range scaled.Tokens {
			sp := StableBptPerToken(amp, scaled.Balances, i, supply, invariant)
			prices[token.Address] = applyRate(sp, token)
		}
	case pool.PoolType.IsLinear():
		mainIdx := scaled.Index(tokenAt(pool, pool.MainIndex))
		wrappedIdx := scaled.Index(tokenAt(pool, pool.WrappedIndex))
		if mainIdx < 0 || wrappedIdx < 0 {
			return nil, fmt.Errorf("linear pool %s missing main or wrapped token: %w", pool.ID, model.ErrUnsupportedPoolType)
		}
		sp := LinearBptPerToken(scaled.Balances[mainIdx], scaled.Balances[wrappedIdx], supply, LinearParamsOf(pool))
		for _, token := range scaled.Tokens {
			prices[token.Address] = applyRate(sp, token)
		}
	case pool.PoolType == model.PoolTypeElement:
		// No invariant replica; treat as par.
		for _, token := range scaled.Tokens {
			prices[token.Address] = new(big.Int).Set(fixedpoint.One)
		}
	default:
		return nil, fmt.Errorf("spot price for %s: %w", pool.PoolType, model.ErrUnsupportedPoolType)
	}
	return prices, nil
}

func applyRate(sp *big.Int, token model.PoolToken) *big.Int {
	if token.PriceRate == nil || token.PriceRate.Sign() == 0 {
		return sp
	}
	return fixedpoint.MulDown(sp, token.PriceRate)
}

func tokenAt(pool model.Pool, idx *int) common.Address {
	if idx == nil || *idx < 0 || *idx >= len(pool.Tokens) {
		return common.Address{}
	}
	return pool.Tokens[*idx].Address
}
