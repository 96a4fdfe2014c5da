// Package pricing estimates the price impact of nested joins and exits by
// comparing the simulated BPT with the BPT obtained at marginal prices.
package pricing

import (
	"math/big"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/graph"
	"nestedLiquidity/internal/model"
	"nestedLiquidity/internal/poolmath"
)

// BptZeroPriceImpact returns the root BPT the inputs of one join path would
// buy at spot prices. Only input nodes carrying a positive amount count.
func BptZeroPriceImpact(g *graph.Graph) *big.Int {
	total := new(big.Int)
	for i := range g.Nodes {
		node := g.Node(i)
		if !node.IsInput() || node.Amount == nil || node.Amount.Sign() <= 0 {
			continue
		}
		total.Add(total, bptOutForInput(g, i))
	}
	return total
}

// TotalBptZeroPriceImpact sums BptZeroPriceImpact over every path graph.
func TotalBptZeroPriceImpact(paths []*graph.Graph) *big.Int {
	total := new(big.Int)
	for _, g := range paths {
		total.Add(total, BptZeroPriceImpact(g))
	}
	return total
}

// bptOutForInput walks from an input node to the root, converting the
// upscaled amount into each ancestor's BPT at its spot price.
func bptOutForInput(g *graph.Graph, index int) *big.Int {
	node := g.Node(index)
	amount := poolmath.Upscale(node.Amount, poolmath.ScalingFactor(node.Decimals, nil))
	child := node.Address

	for parent, ok := g.Parent(index); ok; parent, ok = g.Parent(parent.Index) {
		switch parent.JoinAction {
		case model.JoinActionBatchSwap, model.JoinActionJoinPool:
			sp, found := parent.SpotPrices[child]
			if !found {
				return new(big.Int)
			}
			amount = fixedpoint.MulDown(amount, sp)
		case model.JoinActionWrap:
			amount = fixedpoint.DivDown(amount, parent.PriceRate)
		}
		child = parent.Address
	}
	return amount
}

// CalcPriceImpact compares bptAmount with the zero price impact amount.
// Joins lose when they mint less, exits when they burn more. The result is
// 1e18 fixed point and never negative.
func CalcPriceImpact(bptAmount, bptZeroPriceImpact *big.Int, isJoin bool) *big.Int {
	if bptZeroPriceImpact == nil || bptZeroPriceImpact.Sign() == 0 {
		return new(big.Int)
	}
	ratio := fixedpoint.DivDown(fixedpoint.OrZero(bptAmount), bptZeroPriceImpact)
	var pi *big.Int
	if isJoin {
		pi = new(big.Int).Sub(fixedpoint.One, ratio)
	} else {
		pi = new(big.Int).Sub(ratio, fixedpoint.One)
	}
	if pi.Sign() < 0 {
		return new(big.Int)
	}
	return pi
}

var basisPoints = big.NewInt(10_000)

// SubSlippage lowers amount by slippage basis points. The cut rounds up so
// the minimum never exceeds what the slippage allows.
func SubSlippage(amount, slippageBps *big.Int) *big.Int {
	amount = fixedpoint.OrZero(amount)
	cut := new(big.Int).Mul(amount, fixedpoint.OrZero(slippageBps))
	cut.Add(cut, new(big.Int).Sub(basisPoints, big.NewInt(1)))
	cut.Quo(cut, basisPoints)
	return new(big.Int).Sub(amount, cut)
}
