package poolmath

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"nestedLiquidity/internal/fixedpoint"
	"nestedLiquidity/internal/model"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.One)
}

func TestScalingFactor(t *testing.T) {
	assert.Equal(t, "1000000000000000000000000000000", ScalingFactor(6, nil).String())
	assert.Equal(t, fixedpoint.One.String(), ScalingFactor(18, nil).String())
	assert.Equal(t, "1100000000000000000", ScalingFactor(18, big.NewInt(1.1e18)).String())
}

func TestScaleRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decimals := uint8(rapid.IntRange(0, 18).Draw(t, "decimals"))
		amount := big.NewInt(rapid.Int64Range(0, 1<<60).Draw(t, "amount"))
		factor := ScalingFactor(decimals, nil)

		up := Upscale(amount, factor)
		if got := DownscaleDown(up, factor); got.Cmp(amount) != 0 {
			t.Fatalf("down: got %s want %s", got, amount)
		}
		if got := DownscaleUp(up, factor); got.Cmp(amount) != 0 {
			t.Fatalf("up: got %s want %s", got, amount)
		}
	})
}

func TestSubtractFeeRoundsFeeUp(t *testing.T) {
	// 3 * 0.1% = 0.003, rounded up to one unit.
	assert.Equal(t, "2", SubtractFee(big.NewInt(3), big.NewInt(1e15)).String())
	assert.Equal(t, e18(999).String(), SubtractFee(e18(1000), big.NewInt(1e15)).String())
}

func TestLinearParamsOfDefaults(t *testing.T) {
	params := LinearParamsOf(model.Pool{})
	assert.Equal(t, 0, params.Fee.Sign())
	assert.Equal(t, 0, params.LowerTarget.Sign())
	assert.Equal(t, 256, params.UpperTarget.BitLen())
}

func TestLinearInRange(t *testing.T) {
	params := LinearParamsOf(model.Pool{})
	main, wrapped, supply := e18(1000), e18(1000), e18(2000)

	assert.Equal(t, e18(100).String(), LinearBptOutPerMainIn(e18(100), main, wrapped, supply, params).String())
	assert.Equal(t, e18(100).String(), LinearBptOutPerWrappedIn(e18(100), main, wrapped, supply, params).String())

	out, err := LinearMainOutPerBptIn(e18(100), main, wrapped, supply, params)
	require.NoError(t, err)
	assert.Equal(t, e18(100).String(), out.String())

	out, err = LinearWrappedOutPerBptIn(e18(100), main, wrapped, supply, params)
	require.NoError(t, err)
	assert.Equal(t, e18(100).String(), out.String())

	assert.Equal(t, fixedpoint.One.String(), LinearBptPerToken(main, wrapped, supply, params).String())
}

func TestLinearMainOverdraw(t *testing.T) {
	params := LinearParamsOf(model.Pool{})
	_, err := LinearMainOutPerBptIn(e18(1500), e18(1000), e18(1000), e18(2000), params)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = LinearMainOutPerBptIn(e18(1), e18(1), e18(1), new(big.Int), params)
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
}

func TestLinearNominalBelowLowerTarget(t *testing.T) {
	params := LinearParams{Fee: big.NewInt(1e16), LowerTarget: e18(100), UpperTarget: e18(1000)}

	nominal := toNominal(e18(50), params)
	assert.Equal(t, "49500000000000000000", nominal.String())
	assert.Equal(t, e18(50).String(), fromNominal(nominal, params).String())

	assert.Equal(t, e18(500).String(), toNominal(e18(500), params).String())
}

func TestStableInvariantBalanced(t *testing.T) {
	amp := new(big.Int).Mul(big.NewInt(200), AmpPrecision)
	balances := []*big.Int{e18(1000), e18(1000), e18(1000)}

	invariant, err := StableInvariant(amp, balances)
	require.NoError(t, err)
	assert.LessOrEqual(t, fixedpoint.AbsDiff(invariant, e18(3000)).Int64(), int64(1))

	_, err = StableInvariant(amp, []*big.Int{e18(1), new(big.Int)})
	assert.ErrorIs(t, err, ErrZeroInvariant)

	zero, err := StableInvariant(amp, []*big.Int{new(big.Int), new(big.Int)})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.Sign())
}

func TestStableOutGivenInNearParity(t *testing.T) {
	amp := new(big.Int).Mul(big.NewInt(200), AmpPrecision)
	balances := []*big.Int{e18(1000), e18(1000), e18(1000)}
	invariant, err := StableInvariant(amp, balances)
	require.NoError(t, err)

	out, err := StableOutGivenIn(amp, balances, 0, 1, e18(1), invariant)
	require.NoError(t, err)
	assert.Equal(t, -1, out.Cmp(e18(1)))
	assert.Equal(t, 1, out.Cmp(big.NewInt(0.999e18)))
	// The input balances are left untouched.
	assert.Equal(t, e18(1000).String(), balances[0].String())
}

func TestWeighted(t *testing.T) {
	half := big.NewInt(5e17)

	_, err := WeightedOutGivenIn(e18(100), half, e18(100), half, e18(31))
	assert.ErrorIs(t, err, ErrMaxInRatio)

	out, err := WeightedOutGivenIn(e18(100), half, e18(100), half, e18(1))
	require.NoError(t, err)
	// 100 * (1 - 100/101) ~= 0.990099
	assert.Equal(t, 1, out.Cmp(big.NewInt(0.99e18)))
	assert.Equal(t, -1, out.Cmp(big.NewInt(0.9902e18)))

	assert.Equal(t, fixedpoint.One.String(), WeightedBptPerToken(e18(50), half, e18(100)).String())
	assert.Equal(t, 0, WeightedBptPerToken(new(big.Int), half, e18(100)).Sign())

	_, err = WeightedTokenOutGivenExactBptIn(e18(100), half, e18(40), e18(100), new(big.Int))
	assert.ErrorIs(t, err, ErrMinBptInForTokenOut)
}

func TestWeightedProportionalJoinMintsProportionally(t *testing.T) {
	half := big.NewInt(5e17)
	balances := []*big.Int{e18(100), e18(100)}
	weights := []*big.Int{half, half}

	bpt, err := WeightedBptOutGivenExactTokensIn(balances, weights, []*big.Int{e18(10), e18(10)}, e18(200), big.NewInt(1e16))
	require.NoError(t, err)
	// A proportional join pays no fee: 200 * 10%.
	assert.LessOrEqual(t, fixedpoint.AbsDiff(bpt, e18(20)).Cmp(big.NewInt(1e12)), 0)
}

func TestZeroBalancesReturnErrors(t *testing.T) {
	half := big.NewInt(5e17)
	amp := new(big.Int).Mul(big.NewInt(200), AmpPrecision)

	_, err := WeightedBptOutGivenExactTokensIn(
		[]*big.Int{new(big.Int), e18(1)},
		[]*big.Int{half, half},
		[]*big.Int{e18(1), new(big.Int)},
		e18(1), new(big.Int),
	)
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = StableBptOutGivenExactTokensIn(amp,
		[]*big.Int{new(big.Int), new(big.Int)},
		[]*big.Int{e18(1), e18(1)},
		e18(1), e18(1), new(big.Int),
	)
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = StableBptOutGivenExactTokensIn(amp,
		[]*big.Int{e18(1), new(big.Int)},
		[]*big.Int{e18(1), e18(1)},
		e18(1), e18(1), new(big.Int),
	)
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = WeightedOutGivenIn(new(big.Int), half, e18(1), half, new(big.Int))
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = WeightedTokenOutGivenExactBptIn(e18(1), half, new(big.Int), new(big.Int), new(big.Int))
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = StableTokenOutGivenExactBptIn(amp, []*big.Int{e18(1), e18(1)}, 0, new(big.Int), new(big.Int), e18(2), new(big.Int))
	assert.ErrorIs(t, err, ErrZeroBalance)

	_, err = ProportionalAmountsOut([]*big.Int{e18(1)}, e18(1), new(big.Int))
	assert.ErrorIs(t, err, ErrZeroBalance)

	assert.Equal(t, e18(3).String(), LinearBptOutPerWrappedIn(e18(3), new(big.Int), new(big.Int), e18(10), LinearParamsOf(model.Pool{})).String())
}

func TestProportionalAmountsOut(t *testing.T) {
	out, err := ProportionalAmountsOut([]*big.Int{e18(300), e18(900)}, e18(10), e18(100))
	require.NoError(t, err)
	assert.Equal(t, []string{e18(30).String(), e18(90).String()}, []string{out[0].String(), out[1].String()})

	rapid.Check(t, func(t *rapid.T) {
		supply := big.NewInt(rapid.Int64Range(1, 1<<60).Draw(t, "supply"))
		bptIn := big.NewInt(rapid.Int64Range(0, supply.Int64()).Draw(t, "bptIn"))
		balance := big.NewInt(rapid.Int64Range(0, 1<<60).Draw(t, "balance"))

		out, err := ProportionalAmountsOut([]*big.Int{balance}, bptIn, supply)
		if err != nil {
			t.Fatal(err)
		}
		// Rounding only ever favours the pool.
		if out[0].Cmp(balance) > 0 || out[0].Sign() < 0 {
			t.Fatalf("%s of %s paid %s", bptIn, supply, out[0])
		}
	})
}
