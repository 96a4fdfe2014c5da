package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRounding(t *testing.T) {
	a := big.NewInt(3)
	b := big.NewInt(5e17)

	assert.Equal(t, "1", MulDown(a, b).String())
	assert.Equal(t, "2", MulUp(a, b).String())
	assert.Equal(t, "6", DivDown(a, b).String())
	assert.Equal(t, "6", DivUp(a, b).String())
	assert.Equal(t, "4", DivUp(big.NewInt(1), big.NewInt(3e17)).String())
	assert.Equal(t, "0", MulUp(big.NewInt(0), b).String())
	assert.Equal(t, "2", DivUpRaw(big.NewInt(3), big.NewInt(2)).String())
}

func TestComplement(t *testing.T) {
	assert.Equal(t, "700000000000000000", Complement(big.NewInt(3e17)).String())
	assert.Equal(t, "0", Complement(big.NewInt(2e18)).String())
}

func TestExp(t *testing.T) {
	got, err := Exp(big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, One.String(), got.String())

	got, err = Exp(big.NewInt(1e18))
	require.NoError(t, err)
	assert.Equal(t, "2718281828459045235", got.String())

	_, err = Exp(mustBig("131000000000000000000"))
	assert.ErrorIs(t, err, ErrInvalidExponent)
}

func TestPow(t *testing.T) {
	testCases := []struct {
		name string
		x    *big.Int
		y    *big.Int
		want *big.Int
	}{
		{name: "square root of four", x: big.NewInt(4e18), y: big.NewInt(5e17), want: big.NewInt(2e18)},
		{name: "close to one", x: big.NewInt(1e18 + 5e16), y: big.NewInt(2e18), want: big.NewInt(1102500000000000000)},
		{name: "below one", x: big.NewInt(25e16), y: big.NewInt(5e17), want: big.NewInt(5e17)},
		{name: "cube", x: big.NewInt(3e18), y: big.NewInt(3e18), want: mustBig("27000000000000000000")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Pow(tc.x, tc.y)
			require.NoError(t, err)
			// 1e-12 relative tolerance
			tolerance := new(big.Int).Quo(tc.want, big.NewInt(1e12))
			assert.True(t, AbsDiff(got, tc.want).Cmp(tolerance) <= 0, "got %s want %s", got, tc.want)
		})
	}
}

func TestPowDownUpBracketPow(t *testing.T) {
	x := big.NewInt(1234e15)
	y := big.NewInt(3e17)

	raw, err := Pow(x, y)
	require.NoError(t, err)
	down, err := PowDown(x, y)
	require.NoError(t, err)
	up, err := PowUp(x, y)
	require.NoError(t, err)

	assert.True(t, down.Cmp(raw) < 0)
	assert.True(t, up.Cmp(raw) > 0)
}

func TestPowShortcuts(t *testing.T) {
	x := big.NewInt(15e17)

	got, err := PowDown(x, Two)
	require.NoError(t, err)
	assert.Equal(t, "2250000000000000000", got.String())

	got, err = PowUp(x, Four)
	require.NoError(t, err)
	assert.Equal(t, "5062500000000000000", got.String())

	got, err = PowDown(x, One)
	require.NoError(t, err)
	assert.Equal(t, x.String(), got.String())
}
