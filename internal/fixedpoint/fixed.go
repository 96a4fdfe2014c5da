// Package fixedpoint implements the vault's 18-decimal fixed point
// arithmetic on math/big integers. All operations allocate a new result and
// never modify their arguments.
package fixedpoint

import (
	"math/big"
)

var (
	One  = big.NewInt(1e18)
	Two  = big.NewInt(2e18)
	Four = big.NewInt(4e18)

	// maxPowRelativeError bounds the error of Pow, as a 1e18 fraction.
	maxPowRelativeError = big.NewInt(10000)

	zero   = big.NewInt(0)
	oneInt = big.NewInt(1)
)

// Ten returns 10^exp.
func Ten(exp int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// MulDown returns a*b/1e18 rounded down.
func MulDown(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, One)
}

// MulUp returns a*b/1e18 rounded up.
func MulUp(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	if p.Sign() == 0 {
		return p
	}
	p.Sub(p, oneInt)
	p.Quo(p, One)
	return p.Add(p, oneInt)
}

// DivDown returns a*1e18/b rounded down. b must be non-zero.
func DivDown(a, b *big.Int) *big.Int {
	if a.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(a, One)
	return p.Quo(p, b)
}

// DivUp returns a*1e18/b rounded up. b must be non-zero.
func DivUp(a, b *big.Int) *big.Int {
	if a.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(a, One)
	p.Sub(p, oneInt)
	p.Quo(p, b)
	return p.Add(p, oneInt)
}

// DivUpRaw returns a/b rounded up without fixed point scaling.
func DivUpRaw(a, b *big.Int) *big.Int {
	if a.Sign() == 0 {
		return new(big.Int)
	}
	p := new(big.Int).Sub(a, oneInt)
	p.Quo(p, b)
	return p.Add(p, oneInt)
}

// Complement returns 1e18-x, or 0 when x >= 1e18.
func Complement(x *big.Int) *big.Int {
	if x.Cmp(One) >= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(One, x)
}

// PowDown returns x^y rounded down, with the same error bound the vault
// applies on chain.
func PowDown(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(One) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(Two) == 0:
		return MulDown(x, x), nil
	case y.Cmp(Four) == 0:
		square := MulDown(x, x)
		return MulDown(square, square), nil
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError := new(big.Int).Add(MulUp(raw, maxPowRelativeError), oneInt)
	if raw.Cmp(maxError) < 0 {
		return new(big.Int), nil
	}
	return raw.Sub(raw, maxError), nil
}

// PowUp returns x^y rounded up.
func PowUp(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(One) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(Two) == 0:
		return MulUp(x, x), nil
	case y.Cmp(Four) == 0:
		square := MulUp(x, x)
		return MulUp(square, square), nil
	}

	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxError := new(big.Int).Add(MulUp(raw, maxPowRelativeError), oneInt)
	return raw.Add(raw, maxError), nil
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// OrZero returns v, or a new zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

func isNegative(v *big.Int) bool {
	return v.Cmp(zero) < 0
}
