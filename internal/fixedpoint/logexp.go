package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	ErrBaseOutOfBounds     = errors.New("pow base out of bounds")
	ErrExponentOutOfBounds = errors.New("pow exponent out of bounds")
	ErrProductOutOfBounds  = errors.New("pow product out of bounds")
	ErrInvalidExponent     = errors.New("exp argument out of bounds")
)

var (
	one18 = big.NewInt(1e18)
	one20 = mustBig("100000000000000000000")
	one36 = mustBig("1000000000000000000000000000000000000")

	maxNaturalExponent = mustBig("130000000000000000000")
	minNaturalExponent = mustBig("-41000000000000000000")

	ln36LowerBound = big.NewInt(1e18 - 1e17)
	ln36UpperBound = big.NewInt(1e18 + 1e17)

	maxBase           = new(big.Int).Lsh(big.NewInt(1), 255)
	mildExponentBound = new(big.Int).Quo(new(big.Int).Lsh(big.NewInt(1), 254), one20)

	// 18 decimal exponents, a0 and a1 carry no decimals.
	x0 = mustBig("128000000000000000000")
	a0 = mustBig("38877084059945950922200000000000000000000000000000000000")
	x1 = mustBig("64000000000000000000")
	a1 = mustBig("6235149080811616882910000000")
)

// 20 decimal exponent/value pairs, e^(x_n) = a_n.
var expTable = []struct{ x, a *big.Int }{
	{mustBig("3200000000000000000000"), mustBig("7896296018268069516100000000000000")},
	{mustBig("1600000000000000000000"), mustBig("888611052050787263676000000")},
	{mustBig("800000000000000000000"), mustBig("298095798704172827474000")},
	{mustBig("400000000000000000000"), mustBig("5459815003314423907810")},
	{mustBig("200000000000000000000"), mustBig("738905609893065022723")},
	{mustBig("100000000000000000000"), mustBig("271828182845904523536")},
	{mustBig("50000000000000000000"), mustBig("164872127070012814685")},
	{mustBig("25000000000000000000"), mustBig("128402541668774148407")},
	{mustBig("12500000000000000000"), mustBig("113314845306682631683")},
	{mustBig("6250000000000000000"), mustBig("106449445891785942956")},
}

// Pow returns x^y for 18-decimal fixed point x and y, computed as
// exp(y * ln(x)).
func Pow(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return new(big.Int).Set(one18), nil
	}
	if x.Sign() == 0 {
		return new(big.Int), nil
	}
	if isNegative(x) || x.Cmp(maxBase) >= 0 {
		return nil, ErrBaseOutOfBounds
	}
	if isNegative(y) || y.Cmp(mildExponentBound) >= 0 {
		return nil, ErrExponentOutOfBounds
	}

	var logxTimesY *big.Int
	if x.Cmp(ln36LowerBound) > 0 && x.Cmp(ln36UpperBound) < 0 {
		ln36x := ln36(x)
		// ln36x carries 36 decimals; split it to keep y's product in range.
		hi := new(big.Int).Quo(ln36x, one18)
		hi.Mul(hi, y)
		lo := new(big.Int).Rem(ln36x, one18)
		lo.Mul(lo, y)
		lo.Quo(lo, one18)
		logxTimesY = hi.Add(hi, lo)
	} else {
		logxTimesY = new(big.Int).Mul(ln(x), y)
	}
	logxTimesY.Quo(logxTimesY, one18)

	if logxTimesY.Cmp(minNaturalExponent) < 0 || logxTimesY.Cmp(maxNaturalExponent) > 0 {
		return nil, ErrProductOutOfBounds
	}
	return Exp(logxTimesY)
}

// Exp returns e^x for 18-decimal fixed point x.
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(minNaturalExponent) < 0 || x.Cmp(maxNaturalExponent) > 0 {
		return nil, ErrInvalidExponent
	}
	if isNegative(x) {
		inv, err := Exp(new(big.Int).Neg(x))
		if err != nil {
			return nil, err
		}
		out := new(big.Int).Mul(one18, one18)
		return out.Quo(out, inv), nil
	}

	rem := new(big.Int).Set(x)
	firstAN := big.NewInt(1)
	if rem.Cmp(x0) >= 0 {
		rem.Sub(rem, x0)
		firstAN = a0
	} else if rem.Cmp(x1) >= 0 {
		rem.Sub(rem, x1)
		firstAN = a1
	}

	rem.Mul(rem, big.NewInt(100))

	product := new(big.Int).Set(one20)
	// x10 and x11 are only used by ln.
	for _, e := range expTable[:8] {
		if rem.Cmp(e.x) >= 0 {
			rem.Sub(rem, e.x)
			product.Mul(product, e.a)
			product.Quo(product, one20)
		}
	}

	seriesSum := new(big.Int).Set(one20)
	term := new(big.Int).Set(rem)
	seriesSum.Add(seriesSum, term)
	for i := int64(2); i <= 12; i++ {
		term.Mul(term, rem)
		term.Quo(term, one20)
		term.Quo(term, big.NewInt(i))
		seriesSum.Add(seriesSum, term)
	}

	out := product.Mul(product, seriesSum)
	out.Quo(out, one20)
	out.Mul(out, firstAN)
	return out.Quo(out, big.NewInt(100)), nil
}

func ln(a *big.Int) *big.Int {
	if a.Cmp(one18) < 0 {
		inv := new(big.Int).Mul(one18, one18)
		inv.Quo(inv, a)
		return new(big.Int).Neg(ln(inv))
	}

	rem := new(big.Int).Set(a)
	sum := new(big.Int)
	if rem.Cmp(new(big.Int).Mul(a0, one18)) >= 0 {
		rem.Quo(rem, a0)
		sum.Add(sum, x0)
	}
	if rem.Cmp(new(big.Int).Mul(a1, one18)) >= 0 {
		rem.Quo(rem, a1)
		sum.Add(sum, x1)
	}

	sum.Mul(sum, big.NewInt(100))
	rem.Mul(rem, big.NewInt(100))

	for _, e := range expTable {
		if rem.Cmp(e.a) >= 0 {
			rem.Mul(rem, one20)
			rem.Quo(rem, e.a)
			sum.Add(sum, e.x)
		}
	}

	num := new(big.Int).Sub(rem, one20)
	num.Mul(num, one20)
	num.Quo(num, new(big.Int).Add(rem, one20))
	z := new(big.Int).Set(num)
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one20)

	seriesSum := new(big.Int).Set(num)
	for d := int64(3); d <= 11; d += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one20)
		seriesSum.Add(seriesSum, new(big.Int).Quo(num, big.NewInt(d)))
	}
	seriesSum.Mul(seriesSum, big.NewInt(2))

	out := sum.Add(sum, seriesSum)
	return out.Quo(out, big.NewInt(100))
}

// ln36 returns ln(x) with 36 decimals for x close to one.
func ln36(x *big.Int) *big.Int {
	scaled := new(big.Int).Mul(x, one18)

	z := new(big.Int).Sub(scaled, one36)
	z.Mul(z, one36)
	z.Quo(z, new(big.Int).Add(scaled, one36))
	zSquared := new(big.Int).Mul(z, z)
	zSquared.Quo(zSquared, one36)

	num := new(big.Int).Set(z)
	seriesSum := new(big.Int).Set(num)
	for d := int64(3); d <= 15; d += 2 {
		num.Mul(num, zSquared)
		num.Quo(num, one36)
		seriesSum.Add(seriesSum, new(big.Int).Quo(num, big.NewInt(d)))
	}
	return seriesSum.Mul(seriesSum, big.NewInt(2))
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: invalid constant " + s)
	}
	return v
}
