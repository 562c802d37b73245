package stableswap

import "math/big"

// nCoins is fixed at two; the invariant math below hardcodes it.
const nCoins = 2

const maxIterations = 255

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// getD computes the stable-swap invariant D for the pool balances by
// Newton iteration. Returns nil on non-convergence.
func getD(amp uint64, xp [2]*big.Int) *big.Int {
	s := new(big.Int).Add(xp[0], xp[1])
	if s.Sign() == 0 {
		return new(big.Int)
	}
	d := new(big.Int).Set(s)
	ann := new(big.Int).SetUint64(amp * nCoins * nCoins)
	for i := 0; i < maxIterations; i++ {
		// dP = D^3 / (4 * x0 * x1)
		dP := new(big.Int).Set(d)
		for _, x := range xp {
			den := new(big.Int).Mul(x, two)
			if den.Sign() == 0 {
				return nil
			}
			dP.Mul(dP, d)
			dP.Div(dP, den)
		}
		dPrev := new(big.Int).Set(d)
		// D = (Ann*S + 2*dP) * D / ((Ann-1)*D + 3*dP)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dP, two))
		num.Mul(num, d)
		den := new(big.Int).Mul(new(big.Int).Sub(ann, one), d)
		den.Add(den, new(big.Int).Mul(dP, big.NewInt(nCoins+1)))
		d.Div(num, den)
		if converged(d, dPrev) {
			return d
		}
	}
	return nil
}

// getY solves for the post-trade balance of coin j given the new balance x
// of coin i, holding D constant. Returns nil on non-convergence.
func getY(amp uint64, xp [2]*big.Int, i, j int, x *big.Int) *big.Int {
	d := getD(amp, xp)
	if d == nil || d.Sign() == 0 {
		return nil
	}
	ann := new(big.Int).SetUint64(amp * nCoins * nCoins)

	// c = D^3 / (4 * x * Ann), b = x + D/Ann
	c := new(big.Int).Set(d)
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(x, two))
	c.Mul(c, d)
	c.Div(c, new(big.Int).Mul(ann, two))
	b := new(big.Int).Add(x, new(big.Int).Div(d, ann))

	y := new(big.Int).Set(d)
	for n := 0; n < maxIterations; n++ {
		yPrev := new(big.Int).Set(y)
		// y = (y^2 + c) / (2y + b - D)
		num := new(big.Int).Mul(y, y)
		num.Add(num, c)
		den := new(big.Int).Mul(y, two)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil
		}
		y.Div(num, den)
		if converged(y, yPrev) {
			return y
		}
	}
	return nil
}

func converged(a, b *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.CmpAbs(one) <= 0
}
