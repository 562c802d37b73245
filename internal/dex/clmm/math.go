package clmm

import (
	"math/big"

	"github.com/holiman/uint256"
)

// feePipsDenominator is the fee unit for concentrated-liquidity tiers:
// hundredths of a basis point, so 3000 = 0.30%.
const feePipsDenominator = 1_000_000

var q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)

// applyFeePips deducts the tier fee from the input amount.
func applyFeePips(amountIn *uint256.Int, feePips uint32) *uint256.Int {
	out := new(uint256.Int).Mul(amountIn, uint256.NewInt(feePipsDenominator-uint64(feePips)))
	return out.Div(out, uint256.NewInt(feePipsDenominator))
}

// swapWithinBand computes the output and the post-trade sqrt price for a
// swap that stays inside the pool's active liquidity band. Prices are Q64.96
// fixed point. zeroForOne means selling token0 (price moves down).
func swapWithinBand(liquidity, sqrtPriceX96, amountIn *uint256.Int, zeroForOne bool) (amountOut, sqrtPriceNext *uint256.Int, ok bool) {
	if liquidity.IsZero() || sqrtPriceX96.IsZero() || amountIn.IsZero() {
		return nil, nil, false
	}
	if zeroForOne {
		// sqrtP' = L*Q96*sqrtP / (L*Q96 + in*sqrtP)
		liqQ96, overflow := new(uint256.Int).MulOverflow(liquidity, q96)
		if overflow {
			return nil, nil, false
		}
		inTimesP, overflow := new(uint256.Int).MulOverflow(amountIn, sqrtPriceX96)
		if overflow {
			return nil, nil, false
		}
		denom, overflow := new(uint256.Int).AddOverflow(liqQ96, inTimesP)
		if overflow {
			return nil, nil, false
		}
		next, overflow := new(uint256.Int).MulDivOverflow(liqQ96, sqrtPriceX96, denom)
		if overflow || next.IsZero() {
			return nil, nil, false
		}
		// out (token1) = L * (sqrtP - sqrtP') / Q96
		diff := new(uint256.Int).Sub(sqrtPriceX96, next)
		out, overflow := new(uint256.Int).MulDivOverflow(liquidity, diff, q96)
		if overflow {
			return nil, nil, false
		}
		return out, next, true
	}
	// sqrtP' = sqrtP + in*Q96/L
	delta, overflow := new(uint256.Int).MulDivOverflow(amountIn, q96, liquidity)
	if overflow {
		return nil, nil, false
	}
	next := new(uint256.Int).Add(sqrtPriceX96, delta)
	if next.Lt(sqrtPriceX96) {
		return nil, nil, false
	}
	// out (token0) = L * Q96 * (sqrtP' - sqrtP) / (sqrtP' * sqrtP)
	diff := new(uint256.Int).Sub(next, sqrtPriceX96)
	t1, overflow := new(uint256.Int).MulDivOverflow(diff, q96, next)
	if overflow {
		return nil, nil, false
	}
	out, overflow := new(uint256.Int).MulDivOverflow(liquidity, t1, sqrtPriceX96)
	if overflow {
		return nil, nil, false
	}
	return out, next, true
}

func fromBig(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() < 0 {
		return nil, false
	}
	out, overflow := uint256.FromBig(v)
	return out, !overflow
}
