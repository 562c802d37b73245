// Package stableswap adapts amplified stable-swap venues (two-coin pools).
// Pool and coin indices are resolved from a pair-keyed registry populated by
// an admin operation; balances live on the pool account.
package stableswap

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

// DefaultFeeBps is the usual stable-pool fee (0.04%).
const DefaultFeeBps = 4

// Pool is one two-coin stable pool.
type Pool struct {
	Account common.Address
	Tokens  [2]token.Token
	Amp     uint64
	FeeBps  uint64
}

func (p *Pool) indexOf(t token.Token) (int, bool) {
	for i, pt := range p.Tokens {
		if pt == t {
			return i, true
		}
	}
	return 0, false
}

// Adapter implements dex.Adapter over registered stable pools.
type Adapter struct {
	dex.BaseAdapter

	mu    sync.RWMutex
	pools map[dex.Pair]*Pool
}

// New creates an adapter with an empty pool registry.
func New(book *ledger.Book, log *zap.Logger, account common.Address) *Adapter {
	return &Adapter{
		BaseAdapter: dex.NewBaseAdapter(book, log, "stableswap", account),
		pools:       make(map[dex.Pair]*Pool),
	}
}

// RegisterPool is the admin operation that makes a pair routable through
// this venue.
func (a *Adapter) RegisterPool(tokenA, tokenB token.Token, poolAccount common.Address, amp, feeBps uint64) error {
	if tokenA == tokenB || tokenA.IsNative() || tokenB.IsNative() {
		return dex.ErrPairNotSupported
	}
	if amp == 0 {
		return fmt.Errorf("amplification zero: %w", ledger.ErrInvalidAmount)
	}
	if feeBps >= token.BasisPointsDenominator {
		return fmt.Errorf("pool fee %d out of range: %w", feeBps, ledger.ErrInvalidAmount)
	}
	pair := dex.NewPair(tokenA, tokenB)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pair]; ok {
		return dex.ErrPoolExists
	}
	a.pools[pair] = &Pool{
		Account: poolAccount,
		Tokens:  [2]token.Token{pair.A, pair.B},
		Amp:     amp,
		FeeBps:  feeBps,
	}
	a.Log.Info("Stable pool registered",
		zap.String("token_a", pair.A.String()),
		zap.String("token_b", pair.B.String()),
		zap.Uint64("amp", amp),
		zap.Uint64("fee_bps", feeBps))
	return nil
}

func (a *Adapter) findPool(tokenIn, tokenOut token.Token) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[dex.NewPair(tokenIn, tokenOut)]
	return p, ok
}

func (a *Adapter) balances(p *Pool) [2]*big.Int {
	return [2]*big.Int{
		a.Book.BalanceOf(p.Tokens[0], p.Account),
		a.Book.BalanceOf(p.Tokens[1], p.Account),
	}
}

// quote computes the output for amountIn of tokenIn against the pool's
// current balances. Returns zero on empty pools or non-convergence.
func (a *Adapter) quote(p *Pool, tokenIn token.Token, amountIn *big.Int) *big.Int {
	i, ok := p.indexOf(tokenIn)
	if !ok {
		return new(big.Int)
	}
	j := 1 - i
	xp := a.balances(p)
	if xp[0].Sign() == 0 || xp[1].Sign() == 0 {
		return new(big.Int)
	}
	x := new(big.Int).Add(xp[i], amountIn)
	y := getY(p.Amp, xp, i, j, x)
	if y == nil {
		return new(big.Int)
	}
	dy := new(big.Int).Sub(xp[j], y)
	if dy.Sign() <= 0 {
		return new(big.Int)
	}
	dy.Sub(dy, big.NewInt(1)) // round against the trader
	fee := token.ApplyBasisPoints(dy, p.FeeBps)
	out := new(big.Int).Sub(dy, fee)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// GetQuote estimates the output against current balances.
func (a *Adapter) GetQuote(_ context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) || tokenIn == tokenOut {
		return new(big.Int), nil, nil
	}
	pool, ok := a.findPool(tokenIn, tokenOut)
	if !ok {
		return new(big.Int), nil, nil
	}
	return a.quote(pool, tokenIn, amountIn), nil, nil
}

// Swap trades against the registered pool for the pair.
func (a *Adapter) Swap(_ context.Context, p dex.SwapParams) (*big.Int, error) {
	if err := dex.CheckSwapParams(p); err != nil {
		return nil, err
	}
	pool, ok := a.findPool(p.TokenIn, p.TokenOut)
	if !ok {
		return nil, fmt.Errorf("stableswap %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrPairNotSupported)
	}
	amountOut := a.quote(pool, p.TokenIn, p.AmountIn)
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("stableswap %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrNoLiquidity)
	}
	if amountOut.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("stableswap: got %s want >= %s: %w",
			amountOut, p.MinAmountOut, dex.ErrInsufficientOutput)
	}

	if err := a.Pull(p.TokenIn, p.Caller, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.ApproveVenue(p.TokenIn, pool.Account, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.Book.TransferFrom(p.TokenIn, pool.Account, a.Account(), pool.Account, p.AmountIn); err != nil {
		return nil, fmt.Errorf("stableswap: pool pull: %w", err)
	}
	if err := a.Book.Transfer(p.TokenOut, pool.Account, a.Account(), amountOut); err != nil {
		return nil, fmt.Errorf("stableswap: pool payout: %w", err)
	}
	if err := a.Deliver(p.TokenOut, p.Caller, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "StableSwap", PrimaryAddress: a.Account()}
}

func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	if tokenIn == tokenOut {
		return false
	}
	_, ok := a.findPool(tokenIn, tokenOut)
	return ok
}
