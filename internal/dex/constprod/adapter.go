// Package constprod adapts constant-product (x*y=k) pool venues. Pool
// reserves are the venue account's ledger balances, so a rolled-back
// operation restores them for free.
package constprod

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

// DefaultFeeBps is the usual LP fee for this venue family (0.30%).
const DefaultFeeBps = 30

// Pool is one constant-product pool. Reserves live on the pool account.
type Pool struct {
	Account common.Address
	TokenA  token.Token
	TokenB  token.Token
	FeeBps  uint64
}

// Adapter implements dex.Adapter over a registry of constant-product pools
// keyed by canonical pair.
type Adapter struct {
	dex.BaseAdapter

	mu    sync.RWMutex
	pools map[dex.Pair]*Pool
}

// New creates an adapter with an empty pool registry.
func New(book *ledger.Book, log *zap.Logger, account common.Address) *Adapter {
	return &Adapter{
		BaseAdapter: dex.NewBaseAdapter(book, log, "constprod", account),
		pools:       make(map[dex.Pair]*Pool),
	}
}

// AddPool registers a pool for a pair. Reserves are whatever the pool
// account holds; fund it through the ledger before trading.
func (a *Adapter) AddPool(tokenA, tokenB token.Token, poolAccount common.Address, feeBps uint64) error {
	if tokenA == tokenB || tokenA.IsNative() || tokenB.IsNative() {
		return dex.ErrPairNotSupported
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
	a.pools[pair] = &Pool{Account: poolAccount, TokenA: pair.A, TokenB: pair.B, FeeBps: feeBps}
	a.Log.Info("Pool registered",
		zap.String("token_a", pair.A.String()),
		zap.String("token_b", pair.B.String()),
		zap.String("pool", poolAccount.Hex()),
		zap.Uint64("fee_bps", feeBps))
	return nil
}

func (a *Adapter) findPool(tokenIn, tokenOut token.Token) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[dex.NewPair(tokenIn, tokenOut)]
	return p, ok
}

// getAmountOut is the standard constant-product formula with the LP fee
// taken from the input side.
func getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return new(big.Int)
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(token.BasisPointsDenominator-int64(feeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(token.BasisPointsDenominator))
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator)
}

// GetQuote estimates the output against current reserves.
func (a *Adapter) GetQuote(_ context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) {
		return new(big.Int), nil, nil
	}
	pool, ok := a.findPool(tokenIn, tokenOut)
	if !ok {
		return new(big.Int), nil, nil
	}
	reserveIn := a.Book.BalanceOf(tokenIn, pool.Account)
	reserveOut := a.Book.BalanceOf(tokenOut, pool.Account)
	return getAmountOut(amountIn, reserveIn, reserveOut, pool.FeeBps), nil, nil
}

// Swap trades against the pool for the pair. The pool pulls the input from
// the adapter under a reset-then-set allowance and pays the output back.
func (a *Adapter) Swap(_ context.Context, p dex.SwapParams) (*big.Int, error) {
	if err := dex.CheckSwapParams(p); err != nil {
		return nil, err
	}
	pool, ok := a.findPool(p.TokenIn, p.TokenOut)
	if !ok {
		return nil, fmt.Errorf("constprod %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrPairNotSupported)
	}

	reserveIn := a.Book.BalanceOf(p.TokenIn, pool.Account)
	reserveOut := a.Book.BalanceOf(p.TokenOut, pool.Account)
	amountOut := getAmountOut(p.AmountIn, reserveIn, reserveOut, pool.FeeBps)
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("constprod %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrNoLiquidity)
	}
	if amountOut.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("constprod: got %s want >= %s: %w",
			amountOut, p.MinAmountOut, dex.ErrInsufficientOutput)
	}

	if err := a.Pull(p.TokenIn, p.Caller, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.ApproveVenue(p.TokenIn, pool.Account, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.Book.TransferFrom(p.TokenIn, pool.Account, a.Account(), pool.Account, p.AmountIn); err != nil {
		return nil, fmt.Errorf("constprod: pool pull: %w", err)
	}
	if err := a.Book.Transfer(p.TokenOut, pool.Account, a.Account(), amountOut); err != nil {
		return nil, fmt.Errorf("constprod: pool payout: %w", err)
	}
	if err := a.Deliver(p.TokenOut, p.Caller, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// GetDexInfo returns the adapter descriptor. The primary address is the
// adapter account since pools are per-pair.
func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "ConstantProduct", PrimaryAddress: a.Account()}
}

// IsPairSupported reports whether a pool exists for the pair.
func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	if tokenIn == tokenOut {
		return false
	}
	_, ok := a.findPool(tokenIn, tokenOut)
	return ok
}
