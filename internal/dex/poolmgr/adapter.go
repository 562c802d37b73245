// Package poolmgr adapts singleton pool-manager venues: every pool lives
// inside one manager account, identified by a hash of its pool key. The
// pair→pool registry stores both (A,B) and (B,A) keys. Pool liquidity is a
// fixed depth parameter; the manager account holds the actual balances.
package poolmgr

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

// feePipsDenominator is the manager's fee unit: hundredths of a basis point.
const feePipsDenominator = 1_000_000

// FeeMax caps per-pool fees at 10%.
const FeeMax = 100_000

type pairKey struct {
	in, out token.Token
}

// Pool is one managed pool. Depth acts as the virtual liquidity parameter
// of the manager's pricing curve.
type Pool struct {
	ID      common.Hash
	Token0  token.Token
	Token1  token.Token
	FeePips uint32
	Depth   *big.Int
}

// Adapter implements dex.Adapter over the singleton manager.
type Adapter struct {
	dex.BaseAdapter

	manager common.Address

	mu    sync.RWMutex
	pools map[pairKey]*Pool
}

// New creates an adapter trading against the given manager account.
func New(book *ledger.Book, log *zap.Logger, account, manager common.Address) *Adapter {
	return &Adapter{
		BaseAdapter: dex.NewBaseAdapter(book, log, "poolmgr", account),
		manager:     manager,
		pools:       make(map[pairKey]*Pool),
	}
}

// InitializePool registers a pool under a content-derived id. Token order is
// canonicalized before hashing so both orderings map to the same pool.
func (a *Adapter) InitializePool(tokenA, tokenB token.Token, feePips uint32, depth *big.Int) error {
	if tokenA == tokenB || tokenA.IsNative() || tokenB.IsNative() {
		return dex.ErrPairNotSupported
	}
	if feePips > FeeMax {
		return fmt.Errorf("fee %d above max: %w", feePips, ledger.ErrInvalidAmount)
	}
	if !token.ValidAmount(depth) {
		return dex.ErrNoLiquidity
	}
	pair := dex.NewPair(tokenA, tokenB)
	var feeBuf [4]byte
	feeBuf[0] = byte(feePips >> 24)
	feeBuf[1] = byte(feePips >> 16)
	feeBuf[2] = byte(feePips >> 8)
	feeBuf[3] = byte(feePips)
	id := crypto.Keccak256Hash(pair.A.Address().Bytes(), pair.B.Address().Bytes(), feeBuf[:])

	pool := &Pool{
		ID:      id,
		Token0:  pair.A,
		Token1:  pair.B,
		FeePips: feePips,
		Depth:   new(big.Int).Set(depth),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pairKey{tokenA, tokenB}]; ok {
		return dex.ErrPoolExists
	}
	a.pools[pairKey{tokenA, tokenB}] = pool
	a.pools[pairKey{tokenB, tokenA}] = pool
	a.Log.Info("Pool initialized",
		zap.String("pool_id", id.Hex()),
		zap.String("token0", pair.A.String()),
		zap.String("token1", pair.B.String()),
		zap.Uint32("fee_pips", feePips))
	return nil
}

func (a *Adapter) findPool(tokenIn, tokenOut token.Token) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pairKey{tokenIn, tokenOut}]
	return p, ok
}

// GetQuote is a placeholder that echoes the input amount. The manager's
// pricing depends on execution-time flash accounting, so no read-only
// estimate is produced; best-route selection against this venue is
// unreliable and intentionally left that way.
func (a *Adapter) GetQuote(_ context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) || tokenIn == tokenOut {
		return new(big.Int), nil, nil
	}
	if _, ok := a.findPool(tokenIn, tokenOut); !ok {
		return new(big.Int), nil, nil
	}
	return new(big.Int).Set(amountIn), nil, nil
}

// computeOutput prices the trade against the pool depth:
// out = in' * depth / (depth + in') with the fee taken from the input.
func computeOutput(p *Pool, amountIn *big.Int) *big.Int {
	inLessFee := new(big.Int).Mul(amountIn, big.NewInt(feePipsDenominator-int64(p.FeePips)))
	inLessFee.Div(inLessFee, big.NewInt(feePipsDenominator))
	numerator := new(big.Int).Mul(inLessFee, p.Depth)
	denominator := new(big.Int).Add(p.Depth, inLessFee)
	return numerator.Div(numerator, denominator)
}

// Swap executes against the manager account.
func (a *Adapter) Swap(_ context.Context, p dex.SwapParams) (*big.Int, error) {
	if err := dex.CheckSwapParams(p); err != nil {
		return nil, err
	}
	pool, ok := a.findPool(p.TokenIn, p.TokenOut)
	if !ok {
		return nil, fmt.Errorf("poolmgr %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrPairNotSupported)
	}
	amountOut := computeOutput(pool, p.AmountIn)
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("poolmgr pool %s: %w", pool.ID.Hex(), dex.ErrNoLiquidity)
	}
	if amountOut.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("poolmgr: got %s want >= %s: %w",
			amountOut, p.MinAmountOut, dex.ErrInsufficientOutput)
	}

	if err := a.Pull(p.TokenIn, p.Caller, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.ApproveVenue(p.TokenIn, a.manager, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.Book.TransferFrom(p.TokenIn, a.manager, a.Account(), a.manager, p.AmountIn); err != nil {
		return nil, fmt.Errorf("poolmgr: manager pull: %w", err)
	}
	if err := a.Book.Transfer(p.TokenOut, a.manager, a.Account(), amountOut); err != nil {
		return nil, fmt.Errorf("poolmgr: manager payout: %w", err)
	}
	if err := a.Deliver(p.TokenOut, p.Caller, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// GetDexInfo names the manager as the primary address.
func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "PoolManager", PrimaryAddress: a.manager}
}

func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	if tokenIn == tokenOut {
		return false
	}
	_, ok := a.findPool(tokenIn, tokenOut)
	return ok
}
