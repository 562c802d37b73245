// Package clmm adapts concentrated-liquidity venues. Each pair can have a
// pool per fee tier; quoting probes every tier and picks the one paying the
// most, skipping tiers with no liquidity. Mutable pool state (the current
// sqrt price) lives in ledger storage words so rollback covers it.
package clmm

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

// FeeTiers are the tiers probed during quoting: 0.05%, 0.30%, 1.00%.
var FeeTiers = []uint32{500, 3000, 10000}

var sqrtPriceKey = crypto.Keccak256Hash([]byte("clmm.sqrtPriceX96"))

type poolKey struct {
	pair dex.Pair
	tier uint32
}

// Pool is one fee-tier pool. Liquidity is fixed at registration; the sqrt
// price moves with every swap and is stored on the pool account.
type Pool struct {
	Account   common.Address
	Pair      dex.Pair
	FeeTier   uint32
	Liquidity *uint256.Int
}

// Adapter implements dex.Adapter over per-tier concentrated pools.
type Adapter struct {
	dex.BaseAdapter

	mu    sync.RWMutex
	pools map[poolKey]*Pool
}

// New creates an adapter with no pools.
func New(book *ledger.Book, log *zap.Logger, account common.Address) *Adapter {
	return &Adapter{
		BaseAdapter: dex.NewBaseAdapter(book, log, "clmm", account),
		pools:       make(map[poolKey]*Pool),
	}
}

// AddPool registers a pool for (pair, tier) and initializes its sqrt price.
func (a *Adapter) AddPool(tokenA, tokenB token.Token, feeTier uint32, poolAccount common.Address, liquidity, sqrtPriceX96 *big.Int) error {
	if tokenA == tokenB || tokenA.IsNative() || tokenB.IsNative() {
		return dex.ErrPairNotSupported
	}
	if !validTier(feeTier) {
		return fmt.Errorf("fee tier %d: %w", feeTier, dex.ErrInvalidVenueData)
	}
	liq, ok := fromBig(liquidity)
	if !ok || liq.IsZero() {
		return dex.ErrNoLiquidity
	}
	price, ok := fromBig(sqrtPriceX96)
	if !ok || price.IsZero() {
		return ledger.ErrInvalidAmount
	}
	key := poolKey{pair: dex.NewPair(tokenA, tokenB), tier: feeTier}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.pools[key]; exists {
		return dex.ErrPoolExists
	}
	a.pools[key] = &Pool{Account: poolAccount, Pair: key.pair, FeeTier: feeTier, Liquidity: liq}
	a.Book.SetWord(poolAccount, sqrtPriceKey, common.Hash(price.Bytes32()))
	a.Log.Info("Pool registered",
		zap.String("token_a", key.pair.A.String()),
		zap.String("token_b", key.pair.B.String()),
		zap.Uint32("fee_tier", feeTier),
		zap.String("pool", poolAccount.Hex()))
	return nil
}

func validTier(tier uint32) bool {
	for _, t := range FeeTiers {
		if t == tier {
			return true
		}
	}
	return false
}

func (a *Adapter) pool(pair dex.Pair, tier uint32) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[poolKey{pair: pair, tier: tier}]
	return p, ok
}

func (a *Adapter) sqrtPrice(p *Pool) *uint256.Int {
	word := a.Book.Word(p.Account, sqrtPriceKey)
	return new(uint256.Int).SetBytes(word[:])
}

// simulate computes the output for one tier without touching state.
func (a *Adapter) simulate(p *Pool, tokenIn token.Token, amountIn *uint256.Int) (*uint256.Int, *uint256.Int, bool) {
	zeroForOne := tokenIn == p.Pair.A
	inLessFee := applyFeePips(amountIn, p.FeeTier)
	out, next, ok := swapWithinBand(p.Liquidity, a.sqrtPrice(p), inLessFee, zeroForOne)
	if !ok || out.IsZero() {
		return nil, nil, false
	}
	return out, next, true
}

// bestTier probes every fee tier and returns the pool yielding the highest
// output. Tiers without a pool or without liquidity are skipped silently.
func (a *Adapter) bestTier(tokenIn, tokenOut token.Token, amountIn *uint256.Int) (*Pool, *uint256.Int, *uint256.Int) {
	pair := dex.NewPair(tokenIn, tokenOut)
	var (
		best     *Pool
		bestOut  *uint256.Int
		bestNext *uint256.Int
	)
	for _, tier := range FeeTiers {
		p, ok := a.pool(pair, tier)
		if !ok {
			continue
		}
		out, next, ok := a.simulate(p, tokenIn, amountIn)
		if !ok {
			continue
		}
		if best == nil || out.Gt(bestOut) {
			best, bestOut, bestNext = p, out, next
		}
	}
	return best, bestOut, bestNext
}

// GetQuote probes all fee tiers and encodes the winning tier into the venue
// payload so the subsequent swap does not re-probe.
func (a *Adapter) GetQuote(_ context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	in, ok := fromBig(amountIn)
	if !ok || in.IsZero() || tokenIn == tokenOut {
		return new(big.Int), nil, nil
	}
	best, out, _ := a.bestTier(tokenIn, tokenOut, in)
	if best == nil {
		return new(big.Int), nil, nil
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, best.FeeTier)
	return out.ToBig(), data, nil
}

// Swap executes against the tier named in the venue payload, or re-probes
// all tiers when the payload is empty.
func (a *Adapter) Swap(_ context.Context, p dex.SwapParams) (*big.Int, error) {
	if err := dex.CheckSwapParams(p); err != nil {
		return nil, err
	}
	in, ok := fromBig(p.AmountIn)
	if !ok {
		return nil, ledger.ErrInvalidAmount
	}

	var (
		pool *Pool
		out  *uint256.Int
		next *uint256.Int
	)
	switch len(p.VenueData) {
	case 0:
		pool, out, next = a.bestTier(p.TokenIn, p.TokenOut, in)
	case 4:
		tier := binary.BigEndian.Uint32(p.VenueData)
		if !validTier(tier) {
			return nil, fmt.Errorf("clmm: tier %d: %w", tier, dex.ErrInvalidVenueData)
		}
		tp, exists := a.pool(dex.NewPair(p.TokenIn, p.TokenOut), tier)
		if !exists {
			return nil, fmt.Errorf("clmm: no pool for tier %d: %w", tier, dex.ErrPairNotSupported)
		}
		var simOK bool
		out, next, simOK = a.simulate(tp, p.TokenIn, in)
		if !simOK {
			return nil, fmt.Errorf("clmm: tier %d: %w", tier, dex.ErrNoLiquidity)
		}
		pool = tp
	default:
		return nil, fmt.Errorf("clmm: payload length %d: %w", len(p.VenueData), dex.ErrInvalidVenueData)
	}
	if pool == nil {
		return nil, fmt.Errorf("clmm %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrNoLiquidity)
	}

	amountOut := out.ToBig()
	if amountOut.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("clmm: got %s want >= %s: %w", amountOut, p.MinAmountOut, dex.ErrInsufficientOutput)
	}

	if err := a.Pull(p.TokenIn, p.Caller, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.ApproveVenue(p.TokenIn, pool.Account, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.Book.TransferFrom(p.TokenIn, pool.Account, a.Account(), pool.Account, p.AmountIn); err != nil {
		return nil, fmt.Errorf("clmm: pool pull: %w", err)
	}
	if err := a.Book.Transfer(p.TokenOut, pool.Account, a.Account(), amountOut); err != nil {
		return nil, fmt.Errorf("clmm: pool payout: %w", err)
	}
	a.Book.SetWord(pool.Account, sqrtPriceKey, common.Hash(next.Bytes32()))
	if err := a.Deliver(p.TokenOut, p.Caller, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "ConcentratedLiquidity", PrimaryAddress: a.Account()}
}

// IsPairSupported reports whether any fee tier has a pool for the pair.
func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	if tokenIn == tokenOut {
		return false
	}
	pair := dex.NewPair(tokenIn, tokenOut)
	for _, tier := range FeeTiers {
		if _, ok := a.pool(pair, tier); ok {
			return true
		}
	}
	return false
}
