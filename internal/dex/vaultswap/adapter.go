// Package vaultswap adapts vault-style batch venues: a single vault account
// holds the balances of every pool, and per-pool virtual reserves are kept
// as ledger storage words on the vault. The pair→pool registry stores both
// (A,B) and (B,A) keys so lookups are direction-agnostic.
package vaultswap

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

type pairKey struct {
	in, out token.Token
}

// Pool is one vault pool: an id plus the swap fee. Reserves are storage
// words keyed by (pool id, token).
type Pool struct {
	ID     common.Hash
	TokenA token.Token
	TokenB token.Token
	FeeBps uint64
}

// Adapter implements dex.Adapter over vault pools.
type Adapter struct {
	dex.BaseAdapter

	vault common.Address

	mu    sync.RWMutex
	pools map[pairKey]*Pool
}

// New creates an adapter trading against the given vault account.
func New(book *ledger.Book, log *zap.Logger, account, vault common.Address) *Adapter {
	return &Adapter{
		BaseAdapter: dex.NewBaseAdapter(book, log, "vaultswap", account),
		vault:       vault,
		pools:       make(map[pairKey]*Pool),
	}
}

func reserveKey(poolID common.Hash, t token.Token) common.Hash {
	return crypto.Keccak256Hash(poolID[:], t.Address().Bytes())
}

// RegisterPool derives a pool id from the name, stores the registry entry
// under both pair orderings and initializes the virtual reserves. The vault
// account must already hold the backing balances.
func (a *Adapter) RegisterPool(name string, tokenA, tokenB token.Token, reserveA, reserveB *big.Int, feeBps uint64) error {
	if tokenA == tokenB || tokenA.IsNative() || tokenB.IsNative() {
		return dex.ErrPairNotSupported
	}
	if !token.ValidAmount(reserveA) || !token.ValidAmount(reserveB) {
		return ledger.ErrInvalidAmount
	}
	if feeBps >= token.BasisPointsDenominator {
		return fmt.Errorf("pool fee %d out of range: %w", feeBps, ledger.ErrInvalidAmount)
	}
	id := crypto.Keccak256Hash([]byte(name))
	pool := &Pool{ID: id, TokenA: tokenA, TokenB: tokenB, FeeBps: feeBps}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pools[pairKey{tokenA, tokenB}]; ok {
		return dex.ErrPoolExists
	}
	a.pools[pairKey{tokenA, tokenB}] = pool
	a.pools[pairKey{tokenB, tokenA}] = pool
	a.setReserve(id, tokenA, reserveA)
	a.setReserve(id, tokenB, reserveB)
	a.Log.Info("Vault pool registered",
		zap.String("pool_id", id.Hex()),
		zap.String("token_a", tokenA.String()),
		zap.String("token_b", tokenB.String()),
		zap.Uint64("fee_bps", feeBps))
	return nil
}

func (a *Adapter) findPool(tokenIn, tokenOut token.Token) (*Pool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pairKey{tokenIn, tokenOut}]
	return p, ok
}

func (a *Adapter) reserve(poolID common.Hash, t token.Token) *big.Int {
	word := a.Book.Word(a.vault, reserveKey(poolID, t))
	return new(big.Int).SetBytes(word[:])
}

func (a *Adapter) setReserve(poolID common.Hash, t token.Token, v *big.Int) {
	var word common.Hash
	v.FillBytes(word[:])
	a.Book.SetWord(a.vault, reserveKey(poolID, t), word)
}

// GetQuote is a placeholder that echoes the input amount. The upstream
// venue computes batch-swap outputs only at execution time, so there is no
// reliable read-only estimate; best-route selection against this venue is
// therefore unreliable and intentionally left that way.
func (a *Adapter) GetQuote(_ context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) || tokenIn == tokenOut {
		return new(big.Int), nil, nil
	}
	if _, ok := a.findPool(tokenIn, tokenOut); !ok {
		return new(big.Int), nil, nil
	}
	return new(big.Int).Set(amountIn), nil, nil
}

// Swap executes a single-pool batch swap against the vault.
func (a *Adapter) Swap(_ context.Context, p dex.SwapParams) (*big.Int, error) {
	if err := dex.CheckSwapParams(p); err != nil {
		return nil, err
	}
	pool, ok := a.findPool(p.TokenIn, p.TokenOut)
	if !ok {
		return nil, fmt.Errorf("vaultswap %s/%s: %w", p.TokenIn, p.TokenOut, dex.ErrPairNotSupported)
	}

	reserveIn := a.reserve(pool.ID, p.TokenIn)
	reserveOut := a.reserve(pool.ID, p.TokenOut)
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, fmt.Errorf("vaultswap pool %s: %w", pool.ID.Hex(), dex.ErrNoLiquidity)
	}
	inWithFee := new(big.Int).Mul(p.AmountIn, big.NewInt(token.BasisPointsDenominator-int64(pool.FeeBps)))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(token.BasisPointsDenominator))
	denominator.Add(denominator, inWithFee)
	amountOut := numerator.Div(numerator, denominator)
	if amountOut.Sign() == 0 {
		return nil, fmt.Errorf("vaultswap pool %s: %w", pool.ID.Hex(), dex.ErrNoLiquidity)
	}
	if amountOut.Cmp(p.MinAmountOut) < 0 {
		return nil, fmt.Errorf("vaultswap: got %s want >= %s: %w",
			amountOut, p.MinAmountOut, dex.ErrInsufficientOutput)
	}

	if err := a.Pull(p.TokenIn, p.Caller, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.ApproveVenue(p.TokenIn, a.vault, p.AmountIn); err != nil {
		return nil, err
	}
	if err := a.Book.TransferFrom(p.TokenIn, a.vault, a.Account(), a.vault, p.AmountIn); err != nil {
		return nil, fmt.Errorf("vaultswap: vault pull: %w", err)
	}
	if err := a.Book.Transfer(p.TokenOut, a.vault, a.Account(), amountOut); err != nil {
		return nil, fmt.Errorf("vaultswap: vault payout: %w", err)
	}
	a.setReserve(pool.ID, p.TokenIn, new(big.Int).Add(reserveIn, p.AmountIn))
	a.setReserve(pool.ID, p.TokenOut, new(big.Int).Sub(reserveOut, amountOut))
	if err := a.Deliver(p.TokenOut, p.Caller, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// GetDexInfo names the vault as the primary address.
func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "VaultBatch", PrimaryAddress: a.vault}
}

func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	if tokenIn == tokenOut {
		return false
	}
	_, ok := a.findPool(tokenIn, tokenOut)
	return ok
}
