package poolmgr

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

var (
	tokenA      = token.FromHex("0x2000000000000000000000000000000000000001")
	tokenB      = token.FromHex("0x2000000000000000000000000000000000000002")
	adapterAcct = common.HexToAddress("0xd000000000000000000000000000000000000001")
	managerAcct = common.HexToAddress("0xd000000000000000000000000000000000000002")
	trader      = common.HexToAddress("0xa000000000000000000000000000000000000001")
)

func newTestAdapter(t *testing.T) (*ledger.Book, *Adapter) {
	t.Helper()
	book := ledger.NewBook(zap.NewNop())
	require.NoError(t, book.RegisterToken(tokenA, ledger.TokenInfo{Symbol: "AAA", Decimals: 18}))
	require.NoError(t, book.RegisterToken(tokenB, ledger.TokenInfo{Symbol: "BBB", Decimals: 18}))

	// The manager account holds the actual balances behind every pool.
	require.NoError(t, book.Mint(tokenA, managerAcct, big.NewInt(1_000_000)))
	require.NoError(t, book.Mint(tokenB, managerAcct, big.NewInt(1_000_000)))

	a := New(book, zap.NewNop(), adapterAcct, managerAcct)
	require.NoError(t, a.InitializePool(tokenA, tokenB, 3000, big.NewInt(1_000_000)))
	return book, a
}

func TestInitializePoolValidation(t *testing.T) {
	_, a := newTestAdapter(t)

	assert.ErrorIs(t, a.InitializePool(tokenA, tokenB, 3000, big.NewInt(1)), dex.ErrPoolExists)
	// Reversed order maps to the same pool.
	assert.ErrorIs(t, a.InitializePool(tokenB, tokenA, 3000, big.NewInt(1)), dex.ErrPoolExists)
	assert.ErrorIs(t, a.InitializePool(tokenA, tokenA, 3000, big.NewInt(1)), dex.ErrPairNotSupported)
	assert.ErrorIs(t, a.InitializePool(token.Native(), tokenB, 3000, big.NewInt(1)), dex.ErrPairNotSupported)

	other := token.FromHex("0x2000000000000000000000000000000000000099")
	assert.ErrorIs(t, a.InitializePool(tokenA, other, FeeMax+1, big.NewInt(1)), ledger.ErrInvalidAmount)
	assert.ErrorIs(t, a.InitializePool(tokenA, other, 3000, new(big.Int)), dex.ErrNoLiquidity)
}

func TestGetQuoteEchoesInput(t *testing.T) {
	_, a := newTestAdapter(t)
	ctx := context.Background()

	// Pricing needs execution-time accounting; the quote only signals that
	// the pair is live by echoing the input.
	in := big.NewInt(555)
	out, data, err := a.GetQuote(ctx, tokenA, tokenB, in)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, in, out)
	assert.NotSame(t, in, out)

	other := token.FromHex("0x2000000000000000000000000000000000000099")
	out, _, err = a.GetQuote(ctx, tokenA, other, in)
	require.NoError(t, err)
	assert.Zero(t, out.Sign())

	out, _, err = a.GetQuote(ctx, tokenA, tokenB, nil)
	require.NoError(t, err)
	assert.Zero(t, out.Sign())
}

func TestComputeOutput(t *testing.T) {
	pool := &Pool{FeePips: 3000, Depth: big.NewInt(1_000_000)}

	// 10_000 in, 0.30% fee: in' = 9970, out = 9970*1e6/(1e6+9970) = 9871.
	out := computeOutput(pool, big.NewInt(10_000))
	assert.Equal(t, int64(9_871), out.Int64())

	// Zero-fee pool degenerates to the plain depth curve.
	pool = &Pool{FeePips: 0, Depth: big.NewInt(1_000_000)}
	out = computeOutput(pool, big.NewInt(10_000))
	assert.Equal(t, int64(9_900), out.Int64())

	// Tiny input floors to zero output.
	pool = &Pool{FeePips: 3000, Depth: big.NewInt(10)}
	out = computeOutput(pool, big.NewInt(1))
	assert.Zero(t, out.Sign())
}

func TestSwap(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	in := big.NewInt(10_000)
	require.NoError(t, book.Mint(tokenA, trader, in))
	require.NoError(t, book.Approve(tokenA, trader, adapterAcct, in))

	out, err := a.Swap(ctx, dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     in,
		MinAmountOut: big.NewInt(9_871),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9_871), out.Int64())

	assert.Zero(t, book.BalanceOf(tokenA, trader).Sign())
	assert.Equal(t, int64(9_871), book.BalanceOf(tokenB, trader).Int64())
	assert.Equal(t, int64(1_010_000), book.BalanceOf(tokenA, managerAcct).Int64())
	assert.Equal(t, int64(990_129), book.BalanceOf(tokenB, managerAcct).Int64())
}

func TestSwapMinOut(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, book.Mint(tokenA, trader, big.NewInt(10_000)))
	require.NoError(t, book.Approve(tokenA, trader, adapterAcct, big.NewInt(10_000)))

	_, err := a.Swap(ctx, dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(10_000),
		MinAmountOut: big.NewInt(9_872),
	})
	assert.ErrorIs(t, err, dex.ErrInsufficientOutput)
	assert.Equal(t, int64(10_000), book.BalanceOf(tokenA, trader).Int64())
}

func TestSwapUnknownPair(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	other := token.FromHex("0x2000000000000000000000000000000000000099")
	require.NoError(t, book.RegisterToken(other, ledger.TokenInfo{Symbol: "OTH"}))
	require.NoError(t, book.Mint(tokenA, trader, big.NewInt(100)))

	_, err := a.Swap(ctx, dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     other,
		AmountIn:     big.NewInt(100),
		MinAmountOut: new(big.Int),
	})
	assert.ErrorIs(t, err, dex.ErrPairNotSupported)
}

func TestIsPairSupported(t *testing.T) {
	_, a := newTestAdapter(t)
	assert.True(t, a.IsPairSupported(tokenA, tokenB))
	assert.True(t, a.IsPairSupported(tokenB, tokenA))
	assert.False(t, a.IsPairSupported(tokenA, tokenA))
	assert.False(t, a.IsPairSupported(tokenA, token.FromHex("0x2000000000000000000000000000000000000099")))
}
