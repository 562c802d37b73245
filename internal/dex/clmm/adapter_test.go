package clmm

import (
	"context"
	"encoding/binary"
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
	pool3000    = common.HexToAddress("0xd000000000000000000000000000000000000002")
	pool500     = common.HexToAddress("0xd000000000000000000000000000000000000003")
	trader      = common.HexToAddress("0xa000000000000000000000000000000000000001")
)

// sqrtPriceOne is Q64.96 for price 1.0.
var sqrtPriceOne = new(big.Int).Lsh(big.NewInt(1), 96)

func liquidity() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
}

func newTestAdapter(t *testing.T) (*ledger.Book, *Adapter) {
	t.Helper()
	book := ledger.NewBook(zap.NewNop())
	require.NoError(t, book.RegisterToken(tokenA, ledger.TokenInfo{Symbol: "AAA", Decimals: 18}))
	require.NoError(t, book.RegisterToken(tokenB, ledger.TokenInfo{Symbol: "BBB", Decimals: 18}))

	require.NoError(t, book.Mint(tokenA, pool3000, big.NewInt(1_000_000)))
	require.NoError(t, book.Mint(tokenB, pool3000, big.NewInt(1_000_000)))

	a := New(book, zap.NewNop(), adapterAcct)
	require.NoError(t, a.AddPool(tokenA, tokenB, 3000, pool3000, liquidity(), sqrtPriceOne))
	return book, a
}

func TestAddPoolValidation(t *testing.T) {
	book := ledger.NewBook(zap.NewNop())
	require.NoError(t, book.RegisterToken(tokenA, ledger.TokenInfo{Symbol: "AAA"}))
	require.NoError(t, book.RegisterToken(tokenB, ledger.TokenInfo{Symbol: "BBB"}))
	a := New(book, zap.NewNop(), adapterAcct)

	assert.ErrorIs(t, a.AddPool(tokenA, tokenB, 1234, pool3000, liquidity(), sqrtPriceOne), dex.ErrInvalidVenueData)
	assert.ErrorIs(t, a.AddPool(tokenA, tokenB, 3000, pool3000, new(big.Int), sqrtPriceOne), dex.ErrNoLiquidity)
	assert.ErrorIs(t, a.AddPool(tokenA, tokenA, 3000, pool3000, liquidity(), sqrtPriceOne), dex.ErrPairNotSupported)

	require.NoError(t, a.AddPool(tokenA, tokenB, 3000, pool3000, liquidity(), sqrtPriceOne))
	assert.ErrorIs(t, a.AddPool(tokenB, tokenA, 3000, pool3000, liquidity(), sqrtPriceOne), dex.ErrPoolExists)
}

func TestGetQuoteEncodesTier(t *testing.T) {
	_, a := newTestAdapter(t)
	ctx := context.Background()

	out, data, err := a.GetQuote(ctx, tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, uint32(3000), binary.BigEndian.Uint32(data))

	// At price 1.0, output tracks input minus the 0.30% fee.
	assert.Positive(t, out.Int64())
	assert.LessOrEqual(t, out.Int64(), int64(997))
	assert.GreaterOrEqual(t, out.Int64(), int64(990))
}

func TestGetQuotePicksBestTier(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	// A 0.05% pool at the same price must win the probe.
	require.NoError(t, book.Mint(tokenA, pool500, big.NewInt(1_000_000)))
	require.NoError(t, book.Mint(tokenB, pool500, big.NewInt(1_000_000)))
	require.NoError(t, a.AddPool(tokenA, tokenB, 500, pool500, liquidity(), sqrtPriceOne))

	out, data, err := a.GetQuote(ctx, tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, uint32(500), binary.BigEndian.Uint32(data))
	assert.Greater(t, out.Int64(), int64(990))
}

func TestGetQuoteMisses(t *testing.T) {
	_, a := newTestAdapter(t)
	ctx := context.Background()

	other := token.FromHex("0x2000000000000000000000000000000000000099")
	out, data, err := a.GetQuote(ctx, tokenA, other, big.NewInt(1000))
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Zero(t, out.Sign())
}

func TestSwapWithQuotedTier(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	quoted, data, err := a.GetQuote(ctx, tokenA, tokenB, big.NewInt(1000))
	require.NoError(t, err)

	require.NoError(t, book.Mint(tokenA, trader, big.NewInt(1000)))
	require.NoError(t, book.Approve(tokenA, trader, adapterAcct, big.NewInt(1000)))

	priceBefore := book.Word(pool3000, sqrtPriceKey)

	out, err := a.Swap(ctx, dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(1000),
		MinAmountOut: quoted,
		VenueData:    data,
	})
	require.NoError(t, err)
	assert.Equal(t, quoted, out)
	assert.Equal(t, out, book.BalanceOf(tokenB, trader))

	// Selling token0 moves the stored sqrt price down.
	priceAfter := book.Word(pool3000, sqrtPriceKey)
	assert.NotEqual(t, priceBefore, priceAfter)
	assert.Negative(t, new(big.Int).SetBytes(priceAfter[:]).Cmp(new(big.Int).SetBytes(priceBefore[:])))
}

func TestSwapReprobesOnEmptyData(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, book.Mint(tokenA, trader, big.NewInt(1000)))
	require.NoError(t, book.Approve(tokenA, trader, adapterAcct, big.NewInt(1000)))

	out, err := a.Swap(ctx, dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(1000),
		MinAmountOut: new(big.Int),
	})
	require.NoError(t, err)
	assert.Positive(t, out.Int64())
}

func TestSwapRejectsBadVenueData(t *testing.T) {
	book, a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, book.Mint(tokenA, trader, big.NewInt(1000)))
	require.NoError(t, book.Approve(tokenA, trader, adapterAcct, big.NewInt(1000)))

	base := dex.SwapParams{
		Caller:       trader,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(1000),
		MinAmountOut: new(big.Int),
	}

	// Wrong payload length.
	p := base
	p.VenueData = []byte{1, 2, 3}
	_, err := a.Swap(ctx, p)
	assert.ErrorIs(t, err, dex.ErrInvalidVenueData)

	// Unknown tier value.
	p = base
	p.VenueData = make([]byte, 4)
	binary.BigEndian.PutUint32(p.VenueData, 1234)
	_, err = a.Swap(ctx, p)
	assert.ErrorIs(t, err, dex.ErrInvalidVenueData)

	// Valid tier without a pool.
	p = base
	p.VenueData = make([]byte, 4)
	binary.BigEndian.PutUint32(p.VenueData, 10000)
	_, err = a.Swap(ctx, p)
	assert.ErrorIs(t, err, dex.ErrPairNotSupported)

	// Malformed payloads must not move funds.
	assert.Equal(t, int64(1000), book.BalanceOf(tokenA, trader).Int64())
}

func TestIsPairSupported(t *testing.T) {
	_, a := newTestAdapter(t)
	assert.True(t, a.IsPairSupported(tokenA, tokenB))
	assert.True(t, a.IsPairSupported(tokenB, tokenA))
	assert.False(t, a.IsPairSupported(tokenA, tokenA))
	assert.False(t, a.IsPairSupported(tokenA, token.FromHex("0x2000000000000000000000000000000000000099")))
}
