package router

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openliq/aggregator/internal/token"
)

func TestGetBestRoute(t *testing.T) {
	book, engine := newTestRouter(t)
	ctx := context.Background()

	low := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000031"), "low")
	low.quote = big.NewInt(100)
	high := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000032"), "high")
	high.quote = big.NewInt(200)

	_, err := engine.RegisterAdapter(adminAddr, "low", low)
	require.NoError(t, err)
	highID, err := engine.RegisterAdapter(adminAddr, "high", high)
	require.NoError(t, err)

	venue, out, _, err := engine.GetBestRoute(ctx, usdq, usdx, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, highID, venue)
	assert.Equal(t, int64(200), out.Int64())
}

func TestGetBestRouteTieGoesToFirstRegistered(t *testing.T) {
	book, engine := newTestRouter(t)
	ctx := context.Background()

	first := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000031"), "first")
	first.quote = big.NewInt(200)
	second := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000032"), "second")
	second.quote = big.NewInt(200)

	firstID, err := engine.RegisterAdapter(adminAddr, "first", first)
	require.NoError(t, err)
	_, err = engine.RegisterAdapter(adminAddr, "second", second)
	require.NoError(t, err)

	venue, _, _, err := engine.GetBestRoute(ctx, usdq, usdx, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, firstID, venue)
}

func TestGetBestRouteErrors(t *testing.T) {
	book, engine := newTestRouter(t)
	ctx := context.Background()

	_, _, _, err := engine.GetBestRoute(ctx, usdq, usdx, new(big.Int))
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, _, _, err = engine.GetBestRoute(ctx, usdq, usdq, big.NewInt(1))
	assert.ErrorIs(t, err, ErrSameToken)

	// Native against its wrapped form resolves to the same token.
	_, _, _, err = engine.GetBestRoute(ctx, token.Native(), wnat, big.NewInt(1))
	assert.ErrorIs(t, err, ErrSameToken)

	// No venues registered at all.
	_, _, _, err = engine.GetBestRoute(ctx, usdq, usdx, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoDexAdapters)

	// Venues exist but none quotes a positive output.
	mute := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000033"), "mute")
	_, err = engine.RegisterAdapter(adminAddr, "mute", mute)
	require.NoError(t, err)
	_, _, _, err = engine.GetBestRoute(ctx, usdq, usdx, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoRouteFound)
	// The specific failure still matches the broad no-adapter sentinel.
	assert.ErrorIs(t, err, ErrNoDexAdapters)
}

func TestGetBestRouteResolvesNative(t *testing.T) {
	book, engine := newTestRouter(t)
	ctx := context.Background()

	s := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000031"), "echo")
	s.quote = big.NewInt(50)
	id, err := engine.RegisterAdapter(adminAddr, "echo", s)
	require.NoError(t, err)

	venue, out, _, err := engine.GetBestRoute(ctx, token.Native(), usdq, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, id, venue)
	assert.Equal(t, int64(50), out.Int64())
}

func TestGetAllQuotes(t *testing.T) {
	book, engine := newTestRouter(t)
	ctx := context.Background()

	good := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000031"), "good")
	good.quote = big.NewInt(500)
	bad := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000032"), "bad")
	bad.quoteErr = errors.New("venue offline")
	wild := newStub(book, common.HexToAddress("0x4000000000000000000000000000000000000033"), "wild")
	wild.quotePanic = true

	goodID, err := engine.RegisterAdapter(adminAddr, "good", good)
	require.NoError(t, err)
	badID, err := engine.RegisterAdapter(adminAddr, "bad", bad)
	require.NoError(t, err)
	wildID, err := engine.RegisterAdapter(adminAddr, "wild", wild)
	require.NoError(t, err)

	quotes, err := engine.GetAllQuotes(ctx, usdq, usdx, big.NewInt(1_000))
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	// One slot per venue in enumeration order; misbehaving venues fill
	// theirs with a zero quote instead of aborting the scan.
	assert.Equal(t, goodID, quotes[0].VenueID)
	assert.Equal(t, "good", quotes[0].Name)
	assert.Equal(t, int64(500), quotes[0].AmountOut.Int64())

	assert.Equal(t, badID, quotes[1].VenueID)
	assert.Zero(t, quotes[1].AmountOut.Sign())

	assert.Equal(t, wildID, quotes[2].VenueID)
	assert.Zero(t, quotes[2].AmountOut.Sign())
}

func TestGetAllQuotesValidation(t *testing.T) {
	_, engine := newTestRouter(t)

	_, err := engine.GetAllQuotes(context.Background(), usdq, usdx, nil)
	assert.ErrorIs(t, err, ErrZeroAmount)

	quotes, err := engine.GetAllQuotes(context.Background(), usdq, usdx, big.NewInt(1))
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
