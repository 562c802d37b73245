package router

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/token"
)

// GetBestRoute scans all registered venues and returns the one quoting the
// highest output for amountIn, with the venue payload to pass back into
// Swap. Native sentinels are resolved to the wrapped token before quoting.
func (r *Router) GetBestRoute(ctx context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (VenueID, *big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) {
		return VenueID{}, nil, nil, ErrZeroAmount
	}
	if tokenIn == tokenOut {
		return VenueID{}, nil, nil, ErrSameToken
	}
	effIn, err := r.resolve(tokenIn)
	if err != nil {
		return VenueID{}, nil, nil, err
	}
	effOut, err := r.resolve(tokenOut)
	if err != nil {
		return VenueID{}, nil, nil, err
	}
	if effIn == effOut {
		return VenueID{}, nil, nil, ErrSameToken
	}
	venue, _, best, data, err := r.bestRoute(ctx, effIn, effOut, amountIn)
	if err != nil {
		return VenueID{}, nil, nil, err
	}
	return venue, best, data, nil
}

// bestRoute picks the venue with the strictly highest quote, in enumeration
// order, so the first registered venue wins ties.
func (r *Router) bestRoute(ctx context.Context, effIn, effOut token.Token, amountIn *big.Int) (VenueID, dex.Adapter, *big.Int, []byte, error) {
	ids, adapters := r.venues.snapshot()
	if len(ids) == 0 {
		return VenueID{}, nil, nil, nil, ErrNoDexAdapters
	}

	var (
		bestID      VenueID
		bestAdapter dex.Adapter
		bestOut     = new(big.Int)
		bestData    []byte
	)
	for i, adapter := range adapters {
		out, data := r.quoteAdapter(ctx, adapter, effIn, effOut, amountIn)
		if out.Cmp(bestOut) > 0 {
			bestID, bestAdapter, bestOut, bestData = ids[i], adapter, out, data
		}
	}
	if bestAdapter == nil {
		return VenueID{}, nil, nil, nil, ErrNoRouteFound
	}
	return bestID, bestAdapter, bestOut, bestData, nil
}

// GetAllQuotes fans the quote out to every venue in parallel and returns
// one slot per venue in enumeration order. A venue that fails, panics or
// cannot serve the pair fills its slot with a zero quote.
func (r *Router) GetAllQuotes(ctx context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) ([]VenueQuote, error) {
	if !token.ValidAmount(amountIn) {
		return nil, ErrZeroAmount
	}
	effIn, err := r.resolve(tokenIn)
	if err != nil {
		return nil, err
	}
	effOut, err := r.resolve(tokenOut)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ids, adapters := r.venues.snapshot()
	quotes := make([]VenueQuote, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i := range adapters {
		g.Go(func() error {
			adapter := adapters[i]
			info := describeAdapter(adapter, r.log)
			out, data := r.quoteAdapter(gctx, adapter, effIn, effOut, amountIn)
			quotes[i] = VenueQuote{
				VenueID:   ids[i],
				Name:      info.Name,
				AmountOut: out,
				VenueData: data,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.metrics.ObserveQuoteScan(time.Since(start))
	return quotes, nil
}

// quoteAdapter asks one venue for a quote, absorbing errors and panics: a
// misbehaving venue yields a zero quote, never an aborted scan.
func (r *Router) quoteAdapter(ctx context.Context, adapter dex.Adapter, effIn, effOut token.Token, amountIn *big.Int) (out *big.Int, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("Adapter panicked during quote", zap.Any("panic", rec))
			out, data = new(big.Int), nil
		}
	}()
	quoted, payload, err := adapter.GetQuote(ctx, effIn, effOut, amountIn)
	if err != nil || quoted == nil || quoted.Sign() < 0 {
		if err != nil {
			r.log.Debug("Quote failed", zap.Error(err))
		}
		return new(big.Int), nil
	}
	return quoted, payload
}
