// Package aggbridge adapts a generic external aggregator. Quotes come from
// the aggregator's HTTP API; execution is delegated to a locally registered
// fallback adapter, because the engine can only settle atomically against
// in-ledger venues. Quote fetches are retried with exponential backoff —
// they are advisory and never move funds, unlike swaps, which are never
// retried.
package aggbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/token"
)

const defaultRequestTimeout = 3 * time.Second

// quoteResponse is the wire shape of the remote aggregator's quote call.
type quoteResponse struct {
	AmountOut string `json:"amountOut"`
	CallData  string `json:"callData,omitempty"`
}

// Adapter implements dex.Adapter by combining remote quoting with local
// fallback execution.
type Adapter struct {
	inner    dex.Adapter
	log      *zap.Logger
	client   *http.Client
	baseURL  string
	maxTries uint
}

// New wraps inner with remote quoting against baseURL. An empty baseURL
// disables remote quoting entirely; quotes then come from the inner adapter.
func New(inner dex.Adapter, log *zap.Logger, baseURL string) *Adapter {
	return &Adapter{
		inner:    inner,
		log:      log.Named("aggbridge"),
		client:   &http.Client{Timeout: defaultRequestTimeout},
		baseURL:  baseURL,
		maxTries: 3,
	}
}

// GetQuote asks the remote aggregator first and falls back to the inner
// adapter's estimate when the remote call fails. Any failure yields a zero
// quote rather than an error so aggregate scans keep going.
func (a *Adapter) GetQuote(ctx context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	if !token.ValidAmount(amountIn) || tokenIn == tokenOut {
		return new(big.Int), nil, nil
	}
	if a.baseURL != "" {
		if out, data, err := a.remoteQuote(ctx, tokenIn, tokenOut, amountIn); err == nil {
			return out, data, nil
		} else {
			a.log.Debug("Remote quote failed, using local estimate", zap.Error(err))
		}
	}
	return a.inner.GetQuote(ctx, tokenIn, tokenOut, amountIn)
}

func (a *Adapter) remoteQuote(ctx context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error) {
	q := url.Values{}
	q.Set("tokenIn", tokenIn.Address().Hex())
	q.Set("tokenOut", tokenOut.Address().Hex())
	q.Set("amountIn", amountIn.String())
	endpoint := a.baseURL + "/quote?" + q.Encode()

	operation := func() (*quoteResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("aggregator returned %d", resp.StatusCode)
		}
		var out quoteResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode quote: %w", err))
		}
		return &out, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(a.maxTries))
	if err != nil {
		return nil, nil, err
	}
	amountOut, ok := new(big.Int).SetString(resp.AmountOut, 10)
	if !ok || amountOut.Sign() < 0 {
		return nil, nil, fmt.Errorf("bad amountOut %q: %w", resp.AmountOut, dex.ErrInvalidVenueData)
	}
	return amountOut, []byte(resp.CallData), nil
}

// Swap executes through the local fallback adapter. The remote payload is
// advisory only; the fallback decides what it accepts.
func (a *Adapter) Swap(ctx context.Context, p dex.SwapParams) (*big.Int, error) {
	// Remote calldata means nothing to the local venue.
	p.VenueData = nil
	return a.inner.Swap(ctx, p)
}

// GetDexInfo reports the bridge name over the fallback's address.
func (a *Adapter) GetDexInfo() dex.Info {
	return dex.Info{Name: "AggregatorBridge", PrimaryAddress: a.inner.GetDexInfo().PrimaryAddress}
}

func (a *Adapter) IsPairSupported(tokenIn, tokenOut token.Token) bool {
	return a.inner.IsPairSupported(tokenIn, tokenOut)
}

// Account returns the fallback adapter's spending account.
func (a *Adapter) Account() common.Address {
	return a.inner.Account()
}
