// Package dex defines the capability interface every venue adapter
// implements, plus the shared plumbing adapters use to move funds through
// the ledger.
package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openliq/aggregator/internal/token"
)

var (
	ErrInsufficientOutput = errors.New("insufficient output amount")
	ErrPairNotSupported   = errors.New("pair not supported")
	ErrInvalidVenueData   = errors.New("invalid venue data")
	ErrNoLiquidity        = errors.New("no liquidity")
	ErrPoolExists         = errors.New("pool already registered")
)

// Info is the static descriptor of a venue adapter.
type Info struct {
	Name string
	// PrimaryAddress is the account of the underlying venue (pool,
	// vault, or manager) the adapter trades against.
	PrimaryAddress common.Address
}

// SwapParams carries one swap request into an adapter. Caller is the ledger
// account the adapter pulls AmountIn from and delivers the output to; the
// caller must have approved the adapter's account beforehand.
type SwapParams struct {
	Caller       common.Address
	TokenIn      token.Token
	TokenOut     token.Token
	AmountIn     *big.Int
	MinAmountOut *big.Int
	// VenueData is an opaque venue-specific payload, usually produced by
	// a prior GetQuote. Adapters must reject malformed payloads before
	// any fund movement.
	VenueData []byte
}

// Adapter normalizes one venue family behind a fixed contract. Adapters
// never see the native sentinel; the router resolves it first.
type Adapter interface {
	// Swap pulls AmountIn of TokenIn from the caller, performs the
	// venue-specific exchange, delivers the output back to the caller
	// and returns the amount delivered. Fails with ErrInsufficientOutput
	// when the output is below MinAmountOut.
	Swap(ctx context.Context, p SwapParams) (*big.Int, error)

	// GetQuote is a best-effort estimate. It returns (0, nil, nil)
	// rather than an error on any internal miss so an aggregate scan can
	// skip the venue without aborting.
	GetQuote(ctx context.Context, tokenIn, tokenOut token.Token, amountIn *big.Int) (*big.Int, []byte, error)

	// GetDexInfo returns the static descriptor. No side effects.
	GetDexInfo() Info

	// IsPairSupported reports whether the venue can trade the pair.
	IsPairSupported(tokenIn, tokenOut token.Token) bool

	// Account is the adapter's own ledger account, the spender the
	// router approves before calling Swap.
	Account() common.Address
}
