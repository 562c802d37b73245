package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

// BaseAdapter carries the fields and fund-movement helpers shared by all
// venue adapter implementations.
type BaseAdapter struct {
	Book *ledger.Book
	Log  *zap.Logger

	name    string
	account common.Address
}

// NewBaseAdapter wires the shared state. The account is the adapter's own
// ledger identity.
func NewBaseAdapter(book *ledger.Book, log *zap.Logger, name string, account common.Address) BaseAdapter {
	return BaseAdapter{
		Book:    book,
		Log:     log.Named(name),
		name:    name,
		account: account,
	}
}

// Name returns the adapter's venue family name.
func (b *BaseAdapter) Name() string {
	return b.name
}

// Account returns the adapter's ledger account.
func (b *BaseAdapter) Account() common.Address {
	return b.account
}

// Pull moves the swap input from the caller onto the adapter account using
// the allowance the caller granted.
func (b *BaseAdapter) Pull(t token.Token, caller common.Address, amount *big.Int) error {
	if err := b.Book.TransferFrom(t, b.account, caller, b.account, amount); err != nil {
		return fmt.Errorf("%s: pull input: %w", b.name, err)
	}
	return nil
}

// Deliver forwards the swap output from the adapter account to the caller.
func (b *BaseAdapter) Deliver(t token.Token, caller common.Address, amount *big.Int) error {
	if err := b.Book.Transfer(t, b.account, caller, amount); err != nil {
		return fmt.Errorf("%s: deliver output: %w", b.name, err)
	}
	return nil
}

// ApproveVenue grants the venue a spending allowance using the
// reset-then-set pattern, so tokens that require a zero allowance before a
// nonzero one stay compatible.
func (b *BaseAdapter) ApproveVenue(t token.Token, venue common.Address, amount *big.Int) error {
	if err := b.Book.Approve(t, b.account, venue, new(big.Int)); err != nil {
		return fmt.Errorf("%s: reset allowance: %w", b.name, err)
	}
	if err := b.Book.Approve(t, b.account, venue, amount); err != nil {
		return fmt.Errorf("%s: set allowance: %w", b.name, err)
	}
	return nil
}

// CheckSwapParams validates the universal preconditions of a swap request.
func CheckSwapParams(p SwapParams) error {
	if !token.ValidAmount(p.AmountIn) {
		return ledger.ErrInvalidAmount
	}
	if p.MinAmountOut == nil || p.MinAmountOut.Sign() < 0 {
		return ledger.ErrInvalidAmount
	}
	if p.TokenIn == p.TokenOut {
		return fmt.Errorf("identical tokens: %w", ErrPairNotSupported)
	}
	if p.TokenIn.IsNative() || p.TokenOut.IsNative() {
		return fmt.Errorf("native sentinel reached adapter: %w", ErrPairNotSupported)
	}
	return nil
}
