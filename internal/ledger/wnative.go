package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openliq/aggregator/internal/token"
)

// ErrWrappedNotRegistered is returned when the wrapped token is unknown to
// the book the converter is built over.
var ErrWrappedNotRegistered = errors.New("wrapped token not registered")

// WrappedNative is the fixed-rate bidirectional converter between the
// native asset and its fungible wrapped representation. Deposits back every
// wrapped unit 1:1 with native held on the converter account.
type WrappedNative struct {
	book    *Book
	wrapped token.Token
	account common.Address
}

// NewWrappedNative builds a converter over book. The wrapped token must be
// registered and must not be the sentinel.
func NewWrappedNative(book *Book, wrapped token.Token, account common.Address) (*WrappedNative, error) {
	if wrapped.IsNative() {
		return nil, ErrWrappedNotRegistered
	}
	if _, ok := book.Info(wrapped); !ok {
		return nil, fmt.Errorf("wrapper %s: %w", wrapped, ErrWrappedNotRegistered)
	}
	return &WrappedNative{book: book, wrapped: wrapped, account: account}, nil
}

// Token returns the wrapped representation handle.
func (w *WrappedNative) Token() token.Token {
	return w.wrapped
}

// Account returns the converter's ledger account.
func (w *WrappedNative) Account() common.Address {
	return w.account
}

// Deposit converts amount of acct's native balance into wrapped units.
func (w *WrappedNative) Deposit(acct common.Address, amount *big.Int) error {
	if err := w.book.Transfer(token.Native(), acct, w.account, amount); err != nil {
		return fmt.Errorf("wrap deposit: %w", err)
	}
	if err := w.book.Mint(w.wrapped, acct, amount); err != nil {
		return fmt.Errorf("wrap mint: %w", err)
	}
	return nil
}

// Withdraw converts amount of acct's wrapped balance back to native.
func (w *WrappedNative) Withdraw(acct common.Address, amount *big.Int) error {
	if err := w.book.Burn(w.wrapped, acct, amount); err != nil {
		return fmt.Errorf("unwrap burn: %w", err)
	}
	if err := w.book.Transfer(token.Native(), w.account, acct, amount); err != nil {
		return fmt.Errorf("unwrap transfer: %w", err)
	}
	return nil
}
