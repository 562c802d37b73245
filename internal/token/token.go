// Package token defines the token handle used across the aggregation engine.
//
// A Token wraps a 20-byte account address. The zero address is reserved as
// the native-asset sentinel: callers may pass it anywhere a token is
// expected, and the router resolves it to the configured wrapped
// representation before any adapter sees it.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPointsDenominator is the fixed-point base for percentages and fees.
const BasisPointsDenominator = 10_000

// MaxFeeBasisPoints caps the protocol fee at 1%.
const MaxFeeBasisPoints = 100

// Token identifies a fungible token by address. The zero value is the
// native-asset sentinel.
type Token struct {
	addr common.Address
}

// Native returns the native-asset sentinel.
func Native() Token {
	return Token{}
}

// FromAddress wraps an address as a token handle. The zero address yields
// the native sentinel.
func FromAddress(addr common.Address) Token {
	return Token{addr: addr}
}

// FromHex parses a hex-encoded token address.
func FromHex(s string) Token {
	return Token{addr: common.HexToAddress(s)}
}

// IsNative reports whether t is the native-asset sentinel.
func (t Token) IsNative() bool {
	return t.addr == (common.Address{})
}

// Address returns the underlying token address. Zero for the sentinel.
func (t Token) Address() common.Address {
	return t.addr
}

func (t Token) String() string {
	if t.IsNative() {
		return "native"
	}
	return t.addr.Hex()
}

// Less orders tokens by address bytes. Used for canonical pair keys.
func (t Token) Less(other Token) bool {
	return t.addr.Cmp(other.addr) < 0
}

// ApplyBasisPoints returns floor(amount * bps / 10000).
func ApplyBasisPoints(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(BasisPointsDenominator))
}

// ValidAmount reports whether amount is a usable positive value.
func ValidAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}
