// Package router implements the aggregation engine: the venue registry, the
// four swap execution modes, the protocol fee layer, native-asset
// resolution, and the governance surface. Every swap entry point is
// all-or-nothing: the ledger is snapshotted on entry and rolled back on any
// failure, including adapter panics.
package router

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/openliq/aggregator/internal/token"
)

// VenueID identifies a registered venue adapter. Derived from the venue
// name so ids are stable across restarts.
type VenueID common.Hash

// VenueIDFromName derives the id for a venue name.
func VenueIDFromName(name string) VenueID {
	return VenueID(crypto.Keccak256Hash([]byte(name)))
}

// Hex returns the id in 0x-prefixed hex.
func (v VenueID) Hex() string {
	return common.Hash(v).Hex()
}

// SwapRequest carries the common fields of every swap entry point. MsgValue
// is the native value attached to the call; it is only consulted when
// TokenIn is the native sentinel.
type SwapRequest struct {
	Caller       common.Address
	TokenIn      token.Token
	TokenOut     token.Token
	AmountIn     *big.Int
	MinAmountOut *big.Int
	MsgValue     *big.Int
}

// RouteStep is one leg of a split route. Percentage is in basis points of
// the post-fee input; steps across a route must sum to exactly 10000.
// A zero-percentage step is skipped.
type RouteStep struct {
	VenueID      VenueID
	Percentage   uint64
	MinAmountOut *big.Int
	VenueData    []byte
}

// SequentialStep is one hop of a chained swap. TokenOut of hop n is the
// input of hop n+1; MinAmountOut bounds this hop's output.
type SequentialStep struct {
	VenueID      VenueID
	TokenOut     token.Token
	MinAmountOut *big.Int
	VenueData    []byte
}

// SequentialRequest describes a chained multi-hop swap.
type SequentialRequest struct {
	Caller   common.Address
	TokenIn  token.Token
	AmountIn *big.Int
	MsgValue *big.Int
	Steps    []SequentialStep
}

// VenueQuote is one venue's answer in an aggregate quote scan. AmountOut is
// zero when the venue cannot serve the pair (or failed to answer).
type VenueQuote struct {
	VenueID   VenueID
	Name      string
	AmountOut *big.Int
	VenueData []byte
}

// FeeConfig is the protocol fee taken once, up front, from the input amount
// of every non-exempt swap. BasisPoints of zero disables the fee.
type FeeConfig struct {
	BasisPoints uint64
	Recipient   common.Address
}

// operationID derives a correlation id for one swap operation from a
// process-local nonce, the wall clock and the caller.
func operationID(nonce uint64, caller common.Address) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], nonce)
	binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	return crypto.Keccak256Hash(buf[:], caller.Bytes())
}
