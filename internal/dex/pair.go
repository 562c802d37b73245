package dex

import (
	"github.com/openliq/aggregator/internal/token"
)

// Pair is a direction-agnostic pool key: tokens are ordered by address so
// (A,B) and (B,A) resolve to the same entry.
type Pair struct {
	A, B token.Token
}

// NewPair canonicalizes the token order.
func NewPair(a, b token.Token) Pair {
	if b.Less(a) {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}
