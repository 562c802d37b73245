package router

import "sync/atomic"

// guard is the reentrancy lock held across every swap entry point. An
// adapter that calls back into the router while a swap is in flight trips
// the guard instead of observing half-settled state.
type guard struct {
	locked atomic.Bool
}

// enter acquires the guard. Returns false when a swap is already in flight.
func (g *guard) enter() bool {
	return g.locked.CompareAndSwap(false, true)
}

// exit releases the guard. Must run on every path out of a swap.
func (g *guard) exit() {
	g.locked.Store(false)
}
