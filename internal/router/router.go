package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/events"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/metrics"
	"github.com/openliq/aggregator/internal/token"
)

// Router is the aggregation engine. It owns a ledger account that all swap
// inputs flow through: callers approve the router, the router approves the
// chosen adapter for exactly the amount being routed, and outputs come back
// to the router account before final settlement to the caller.
type Router struct {
	book    *ledger.Book
	log     *zap.Logger
	bus     *events.Bus
	metrics *metrics.Metrics

	account common.Address
	access  *accessControl
	venues  *registry
	guard   guard

	paused atomic.Bool
	nonce  atomic.Uint64

	mu      sync.RWMutex
	fee     FeeConfig
	exempt  map[common.Address]bool
	wrapper *ledger.WrappedNative
}

// Config carries the router's construction parameters. Bus and Metrics are
// optional; the engine runs without either.
type Config struct {
	Account common.Address
	Admin   common.Address
	Fee     FeeConfig
	Bus     *events.Bus
	Metrics *metrics.Metrics
}

// New builds a router over book.
func New(book *ledger.Book, log *zap.Logger, cfg Config) (*Router, error) {
	if cfg.Fee.BasisPoints > token.MaxFeeBasisPoints {
		return nil, fmt.Errorf("fee %d bps: %w", cfg.Fee.BasisPoints, ErrInvalidFeeBps)
	}
	if cfg.Fee.BasisPoints > 0 && cfg.Fee.Recipient == (common.Address{}) {
		return nil, ErrInvalidFeeRecipient
	}
	r := &Router{
		book:    book,
		log:     log.Named("router"),
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		account: cfg.Account,
		access:  newAccessControl(cfg.Admin),
		fee:     cfg.Fee,
		exempt:  make(map[common.Address]bool),
	}
	r.venues = newRegistry(r.log)
	return r, nil
}

// Account returns the router's ledger account. Callers grant this account
// an allowance on the input token before swapping.
func (r *Router) Account() common.Address {
	return r.account
}

// Paused reports whether swap execution is halted.
func (r *Router) Paused() bool {
	return r.paused.Load()
}

func zapAddr(key string, a common.Address) zap.Field {
	return zap.String(key, a.Hex())
}

func zapRole(role Role) zap.Field {
	return zap.String("role", string(role))
}

// Swap executes a direct swap on one named venue.
func (r *Router) Swap(ctx context.Context, req SwapRequest, venue VenueID, venueData []byte) (*big.Int, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	adapter, ok := r.venues.get(venue)
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", venue.Hex(), ErrInvalidAdapter)
	}
	return r.runSwap("direct", func() (*big.Int, error) {
		opID := operationID(r.nonce.Add(1), req.Caller)
		effIn, effOut, err := r.settleIn(req)
		if err != nil {
			return nil, err
		}
		net, feeAmt, err := r.takeFee(req.Caller, effIn, req.AmountIn)
		if err != nil {
			return nil, err
		}
		out, err := r.swapVia(ctx, adapter, effIn, effOut, net, req.MinAmountOut, venueData)
		if err != nil {
			return nil, err
		}
		if err := r.settleOut(req.Caller, req.TokenOut, effOut, out); err != nil {
			return nil, err
		}
		r.publishSwap(events.SwapExecuted, opID, "direct", req, common.Hash(venue), out, feeAmt, 1)
		return out, nil
	})
}

// SwapExactInput executes on whichever venue quotes the highest output for
// the post-fee input amount. Ties go to the venue registered first.
func (r *Router) SwapExactInput(ctx context.Context, req SwapRequest) (*big.Int, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return r.runSwap("best-route", func() (*big.Int, error) {
		opID := operationID(r.nonce.Add(1), req.Caller)
		effIn, effOut, err := r.settleIn(req)
		if err != nil {
			return nil, err
		}
		net, feeAmt, err := r.takeFee(req.Caller, effIn, req.AmountIn)
		if err != nil {
			return nil, err
		}
		venue, adapter, _, data, err := r.bestRoute(ctx, effIn, effOut, net)
		if err != nil {
			return nil, err
		}
		out, err := r.swapVia(ctx, adapter, effIn, effOut, net, req.MinAmountOut, data)
		if err != nil {
			return nil, err
		}
		if err := r.settleOut(req.Caller, req.TokenOut, effOut, out); err != nil {
			return nil, err
		}
		r.publishSwap(events.SwapExecuted, opID, "best-route", req, common.Hash(venue), out, feeAmt, 1)
		return out, nil
	})
}

// SwapMultiRoute splits the post-fee input across several venues by basis
// points. Percentages must sum to exactly 10000; zero-percentage steps are
// skipped. The protocol fee is taken once, up front, on the whole input.
func (r *Router) SwapMultiRoute(ctx context.Context, req SwapRequest, steps []RouteStep) (*big.Int, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrEmptyRoute
	}
	var sum uint64
	for i, s := range steps {
		if s.Percentage > token.BasisPointsDenominator {
			return nil, fmt.Errorf("step %d: %w", i, ErrInvalidPercentage)
		}
		sum += s.Percentage
	}
	if sum != token.BasisPointsDenominator {
		return nil, ErrInvalidPercentage
	}
	return r.runSwap("multi-route", func() (*big.Int, error) {
		opID := operationID(r.nonce.Add(1), req.Caller)
		effIn, effOut, err := r.settleIn(req)
		if err != nil {
			return nil, err
		}
		net, feeAmt, err := r.takeFee(req.Caller, effIn, req.AmountIn)
		if err != nil {
			return nil, err
		}
		total := new(big.Int)
		executed := 0
		for i, s := range steps {
			if s.Percentage == 0 {
				continue
			}
			adapter, ok := r.venues.get(s.VenueID)
			if !ok {
				return nil, fmt.Errorf("step %d venue %s: %w", i, s.VenueID.Hex(), ErrInvalidAdapter)
			}
			// Each step takes the floor of its share. Rounding dust
			// stays on the router account for EmergencyWithdraw.
			portion := token.ApplyBasisPoints(net, s.Percentage)
			if portion.Sign() == 0 {
				continue
			}
			out, err := r.swapVia(ctx, adapter, effIn, effOut, portion, s.MinAmountOut, s.VenueData)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			total.Add(total, out)
			executed++
		}
		if req.MinAmountOut != nil && total.Cmp(req.MinAmountOut) < 0 {
			return nil, fmt.Errorf("total %s want >= %s: %w",
				total, req.MinAmountOut, ErrInsufficientOutput)
		}
		if err := r.settleOut(req.Caller, req.TokenOut, effOut, total); err != nil {
			return nil, err
		}
		r.publishSwap(events.MultiRouteSwapExecuted, opID, "multi-route", req, common.Hash{}, total, feeAmt, executed)
		return total, nil
	})
}

// SwapSequential chains hops: the output of hop n feeds hop n+1. Each hop
// carries its own minimum; a hop falling short fails the whole operation.
// The protocol fee is taken once on the initial input.
func (r *Router) SwapSequential(ctx context.Context, req SequentialRequest) (*big.Int, error) {
	if !token.ValidAmount(req.AmountIn) {
		return nil, ErrZeroAmount
	}
	if len(req.Steps) == 0 {
		return nil, ErrEmptyRoute
	}
	return r.runSwap("sequential", func() (*big.Int, error) {
		opID := operationID(r.nonce.Add(1), req.Caller)
		first := SwapRequest{
			Caller:   req.Caller,
			TokenIn:  req.TokenIn,
			TokenOut: req.Steps[0].TokenOut,
			AmountIn: req.AmountIn,
			MsgValue: req.MsgValue,
		}
		cur, _, err := r.settleIn(first)
		if err != nil {
			return nil, err
		}
		amount, feeAmt, err := r.takeFee(req.Caller, cur, req.AmountIn)
		if err != nil {
			return nil, err
		}
		for i, s := range req.Steps {
			next, err := r.resolve(s.TokenOut)
			if err != nil {
				return nil, err
			}
			if next == cur {
				return nil, fmt.Errorf("hop %d: %w", i, ErrSameToken)
			}
			adapter, ok := r.venues.get(s.VenueID)
			if !ok {
				return nil, fmt.Errorf("hop %d venue %s: %w", i, s.VenueID.Hex(), ErrInvalidAdapter)
			}
			out, err := r.swapVia(ctx, adapter, cur, next, amount, s.MinAmountOut, s.VenueData)
			if err != nil {
				return nil, fmt.Errorf("hop %d: %w", i, err)
			}
			cur, amount = next, out
		}
		last := req.Steps[len(req.Steps)-1]
		if err := r.settleOut(req.Caller, last.TokenOut, cur, amount); err != nil {
			return nil, err
		}
		final := SwapRequest{
			Caller:   req.Caller,
			TokenIn:  req.TokenIn,
			TokenOut: last.TokenOut,
			AmountIn: req.AmountIn,
		}
		r.publishSwap(events.SequentialSwapExecuted, opID, "sequential", final, common.Hash{}, amount, feeAmt, len(req.Steps))
		return amount, nil
	})
}

// runSwap wraps one swap execution in the reentrancy guard, the pause
// check and a ledger snapshot. Any error rolls the ledger back to the
// pre-swap state.
func (r *Router) runSwap(mode string, fn func() (*big.Int, error)) (*big.Int, error) {
	start := time.Now()
	if !r.guard.enter() {
		r.metrics.ObserveSwap(mode, "reentrant", time.Since(start))
		return nil, ErrReentrantCall
	}
	defer r.guard.exit()
	if r.paused.Load() {
		r.metrics.ObserveSwap(mode, "paused", time.Since(start))
		return nil, ErrPaused
	}

	snap := r.book.Snapshot()
	out, err := fn()
	if err != nil {
		if rerr := r.book.RevertTo(snap); rerr != nil {
			r.log.Error("Rollback failed", zap.Error(rerr))
		}
		r.metrics.ObserveSwap(mode, "error", time.Since(start))
		return nil, err
	}
	if cerr := r.book.Commit(snap); cerr != nil {
		r.log.Error("Snapshot commit failed", zap.Error(cerr))
	}
	r.metrics.ObserveSwap(mode, "ok", time.Since(start))
	return out, nil
}

func validateRequest(req SwapRequest) error {
	if !token.ValidAmount(req.AmountIn) {
		return ErrZeroAmount
	}
	if req.MinAmountOut != nil && req.MinAmountOut.Sign() < 0 {
		return ErrZeroAmount
	}
	if req.TokenIn == req.TokenOut {
		return ErrSameToken
	}
	return nil
}

// resolve maps the native sentinel to the configured wrapped token.
func (r *Router) resolve(t token.Token) (token.Token, error) {
	if !t.IsNative() {
		return t, nil
	}
	r.mu.RLock()
	w := r.wrapper
	r.mu.RUnlock()
	if w == nil {
		return token.Token{}, ErrWrapperNotSet
	}
	return w.Token(), nil
}

func (r *Router) nativeWrapper() *ledger.WrappedNative {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wrapper
}

// settleIn moves the swap input onto the router account and returns the
// effective (always fungible) input and output tokens. Native input pulls
// exactly AmountIn; any excess attached value stays with the caller.
func (r *Router) settleIn(req SwapRequest) (effIn, effOut token.Token, err error) {
	effOut, err = r.resolve(req.TokenOut)
	if err != nil {
		return token.Token{}, token.Token{}, err
	}
	if req.TokenIn.IsNative() {
		w := r.nativeWrapper()
		if w == nil {
			return token.Token{}, token.Token{}, ErrWrapperNotSet
		}
		if req.MsgValue == nil || req.MsgValue.Cmp(req.AmountIn) < 0 {
			return token.Token{}, token.Token{}, ErrInsufficientNativeValue
		}
		if err := r.book.Transfer(token.Native(), req.Caller, r.account, req.AmountIn); err != nil {
			return token.Token{}, token.Token{}, fmt.Errorf("pull native: %w: %v", ErrTransferFailed, err)
		}
		if err := w.Deposit(r.account, req.AmountIn); err != nil {
			return token.Token{}, token.Token{}, err
		}
		effIn = w.Token()
	} else {
		if err := r.book.TransferFrom(req.TokenIn, r.account, req.Caller, r.account, req.AmountIn); err != nil {
			return token.Token{}, token.Token{}, fmt.Errorf("pull input: %w", err)
		}
		effIn = req.TokenIn
	}
	if effIn == effOut {
		return token.Token{}, token.Token{}, ErrSameToken
	}
	return effIn, effOut, nil
}

// takeFee moves the protocol fee to the recipient and returns the net
// amount left for routing. Exempt callers and a zero-bps config pay nothing.
func (r *Router) takeFee(caller common.Address, effIn token.Token, amountIn *big.Int) (net, feeAmt *big.Int, err error) {
	r.mu.RLock()
	cfg := r.fee
	exempt := r.exempt[caller]
	r.mu.RUnlock()

	if cfg.BasisPoints == 0 || exempt {
		return new(big.Int).Set(amountIn), new(big.Int), nil
	}
	feeAmt = token.ApplyBasisPoints(amountIn, cfg.BasisPoints)
	if feeAmt.Sign() > 0 {
		if err := r.book.Transfer(effIn, r.account, cfg.Recipient, feeAmt); err != nil {
			return nil, nil, fmt.Errorf("fee transfer: %w", err)
		}
		r.metrics.FeeCharged()
	}
	return new(big.Int).Sub(amountIn, feeAmt), feeAmt, nil
}

// swapVia approves the adapter for exactly amountIn (reset-then-set) and
// executes the swap with the router account as the adapter's caller. The
// amount actually received is measured as the router's balance delta, not
// taken from the adapter's return value.
func (r *Router) swapVia(ctx context.Context, adapter dex.Adapter, effIn, effOut token.Token, amountIn, minOut *big.Int, venueData []byte) (*big.Int, error) {
	if minOut == nil {
		minOut = new(big.Int)
	}
	before := r.book.BalanceOf(effOut, r.account)

	reported, err := r.execAdapter(ctx, adapter, dex.SwapParams{
		Caller:       r.account,
		TokenIn:      effIn,
		TokenOut:     effOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		VenueData:    venueData,
	})
	if err != nil {
		return nil, err
	}

	delta := new(big.Int).Sub(r.book.BalanceOf(effOut, r.account), before)
	if delta.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("received %s want >= %s: %w", delta, minOut, ErrInsufficientOutput)
	}
	if reported != nil && reported.Cmp(delta) != 0 {
		r.log.Warn("Adapter return differs from balance delta",
			zap.String("reported", reported.String()),
			zap.String("received", delta.String()))
	}
	return delta, nil
}

// execAdapter runs the approval and the adapter call behind a recover so a
// panicking adapter becomes an error and the snapshot rollback applies.
func (r *Router) execAdapter(ctx context.Context, adapter dex.Adapter, p dex.SwapParams) (out *big.Int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Adapter panicked during swap", zap.Any("panic", rec))
			out, err = nil, fmt.Errorf("%w: %v", ErrAdapterPanic, rec)
		}
	}()
	spender := adapter.Account()
	if err := r.book.Approve(p.TokenIn, r.account, spender, new(big.Int)); err != nil {
		return nil, fmt.Errorf("reset adapter allowance: %w", err)
	}
	if err := r.book.Approve(p.TokenIn, r.account, spender, p.AmountIn); err != nil {
		return nil, fmt.Errorf("set adapter allowance: %w", err)
	}
	return adapter.Swap(ctx, p)
}

// settleOut delivers the final output to the caller, unwrapping when the
// requested output was the native sentinel.
func (r *Router) settleOut(caller common.Address, tokenOut, effOut token.Token, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if tokenOut.IsNative() {
		w := r.nativeWrapper()
		if w == nil {
			return ErrWrapperNotSet
		}
		if err := w.Withdraw(r.account, amount); err != nil {
			return err
		}
		if err := r.book.Transfer(token.Native(), r.account, caller, amount); err != nil {
			return fmt.Errorf("deliver native: %w: %v", ErrTransferFailed, err)
		}
		return nil
	}
	if err := r.book.Transfer(effOut, r.account, caller, amount); err != nil {
		return fmt.Errorf("deliver output: %w: %v", ErrTransferFailed, err)
	}
	return nil
}

func (r *Router) publish(ev events.Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ev); err != nil {
		r.log.Debug("Event publish failed", zap.Error(err))
	}
}

func (r *Router) publishSwap(typ events.EventType, opID common.Hash, mode string, req SwapRequest, venue common.Hash, out, feeAmt *big.Int, steps int) {
	r.publish(events.SwapExecutedEvent{
		BaseEvent:   events.NewBase(typ),
		OperationID: opID,
		Mode:        mode,
		Caller:      req.Caller,
		VenueID:     venue,
		TokenIn:     req.TokenIn.String(),
		TokenOut:    req.TokenOut.String(),
		AmountIn:    new(big.Int).Set(req.AmountIn),
		AmountOut:   new(big.Int).Set(out),
		Fee:         new(big.Int).Set(feeAmt),
		Steps:       steps,
	})
	r.log.Info("Swap executed",
		zap.String("operation_id", opID.Hex()),
		zap.String("mode", mode),
		zapAddr("caller", req.Caller),
		zap.String("token_in", req.TokenIn.String()),
		zap.String("token_out", req.TokenOut.String()),
		zap.String("amount_in", req.AmountIn.String()),
		zap.String("amount_out", out.String()),
		zap.String("fee", feeAmt.String()),
		zap.Int("steps", steps))
}
