package router

import (
	"errors"
	"fmt"
)

var (
	ErrZeroAmount          = errors.New("amount must be greater than zero")
	ErrSameToken           = errors.New("input and output tokens are identical")
	ErrEmptyRoute          = errors.New("route has no steps")
	ErrInvalidPercentage   = errors.New("route percentages must sum to 10000")
	ErrInvalidFeeBps       = errors.New("fee basis points above maximum")
	ErrInvalidFeeRecipient = errors.New("fee recipient not set")
	ErrInvalidAdapter      = errors.New("adapter not registered")
	ErrNoDexAdapters       = errors.New("no venue adapters registered")
	// ErrNoRouteFound wraps ErrNoDexAdapters: callers matching the broad
	// "nothing can serve this swap" case catch both.
	ErrNoRouteFound            = fmt.Errorf("%w: no venue quoted a positive output", ErrNoDexAdapters)
	ErrInsufficientOutput      = errors.New("output below minimum")
	ErrInsufficientNativeValue = errors.New("attached native value below input amount")
	ErrTransferFailed          = errors.New("settlement transfer failed")
	ErrPaused                  = errors.New("router is paused")
	ErrReentrantCall           = errors.New("reentrant call")
	ErrUnauthorized            = errors.New("caller lacks required role")
	ErrWrapperNotSet           = errors.New("native wrapper not configured")
	ErrAdapterPanic            = errors.New("adapter panicked")
)
