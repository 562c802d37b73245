// Package events is the in-memory event bus the router publishes operation
// outcomes on. Subscribers (logging, persistence, metrics) attach handlers
// per event type.
package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType represents the type of event.
type EventType string

const (
	// Swap events
	SwapExecuted           EventType = "swap.executed"
	MultiRouteSwapExecuted EventType = "swap.multiroute.executed"
	SequentialSwapExecuted EventType = "swap.sequential.executed"

	// Registry events
	AdapterRegistered EventType = "adapter.registered"
	AdapterRemoved    EventType = "adapter.removed"

	// Governance events
	FeeConfigUpdated    EventType = "fee.config.updated"
	Paused              EventType = "router.paused"
	Unpaused            EventType = "router.unpaused"
	EmergencyWithdrawal EventType = "router.emergency.withdrawal"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps a base event with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// SwapExecutedEvent is emitted after every successful swap, whatever the
// execution mode.
type SwapExecutedEvent struct {
	BaseEvent
	OperationID common.Hash
	Mode        string // "direct", "best-route", "multi-route", "sequential"
	Caller      common.Address
	VenueID     common.Hash
	TokenIn     string
	TokenOut    string
	AmountIn    *big.Int
	AmountOut   *big.Int
	Fee         *big.Int
	// Steps is the route step count for multi-route, the hop count for
	// sequential, and 1 otherwise.
	Steps int
}

// AdapterRegisteredEvent is emitted when a venue adapter is added or
// overwritten in the registry.
type AdapterRegisteredEvent struct {
	BaseEvent
	VenueID common.Hash
	Adapter common.Address
	Name    string
}

// AdapterRemovedEvent is emitted when a venue adapter is removed.
type AdapterRemovedEvent struct {
	BaseEvent
	VenueID common.Hash
	Adapter common.Address
}

// FeeConfigUpdatedEvent is emitted when the protocol fee changes.
type FeeConfigUpdatedEvent struct {
	BaseEvent
	FeeBasisPoints uint64
	FeeRecipient   common.Address
}

// PauseEvent is emitted on pause and unpause.
type PauseEvent struct {
	BaseEvent
	By common.Address
}

// EmergencyWithdrawalEvent is emitted when the admin sweeps router-held
// funds.
type EmergencyWithdrawalEvent struct {
	BaseEvent
	Token  string
	To     common.Address
	Amount *big.Int
}
