package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/events"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/token"
)

// Venue pairs a registered venue id with its descriptor.
type Venue struct {
	ID   VenueID
	Info dex.Info
}

// RegisterAdapter adds (or overwrites) a venue under the id derived from
// name. Admin only.
func (r *Router) RegisterAdapter(caller common.Address, name string, adapter dex.Adapter) (VenueID, error) {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return VenueID{}, err
	}
	if adapter == nil || name == "" {
		return VenueID{}, ErrInvalidAdapter
	}
	id := VenueIDFromName(name)
	info := r.venues.register(id, adapter)
	r.metrics.SetVenueCount(r.venues.len())
	r.publish(events.AdapterRegisteredEvent{
		BaseEvent: events.NewBase(events.AdapterRegistered),
		VenueID:   common.Hash(id),
		Adapter:   info.PrimaryAddress,
		Name:      name,
	})
	return id, nil
}

// RemoveAdapter deletes a venue from the registry. Admin only.
func (r *Router) RemoveAdapter(caller common.Address, id VenueID) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	adapter, err := r.venues.remove(id)
	if err != nil {
		return err
	}
	r.metrics.SetVenueCount(r.venues.len())
	info := describeAdapter(adapter, r.log)
	r.publish(events.AdapterRemovedEvent{
		BaseEvent: events.NewBase(events.AdapterRemoved),
		VenueID:   common.Hash(id),
		Adapter:   info.PrimaryAddress,
	})
	return nil
}

// Venues lists the registered venues in enumeration order.
func (r *Router) Venues() []Venue {
	ids, adapters := r.venues.snapshot()
	out := make([]Venue, len(ids))
	for i := range ids {
		out[i] = Venue{ID: ids[i], Info: describeAdapter(adapters[i], r.log)}
	}
	return out
}

// SetFeeConfig updates the protocol fee. Admin only. The fee is capped at
// 100 basis points; a nonzero fee requires a recipient.
func (r *Router) SetFeeConfig(caller common.Address, cfg FeeConfig) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if cfg.BasisPoints > token.MaxFeeBasisPoints {
		return fmt.Errorf("fee %d bps: %w", cfg.BasisPoints, ErrInvalidFeeBps)
	}
	if cfg.BasisPoints > 0 && cfg.Recipient == (common.Address{}) {
		return ErrInvalidFeeRecipient
	}
	r.mu.Lock()
	r.fee = cfg
	r.mu.Unlock()
	r.publish(events.FeeConfigUpdatedEvent{
		BaseEvent:      events.NewBase(events.FeeConfigUpdated),
		FeeBasisPoints: cfg.BasisPoints,
		FeeRecipient:   cfg.Recipient,
	})
	r.log.Info("Fee config updated",
		zap.Uint64("basis_points", cfg.BasisPoints),
		zapAddr("recipient", cfg.Recipient))
	return nil
}

// FeeConfig returns the current protocol fee.
func (r *Router) FeeConfig() FeeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fee
}

// SetFeeExemption marks or clears a caller's fee exemption. Admin only.
func (r *Router) SetFeeExemption(caller, account common.Address, exempt bool) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	r.mu.Lock()
	if exempt {
		r.exempt[account] = true
	} else {
		delete(r.exempt, account)
	}
	r.mu.Unlock()
	r.log.Info("Fee exemption updated",
		zapAddr("account", account), zap.Bool("exempt", exempt))
	return nil
}

// SetNativeWrapper installs the wrapped-native converter the router uses to
// resolve the native sentinel. Admin only.
func (r *Router) SetNativeWrapper(caller common.Address, w *ledger.WrappedNative) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if w == nil {
		return ErrWrapperNotSet
	}
	r.mu.Lock()
	r.wrapper = w
	r.mu.Unlock()
	r.log.Info("Native wrapper set", zap.String("wrapped", w.Token().String()))
	return nil
}

// Pause halts all swap execution. Admin or guardian. Quotes and the admin
// surface keep working.
func (r *Router) Pause(caller common.Address) error {
	if err := r.requireRole(caller, RoleAdmin, RoleGuardian); err != nil {
		return err
	}
	r.paused.Store(true)
	r.publish(events.PauseEvent{BaseEvent: events.NewBase(events.Paused), By: caller})
	r.log.Warn("Router paused", zapAddr("by", caller))
	return nil
}

// Unpause resumes swap execution. Admin only: a guardian can stop the
// router but not restart it.
func (r *Router) Unpause(caller common.Address) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	r.paused.Store(false)
	r.publish(events.PauseEvent{BaseEvent: events.NewBase(events.Unpaused), By: caller})
	r.log.Info("Router unpaused", zapAddr("by", caller))
	return nil
}

// EmergencyWithdraw moves funds held on the router account to an arbitrary
// recipient. Admin only. Works while paused; handles the native sentinel.
func (r *Router) EmergencyWithdraw(caller common.Address, t token.Token, to common.Address, amount *big.Int) error {
	if err := r.requireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return ErrZeroAmount
	}
	if err := r.book.Transfer(t, r.account, to, amount); err != nil {
		return fmt.Errorf("emergency withdraw: %w", err)
	}
	r.publish(events.EmergencyWithdrawalEvent{
		BaseEvent: events.NewBase(events.EmergencyWithdrawal),
		Token:     t.String(),
		To:        to,
		Amount:    new(big.Int).Set(amount),
	})
	r.log.Warn("Emergency withdrawal",
		zap.String("token", t.String()),
		zapAddr("to", to),
		zap.String("amount", amount.String()))
	return nil
}
