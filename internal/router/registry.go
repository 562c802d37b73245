package router

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/dex"
)

// registry holds the venue adapters by id plus an enumerable id slice.
// Removal is swap-remove, so enumeration order is registration order until
// the first removal and stays stable between mutations either way.
type registry struct {
	mu       sync.RWMutex
	adapters map[VenueID]dex.Adapter
	order    []VenueID
	log      *zap.Logger
}

func newRegistry(log *zap.Logger) *registry {
	return &registry{
		adapters: make(map[VenueID]dex.Adapter),
		log:      log.Named("registry"),
	}
}

// register adds or overwrites the adapter under id. Overwriting keeps the
// id's position in the enumeration. The descriptor fetch is best-effort: a
// failing GetDexInfo logs a warning but never blocks registration.
func (rg *registry) register(id VenueID, adapter dex.Adapter) dex.Info {
	info := describeAdapter(adapter, rg.log)

	rg.mu.Lock()
	defer rg.mu.Unlock()
	if _, ok := rg.adapters[id]; !ok {
		rg.order = append(rg.order, id)
	}
	rg.adapters[id] = adapter
	rg.log.Info("Adapter registered",
		zap.String("venue_id", id.Hex()),
		zap.String("name", info.Name),
		zap.String("address", info.PrimaryAddress.Hex()))
	return info
}

// remove deletes the adapter under id using swap-remove on the id slice.
func (rg *registry) remove(id VenueID) (dex.Adapter, error) {
	rg.mu.Lock()
	defer rg.mu.Unlock()
	adapter, ok := rg.adapters[id]
	if !ok {
		return nil, fmt.Errorf("venue %s: %w", id.Hex(), ErrInvalidAdapter)
	}
	delete(rg.adapters, id)
	for i, cur := range rg.order {
		if cur == id {
			last := len(rg.order) - 1
			rg.order[i] = rg.order[last]
			rg.order = rg.order[:last]
			break
		}
	}
	rg.log.Info("Adapter removed", zap.String("venue_id", id.Hex()))
	return adapter, nil
}

func (rg *registry) get(id VenueID) (dex.Adapter, bool) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	a, ok := rg.adapters[id]
	return a, ok
}

// snapshot returns the ids and adapters in enumeration order.
func (rg *registry) snapshot() ([]VenueID, []dex.Adapter) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	ids := make([]VenueID, len(rg.order))
	copy(ids, rg.order)
	adapters := make([]dex.Adapter, len(ids))
	for i, id := range ids {
		adapters[i] = rg.adapters[id]
	}
	return ids, adapters
}

func (rg *registry) len() int {
	rg.mu.RLock()
	defer rg.mu.RUnlock()
	return len(rg.order)
}

// describeAdapter fetches the adapter descriptor, absorbing panics: a
// hostile descriptor must not block registry mutations.
func describeAdapter(adapter dex.Adapter, log *zap.Logger) (info dex.Info) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn("GetDexInfo panicked", zap.Any("panic", rec))
			info = dex.Info{}
		}
	}()
	return adapter.GetDexInfo()
}
