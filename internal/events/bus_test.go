package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishSyncDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop(), 10)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var count atomic.Int32
	bus.SubscribeFunc(SwapExecuted, func(_ context.Context, ev Event) error {
		assert.Equal(t, SwapExecuted, ev.Type())
		count.Add(1)
		return nil
	})
	bus.SubscribeFunc(SwapExecuted, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})
	// A handler on another type must not fire.
	bus.SubscribeFunc(AdapterRemoved, func(context.Context, Event) error {
		count.Add(100)
		return nil
	})

	err := bus.PublishSync(context.Background(), SwapExecutedEvent{BaseEvent: NewBase(SwapExecuted)})
	require.NoError(t, err)
	assert.Equal(t, int32(2), count.Load())
}

func TestPublishSyncCollectsHandlerErrors(t *testing.T) {
	bus := NewBus(zap.NewNop(), 10)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	bus.SubscribeFunc(Paused, func(context.Context, Event) error {
		return errors.New("handler broke")
	})
	err := bus.PublishSync(context.Background(), PauseEvent{BaseEvent: NewBase(Paused)})
	assert.Error(t, err)
}

func TestPublishAsyncDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 10)

	done := make(chan Event, 1)
	bus.SubscribeFunc(AdapterRegistered, func(_ context.Context, ev Event) error {
		done <- ev
		return nil
	})

	require.NoError(t, bus.Publish(AdapterRegisteredEvent{
		BaseEvent: NewBase(AdapterRegistered),
		VenueID:   common.HexToHash("0x01"),
		Name:      "constprod",
	}))

	select {
	case ev := <-done:
		reg, ok := ev.(AdapterRegisteredEvent)
		require.True(t, ok)
		assert.Equal(t, "constprod", reg.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	require.NoError(t, bus.Shutdown(context.Background()))

	// Publishing after shutdown fails instead of blocking.
	assert.Error(t, bus.Publish(AdapterRegisteredEvent{BaseEvent: NewBase(AdapterRegistered)}))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 10)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var count atomic.Int32
	sub := bus.SubscribeFunc(SwapExecuted, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	require.NoError(t, bus.PublishSync(context.Background(), SwapExecutedEvent{BaseEvent: NewBase(SwapExecuted)}))
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), SwapExecutedEvent{BaseEvent: NewBase(SwapExecuted)}))

	assert.Equal(t, int32(1), count.Load())
}

func TestShutdownDrainsPending(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)

	var count atomic.Int32
	bus.SubscribeFunc(SwapExecuted, func(context.Context, Event) error {
		count.Add(1)
		return nil
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(SwapExecutedEvent{BaseEvent: NewBase(SwapExecuted)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))
	assert.Equal(t, int32(5), count.Load())
}
