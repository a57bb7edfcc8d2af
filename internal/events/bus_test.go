package events

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	kind    Type
	payload string
}

func (e testEvent) EventType() Type { return e.kind }

func newTestBus() *Bus {
	return New(zerolog.Nop(), 8)
}

func TestPublish_DeliversInSubscriptionOrderThenCatchAll(t *testing.T) {
	b := newTestBus()
	var order []string

	b.Subscribe(OrderPlaced, func(Data) error {
		order = append(order, "first")
		return nil
	})
	b.Subscribe(OrderPlaced, func(Data) error {
		order = append(order, "second")
		return nil
	})
	b.SubscribeAll(func(Data) error {
		order = append(order, "catchall")
		return nil
	})

	b.Publish(testEvent{kind: OrderPlaced})

	assert.Equal(t, []string{"first", "second", "catchall"}, order)
}

func TestPublish_FailingHandlerIsolatedFromOthers(t *testing.T) {
	b := newTestBus()
	var ran int32

	b.Subscribe(OrderPlaced, func(Data) error {
		return errors.New("boom")
	})
	b.Subscribe(OrderPlaced, func(Data) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	require.NotPanics(t, func() {
		b.Publish(testEvent{kind: OrderPlaced})
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPublish_PanickingHandlerIsolated(t *testing.T) {
	b := newTestBus()
	var ran int32

	b.Subscribe(OrderPlaced, func(Data) error {
		panic("handler exploded")
	})
	b.Subscribe(OrderPlaced, func(Data) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	require.NotPanics(t, func() {
		b.Publish(testEvent{kind: OrderPlaced})
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestPublishAsync_WaitsForAllHandlers(t *testing.T) {
	b := newTestBus()
	done := make(chan struct{}, 2)

	b.Subscribe(OrderFilled, func(Data) error {
		time.Sleep(5 * time.Millisecond)
		done <- struct{}{}
		return nil
	})
	b.SubscribeAll(func(Data) error {
		done <- struct{}{}
		return nil
	})

	b.PublishAsync(testEvent{kind: OrderFilled})

	assert.Len(t, done, 2)
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := newTestBus()
	var count int32

	sub := b.Subscribe(OrderCancelled, func(Data) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	b.Publish(testEvent{kind: OrderCancelled})
	b.Unsubscribe(sub)
	b.Publish(testEvent{kind: OrderCancelled})

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestRecent_ReturnsNewestEventsInOrderAfterWraparound(t *testing.T) {
	b := newTestBus() // ring size 8

	for i := 0; i < 10; i++ {
		b.Publish(testEvent{kind: OrderPlaced, payload: string(rune('a' + i))})
	}

	recent := b.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "h", recent[0].Data.(testEvent).payload)
	assert.Equal(t, "i", recent[1].Data.(testEvent).payload)
	assert.Equal(t, "j", recent[2].Data.(testEvent).payload)
}
