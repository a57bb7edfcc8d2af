package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradingcore/pkg/logger"
)

// Handler is called for every published event matching its subscription.
// A handler returning an error does not stop delivery to other handlers;
// the bus logs the error and moves on.
type Handler func(Data) error

// Envelope wraps a published event with bus-assigned metadata, kept in the
// in-memory ring for test assertions and the control surface's debug feed.
type Envelope struct {
	Type        Type
	Data        Data
	PublishedAt time.Time
}

// Subscription is an opaque handle returned by Subscribe/SubscribeAll,
// passed back to Unsubscribe to remove a handler.
type Subscription struct {
	id       uint64
	evtType  Type
	catchAll bool
}

const defaultRingSize = 500

// Bus is an in-memory typed publish/subscribe dispatcher. Within a single
// Publish call, type-matched handlers run in subscription order, then
// catch-all handlers. PublishAsync dispatches concurrently and waits for
// all handlers to finish, discarding (but logging) any errors.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]subscriber
	catchAll []subscriber
	nextID   uint64

	ringMu sync.Mutex
	ring   []Envelope
	ringAt int
	ringSize int

	log zerolog.Logger
}

type subscriber struct {
	id uint64
	fn Handler
}

// New constructs an empty Bus. Pass a zero ringSize to use the default.
func New(log zerolog.Logger, ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = defaultRingSize
	}
	return &Bus{
		handlers: make(map[Type][]subscriber),
		ring:     make([]Envelope, 0, ringSize),
		ringSize: ringSize,
		log:      logger.Component(log, "event_bus"),
	}
}

// Subscribe registers h to be invoked for every event of type t.
func (b *Bus) Subscribe(t Type, h Handler) Subscription {
	id := atomic.AddUint64(&b.nextID, 1)
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], subscriber{id: id, fn: h})
	b.mu.Unlock()
	return Subscription{id: id, evtType: t}
}

// SubscribeAll registers h as a catch-all tap invoked for every event,
// after type-matched handlers, regardless of type. Useful for auditing.
func (b *Bus) SubscribeAll(h Handler) Subscription {
	id := atomic.AddUint64(&b.nextID, 1)
	b.mu.Lock()
	b.catchAll = append(b.catchAll, subscriber{id: id, fn: h})
	b.mu.Unlock()
	return Subscription{id: id, catchAll: true}
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.catchAll {
		b.catchAll = removeSubscriber(b.catchAll, sub.id)
		return
	}
	b.handlers[sub.evtType] = removeSubscriber(b.handlers[sub.evtType], sub.id)
}

func removeSubscriber(list []subscriber, id uint64) []subscriber {
	out := list[:0:0]
	for _, s := range list {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish delivers event synchronously: type-matched handlers in
// subscription order, then catch-all handlers. A failing handler is
// isolated — logged, never re-raised to the publisher.
func (b *Bus) Publish(event Data) {
	b.record(event)

	b.mu.RLock()
	typed := append([]subscriber(nil), b.handlers[event.EventType()]...)
	all := append([]subscriber(nil), b.catchAll...)
	b.mu.RUnlock()

	for _, s := range typed {
		b.invoke(s, event)
	}
	for _, s := range all {
		b.invoke(s, event)
	}
}

// PublishAsync dispatches to all matching handlers concurrently and blocks
// until every one has returned. Errors are captured and logged, never
// propagated to the caller.
func (b *Bus) PublishAsync(event Data) {
	b.record(event)

	b.mu.RLock()
	typed := append([]subscriber(nil), b.handlers[event.EventType()]...)
	all := append([]subscriber(nil), b.catchAll...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range append(typed, all...) {
		wg.Add(1)
		go func(s subscriber) {
			defer wg.Done()
			b.invoke(s, event)
		}(s)
	}
	wg.Wait()
}

func (b *Bus) invoke(s subscriber, event Data) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.EventType())).
				Msg("event handler panicked, isolating")
		}
	}()

	if err := s.fn(event); err != nil {
		b.log.Error().
			Err(err).
			Str("event_type", string(event.EventType())).
			Msg("event handler returned error, isolating")
	}
}

func (b *Bus) record(event Data) {
	env := Envelope{Type: event.EventType(), Data: event, PublishedAt: time.Now().UTC()}

	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	if len(b.ring) < b.ringSize {
		b.ring = append(b.ring, env)
	} else {
		b.ring[b.ringAt] = env
		b.ringAt = (b.ringAt + 1) % b.ringSize
	}
}

// Recent returns up to n most-recently published events, newest last.
func (b *Bus) Recent(n int) []Envelope {
	b.ringMu.Lock()
	defer b.ringMu.Unlock()

	total := len(b.ring)
	if n <= 0 || n > total {
		n = total
	}

	out := make([]Envelope, 0, n)
	if total < b.ringSize {
		start := total - n
		out = append(out, b.ring[start:total]...)
		return out
	}

	// Ring is full; oldest element is at ringAt.
	ordered := make([]Envelope, 0, total)
	ordered = append(ordered, b.ring[b.ringAt:]...)
	ordered = append(ordered, b.ring[:b.ringAt]...)
	start := total - n
	out = append(out, ordered[start:]...)
	return out
}
