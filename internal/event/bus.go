// Package event provides the in-process event bus implementing
// plugin.EventBus. Each subscriber gets a bounded FIFO queue drained by
// its own delivery goroutine, so a slow subscriber can never stall the
// publisher or another subscriber. When a queue is full the oldest
// undelivered event is dropped and counted: diagnostic freshness matters
// more than completeness.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/netmedic/pkg/plugin"
)

// DefaultQueueSize bounds a subscriber's undelivered-event queue unless
// overridden with plugin.WithQueueSize.
const DefaultQueueSize = 256

var droppedEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "netmedic_bus_dropped_events_total",
		Help: "Events dropped per subscriber due to a full queue.",
	},
	[]string{"subscriber"},
)

func init() {
	prometheus.MustRegister(droppedEvents)
}

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

// Bus is the in-memory event bus. Publish copies the event into every
// matching subscriber queue and returns immediately.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	logger *zap.Logger
	wg     sync.WaitGroup
}

type subscription struct {
	id      uint64
	name    string
	topic   string // "" subscribes to all topics
	handler plugin.EventHandler
	queue   chan plugin.Event
	drops   atomic.Uint64
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*subscription),
		logger: logger,
	}
}

// Publish dispatches an event to every matching subscriber queue.
// It never blocks on a slow subscriber: a full queue sheds its oldest
// undelivered event first.
func (b *Bus) Publish(_ context.Context, ev plugin.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.topic != "" && s.topic != ev.Topic {
			continue
		}
		b.enqueue(s, ev)
	}
}

// enqueue pushes ev onto the subscriber queue, dropping the oldest
// undelivered event when the queue is full. Called under b.mu (read),
// which excludes concurrent close of s.queue.
func (b *Bus) enqueue(s *subscription, ev plugin.Event) {
	for {
		select {
		case s.queue <- ev:
			return
		default:
		}

		// Queue full: shed the oldest event and retry. The delivery
		// goroutine may have raced us and made room, in which case the
		// receive misses and the next loop iteration succeeds.
		select {
		case <-s.queue:
			s.drops.Add(1)
			droppedEvents.WithLabelValues(s.name).Inc()
			b.logger.Warn("subscriber queue full, dropped oldest event",
				zap.String("subscriber", s.name),
				zap.String("topic", ev.Topic),
			)
		default:
		}
	}
}

// Subscribe registers a handler for a specific topic. Returns an
// unsubscribe function. Events published before Subscribe returns are
// not delivered to the new subscriber.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler, opts ...plugin.SubscribeOption) (unsubscribe func()) {
	return b.add(topic, handler, opts)
}

// SubscribeAll registers a handler for all topics. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler plugin.EventHandler, opts ...plugin.SubscribeOption) (unsubscribe func()) {
	return b.add("", handler, opts)
}

func (b *Bus) add(topic string, handler plugin.EventHandler, opts []plugin.SubscribeOption) func() {
	o := plugin.SubscribeOptions{QueueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	s := &subscription{
		id:      id,
		name:    o.Name,
		topic:   topic,
		handler: handler,
		queue:   make(chan plugin.Event, o.QueueSize),
	}
	if s.name == "" {
		s.name = "anonymous"
	}
	b.subs[id] = s
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(s)

	return func() { b.remove(id) }
}

// deliver drains one subscriber queue in FIFO order. Exits when the
// queue is closed by remove or Close.
func (b *Bus) deliver(s *subscription) {
	defer b.wg.Done()
	for ev := range s.queue {
		b.safeCall(s, ev)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(s.queue)
	}
	b.mu.Unlock()
}

// Close removes all subscribers and waits for in-flight deliveries to
// finish. Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Drops returns the number of events dropped for the named subscriber.
func (b *Bus) Drops(name string) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total uint64
	for _, s := range b.subs {
		if s.name == name {
			total += s.drops.Load()
		}
	}
	return total
}

func (b *Bus) safeCall(s *subscription, ev plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscriber", s.name),
				zap.String("topic", ev.Topic),
				zap.String("source", ev.Source),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(context.Background(), ev)
}
