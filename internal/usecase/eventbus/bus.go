package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"agentroute/internal/domain"
)

// DefaultQueueSize is the per-subscriber delivery buffer.
const DefaultQueueSize = 256

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscriber owns one delivery goroutine so each handler sees events in publish order.
type subscriber struct {
	id      uint64
	kind    domain.EventType
	all     bool
	handler domain.EventHandler
	queue   chan delivery
	stop    chan struct{}
	once    sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.stop) }) }

// Bus is an in-process, goroutine-safe lifecycle notifier.
type Bus struct {
	mu        sync.RWMutex
	typed     map[domain.EventType][]*subscriber
	allSubs   []*subscriber
	nextID    atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize overrides the per-subscriber buffer.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// New creates a notifier.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		typed:     make(map[domain.EventType][]*subscriber),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish enqueues an event for matching typed subscribers and all-event subscribers.
// It blocks only while a subscriber's queue is full, and gives up when ctx is done.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	d := delivery{ctx: context.WithoutCancel(ctx), event: event}
	for _, sub := range targets {
		select {
		case sub.queue <- d:
		case <-sub.stop:
		case <-ctx.Done():
			b.logger.Warn("event dropped",
				"event", string(event.Type),
				"workflow_id", event.WorkflowID,
				"error", ctx.Err(),
			)
			return
		}
	}
}

func (b *Bus) run(sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case d := <-sub.queue:
			b.deliver(sub, d)
		case <-sub.stop:
			for {
				select {
				case d := <-sub.queue:
					b.deliver(sub, d)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(sub *subscriber, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"workflow_id", d.event.WorkflowID,
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

// add registers a subscriber and starts its delivery goroutine. It returns
// nil once the bus is closed.
func (b *Bus) add(kind domain.EventType, all bool, handler domain.EventHandler) *subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil
	}

	sub := &subscriber{
		id:      b.nextID.Add(1),
		kind:    kind,
		all:     all,
		handler: handler,
		queue:   make(chan delivery, b.queueSize),
		stop:    make(chan struct{}),
	}
	if all {
		b.allSubs = append(b.allSubs, sub)
	} else {
		b.typed[kind] = append(b.typed[kind], sub)
	}
	b.wg.Add(1)
	go b.run(sub)
	return sub
}

func (b *Bus) remove(sub *subscriber) {
	b.mu.Lock()
	if sub.all {
		b.allSubs = without(b.allSubs, sub.id)
	} else {
		b.typed[sub.kind] = without(b.typed[sub.kind], sub.id)
	}
	b.mu.Unlock()
	sub.close()
}

func without(subs []*subscriber, id uint64) []*subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Subscribe registers a handler for one event kind.
// Returns an unsubscribe function. After Close it registers nothing and
// the returned function is a no-op.
func (b *Bus) Subscribe(kind domain.EventType, handler domain.EventHandler) func() {
	sub := b.add(kind, false, handler)
	if sub == nil {
		return func() {}
	}
	return func() { b.remove(sub) }
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.add("", true, handler)
	if sub == nil {
		return func() {}
	}
	return func() { b.remove(sub) }
}

// Close prevents new publishes, delivers what is already queued, and waits
// for every subscriber goroutine to exit. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for _, subs := range b.typed {
		for _, s := range subs {
			s.close()
		}
	}
	for _, s := range b.allSubs {
		s.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

var _ domain.Notifier = (*Bus)(nil)
