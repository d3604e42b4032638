package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"llama-chat/internal/domain"
)

type delivery struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns an unbounded mailbox drained by a single goroutine, so
// each handler sees events in publish order and Publish never blocks on a
// slow handler.
type subscription struct {
	id      uint64
	handler domain.EventHandler

	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	stopped bool
}

func newSubscription(id uint64, handler domain.EventHandler) *subscription {
	return &subscription{id: id, handler: handler, wake: make(chan struct{}, 1)}
}

func (s *subscription) enqueue(d delivery) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop marks the mailbox closed. Events already queued are still delivered.
func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) next() ([]delivery, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch, s.stopped
}

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]*subscription),
		logger: logger,
	}
}

// Publish fans out an event to matching typed subscribers and all-event subscribers.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.typed[event.Type])+len(b.allSubs))
	targets = append(targets, b.typed[event.Type]...)
	targets = append(targets, b.allSubs...)
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(delivery{ctx: ctx, event: event})
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for range sub.wake {
		batch, stopped := sub.next()
		for _, d := range batch {
			b.invoke(sub, d)
		}
		if stopped {
			// Drain anything enqueued between next() and stop().
			rest, _ := sub.next()
			for _, d := range rest {
				b.invoke(sub, d)
			}
			return
		}
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.event)
}

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := newSubscription(b.nextID.Add(1), handler)
	b.wg.Add(1)
	go b.run(sub)
	if b.closed.Load() {
		sub.stop()
	}
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.typed[eventType] = removeSub(b.typed[eventType], sub.id)
			b.mu.Unlock()
			sub.stop()
		})
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.allSubs = removeSub(b.allSubs, sub.id)
			b.mu.Unlock()
			sub.stop()
		})
	}
}

func removeSub(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes, delivers what is already queued and waits
// for every handler to return. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	var all []*subscription
	for _, subs := range b.typed {
		all = append(all, subs...)
	}
	all = append(all, b.allSubs...)
	b.typed = make(map[domain.EventType][]*subscription)
	b.allSubs = nil
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	b.wg.Wait()
}

var _ domain.EventBus = (*Bus)(nil)
