// Package events is the in-process event bus. Publication is asynchronous and
// best-effort: every subscriber has a bounded inbox, and an event that does not
// fit is dropped for that subscriber with a warning.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"table-service/internal/logger"
	"table-service/internal/utils"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

const (
	OrderCreated         = "order.created"
	OrderUpdated         = "order.updated"
	OrderCancelled       = "order.cancelled"
	OrdersSummaryUpdated = "orders.summary.updated"
	TableUpdated         = "table.updated"
	TableLayoutUpdated   = "table.layout.updated"
	SessionCreated       = "session.created"
	SessionUpdated       = "session.updated"
	SessionClosed        = "session.closed"
	SessionsCleaned      = "sessions.cleaned"
	InventoryUpdated     = "inventory.updated"
	InventoryLowStock    = "inventory.low_stock"
	PaymentPreference    = "payment.preference.created"
	PaymentStatusUpdated = "payment.status.updated"
)

const (
	DefaultHistorySize    = 50
	defaultSubscriberSize = 64
)

type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  int64     `json:"sequence"`
}

type Handler func(Envelope)

type subscriber struct {
	id      int64
	topic   string
	handler Handler
	inbox   chan Envelope
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

type Bus struct {
	log         *logger.Logger
	historySize int
	bufferSize  int
	now         func() time.Time

	seq    atomic.Int64
	nextID atomic.Int64

	mu      sync.RWMutex
	subs    map[string]map[int64]*subscriber
	history map[string]*ring
	closed  bool
	wg      sync.WaitGroup
}

func NewBus(historySize, bufferSize int, log *logger.Logger) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberSize
	}
	return &Bus{
		log:         log,
		historySize: historySize,
		bufferSize:  bufferSize,
		now:         time.Now,
		subs:        make(map[string]map[int64]*subscriber),
		history:     make(map[string]*ring),
	}
}

// Subscribe registers handler for eventType (or Wildcard). Handlers run on a
// goroutine owned by the subscription, in publish order. The returned func
// unsubscribes and is safe to call more than once.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	sub := &subscriber{
		id:      b.nextID.Add(1),
		topic:   eventType,
		handler: handler,
		inbox:   make(chan Envelope, b.bufferSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int64]*subscriber)
	}
	b.subs[eventType][sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.deliver(sub)

	return func() {
		b.mu.Lock()
		if m := b.subs[eventType]; m != nil {
			delete(m, sub.id)
		}
		b.mu.Unlock()
		sub.stop()
	}
}

func (b *Bus) deliver(sub *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case env := <-sub.inbox:
			b.invoke(sub, env)
		}
	}
}

func (b *Bus) invoke(sub *subscriber, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("EVENTS", fmt.Sprintf("Subscriber to %s panicked on %s: %v", sub.topic, env.Type, r))
		}
	}()
	sub.handler(env)
}

// Publish records the event in its type's history and hands it to every
// matching subscriber without waiting for them.
func (b *Bus) Publish(eventType string, payload any) Envelope {
	env := Envelope{
		ID:        utils.GenerateUUID(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	}

	b.mu.Lock()
	env.Sequence = b.seq.Add(1)
	if b.closed {
		b.mu.Unlock()
		return env
	}
	h := b.history[eventType]
	if h == nil {
		h = newRing(b.historySize)
		b.history[eventType] = h
	}
	h.push(env)

	targets := make([]*subscriber, 0, len(b.subs[eventType])+len(b.subs[Wildcard]))
	for _, s := range b.subs[eventType] {
		targets = append(targets, s)
	}
	if eventType != Wildcard {
		for _, s := range b.subs[Wildcard] {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.inbox <- env:
		default:
			b.log.Warn("EVENTS", fmt.Sprintf("Subscriber to %s is full, dropping %s #%d", s.topic, env.Type, env.Sequence))
		}
	}
	return env
}

// GetHistory returns up to the last historySize events of eventType, oldest
// first. Wildcard merges every type's history in sequence order.
func (b *Bus) GetHistory(eventType string) []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if eventType != Wildcard {
		if h := b.history[eventType]; h != nil {
			return h.items()
		}
		return []Envelope{}
	}

	var all []Envelope
	for _, h := range b.history {
		all = append(all, h.items()...)
	}
	sortBySequence(all)
	return all
}

// Close stops every subscription. Events still sitting in inboxes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, m := range b.subs {
		for _, s := range m {
			s.stop()
		}
	}
	b.subs = map[string]map[int64]*subscriber{}
	b.mu.Unlock()

	b.wg.Wait()
}
