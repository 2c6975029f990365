package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/google/uuid"
)

const DefaultBuffer = 64

// Filter selects the events a subscriber is interested in. Zero-valued
// fields match anything.
type Filter struct {
	EntityType domain.EntityType
	VendorID   uuid.UUID
	CustomerID string
	EntityID   uuid.UUID
	Predicate  func(domain.StatusChangeEvent) bool
}

func ForVendor(vendorID uuid.UUID) Filter {
	return Filter{VendorID: vendorID}
}

func ForCustomer(customerID string) Filter {
	return Filter{EntityType: domain.EntityOrder, CustomerID: customerID}
}

func (f Filter) Match(ev domain.StatusChangeEvent) bool {
	if f.EntityType != "" && f.EntityType != ev.EntityType {
		return false
	}
	if f.VendorID != uuid.Nil && f.VendorID != ev.VendorID {
		return false
	}
	if f.CustomerID != "" && f.CustomerID != ev.CustomerID {
		return false
	}
	if f.EntityID != uuid.Nil && f.EntityID != ev.EntityID {
		return false
	}
	if f.Predicate != nil && !f.Predicate(ev) {
		return false
	}
	return true
}

type Subscription struct {
	id      uint64
	filter  Filter
	ch      chan domain.StatusChangeEvent
	hub     *Hub
	dropped atomic.Uint64
	once    sync.Once
}

// Events is closed once the subscription is cancelled.
func (s *Subscription) Events() <-chan domain.StatusChangeEvent {
	return s.ch
}

// Dropped counts events lost because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Hub fans change events out to live subscribers. Delivery is best effort:
// there is no queue, and a full subscriber buffer drops the event for that
// subscriber only. Publish calls are serialized so every subscriber sees
// events in publish order.
type Hub struct {
	buffer int

	pubMu sync.Mutex

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

func (h *Hub) Subscribe(f Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		filter: f,
		ch:     make(chan domain.StatusChangeEvent, h.buffer),
		hub:    h,
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		// pubMu keeps the channel from closing under an in-flight send.
		h.pubMu.Lock()
		h.mu.Lock()
		delete(h.subs, sub.id)
		h.mu.Unlock()
		close(sub.ch)
		h.pubMu.Unlock()
	})
}

func (h *Hub) Publish(ev domain.StatusChangeEvent) int {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.filter.Match(ev) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		select {
		case s.ch <- ev:
			delivered++
		default:
			s.dropped.Add(1)
			logger.Warn("subscriber buffer full, event dropped",
				"entity_id", ev.EntityID, "entity_type", ev.EntityType, "sequence", ev.Sequence)
		}
	}
	return delivered
}

// Emit lets the hub stand in as the engine's emitter when no external
// change feed is configured.
func (h *Hub) Emit(_ context.Context, ev domain.StatusChangeEvent) error {
	h.Publish(ev)
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
