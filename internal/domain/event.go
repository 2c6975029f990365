package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityMenuItem EntityType = "menu_item"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// StatusChangeEvent describes an accepted mutation. It is used for live
// propagation only; storage remains the source of truth.
type StatusChangeEvent struct {
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityType EntityType `json:"entity_type"`
	Kind       ChangeKind `json:"kind"`
	VendorID   uuid.UUID  `json:"vendor_id"`
	CustomerID string     `json:"customer_id,omitempty"`
	Status     Status     `json:"status,omitempty"`
	Actor      string     `json:"actor,omitempty"`
	Sequence   int64      `json:"sequence"`
	Timestamp  time.Time  `json:"timestamp"`
}

// OrderEvent builds the event for an order snapshot after a write.
func OrderEvent(o *Order, kind ChangeKind, actor string) StatusChangeEvent {
	return StatusChangeEvent{
		EntityID:   o.ID,
		EntityType: EntityOrder,
		Kind:       kind,
		VendorID:   o.VendorID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Actor:      actor,
		Sequence:   o.Revision,
		Timestamp:  o.UpdatedAt,
	}
}
