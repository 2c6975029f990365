package domain

import (
	"time"

	"github.com/google/uuid"
)

// Money is an amount in minor currency units (paise).
type Money int64

type Order struct {
	ID                  uuid.UUID   `json:"id"`
	CustomerID          string      `json:"customer_id"`
	VendorID            uuid.UUID   `json:"vendor_id"`
	TotalAmount         Money       `json:"total_amount"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
	PaymentEvidenceRef  string      `json:"payment_evidence_ref"`
	Status              Status      `json:"status"`
	StaffNotes          string      `json:"staff_notes,omitempty"`
	Revision            int64       `json:"revision"`
	IdempotencyKey      string      `json:"-"`
	Items               []OrderItem `json:"items"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// OrderItem freezes the menu price at the moment the order was placed.
type OrderItem struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"order_id"`
	MenuItemID  uuid.UUID `json:"menu_item_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	PriceAtTime Money     `json:"price_at_time"`
}

// CartLine is one entry of the cart snapshot handed to order creation.
type CartLine struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	UnitPrice  Money     `json:"unit_price"`
}

type CartSnapshot struct {
	VendorID     uuid.UUID  `json:"vendor_id"`
	Lines        []CartLine `json:"lines"`
	Instructions string     `json:"instructions"`
}

func (s CartSnapshot) Empty() bool {
	return len(s.Lines) == 0
}

type Vendor struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	StaffID      string    `json:"staff_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	PaymentQRRef string    `json:"payment_qr_ref,omitempty"`
}

type MenuItem struct {
	ID          uuid.UUID `json:"id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	Name        string    `json:"name"`
	Price       Money     `json:"price"`
	IsAvailable bool      `json:"is_available"`
}

// Total sums price × quantity over the order items.
func Total(items []OrderItem) Money {
	var sum Money
	for _, it := range items {
		sum += it.PriceAtTime * Money(it.Quantity)
	}
	return sum
}
