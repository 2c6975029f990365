package cart

import (
	"fmt"
	"sync"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/google/uuid"
)

type Item struct {
	ID       uuid.UUID    `json:"id"`
	VendorID uuid.UUID    `json:"vendor_id"`
	Name     string       `json:"name"`
	Price    domain.Money `json:"price"`
	Quantity int          `json:"quantity"`
	ImageRef string       `json:"image_ref,omitempty"`
}

type Vendor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// State is the serialisable content of a cart.
type State struct {
	Items        []Item  `json:"items"`
	Instructions string  `json:"instructions"`
	Vendor       *Vendor `json:"vendor,omitempty"`
}

// Cart is one session's draft order. Items are unique by id and kept in
// insertion order. Safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	state State
}

func New() *Cart {
	return &Cart{}
}

func FromState(s State) *Cart {
	c := &Cart{}
	c.state = cloneState(s)
	return c
}

// AddItem adds one unit of item. The cart must already be bound to the
// item's vendor.
func (c *Cart) AddItem(item Item) error {
	if item.ID == uuid.Nil {
		return domain.NewValidationError("item id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Vendor == nil {
		return domain.NewValidationError("select a vendor before adding items")
	}
	if item.VendorID != c.state.Vendor.ID {
		return domain.NewValidationError(fmt.Sprintf("%s is not sold by %s", item.Name, c.state.Vendor.Name))
	}

	if i := c.indexOf(item.ID); i >= 0 {
		c.state.Items[i].Quantity++
		return nil
	}
	item.Quantity = 1
	c.state.Items = append(c.state.Items, item)
	return nil
}

// UpdateQuantity sets the quantity of id; q <= 0 removes the item.
func (c *Cart) UpdateQuantity(id uuid.UUID, q int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if q <= 0 {
		c.remove(id)
		return
	}
	if i := c.indexOf(id); i >= 0 {
		c.state.Items[i].Quantity = q
	}
}

func (c *Cart) RemoveItem(id uuid.UUID) {
	c.mu.Lock()
	c.remove(id)
	c.mu.Unlock()
}

// SetVendor binds the cart to v. A non-empty cart bound to another vendor
// loses its items and instructions first.
func (c *Cart) SetVendor(v Vendor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.state.Items) > 0 && (c.state.Vendor == nil || c.state.Vendor.ID != v.ID) {
		c.state.Items = nil
		c.state.Instructions = ""
	}
	c.state.Vendor = &v
}

func (c *Cart) SetInstructions(text string) {
	c.mu.Lock()
	c.state.Instructions = text
	c.mu.Unlock()
}

func (c *Cart) Total() domain.Money {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total domain.Money
	for _, it := range c.state.Items {
		total += it.Price * domain.Money(it.Quantity)
	}
	return total
}

func (c *Cart) ItemCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, it := range c.state.Items {
		n += it.Quantity
	}
	return n
}

func (c *Cart) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.Items) == 0
}

func (c *Cart) Contains(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexOf(id) >= 0
}

// ClearAfterCheckout drops items and instructions but keeps the vendor.
func (c *Cart) ClearAfterCheckout() {
	c.mu.Lock()
	c.state.Items = nil
	c.state.Instructions = ""
	c.mu.Unlock()
}

// ClearOnVendorSwitch drops everything including the vendor binding.
func (c *Cart) ClearOnVendorSwitch() {
	c.mu.Lock()
	c.state = State{}
	c.mu.Unlock()
}

func (c *Cart) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneState(c.state)
}

// Snapshot freezes the cart into the form order creation consumes.
func (c *Cart) Snapshot() domain.CartSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := domain.CartSnapshot{Instructions: c.state.Instructions}
	if c.state.Vendor != nil {
		snap.VendorID = c.state.Vendor.ID
	}
	snap.Lines = make([]domain.CartLine, 0, len(c.state.Items))
	for _, it := range c.state.Items {
		snap.Lines = append(snap.Lines, domain.CartLine{
			MenuItemID: it.ID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.Price,
		})
	}
	return snap
}

func (c *Cart) indexOf(id uuid.UUID) int {
	for i, it := range c.state.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(id uuid.UUID) {
	i := c.indexOf(id)
	if i < 0 {
		return
	}
	c.state.Items = append(c.state.Items[:i], c.state.Items[i+1:]...)
}

func cloneState(s State) State {
	out := State{Instructions: s.Instructions}
	if len(s.Items) > 0 {
		out.Items = make([]Item, len(s.Items))
		copy(out.Items, s.Items)
	}
	if s.Vendor != nil {
		v := *s.Vendor
		out.Vendor = &v
	}
	return out
}
