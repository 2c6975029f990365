package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/RaikyD/canteen-orders-service/internal/notify"
	"github.com/RaikyD/canteen-orders-service/internal/repository"
	"github.com/google/uuid"
)

const defaultListLimit = 100

// Emitter forwards accepted changes to the notification feed.
type Emitter interface {
	Emit(ctx context.Context, ev domain.StatusChangeEvent) error
}

// EvidenceURLs resolves a stored evidence reference to a viewable URL.
type EvidenceURLs interface {
	PublicURL(ref string) string
}

type nopEmitter struct{}

func (nopEmitter) Emit(context.Context, domain.StatusChangeEvent) error { return nil }

type Option func(*OrdersService)

func WithEmitter(e Emitter) Option {
	return func(s *OrdersService) { s.emitter = e }
}

func WithEvidenceURLs(u EvidenceURLs) Option {
	return func(s *OrdersService) { s.urls = u }
}

// OrdersService is the order lifecycle engine: it owns order creation and
// every status transition, and keeps a read cache of recently seen orders.
type OrdersService struct {
	repo    repository.OrderRepo
	emitter Emitter
	urls    EvidenceURLs

	mu   sync.RWMutex
	byID map[uuid.UUID]*domain.Order
}

func NewOrdersService(r repository.OrderRepo, opts ...Option) *OrdersService {
	s := &OrdersService{
		repo:    r,
		emitter: nopEmitter{},
		byID:    make(map[uuid.UUID]*domain.Order),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateOrderRequest struct {
	Snapshot       domain.CartSnapshot
	EvidenceRef    string
	Customer       domain.Actor
	VendorID       uuid.UUID
	IdempotencyKey string
}

// CreateOrder persists a new order and its items atomically. Item prices are
// taken from the current menu, not from the client snapshot.
func (s *OrdersService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	if req.Snapshot.Empty() {
		return nil, domain.NewValidationError("cart is empty")
	}
	if strings.TrimSpace(req.EvidenceRef) == "" {
		return nil, domain.NewValidationError("payment evidence is required")
	}
	if req.Customer.Role != domain.RoleCustomer || strings.TrimSpace(req.Customer.ID) == "" {
		return nil, domain.NewValidationError("orders can only be placed by a customer")
	}
	if req.VendorID == uuid.Nil {
		return nil, domain.NewValidationError("vendor is required")
	}

	if req.IdempotencyKey != "" {
		existing, err := s.FindByIdempotencyKey(ctx, req.Customer, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info("order replayed by idempotency key", "order_id", existing.ID, "customer", req.Customer.ID)
			return existing, nil
		}
	}

	items, err := s.price(ctx, req.VendorID, req.Snapshot.Lines)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                  uuid.New(),
		CustomerID:          req.Customer.ID,
		VendorID:            req.VendorID,
		TotalAmount:         domain.Total(items),
		SpecialInstructions: strings.TrimSpace(req.Snapshot.Instructions),
		PaymentEvidenceRef:  req.EvidenceRef,
		Status:              domain.InitialStatus,
		IdempotencyKey:      req.IdempotencyKey,
		Items:               items,
	}

	if err := s.repo.AddOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyExists) && req.IdempotencyKey != "" {
			existing, e := s.repo.GetOrderByIdempotencyKey(ctx, req.Customer.ID, req.IdempotencyKey)
			if e == nil && existing != nil {
				return existing, nil
			}
		}
		logger.Warn("add order failed", "customer", req.Customer.ID, "vendor", req.VendorID, "err", err)
		return nil, domain.NewStorageError("create order", err)
	}

	s.remember(order)
	s.emit(ctx, domain.OrderEvent(order, domain.ChangeCreated, req.Customer.ID))
	logger.Info("order created", "order_id", order.ID, "customer", order.CustomerID,
		"vendor", order.VendorID, "total", order.TotalAmount, "items", len(order.Items))
	return order, nil
}

// FindByIdempotencyKey returns the customer's order placed under key, or nil.
func (s *OrdersService) FindByIdempotencyKey(ctx context.Context, customer domain.Actor, key string) (*domain.Order, error) {
	if key == "" {
		return nil, nil
	}
	o, err := s.repo.GetOrderByIdempotencyKey(ctx, customer.ID, key)
	if err != nil {
		return nil, domain.NewStorageError("lookup idempotency key", err)
	}
	return o, nil
}

// CheckOrderable reports the problems CreateOrder would reject the
// snapshot for: an unknown or closed vendor, or lines that cannot be sold.
func (s *OrdersService) CheckOrderable(ctx context.Context, vendorID uuid.UUID, snap domain.CartSnapshot) error {
	if snap.Empty() {
		return domain.NewValidationError("cart is empty")
	}
	_, err := s.price(ctx, vendorID, snap.Lines)
	return err
}

func (s *OrdersService) price(ctx context.Context, vendorID uuid.UUID, lines []domain.CartLine) ([]domain.OrderItem, error) {
	vendor, err := s.repo.GetVendor(ctx, vendorID)
	if err != nil {
		return nil, domain.NewStorageError("load vendor", err)
	}
	if vendor == nil {
		return nil, &domain.NotFoundError{Entity: "vendor", ID: vendorID.String()}
	}
	if !vendor.IsActive {
		return nil, domain.NewValidationError(fmt.Sprintf("vendor %s is not accepting orders", vendor.Name))
	}
	return s.priceLines(ctx, vendorID, lines)
}

func (s *OrdersService) priceLines(ctx context.Context, vendorID uuid.UUID, lines []domain.CartLine) ([]domain.OrderItem, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, ln := range lines {
		if ln.MenuItemID == uuid.Nil {
			return nil, domain.NewValidationError("cart item without id")
		}
		if ln.Quantity < 1 {
			return nil, domain.NewValidationError(fmt.Sprintf("quantity for %s must be at least 1", ln.MenuItemID))
		}
		if seen[ln.MenuItemID] {
			return nil, domain.NewValidationError(fmt.Sprintf("item %s appears twice", ln.MenuItemID))
		}
		seen[ln.MenuItemID] = true
		ids = append(ids, ln.MenuItemID)
	}

	menu, err := s.repo.MenuItems(ctx, vendorID, ids)
	if err != nil {
		return nil, domain.NewStorageError("load menu prices", err)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, ln := range lines {
		mi, ok := menu[ln.MenuItemID]
		if !ok {
			return nil, domain.NewValidationError(fmt.Sprintf("item %s is not on this vendor's menu", ln.MenuItemID))
		}
		if !mi.IsAvailable {
			return nil, domain.NewValidationError(fmt.Sprintf("%s is currently unavailable", mi.Name))
		}
		items = append(items, domain.OrderItem{
			MenuItemID:  mi.ID,
			Name:        mi.Name,
			Quantity:    ln.Quantity,
			PriceAtTime: mi.Price,
		})
	}
	return items, nil
}

// Transition moves an order to target on behalf of a staff actor. The
// target is validated against the persisted status and written with a
// status guard; one re-read is attempted if a concurrent writer wins.
func (s *OrdersService) Transition(ctx context.Context, id uuid.UUID, target domain.Status, actor domain.Actor, notes *string) (*domain.Order, error) {
	if !target.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown order status %q", target))
	}

	var seen domain.Status
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := s.repo.GetOrderById(ctx, id)
		if err != nil {
			return nil, domain.NewStorageError("load order", err)
		}
		if cur == nil {
			return nil, &domain.NotFoundError{Entity: "order", ID: id.String()}
		}

		seen = cur.Status

		if !actor.IsStaff() {
			return nil, &domain.InvalidTransitionError{From: cur.Status, To: target, Reason: "only staff may change order status"}
		}
		if actor.VendorID != cur.VendorID {
			return nil, &domain.InvalidTransitionError{From: cur.Status, To: target, Reason: "order belongs to another vendor"}
		}
		if cur.Status.Terminal() {
			return nil, &domain.InvalidTransitionError{From: cur.Status, To: target, Reason: "order is closed"}
		}
		if !domain.CanTransition(cur.Status, target) {
			return nil, &domain.InvalidTransitionError{From: cur.Status, To: target, Allowed: domain.AllowedTargets(cur.Status)}
		}

		updated, err := s.repo.UpdateStatus(ctx, id, cur.Status, target, notes)
		if err != nil {
			return nil, domain.NewStorageError("update order status", err)
		}
		if updated == nil {
			logger.Info("order changed underneath transition, re-reading", "order_id", id, "from", cur.Status, "to", target)
			continue
		}

		s.remember(updated)
		s.emit(ctx, domain.OrderEvent(updated, domain.ChangeUpdated, actor.ID))
		logger.Info("order transitioned", "order_id", id, "from", cur.Status, "to", target,
			"actor", actor.ID, "revision", updated.Revision)
		return updated, nil
	}

	return nil, &domain.InvalidTransitionError{From: seen, To: target, Reason: "order was changed concurrently"}
}

// GetOrder returns the order if the actor is allowed to see it.
func (s *OrdersService) GetOrder(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	o, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil || !actor.CanView(o) {
		return nil, &domain.NotFoundError{Entity: "order", ID: id.String()}
	}
	return o, nil
}

func (s *OrdersService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	if o, ok := s.byID[id]; ok {
		s.mu.RUnlock()
		return o, nil
	}
	s.mu.RUnlock()

	o, err := s.repo.GetOrderById(ctx, id)
	if err != nil {
		logger.Warn("get order failed", "order_id", id, "err", err)
		return nil, domain.NewStorageError("load order", err)
	}
	if o == nil {
		return nil, nil
	}

	s.remember(o)
	return o, nil
}

// ListOrders returns the customer's own orders, or all of the staff
// member's vendor orders optionally narrowed to one status.
func (s *OrdersService) ListOrders(ctx context.Context, actor domain.Actor, status domain.Status) ([]domain.Order, error) {
	if status != "" && !status.Valid() {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown order status %q", status))
	}

	var (
		orders []domain.Order
		err    error
	)
	switch actor.Role {
	case domain.RoleCustomer:
		orders, err = s.repo.ListByCustomer(ctx, actor.ID, defaultListLimit)
		if err == nil && status != "" {
			orders = filterStatus(orders, status)
		}
	case domain.RoleStaff:
		if actor.VendorID == uuid.Nil {
			return nil, &domain.NotFoundError{Entity: "vendor for staff", ID: actor.ID}
		}
		orders, err = s.repo.ListByVendor(ctx, actor.VendorID, status, defaultListLimit)
	default:
		return nil, domain.NewValidationError("unknown actor role")
	}
	if err != nil {
		return nil, domain.NewStorageError("list orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// EvidenceURL lets the vendor's staff open the uploaded payment proof.
func (s *OrdersService) EvidenceURL(ctx context.Context, id uuid.UUID, actor domain.Actor) (string, error) {
	if !actor.IsStaff() {
		return "", &domain.NotFoundError{Entity: "order", ID: id.String()}
	}
	o, err := s.GetOrder(ctx, id, actor)
	if err != nil {
		return "", err
	}
	if s.urls == nil {
		return o.PaymentEvidenceRef, nil
	}
	return s.urls.PublicURL(o.PaymentEvidenceRef), nil
}

// RestoreCache warms the cache with the most recent orders.
func (s *OrdersService) RestoreCache(ctx context.Context, limit int) error {
	orders, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return err
	}

	tmp := make(map[uuid.UUID]*domain.Order, len(orders))
	for i := range orders {
		o := orders[i]
		tmp[o.ID] = &o
	}

	s.mu.Lock()
	s.byID = tmp
	s.mu.Unlock()
	logger.Info("order cache restored", "orders", len(tmp))
	return nil
}

// ResetCache empties the cache; every order is re-read on next access.
func (s *OrdersService) ResetCache() {
	s.mu.Lock()
	s.byID = make(map[uuid.UUID]*domain.Order)
	s.mu.Unlock()
}

// Follow applies order events from sub to the cache until ctx is done or
// the subscription closes. Once the subscription has dropped anything the
// cache can no longer be trusted and is reset.
func (s *OrdersService) Follow(ctx context.Context, sub *notify.Subscription) {
	defer sub.Close()

	var lost uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if d := sub.Dropped(); d != lost {
				logger.Warn("cache follower missed events, resetting cache", "dropped", d-lost)
				lost = d
				s.ResetCache()
				continue
			}
			s.Observe(ev)
		}
	}
}

// Forget drops a cached order so the next read goes to storage.
func (s *OrdersService) Forget(id uuid.UUID) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// Observe keeps the cache coherent with changes made by other instances.
func (s *OrdersService) Observe(ev domain.StatusChangeEvent) {
	if ev.EntityType != domain.EntityOrder {
		return
	}
	s.mu.RLock()
	cached, ok := s.byID[ev.EntityID]
	s.mu.RUnlock()
	if ok && cached.Revision < ev.Sequence {
		s.Forget(ev.EntityID)
	}
}

func (s *OrdersService) remember(o *domain.Order) {
	s.mu.Lock()
	if cur, ok := s.byID[o.ID]; !ok || cur.Revision <= o.Revision {
		s.byID[o.ID] = o
	}
	s.mu.Unlock()
}

// emit is best effort; storage already holds the change.
func (s *OrdersService) emit(ctx context.Context, ev domain.StatusChangeEvent) {
	if err := s.emitter.Emit(ctx, ev); err != nil {
		logger.Warn("emit change event failed", "entity_id", ev.EntityID, "status", ev.Status, "err", err)
	}
}

func filterStatus(orders []domain.Order, st domain.Status) []domain.Order {
	out := orders[:0]
	for _, o := range orders {
		if o.Status == st {
			out = append(out, o)
		}
	}
	return out
}
