package application

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/cart"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/google/uuid"
)

const MaxEvidenceSize = 5 << 20

// Uploader stores payment evidence and returns a stable reference to it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, path string) (string, error)
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, customer domain.Actor, key string) (*domain.Order, error)
	CheckOrderable(ctx context.Context, vendorID uuid.UUID, snap domain.CartSnapshot) error
}

// Evidence is the payment screenshot attached to a checkout.
type Evidence struct {
	Filename    string
	ContentType string
	Data        []byte
}

type CheckoutService struct {
	sessions *cart.Sessions
	uploader Uploader
	orders   OrderCreator
	now      func() time.Time
}

func NewCheckoutService(s *cart.Sessions, u Uploader, o OrderCreator) *CheckoutService {
	return &CheckoutService{sessions: s, uploader: u, orders: o, now: time.Now}
}

// Checkout turns the customer's cart into an order. The evidence is uploaded
// only after the cart has been validated against the menu; the cart is
// cleared only once the order is persisted, so a failure at any step leaves
// it intact for a retry. A retry under an already used idempotency key
// returns the original order without touching the cart or storage.
func (s *CheckoutService) Checkout(ctx context.Context, customer domain.Actor, ev *Evidence, idempotencyKey string) (*domain.Order, error) {
	if customer.Role != domain.RoleCustomer || customer.ID == "" {
		return nil, domain.NewValidationError("checkout requires a customer")
	}

	if idempotencyKey != "" {
		existing, err := s.orders.FindByIdempotencyKey(ctx, customer, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			logger.Info("checkout replayed by idempotency key", "customer", customer.ID, "order_id", existing.ID)
			return existing, nil
		}
	}

	c, err := s.sessions.Open(ctx, customer.ID)
	if err != nil {
		return nil, domain.NewStorageError("open cart", err)
	}

	st := c.State()
	if len(st.Items) == 0 {
		return nil, domain.NewValidationError("cart is empty")
	}
	if st.Vendor == nil {
		return nil, domain.NewValidationError("cart has no vendor selected")
	}
	ext, err := checkEvidence(ev)
	if err != nil {
		return nil, err
	}

	snap := c.Snapshot()
	if err := s.orders.CheckOrderable(ctx, st.Vendor.ID, snap); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/%d%s", customer.ID, s.now().UnixMilli(), ext)
	ref, err := s.uploader.Upload(ctx, ev.Data, path)
	if err != nil {
		logger.Warn("evidence upload failed", "customer", customer.ID, "path", path, "err", err)
		return nil, domain.NewStorageError("upload payment evidence", err)
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderRequest{
		Snapshot:       snap,
		EvidenceRef:    ref,
		Customer:       customer,
		VendorID:       st.Vendor.ID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		logger.Error("order creation failed after evidence upload", "customer", customer.ID, "evidence_ref", ref, "err", err)
		return nil, &domain.OrphanedEvidenceError{Ref: ref, Err: err}
	}

	c.ClearAfterCheckout()
	if err := s.sessions.Save(ctx, customer.ID, c); err != nil {
		// the order exists; a stale persisted cart is the lesser problem
		logger.Warn("persist cleared cart failed", "customer", customer.ID, "order_id", order.ID, "err", err)
	}
	return order, nil
}

func checkEvidence(ev *Evidence) (string, error) {
	if ev == nil || len(ev.Data) == 0 {
		return "", domain.NewValidationError("payment evidence is required")
	}
	if len(ev.Data) > MaxEvidenceSize {
		return "", domain.NewValidationError(fmt.Sprintf("payment evidence exceeds %d bytes", MaxEvidenceSize))
	}

	sniffed := http.DetectContentType(ev.Data)
	if !strings.HasPrefix(sniffed, "image/") {
		return "", domain.NewValidationError(fmt.Sprintf("payment evidence must be an image, got %s", sniffed))
	}

	ext := strings.ToLower(filepath.Ext(ev.Filename))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(sniffed); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return ext, nil
}
