package presentation

import (
	"context"
	"net/http"

	"github.com/RaikyD/canteen-orders-service/internal/application"
	"github.com/RaikyD/canteen-orders-service/internal/cart"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/notify"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrdersAPI interface {
	GetOrder(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor, status domain.Status) ([]domain.Order, error)
	Transition(ctx context.Context, id uuid.UUID, target domain.Status, actor domain.Actor, notes *string) (*domain.Order, error)
	EvidenceURL(ctx context.Context, id uuid.UUID, actor domain.Actor) (string, error)
}

type CheckoutAPI interface {
	Checkout(ctx context.Context, customer domain.Actor, ev *application.Evidence, idempotencyKey string) (*domain.Order, error)
}

// Catalog is the read side of vendors and menus.
type Catalog interface {
	GetVendor(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
	ListVendors(ctx context.Context) ([]domain.Vendor, error)
	MenuItems(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]domain.MenuItem, error)
	VendorForStaff(ctx context.Context, staffID string) (*domain.Vendor, error)
}

// AssetURLs turns a stored object reference into a URL a browser can load.
type AssetURLs interface {
	PublicURL(ref string) string
}

type Handler struct {
	orders   OrdersAPI
	checkout CheckoutAPI
	carts    *cart.Sessions
	catalog  Catalog
	hub      *notify.Hub
	assets   AssetURLs
}

func NewHandler(orders OrdersAPI, checkout CheckoutAPI, carts *cart.Sessions, catalog Catalog, hub *notify.Hub, assets AssetURLs) *Handler {
	return &Handler{orders: orders, checkout: checkout, carts: carts, catalog: catalog, hub: hub, assets: assets}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.identify)

		r.Get("/vendors", h.ListVendors)
		r.Get("/vendors/{vendorID}", h.GetVendor)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.DiscardCart)
			r.Post("/items", h.AddCartItem)
			r.Patch("/items/{itemID}", h.UpdateCartItem)
			r.Delete("/items/{itemID}", h.RemoveCartItem)
			r.Put("/vendor", h.SelectVendor)
			r.Put("/instructions", h.SetInstructions)
		})

		r.Post("/checkout", h.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/{orderID}", h.GetOrder)
			r.Post("/{orderID}/transition", h.TransitionOrder)
			r.Get("/{orderID}/evidence", h.GetEvidence)
		})

		r.Get("/ws/orders", h.LiveOrders)
	})
}

type actorKey struct{}

// identify attaches the caller's Actor to the request context. Staff whose
// gateway did not supply a vendor are resolved through the catalog.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := helpers.ActorFromRequest(r)
		if err != nil {
			helpers.WriteError(w, err)
			return
		}

		if actor.IsStaff() && actor.VendorID == uuid.Nil {
			v, err := h.catalog.VendorForStaff(r.Context(), actor.ID)
			if err != nil {
				helpers.WriteError(w, domain.NewStorageError("resolve staff vendor", err))
				return
			}
			if v == nil {
				helpers.WriteError(w, &domain.NotFoundError{Entity: "vendor for staff", ID: actor.ID})
				return
			}
			actor.VendorID = v.ID
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	return a
}
