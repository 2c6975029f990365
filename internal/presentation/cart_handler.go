package presentation

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/RaikyD/canteen-orders-service/internal/cart"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type cartView struct {
	Vendor       *cart.Vendor `json:"vendor"`
	Items        []cart.Item  `json:"items"`
	Instructions string       `json:"instructions"`
	Total        domain.Money `json:"total"`
	ItemCount    int          `json:"item_count"`
}

func viewCart(c *cart.Cart) cartView {
	st := c.State()
	if st.Items == nil {
		st.Items = []cart.Item{}
	}
	return cartView{
		Vendor:       st.Vendor,
		Items:        st.Items,
		Instructions: st.Instructions,
		Total:        c.Total(),
		ItemCount:    c.ItemCount(),
	}
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Open(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		helpers.WriteError(w, domain.NewStorageError("open cart", err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, viewCart(c))
}

// DiscardCart ends the cart session and throws the draft away, vendor
// selection included.
func (h *Handler) DiscardCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Discard(r.Context(), actorFrom(r.Context()).ID); err != nil {
		helpers.WriteError(w, domain.NewStorageError("discard cart", err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, viewCart(cart.New()))
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MenuItemID uuid.UUID `json:"menu_item_id"`
	}
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.WriteError(w, badJSON(err))
		return
	}
	if body.MenuItemID == uuid.Nil {
		helpers.WriteError(w, domain.NewValidationError("menu_item_id is required"))
		return
	}

	// the vendor read and the add share one mutation; a vendor switch that
	// lands in between makes AddItem reject the item
	ctx := r.Context()
	h.mutateCart(w, r, func(c *cart.Cart) error {
		st := c.State()
		if st.Vendor == nil {
			return domain.NewValidationError("select a vendor before adding items")
		}

		menu, err := h.catalog.MenuItems(ctx, st.Vendor.ID, []uuid.UUID{body.MenuItemID})
		if err != nil {
			return domain.NewStorageError("load menu item", err)
		}
		mi, ok := menu[body.MenuItemID]
		if !ok {
			return &domain.NotFoundError{Entity: "menu item", ID: body.MenuItemID.String()}
		}
		if !mi.IsAvailable {
			return domain.NewValidationError(fmt.Sprintf("%s is currently unavailable", mi.Name))
		}
		return c.AddItem(cart.Item{ID: mi.ID, VendorID: st.Vendor.ID, Name: mi.Name, Price: mi.Price})
	})
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "itemID"), "item id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	var body struct {
		Quantity *int `json:"quantity"`
	}
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.WriteError(w, badJSON(err))
		return
	}
	if body.Quantity == nil {
		helpers.WriteError(w, domain.NewValidationError("quantity is required"))
		return
	}

	h.mutateCart(w, r, func(c *cart.Cart) error {
		if !c.Contains(id) {
			return &domain.NotFoundError{Entity: "cart item", ID: id.String()}
		}
		c.UpdateQuantity(id, *body.Quantity)
		return nil
	})
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "itemID"), "item id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	h.mutateCart(w, r, func(c *cart.Cart) error {
		c.RemoveItem(id)
		return nil
	})
}

func (h *Handler) SelectVendor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VendorID uuid.UUID `json:"vendor_id"`
	}
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.WriteError(w, badJSON(err))
		return
	}

	v, err := h.catalog.GetVendor(r.Context(), body.VendorID)
	if err != nil {
		helpers.WriteError(w, domain.NewStorageError("load vendor", err))
		return
	}
	if v == nil {
		helpers.WriteError(w, &domain.NotFoundError{Entity: "vendor", ID: body.VendorID.String()})
		return
	}
	if !v.IsActive {
		helpers.WriteError(w, domain.NewValidationError(fmt.Sprintf("vendor %s is not accepting orders", v.Name)))
		return
	}

	h.mutateCart(w, r, func(c *cart.Cart) error {
		c.SetVendor(cart.Vendor{ID: v.ID, Name: v.Name})
		return nil
	})
}

func (h *Handler) SetInstructions(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Instructions string `json:"instructions"`
	}
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.WriteError(w, badJSON(err))
		return
	}
	h.mutateCart(w, r, func(c *cart.Cart) error {
		c.SetInstructions(body.Instructions)
		return nil
	})
}

func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, fn func(*cart.Cart) error) {
	c, err := h.carts.Mutate(r.Context(), actorFrom(r.Context()).ID, fn)
	if err != nil {
		if !isDomainError(err) {
			err = domain.NewStorageError("update cart", err)
		}
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, viewCart(c))
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrStorage)
}

func badJSON(err error) error {
	if errors.Is(err, domain.ErrValidation) {
		return err
	}
	return domain.NewValidationError("invalid JSON: " + err.Error())
}
