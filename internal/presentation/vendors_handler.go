package presentation

import (
	"net/http"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
)

type vendorView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsActive     bool   `json:"is_active"`
	PaymentQRURL string `json:"payment_qr_url,omitempty"`
}

func (h *Handler) viewVendor(v domain.Vendor) vendorView {
	out := vendorView{ID: v.ID.String(), Name: v.Name, IsActive: v.IsActive}
	if v.PaymentQRRef != "" {
		out.PaymentQRURL = v.PaymentQRRef
		if h.assets != nil {
			out.PaymentQRURL = h.assets.PublicURL(v.PaymentQRRef)
		}
	}
	return out
}

// ListVendors returns the canteens currently taking orders.
func (h *Handler) ListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.catalog.ListVendors(r.Context())
	if err != nil {
		helpers.WriteError(w, domain.NewStorageError("list vendors", err))
		return
	}

	out := make([]vendorView, 0, len(vendors))
	for _, v := range vendors {
		out = append(out, h.viewVendor(v))
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// GetVendor serves one canteen with its payment QR, open or not.
func (h *Handler) GetVendor(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "vendorID"), "vendor id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	v, err := h.catalog.GetVendor(r.Context(), id)
	if err != nil {
		helpers.WriteError(w, domain.NewStorageError("load vendor", err))
		return
	}
	if v == nil {
		helpers.WriteError(w, &domain.NotFoundError{Entity: "vendor", ID: id.String()})
		return
	}
	helpers.WriteJSON(w, http.StatusOK, h.viewVendor(*v))
}
