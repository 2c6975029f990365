package presentation

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/RaikyD/canteen-orders-service/internal/application"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
)

const evidenceField = "evidence"

// Checkout expects multipart/form-data with the payment screenshot in the
// "evidence" field.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, application.MaxEvidenceSize+1<<20)
	if err := r.ParseMultipartForm(application.MaxEvidenceSize + 1<<20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			helpers.WriteError(w, domain.NewValidationError("payment evidence is too large"))
			return
		}
		helpers.WriteError(w, domain.NewValidationError("expected multipart form with payment evidence"))
		return
	}

	var ev *application.Evidence
	f, fh, err := r.FormFile(evidenceField)
	switch {
	case err == nil:
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, application.MaxEvidenceSize+1))
		if err != nil {
			helpers.WriteError(w, domain.NewValidationError("unreadable payment evidence"))
			return
		}
		ev = &application.Evidence{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		}
	case errors.Is(err, http.ErrMissingFile):
		// left nil; checkout reports the missing evidence
	default:
		helpers.WriteError(w, domain.NewValidationError("bad evidence upload: "+err.Error()))
		return
	}

	actor := actorFrom(r.Context())
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	order, err := h.checkout.Checkout(r.Context(), actor, ev, key)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	logger.Info("checkout complete", "order_id", order.ID, "customer", actor.ID, "request_id", requestID(r))
	helpers.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var status domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := domain.ParseStatus(raw)
		if err != nil {
			helpers.WriteError(w, err)
			return
		}
		status = st
	}

	orders, err := h.orders.ListOrders(r.Context(), actorFrom(r.Context()), status)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "orderID"), "order id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	ord, err := h.orders.GetOrder(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, ord)
}

type transitionRequest struct {
	Status domain.Status `json:"status"`
	Notes  *string       `json:"notes"`
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "orderID"), "order id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	var req transitionRequest
	if err := helpers.DecodeJSON(r.Body, &req); err != nil {
		helpers.WriteError(w, badJSON(err))
		return
	}
	if req.Status == "" {
		helpers.WriteError(w, domain.NewValidationError("status is required"))
		return
	}

	ord, err := h.orders.Transition(r.Context(), id, req.Status, actorFrom(r.Context()), req.Notes)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, ord)
}

func (h *Handler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := helpers.ParseUUID(chi.URLParam(r, "orderID"), "order id")
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	url, err := h.orders.EvidenceURL(r.Context(), id, actorFrom(r.Context()))
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}
