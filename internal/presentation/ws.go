package presentation

import (
	"io"
	"net/http"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/RaikyD/canteen-orders-service/internal/notify"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/websocket"
)

// LiveOrders streams change events over a websocket. Customers receive
// their own orders, staff everything of their vendor including menu
// changes. ?order=<id> narrows the feed to one order.
func (h *Handler) LiveOrders(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	f := notify.ForCustomer(actor.ID)
	if actor.IsStaff() {
		f = notify.ForVendor(actor.VendorID)
	}
	if raw := r.URL.Query().Get("order"); raw != "" {
		id, err := helpers.ParseUUID(raw, "order id")
		if err != nil {
			helpers.WriteError(w, err)
			return
		}
		f.EntityID = id
	}

	websocket.Handler(func(conn *websocket.Conn) {
		h.streamEvents(conn, f, actor)
	}).ServeHTTP(w, r)
}

func (h *Handler) streamEvents(conn *websocket.Conn, f notify.Filter, actor domain.Actor) {
	defer func() {
		_ = conn.Close()
	}()

	sub := h.hub.Subscribe(f)
	defer sub.Close()
	logger.Debug("live feed opened", "actor", actor.ID, "role", actor.Role, "subscribers", h.hub.Len())

	// the client never sends anything; reading only detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_, _ = io.Copy(io.Discard, conn)
	}()

	for {
		select {
		case <-gone:
			logger.Debug("live feed closed", "actor", actor.ID, "dropped", sub.Dropped())
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, ev); err != nil {
				logger.Debug("live feed send failed", "actor", actor.ID, "err", err)
				return
			}
		}
	}
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}
