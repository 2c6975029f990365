package presentation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/application"
	"github.com/RaikyD/canteen-orders-service/internal/cart"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/notify"
	"github.com/RaikyD/canteen-orders-service/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type fakeOrders struct {
	getFn        func(id uuid.UUID, a domain.Actor) (*domain.Order, error)
	listFn       func(a domain.Actor, st domain.Status) ([]domain.Order, error)
	transitionFn func(id uuid.UUID, to domain.Status, a domain.Actor, notes *string) (*domain.Order, error)
	evidenceFn   func(id uuid.UUID, a domain.Actor) (string, error)
}

func (f *fakeOrders) GetOrder(_ context.Context, id uuid.UUID, a domain.Actor) (*domain.Order, error) {
	return f.getFn(id, a)
}

func (f *fakeOrders) ListOrders(_ context.Context, a domain.Actor, st domain.Status) ([]domain.Order, error) {
	return f.listFn(a, st)
}

func (f *fakeOrders) Transition(_ context.Context, id uuid.UUID, to domain.Status, a domain.Actor, notes *string) (*domain.Order, error) {
	return f.transitionFn(id, to, a, notes)
}

func (f *fakeOrders) EvidenceURL(_ context.Context, id uuid.UUID, a domain.Actor) (string, error) {
	return f.evidenceFn(id, a)
}

type fakeCheckout struct {
	fn func(a domain.Actor, ev *application.Evidence, key string) (*domain.Order, error)
}

func (f *fakeCheckout) Checkout(_ context.Context, a domain.Actor, ev *application.Evidence, key string) (*domain.Order, error) {
	return f.fn(a, ev, key)
}

type fakeCatalog struct {
	vendors map[uuid.UUID]domain.Vendor
	menu    map[uuid.UUID]domain.MenuItem
	// beforeMenu runs at the start of every menu lookup.
	beforeMenu func()
}

func (c *fakeCatalog) ListVendors(context.Context) ([]domain.Vendor, error) {
	var out []domain.Vendor
	for _, v := range c.vendors {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (c *fakeCatalog) GetVendor(_ context.Context, id uuid.UUID) (*domain.Vendor, error) {
	v, ok := c.vendors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (c *fakeCatalog) MenuItems(_ context.Context, vendorID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]domain.MenuItem, error) {
	if c.beforeMenu != nil {
		c.beforeMenu()
	}
	out := map[uuid.UUID]domain.MenuItem{}
	for _, id := range ids {
		if mi, ok := c.menu[id]; ok && mi.VendorID == vendorID {
			out[id] = mi
		}
	}
	return out, nil
}

func (c *fakeCatalog) VendorForStaff(_ context.Context, staffID string) (*domain.Vendor, error) {
	for _, v := range c.vendors {
		if v.StaffID == staffID {
			return &v, nil
		}
	}
	return nil, nil
}

type prefixURLs string

func (p prefixURLs) PublicURL(ref string) string { return string(p) + ref }

type env struct {
	router   chi.Router
	store    *cart.BoltStore
	sessions *cart.Sessions
	orders   *fakeOrders
	checkout *fakeCheckout
	catalog  *fakeCatalog
	hub      *notify.Hub
	vendor   domain.Vendor
	dosa     domain.MenuItem
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := cart.OpenBoltStore(filepath.Join(t.TempDir(), "carts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	v := domain.Vendor{ID: uuid.New(), Name: "North Canteen", StaffID: "staff-1", IsActive: true}
	dosa := domain.MenuItem{ID: uuid.New(), VendorID: v.ID, Name: "Masala dosa", Price: 50, IsAvailable: true}
	e := &env{
		store:    store,
		sessions: cart.NewSessions(store),
		orders:   &fakeOrders{},
		checkout: &fakeCheckout{},
		catalog: &fakeCatalog{
			vendors: map[uuid.UUID]domain.Vendor{v.ID: v},
			menu:    map[uuid.UUID]domain.MenuItem{dosa.ID: dosa},
		},
		hub:    notify.NewHub(8),
		vendor: v,
		dosa:   dosa,
	}

	r := chi.NewRouter()
	NewHandler(e.orders, e.checkout, e.sessions, e.catalog, e.hub, prefixURLs("https://cdn.example/")).Register(r)
	e.router = r
	return e
}

func (e *env) do(t *testing.T, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

var student = map[string]string{helpers.HeaderUserID: "student-1", helpers.HeaderUserRole: "customer"}

func staffHeaders() map[string]string {
	return map[string]string{helpers.HeaderUserID: "staff-1", helpers.HeaderUserRole: "staff"}
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) cartView {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v cartView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnauthenticated(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders", "", map[string]string{helpers.HeaderUserID: "x", helpers.HeaderUserRole: "root"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/cart/items", `{"menu_item_id":"`+e.dosa.ID.String()+`"}`, student)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "vendor must be chosen first")

	v := decodeCart(t, e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+e.vendor.ID.String()+`"}`, student))
	require.NotNil(t, v.Vendor)
	assert.Equal(t, e.vendor.ID, v.Vendor.ID)

	add := `{"menu_item_id":"` + e.dosa.ID.String() + `"}`
	decodeCart(t, e.do(t, http.MethodPost, "/cart/items", add, student))
	v = decodeCart(t, e.do(t, http.MethodPost, "/cart/items", add, student))
	assert.Equal(t, domain.Money(100), v.Total)
	assert.Equal(t, 2, v.ItemCount)

	v = decodeCart(t, e.do(t, http.MethodPatch, "/cart/items/"+e.dosa.ID.String(), `{"quantity":5}`, student))
	assert.Equal(t, domain.Money(250), v.Total)

	v = decodeCart(t, e.do(t, http.MethodPut, "/cart/instructions", `{"instructions":"extra chutney"}`, student))
	assert.Equal(t, "extra chutney", v.Instructions)

	v = decodeCart(t, e.do(t, http.MethodGet, "/cart", "", student))
	assert.Equal(t, 5, v.ItemCount)

	v = decodeCart(t, e.do(t, http.MethodDelete, "/cart/items/"+e.dosa.ID.String(), "", student))
	assert.Empty(t, v.Items)
	assert.NotNil(t, v.Items)

	v = decodeCart(t, e.do(t, http.MethodDelete, "/cart", "", student))
	assert.Nil(t, v.Vendor)
	assert.Empty(t, v.Instructions)
}

func TestCartRejects(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+uuid.NewString()+`"}`, student)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/cart/vendor", `{"vendor":"x"}`, student)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	decodeCart(t, e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+e.vendor.ID.String()+`"}`, student))
	rec = e.do(t, http.MethodPost, "/cart/items", `{"menu_item_id":"`+uuid.NewString()+`"}`, student)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPatch, "/cart/items/nope", `{"quantity":1}`, student)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPatch, "/cart/items/"+e.dosa.ID.String(), `{"quantity":1}`, student)
	assert.Equal(t, http.StatusNotFound, rec.Code, "item not in cart")
}

func TestAddCartItem_VendorSwitchDuringLookup(t *testing.T) {
	e := newEnv(t)
	south := domain.Vendor{ID: uuid.New(), Name: "South Canteen", StaffID: "staff-2", IsActive: true}
	e.catalog.vendors[south.ID] = south

	decodeCart(t, e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+e.vendor.ID.String()+`"}`, student))

	e.catalog.beforeMenu = func() {
		e.catalog.beforeMenu = nil
		rec := e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+south.ID.String()+`"}`, student)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := e.do(t, http.MethodPost, "/cart/items", `{"menu_item_id":"`+e.dosa.ID.String()+`"}`, student)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	v := decodeCart(t, e.do(t, http.MethodGet, "/cart", "", student))
	require.NotNil(t, v.Vendor)
	assert.Equal(t, south.ID, v.Vendor.ID)
	assert.Empty(t, v.Items)
}

func TestDiscardCartEndsSession(t *testing.T) {
	e := newEnv(t)
	decodeCart(t, e.do(t, http.MethodPut, "/cart/vendor", `{"vendor_id":"`+e.vendor.ID.String()+`"}`, student))
	decodeCart(t, e.do(t, http.MethodPost, "/cart/items", `{"menu_item_id":"`+e.dosa.ID.String()+`"}`, student))
	require.Equal(t, 1, e.sessions.Len())

	v := decodeCart(t, e.do(t, http.MethodDelete, "/cart", "", student))
	assert.Nil(t, v.Vendor)
	assert.Empty(t, v.Items)
	assert.Equal(t, 0, e.sessions.Len())

	_, found, err := e.store.Load(context.Background(), "student-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestVendors(t *testing.T) {
	e := newEnv(t)
	v := e.vendor
	v.PaymentQRRef = "qr/north.png"
	e.catalog.vendors[v.ID] = v
	closed := domain.Vendor{ID: uuid.New(), Name: "Night Canteen", IsActive: false}
	e.catalog.vendors[closed.ID] = closed

	rec := e.do(t, http.MethodGet, "/vendors", "", student)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []vendorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, v.ID.String(), list[0].ID)
	assert.Equal(t, "https://cdn.example/qr/north.png", list[0].PaymentQRURL)
	assert.NotContains(t, rec.Body.String(), "staff_id")

	rec = e.do(t, http.MethodGet, "/vendors/"+closed.ID.String(), "", student)
	require.Equal(t, http.StatusOK, rec.Code)
	var one vendorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.False(t, one.IsActive)
	assert.Empty(t, one.PaymentQRURL)

	rec = e.do(t, http.MethodGet, "/vendors/"+uuid.NewString(), "", student)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/vendors/nope", "", student)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/vendors", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransitionOrder(t *testing.T) {
	e := newEnv(t)
	id := uuid.New()

	var gotActor domain.Actor
	var gotNotes *string
	e.orders.transitionFn = func(oid uuid.UUID, to domain.Status, a domain.Actor, notes *string) (*domain.Order, error) {
		gotActor, gotNotes = a, notes
		if to == domain.StatusCompleted {
			return nil, &domain.InvalidTransitionError{From: domain.StatusOrderConfirmed, To: to}
		}
		return &domain.Order{ID: oid, Status: to, Revision: 2}, nil
	}

	rec := e.do(t, http.MethodPost, "/orders/"+id.String()+"/transition",
		`{"status":"rejected","notes":"amount does not match"}`, staffHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, e.vendor.ID, gotActor.VendorID, "staff vendor resolved from catalog")
	require.NotNil(t, gotNotes)
	assert.Equal(t, "amount does not match", *gotNotes)

	rec = e.do(t, http.MethodPost, "/orders/"+id.String()+"/transition", `{"status":"completed"}`, staffHeaders())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/orders/"+id.String()+"/transition", `{"status":"shipped"}`, staffHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffWithoutVendor(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/orders", "", map[string]string{
		helpers.HeaderUserID: "staff-unknown", helpers.HeaderUserRole: "staff",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAndGetOrders(t *testing.T) {
	e := newEnv(t)
	id := uuid.New()

	e.orders.listFn = func(a domain.Actor, st domain.Status) ([]domain.Order, error) {
		assert.Equal(t, domain.StatusReadyForPickup, st)
		return []domain.Order{{ID: id, Status: st}}, nil
	}
	e.orders.getFn = func(oid uuid.UUID, a domain.Actor) (*domain.Order, error) {
		return nil, &domain.NotFoundError{Entity: "order", ID: oid.String()}
	}
	e.orders.evidenceFn = func(uuid.UUID, domain.Actor) (string, error) {
		return "", domain.NewStorageError("load order", io.ErrUnexpectedEOF)
	}

	rec := e.do(t, http.MethodGet, "/orders?status=ready_for_pickup", "", student)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = e.do(t, http.MethodGet, "/orders?status=lost", "", student)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders/"+id.String(), "", student)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/orders/"+id.String()+"/evidence", "", staffHeaders())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "nothing attached"))
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func TestCheckout(t *testing.T) {
	e := newEnv(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	orderID := uuid.New()

	var got *application.Evidence
	var gotKey string
	e.checkout.fn = func(a domain.Actor, ev *application.Evidence, key string) (*domain.Order, error) {
		got, gotKey = ev, key
		if ev == nil {
			return nil, domain.NewValidationError("payment evidence is required")
		}
		if key == "retry-after-crash" {
			return nil, &domain.OrphanedEvidenceError{Ref: "student-1/1.png", Err: io.ErrUnexpectedEOF}
		}
		return &domain.Order{ID: orderID, Status: domain.InitialStatus}, nil
	}

	send := func(body *bytes.Buffer, ct, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout", body)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Idempotency-Key", key)
		for k, v := range student {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		return rec
	}

	body, ct := multipartBody(t, "evidence", "upi.png", png)
	rec := send(body, ct, "k-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, got)
	assert.Equal(t, "upi.png", got.Filename)
	assert.Equal(t, png, got.Data)
	assert.Equal(t, "k-1", gotKey)

	body, ct = multipartBody(t, "", "", nil)
	rec = send(body, ct, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, got)

	body, ct = multipartBody(t, "evidence", "upi.png", png)
	rec = send(body, ct, "retry-after-crash")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "student-1/1.png")

	rec = send(bytes.NewBufferString(`{}`), "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveOrdersStreamsScopedEvents(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	cfg, err := websocket.NewConfig(strings.Replace(srv.URL, "http", "ws", 1)+"/ws/orders", srv.URL)
	require.NoError(t, err)
	cfg.Header.Set(helpers.HeaderUserID, "student-1")
	cfg.Header.Set(helpers.HeaderUserRole, "customer")

	conn, err := websocket.DialConfig(cfg)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	mine := uuid.New()
	e.hub.Publish(domain.StatusChangeEvent{EntityID: uuid.New(), EntityType: domain.EntityOrder, CustomerID: "student-2", Status: domain.StatusOrderConfirmed, Sequence: 2})
	e.hub.Publish(domain.StatusChangeEvent{EntityID: mine, EntityType: domain.EntityOrder, CustomerID: "student-1", Status: domain.StatusReadyForPickup, Sequence: 4})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.StatusChangeEvent
	require.NoError(t, websocket.JSON.Receive(conn, &ev))
	assert.Equal(t, mine, ev.EntityID)
	assert.Equal(t, domain.StatusReadyForPickup, ev.Status)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return e.hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}
