package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/repository"
	"github.com/google/uuid"
)

// memRepo is an in-memory OrderRepo with the same guard semantics as the
// postgres implementation.
type memRepo struct {
	mu      sync.Mutex
	orders  map[uuid.UUID]*domain.Order
	vendors map[uuid.UUID]domain.Vendor
	menu    map[uuid.UUID]domain.MenuItem

	addErr error
	// beforeUpdate runs inside UpdateStatus before the guard is checked.
	beforeUpdate func(o *domain.Order)
	gets         int
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:  make(map[uuid.UUID]*domain.Order),
		vendors: make(map[uuid.UUID]domain.Vendor),
		menu:    make(map[uuid.UUID]domain.MenuItem),
	}
}

func (r *memRepo) addVendor(active bool) domain.Vendor {
	v := domain.Vendor{ID: uuid.New(), Name: "North Canteen", StaffID: "staff-1", IsActive: active}
	r.vendors[v.ID] = v
	return v
}

func (r *memRepo) addMenuItem(vendor uuid.UUID, name string, price domain.Money) domain.MenuItem {
	mi := domain.MenuItem{ID: uuid.New(), VendorID: vendor, Name: name, Price: price, IsAvailable: true}
	r.menu[mi.ID] = mi
	return mi
}

func (r *memRepo) AddOrder(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.addErr != nil {
		return r.addErr
	}
	for _, ex := range r.orders {
		if o.IdempotencyKey != "" && ex.CustomerID == o.CustomerID && ex.IdempotencyKey == o.IdempotencyKey {
			return repository.ErrOrderAlreadyExists
		}
	}
	now := time.Now().UTC()
	o.Revision, o.CreatedAt, o.UpdatedAt = 1, now, now
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
		o.Items[i].OrderID = o.ID
	}
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *memRepo) GetOrderById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (r *memRepo) GetOrderByIdempotencyKey(_ context.Context, customerID, key string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.CustomerID == customerID && o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.Status, notes *string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	if r.beforeUpdate != nil {
		r.beforeUpdate(o)
	}
	if o.Status != from {
		return nil, nil
	}
	o.Status = to
	if notes != nil {
		o.StaffNotes = *notes
	}
	o.Revision++
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (r *memRepo) ListByCustomer(_ context.Context, customerID string, _ int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memRepo) ListByVendor(_ context.Context, vendorID uuid.UUID, st domain.Status, _ int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.VendorID == vendorID && (st == "" || o.Status == st) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memRepo) ListRecent(_ context.Context, _ int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *memRepo) MenuItems(_ context.Context, vendorID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]domain.MenuItem, error) {
	out := make(map[uuid.UUID]domain.MenuItem)
	for _, id := range ids {
		if mi, ok := r.menu[id]; ok && mi.VendorID == vendorID {
			out[id] = mi
		}
	}
	return out, nil
}

func (r *memRepo) GetVendor(_ context.Context, id uuid.UUID) (*domain.Vendor, error) {
	v, ok := r.vendors[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *memRepo) ListVendors(context.Context) ([]domain.Vendor, error) {
	var out []domain.Vendor
	for _, v := range r.vendors {
		if v.IsActive {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memRepo) VendorForStaff(_ context.Context, staffID string) (*domain.Vendor, error) {
	for _, v := range r.vendors {
		if v.StaffID == staffID {
			return &v, nil
		}
	}
	return nil, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.StatusChangeEvent
	err    error
}

func (e *recordingEmitter) Emit(_ context.Context, ev domain.StatusChangeEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return e.err
}

type fakeUploader struct {
	err   error
	paths []string
}

func (u *fakeUploader) Upload(_ context.Context, _ []byte, path string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.paths = append(u.paths, path)
	return "evidence/" + path, nil
}

var errBoom = errors.New("boom")

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
