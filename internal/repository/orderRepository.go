package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrOrderAlreadyExists = errors.New("order already exists")

// DBPool is the subset of *pgxpool.Pool the repository needs, so tests can
// swap in pgxmock.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type OrderRepo interface {
	AddOrder(ctx context.Context, order *domain.Order) error
	GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, customerID, key string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, notes *string) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, status domain.Status, limit int) ([]domain.Order, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Order, error)
	MenuItems(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]domain.MenuItem, error)
	GetVendor(ctx context.Context, id uuid.UUID) (*domain.Vendor, error)
	ListVendors(ctx context.Context) ([]domain.Vendor, error)
	VendorForStaff(ctx context.Context, staffID string) (*domain.Vendor, error)
}

type OrderRepository struct {
	pool DBPool
}

func NewOrderRepository(p DBPool) *OrderRepository {
	return &OrderRepository{pool: p}
}

const orderColumns = `id, customer_id, vendor_id, total_amount, special_instructions,
	payment_evidence_ref, status, staff_notes, revision, created_at, updated_at`

// AddOrder writes the order row and all of its items in one transaction.
// On success o carries the generated id, revision and timestamps.
func (p *OrderRepository) AddOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	err = tx.QueryRow(ctx,
		`INSERT INTO orders
			(id, customer_id, vendor_id, total_amount, special_instructions,
			 payment_evidence_ref, status, idempotency_key)
		 VALUES
			($1, $2, $3, $4, $5,
			 $6, $7::order_status, NULLIF($8, ''))
		 RETURNING revision, created_at, updated_at`,
		o.ID,
		o.CustomerID,
		o.VendorID,
		int64(o.TotalAmount),
		o.SpecialInstructions,
		o.PaymentEvidenceRef,
		string(o.Status),
		o.IdempotencyKey,
	).Scan(&o.Revision, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	rows := make([][]any, 0, len(o.Items))
	for i := range o.Items {
		it := &o.Items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = o.ID
		rows = append(rows, []any{it.ID, o.ID, it.MenuItemID, it.Quantity, int64(it.PriceAtTime)})
	}
	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"id", "order_id", "menu_item_id", "quantity", "price_at_time"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert order_items: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx = nil
	return nil
}

func (p *OrderRepository) GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(p.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	if err := p.attachItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *OrderRepository) GetOrderByIdempotencyKey(ctx context.Context, customerID, key string) (*domain.Order, error) {
	o, err := scanOrder(p.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 AND idempotency_key = $2`,
		customerID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select order by idempotency key: %w", err)
	}
	if err := p.attachItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateStatus moves the order only if it is still in status from. A nil
// order with nil error means the guard did not match (missing order or a
// concurrent writer got there first). notes replaces staff_notes when non-nil.
func (p *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, notes *string) (*domain.Order, error) {
	o, err := scanOrder(p.pool.QueryRow(ctx,
		`UPDATE orders
		    SET status = $3::order_status,
		        staff_notes = COALESCE($4, staff_notes),
		        revision = revision + 1,
		        updated_at = now()
		  WHERE id = $1 AND status = $2::order_status
		RETURNING `+orderColumns,
		id, string(from), string(to), notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if err := p.attachItems(ctx, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *OrderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	return p.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		  WHERE customer_id = $1
		  ORDER BY created_at DESC
		  LIMIT $2`,
		customerID, limit)
}

// ListByVendor returns the vendor's orders newest first. An empty status
// means all statuses.
func (p *OrderRepository) ListByVendor(ctx context.Context, vendorID uuid.UUID, status domain.Status, limit int) ([]domain.Order, error) {
	return p.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		  WHERE vendor_id = $1 AND ($2 = '' OR status::text = $2)
		  ORDER BY created_at DESC
		  LIMIT $3`,
		vendorID, string(status), limit)
}

func (p *OrderRepository) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	return p.listOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		  ORDER BY created_at DESC
		  LIMIT $1`,
		limit)
}

func (p *OrderRepository) MenuItems(ctx context.Context, vendorID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]domain.MenuItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, vendor_id, name, price, is_available
		   FROM menu_items
		  WHERE vendor_id = $1 AND id = ANY($2::uuid[])`,
		vendorID, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("select menu_items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]domain.MenuItem, len(ids))
	for rows.Next() {
		var (
			mi    domain.MenuItem
			price int64
		)
		if err := rows.Scan(&mi.ID, &mi.VendorID, &mi.Name, &price, &mi.IsAvailable); err != nil {
			return nil, fmt.Errorf("scan menu_item: %w", err)
		}
		mi.Price = domain.Money(price)
		out[mi.ID] = mi
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (p *OrderRepository) GetVendor(ctx context.Context, id uuid.UUID) (*domain.Vendor, error) {
	return p.scanVendor(p.pool.QueryRow(ctx,
		`SELECT id, name, staff_id, is_active, payment_qr_ref FROM vendors WHERE id = $1`, id))
}

// ListVendors returns the active vendors ordered by name.
func (p *OrderRepository) ListVendors(ctx context.Context) ([]domain.Vendor, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, staff_id, is_active, payment_qr_ref
		   FROM vendors
		  WHERE is_active
		  ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("select vendors: %w", err)
	}
	defer rows.Close()

	var out []domain.Vendor
	for rows.Next() {
		var v domain.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.StaffID, &v.IsActive, &v.PaymentQRRef); err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// VendorForStaff finds the active vendor a staff member runs.
func (p *OrderRepository) VendorForStaff(ctx context.Context, staffID string) (*domain.Vendor, error) {
	return p.scanVendor(p.pool.QueryRow(ctx,
		`SELECT id, name, staff_id, is_active, payment_qr_ref
		   FROM vendors
		  WHERE staff_id = $1 AND is_active
		  LIMIT 1`, staffID))
}

func (p *OrderRepository) scanVendor(row pgx.Row) (*domain.Vendor, error) {
	var v domain.Vendor
	if err := row.Scan(&v.ID, &v.Name, &v.StaffID, &v.IsActive, &v.PaymentQRRef); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select vendor: %w", err)
	}
	return &v, nil
}

func (p *OrderRepository) listOrders(ctx context.Context, sql string, args ...any) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	if err := p.attachItems(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

// attachItems loads items for all orders with a single query.
func (p *OrderRepository) attachItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT oi.id, oi.order_id, oi.menu_item_id, mi.name, oi.quantity, oi.price_at_time
		   FROM order_items oi
		   JOIN menu_items mi ON mi.id = oi.menu_item_id
		  WHERE oi.order_id = ANY($1::uuid[])
		  ORDER BY oi.order_id, oi.created_at, oi.id`,
		uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("select order_items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    domain.OrderItem
			price int64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity, &price); err != nil {
			return fmt.Errorf("scan order_item: %w", err)
		}
		it.PriceAtTime = domain.Money(price)
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		total   int64
		status  string
		created time.Time
		updated time.Time
	)
	err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&o.VendorID,
		&total,
		&o.SpecialInstructions,
		&o.PaymentEvidenceRef,
		&status,
		&o.StaffNotes,
		&o.Revision,
		&created,
		&updated,
	)
	if err != nil {
		return nil, err
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = st
	o.TotalAmount = domain.Money(total)
	o.CreatedAt = created
	o.UpdatedAt = updated
	return &o, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
