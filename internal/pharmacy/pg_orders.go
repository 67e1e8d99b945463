package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxdesk/pharmacy-service/internal/db"
)

type PgOrderRepository struct {
	pool *pgxpool.Pool
}

func NewPgOrderRepository(pool *pgxpool.Pool) *PgOrderRepository {
	return &PgOrderRepository{pool: pool}
}

const orderColumns = `id, patient_id, prescription_id, total_price, status, idempotency_key, order_date, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order

	err := row.Scan(
		&o.ID,
		&o.PatientID,
		&o.PrescriptionID,
		&o.TotalPrice,
		&o.Status,
		&o.IdempotencyKey,
		&o.OrderDate,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	o.Items = []OrderItem{}
	return &o, nil
}

func (r *PgOrderRepository) Create(ctx context.Context, o *Order) error {
	q := db.Conn(ctx, r.pool)

	row := q.QueryRow(ctx, `
		INSERT INTO orders (id, patient_id, prescription_id, total_price, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING order_date, updated_at
	`, o.ID, o.PatientID, o.PrescriptionID, o.TotalPrice, o.Status, o.IdempotencyKey)
	if err := row.Scan(&o.OrderDate, &o.UpdatedAt); err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		_, err := q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, inventory_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, it.ID, it.OrderID, it.InventoryID, it.Quantity, it.Price)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (r *PgOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PgOrderRepository) GetByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Order, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE patient_id = $1 AND idempotency_key = $2
	`, patientID, key)
	o, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PgOrderRepository) List(ctx context.Context, f OrderFilter) ([]Order, error) {
	var w where
	if f.PatientID != nil {
		w.add("patient_id = ?", *f.PatientID)
	}
	if f.Status != nil {
		w.add("status = ?", *f.Status)
	}
	query := `SELECT ` + orderColumns + ` FROM orders ` + w.sql() +
		` ORDER BY order_date DESC, id ` + w.page(f.Limit, f.Offset)

	orders, err := r.queryOrders(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	if err := r.loadDetails(ctx, orders); err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *PgOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE orders
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns, id, from, to)

	o, err := scanOrder(row)
	if errors.Is(err, ErrOrderNotFound) {
		// Either the order is gone or someone else moved it first.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadDetails(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *PgOrderRepository) FindStalePending(ctx context.Context, before time.Time) ([]Order, error) {
	orders, err := r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND order_date < $2
		ORDER BY order_date
		LIMIT 500
	`, OrderPending, before)
	if err != nil {
		return nil, fmt.Errorf("find stale orders: %w", err)
	}

	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, *o)
	}
	return out, nil
}

func (r *PgOrderRepository) CountByStatus(ctx context.Context) (map[OrderStatus]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT status, count(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := map[OrderStatus]int{
		OrderPending:    0,
		OrderProcessing: 0,
		OrderCompleted:  0,
		OrderCancelled:  0,
	}
	for rows.Next() {
		var status OrderStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *PgOrderRepository) InsertEvent(ctx context.Context, ev OrderEvent) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO order_events (event_type, order_id, payload)
		VALUES ($1, $2, $3)
	`, ev.EventType, ev.OrderID, ev.Payload)
	return err
}

func (r *PgOrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// loadDetails fills items (with medicine names) and the payment of each order.
func (r *PgOrderRepository) loadDetails(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	q := db.Conn(ctx, r.pool)

	rows, err := q.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.inventory_id, pi.medicine_name, oi.quantity, oi.price
		FROM order_items oi
		JOIN pharmacy_inventory pi ON pi.id = oi.inventory_id
		WHERE oi.order_id = ANY($1)
		ORDER BY pi.medicine_name, oi.id
	`, ids)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.InventoryID, &it.MedicineName, &it.Quantity, &it.Price); err != nil {
			rows.Close()
			return err
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	prows, err := q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		p, err := scanPayment(prows)
		if err != nil {
			return err
		}
		if o, ok := byID[p.OrderID]; ok {
			o.Payment = p
		}
	}
	return prows.Err()
}
