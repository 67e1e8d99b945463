package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/db"
)

type PgPaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPgPaymentRepository(pool *pgxpool.Pool) *PgPaymentRepository {
	return &PgPaymentRepository{pool: pool}
}

const paymentColumns = `id, order_id, patient_id, amount, payment_method, payment_status, transaction_id, payment_date`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.PatientID,
		&p.Amount,
		&p.Method,
		&p.Status,
		&p.TransactionID,
		&p.PaymentDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgPaymentRepository) Create(ctx context.Context, p *Payment) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, order_id, patient_id, amount, payment_method, payment_status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING payment_date
	`, p.ID, p.OrderID, p.PatientID, p.Amount, p.Method, p.Status, p.TransactionID)
	if err := row.Scan(&p.PaymentDate); err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PgPaymentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
	`, orderID)
	return scanPayment(row)
}

func (r *PgPaymentRepository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to PaymentStatus, method PaymentMethod, transactionID *string) (*Payment, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE payments
		SET payment_status = $3,
		    payment_method = COALESCE(NULLIF($4, ''), payment_method),
		    transaction_id = COALESCE($5, transaction_id),
		    payment_date = now()
		WHERE order_id = $1 AND payment_status = $2
		RETURNING `+paymentColumns, orderID, from, to, string(method), transactionID)

	p, err := scanPayment(row)
	if errors.Is(err, ErrPaymentNotFound) {
		cur, getErr := r.GetByOrderID(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == PaymentCompleted {
			return nil, ErrDuplicatePayment
		}
		return nil, ErrInvalidTransition
	}
	return p, err
}

func (r *PgPaymentRepository) CompletedRevenue(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE payment_status = $1
	`, PaymentCompleted).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum revenue: %w", err)
	}
	return total, nil
}
