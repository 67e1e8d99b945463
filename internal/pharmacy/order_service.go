package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	redisclient "github.com/rxdesk/pharmacy-service/internal/redis"
)

const (
	EventOrderPlaced        = "ORDER_PLACED"
	EventOrderPaid          = "ORDER_PAID"
	EventOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventOrderExpired       = "ORDER_EXPIRED"
)

const maxIdempotencyKeyLength = 255

// maxLineQuantity keeps merged quantities within the INTEGER columns they
// are stored in.
const maxLineQuantity = math.MaxInt32

type OrderLine struct {
	InventoryID uuid.UUID
	Quantity    int
}

type PlaceOrderInput struct {
	PrescriptionID *uuid.UUID
	Items          []OrderLine
	PaymentMethod  string
	IdempotencyKey string
}

type OrderService struct {
	store         Store
	prescriptions *PrescriptionService
	locker        redisclient.Locker
	pendingTTL    time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

func NewOrderService(store Store, prescriptions *PrescriptionService, locker redisclient.Locker, pendingTTL time.Duration, log zerolog.Logger) *OrderService {
	return &OrderService{
		store:         store,
		prescriptions: prescriptions,
		locker:        locker,
		pendingTTL:    pendingTTL,
		log:           log.With().Str("component", "orders").Logger(),
		now:           time.Now,
	}
}

// PlaceOrder prices, persists and pays-pending an order for the calling
// patient in one transaction. With an idempotency key, a retry returns the
// order created by the first attempt and replayed is true.
func (s *OrderService) PlaceOrder(ctx context.Context, sess auth.Session, in PlaceOrderInput) (order *Order, replayed bool, err error) {
	if !sess.Is(auth.RolePatient) {
		return nil, false, ErrForbidden
	}
	if len(in.Items) == 0 {
		return nil, false, ErrEmptyOrder
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return nil, false, err
	}
	method, err := ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, false, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		order, err := s.placeOrder(ctx, sess.UserID, in.PrescriptionID, lines, method, nil)
		return order, false, err
	}
	if len(key) > maxIdempotencyKeyLength {
		return nil, false, fmt.Errorf("%w: idempotency key longer than %d characters", ErrValidation, maxIdempotencyKeyLength)
	}

	err = s.locker.WithKeyLock(ctx, sess.UserID.String()+":"+key, func(lockCtx context.Context) error {
		existing, err := s.store.Orders.GetByIdempotencyKey(lockCtx, sess.UserID, key)
		if err == nil {
			order, replayed = existing, true
			return nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}

		order, err = s.placeOrder(lockCtx, sess.UserID, in.PrescriptionID, lines, method, &key)
		if errors.Is(err, ErrDuplicateOrder) {
			// The lock expired under a slow first attempt; the unique index caught it.
			order, err = s.store.Orders.GetByIdempotencyKey(lockCtx, sess.UserID, key)
			replayed = err == nil
		}
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, false, ErrOrderInFlight
	}
	if err != nil {
		return nil, false, err
	}

	if replayed {
		s.log.Info().Str("order_id", order.ID.String()).Msg("idempotent order replayed")
	}
	return order, replayed, nil
}

func (s *OrderService) placeOrder(ctx context.Context, patientID uuid.UUID, prescriptionID *uuid.UUID, lines []OrderLine, method PaymentMethod, key *string) (*Order, error) {
	order := &Order{
		ID:             uuid.New(),
		PatientID:      patientID,
		PrescriptionID: prescriptionID,
		Status:         OrderPending,
		IdempotencyKey: key,
		Items:          make([]OrderItem, 0, len(lines)),
	}

	err := s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if prescriptionID != nil {
			if _, err := s.prescriptions.activeFor(txCtx, *prescriptionID, patientID); err != nil {
				return err
			}
		}

		ids := make([]uuid.UUID, len(lines))
		for i, line := range lines {
			ids[i] = line.InventoryID
		}
		stock, err := s.store.Inventory.LockByIDs(txCtx, ids)
		if err != nil {
			return fmt.Errorf("lock inventory: %w", err)
		}

		total := decimal.Zero
		for _, line := range lines {
			inv, ok := stock[line.InventoryID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrMedicineNotFound, line.InventoryID)
			}
			if inv.Stock < line.Quantity {
				return fmt.Errorf("%w: %s has %d, %d requested", ErrInsufficientStock, inv.MedicineName, inv.Stock, line.Quantity)
			}
			item := OrderItem{
				ID:           uuid.New(),
				OrderID:      order.ID,
				InventoryID:  inv.ID,
				MedicineName: inv.MedicineName,
				Quantity:     line.Quantity,
				Price:        inv.Price,
			}
			total = total.Add(item.Subtotal())
			order.Items = append(order.Items, item)
		}
		order.TotalPrice = total

		if err := s.store.Orders.Create(txCtx, order); err != nil {
			return err
		}
		for _, line := range lines {
			if _, err := s.store.Inventory.DecrementStock(txCtx, line.InventoryID, line.Quantity); err != nil {
				return fmt.Errorf("decrement %s: %w", line.InventoryID, err)
			}
		}

		payment := &Payment{
			ID:        uuid.New(),
			OrderID:   order.ID,
			PatientID: patientID,
			Amount:    total,
			Method:    method,
			Status:    PaymentPending,
		}
		if err := s.store.Payments.Create(txCtx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		order.Payment = payment

		return s.recordEvent(txCtx, order.ID, EventOrderPlaced, map[string]any{
			"patient_id":  patientID.String(),
			"total_price": total.StringFixed(2),
			"items":       len(order.Items),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("patient_id", patientID.String()).
		Str("total", order.TotalPrice.StringFixed(2)).
		Msg("order placed")
	return order, nil
}

// Pay completes the pending payment of the caller's order and moves the order
// to processing. Of two concurrent calls exactly one succeeds.
func (s *OrderService) Pay(ctx context.Context, sess auth.Session, orderID uuid.UUID, methodName string) (*Payment, error) {
	if !sess.Is(auth.RolePatient) {
		return nil, ErrForbidden
	}

	var method PaymentMethod
	if methodName != "" {
		m, err := ParsePaymentMethod(methodName)
		if err != nil {
			return nil, err
		}
		method = m
	}

	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PatientID != sess.UserID {
		return nil, ErrForbidden
	}
	if order.Payment != nil && order.Payment.Status == PaymentCompleted {
		return nil, ErrDuplicatePayment
	}
	if order.Status != OrderPending {
		return nil, fmt.Errorf("%w: cannot pay a %s order", ErrInvalidTransition, order.Status)
	}

	txnID := newTransactionID()
	var paid *Payment

	err = s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		p, err := s.store.Payments.UpdateStatus(txCtx, orderID, PaymentPending, PaymentCompleted, method, &txnID)
		if errors.Is(err, ErrPaymentNotFound) {
			if method == "" {
				return fmt.Errorf("%w: payment_method is required", ErrInvalidPaymentMethod)
			}
			p = &Payment{
				ID:            uuid.New(),
				OrderID:       orderID,
				PatientID:     order.PatientID,
				Amount:        order.TotalPrice,
				Method:        method,
				Status:        PaymentCompleted,
				TransactionID: &txnID,
			}
			err = s.store.Payments.Create(txCtx, p)
		}
		if err != nil {
			return err
		}

		if _, err := s.store.Orders.UpdateStatus(txCtx, orderID, OrderPending, OrderProcessing); err != nil {
			return err
		}
		paid = p

		return s.recordEvent(txCtx, orderID, EventOrderPaid, map[string]any{
			"transaction_id": txnID,
			"amount":         p.Amount.StringFixed(2),
			"method":         string(p.Method),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", orderID.String()).Str("transaction_id", txnID).Msg("order paid")
	return paid, nil
}

// SetStatus moves an order along its lifecycle. Pharmacists and admins may
// apply any legal edge; the owning patient may only cancel a pending order.
// Stock is decremented once at placement, so completing is fulfillment only.
func (s *OrderService) SetStatus(ctx context.Context, sess auth.Session, orderID uuid.UUID, statusName string) (*Order, error) {
	to, err := ParseOrderStatus(statusName)
	if err != nil {
		return nil, err
	}

	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case sess.Is(auth.RolePharmacist, auth.RoleAdmin):
	case sess.Is(auth.RolePatient) && order.PatientID == sess.UserID:
		if to != OrderCancelled || order.Status != OrderPending {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}

	from := order.Status
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	err = s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := s.store.Orders.UpdateStatus(txCtx, orderID, from, to); err != nil {
			return err
		}
		if to == OrderCancelled {
			if err := s.failPendingPayment(txCtx, orderID); err != nil {
				return err
			}
		}
		return s.recordEvent(txCtx, orderID, EventOrderStatusChanged, map[string]any{
			"from": string(from),
			"to":   string(to),
			"by":   sess.UserID.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order status changed")
	return s.store.Orders.GetByID(ctx, orderID)
}

func (s *OrderService) Get(ctx context.Context, sess auth.Session, orderID uuid.UUID) (*Order, error) {
	order, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case sess.Is(auth.RolePharmacist, auth.RoleAdmin):
	case sess.Is(auth.RolePatient) && order.PatientID == sess.UserID:
	default:
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, sess auth.Session, status string, limit, offset int) ([]Order, error) {
	limit, offset = clampPage(limit, offset)
	f := OrderFilter{Limit: limit, Offset: offset}

	if status != "" {
		st, err := ParseOrderStatus(status)
		if err != nil {
			return nil, err
		}
		f.Status = &st
	}

	switch sess.Role {
	case auth.RolePatient:
		f.PatientID = &sess.UserID
	case auth.RolePharmacist, auth.RoleAdmin:
	default:
		return nil, ErrForbidden
	}

	orders, err := s.store.Orders.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// ExpireStalePendingOrders cancels pending orders older than the configured
// TTL and fails their payments. Stock is left as is. It returns how many
// orders were expired; per-order failures are logged and skipped.
func (s *OrderService) ExpireStalePendingOrders(ctx context.Context) (int, error) {
	before := s.now().Add(-s.pendingTTL)
	stale, err := s.store.Orders.FindStalePending(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("find stale pending orders: %w", err)
	}

	expired := 0
	for _, o := range stale {
		err := s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
			if _, err := s.store.Orders.UpdateStatus(txCtx, o.ID, OrderPending, OrderCancelled); err != nil {
				return err
			}
			if err := s.failPendingPayment(txCtx, o.ID); err != nil {
				return err
			}
			return s.recordEvent(txCtx, o.ID, EventOrderExpired, map[string]any{
				"reason":     "worker",
				"order_date": o.OrderDate,
			})
		})
		if errors.Is(err, ErrInvalidTransition) {
			// paid or cancelled since it was listed
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to expire order")
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *OrderService) failPendingPayment(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.store.Payments.UpdateStatus(ctx, orderID, PaymentPending, PaymentFailed, "", nil)
	switch {
	case err == nil,
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrDuplicatePayment),
		errors.Is(err, ErrInvalidTransition):
		// A completed payment stays completed; refunds are handled out of band.
		return nil
	default:
		return fmt.Errorf("fail payment: %w", err)
	}
}

func (s *OrderService) recordEvent(ctx context.Context, orderID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := orderID
	ev := OrderEvent{
		EventType: eventType,
		OrderID:   &id,
		Payload:   data,
		CreatedAt: s.now(),
	}
	if err := s.store.Orders.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s event: %w", eventType, err)
	}
	return nil
}

// mergeLines sums quantities per inventory id and sorts by id, which is also
// the order rows are locked and decremented in. Every line and every summed
// quantity must lie in 1..maxLineQuantity.
func mergeLines(items []OrderLine) ([]OrderLine, error) {
	qty := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 || it.Quantity > maxLineQuantity {
			return nil, fmt.Errorf("%w: inventory %s has quantity %d", ErrInvalidQuantity, it.InventoryID, it.Quantity)
		}
		// both operands are at most maxLineQuantity, so the sum cannot wrap
		sum := qty[it.InventoryID] + it.Quantity
		if sum > maxLineQuantity {
			return nil, fmt.Errorf("%w: inventory %s totals more than %d units", ErrInvalidQuantity, it.InventoryID, maxLineQuantity)
		}
		qty[it.InventoryID] = sum
	}
	lines := make([]OrderLine, 0, len(qty))
	for id, q := range qty {
		lines = append(lines, OrderLine{InventoryID: id, Quantity: q})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].InventoryID.String() < lines[j].InventoryID.String()
	})
	return lines, nil
}

func newTransactionID() string {
	return "txn_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
