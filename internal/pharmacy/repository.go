package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrMedicineNotFound     = errors.New("medicine not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotFound      = errors.New("payment not found")

	ErrEmailTaken        = errors.New("email already registered")
	ErrInventoryInUse    = errors.New("inventory item is referenced by orders")
	ErrUserInUse         = errors.New("user owns inventory that is referenced by orders")
	ErrDuplicateOrder    = errors.New("order with this idempotency key already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type UserFilter struct {
	Role   *auth.Role
	Query  string // case-insensitive match on name or email
	Limit  int
	Offset int
}

type PrescriptionFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Limit     int
	Offset    int
}

type InventoryFilter struct {
	PharmacistID *uuid.UUID
	Query        string // case-insensitive match on medicine or generic name
	IncludeEmpty bool   // include rows with zero stock
	Limit        int
	Offset       int
}

type OrderFilter struct {
	PatientID *uuid.UUID
	Status    *OrderStatus
	Limit     int
	Offset    int
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]User, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*User, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByRole(ctx context.Context) (map[auth.Role]int, error)
}

type PrescriptionRepository interface {
	// Create stores the prescription and its items.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	List(ctx context.Context, f PrescriptionFilter) ([]Prescription, error)
}

type InventoryRepository interface {
	Create(ctx context.Context, item *InventoryItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error)
	// LockByIDs reads and row-locks the given items in ascending id order.
	// Missing ids are absent from the result. Must run inside a transaction.
	LockByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*InventoryItem, error)
	Update(ctx context.Context, item *InventoryItem) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f InventoryFilter) ([]InventoryItem, error)
	// DecrementStock subtracts qty only if enough stock remains, otherwise
	// it returns ErrInsufficientStock and changes nothing.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (*InventoryItem, error)
}

type OrderRepository interface {
	// Create stores the order and its items.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Order, error)
	List(ctx context.Context, f OrderFilter) ([]Order, error)
	// UpdateStatus moves the order only if it is currently in from, otherwise
	// it returns ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error)
	FindStalePending(ctx context.Context, before time.Time) ([]Order, error)
	CountByStatus(ctx context.Context) (map[OrderStatus]int, error)
	InsertEvent(ctx context.Context, ev OrderEvent) error
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error)
	// UpdateStatus moves the payment of orderID only if it is currently in
	// from. A payment that is already completed yields ErrDuplicatePayment,
	// any other mismatch ErrInvalidTransition. An empty method keeps the
	// current one.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to PaymentStatus, method PaymentMethod, transactionID *string) (*Payment, error)
	CompletedRevenue(ctx context.Context) (decimal.Decimal, error)
}

// TxManager runs fn atomically. Repository calls made with the ctx handed to
// fn join the transaction; any error from fn rolls everything back.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories and the transaction boundary they share.
type Store struct {
	Users         UserRepository
	Prescriptions PrescriptionRepository
	Inventory     InventoryRepository
	Orders        OrderRepository
	Payments      PaymentRepository
	Tx            TxManager
}
