package pharmacy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderProcessing, OrderCompleted, OrderCancelled:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// orderTransitions lists the legal edges of the order lifecycle. Completed
// and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderCompleted, OrderCancelled},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentMethod string

const (
	MethodCard      PaymentMethod = "card"
	MethodCash      PaymentMethod = "cash"
	MethodUPI       PaymentMethod = "upi"
	MethodInsurance PaymentMethod = "insurance"
	MethodWallet    PaymentMethod = "wallet"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case MethodCard, MethodCash, MethodUPI, MethodInsurance, MethodWallet:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, s)
	}
}

type User struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Role           auth.Role  `json:"role"`
	IsVerified     bool       `json:"is_verified"`
	Phone          *string    `json:"phone,omitempty"`
	Address        *string    `json:"address,omitempty"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	LicenseNumber  *string    `json:"license_number,omitempty"`
	Specialization *string    `json:"specialization,omitempty"`
	PharmacyName   *string    `json:"pharmacy_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Prescription struct {
	ID        uuid.UUID          `json:"id"`
	DoctorID  uuid.UUID          `json:"doctor_id"`
	PatientID uuid.UUID          `json:"patient_id"`
	Diagnosis string             `json:"diagnosis"`
	Notes     string             `json:"notes"`
	CreatedAt time.Time          `json:"created_at"`
	Items     []PrescriptionItem `json:"items"`

	// Derived on read, never stored.
	IsExpired bool `json:"is_expired"`
}

// ExpiredAt reports whether the prescription is older than threshold at now.
func (p *Prescription) ExpiredAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.CreatedAt) > threshold
}

type PrescriptionItem struct {
	ID             uuid.UUID `json:"id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	MedicineName   string    `json:"medicine_name"`
	Dosage         string    `json:"dosage"`
	Frequency      string    `json:"frequency"`
	Duration       string    `json:"duration"`
	Instructions   *string   `json:"instructions,omitempty"`
}

type InventoryItem struct {
	ID           uuid.UUID       `json:"id"`
	PharmacistID uuid.UUID       `json:"pharmacist_id"`
	MedicineName string          `json:"medicine_name"`
	GenericName  string          `json:"generic_name"`
	Stock        int             `json:"stock"`
	Price        decimal.Decimal `json:"price"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Order struct {
	ID             uuid.UUID       `json:"id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	PrescriptionID *uuid.UUID      `json:"prescription_id,omitempty"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey *string         `json:"-"`
	OrderDate      time.Time       `json:"order_date"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []OrderItem     `json:"items"`
	Payment        *Payment        `json:"payment,omitempty"`
}

// OrderItem snapshots the unit price at placement; it is never re-read from
// inventory afterwards.
type OrderItem struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	InventoryID  uuid.UUID       `json:"inventory_id"`
	MedicineName string          `json:"medicine_name,omitempty"`
	Quantity     int             `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"payment_method"`
	Status        PaymentStatus   `json:"payment_status"`
	TransactionID *string         `json:"transaction_id,omitempty"`
	PaymentDate   time.Time       `json:"payment_date"`
}

type OrderEvent struct {
	ID        int64
	EventType string
	OrderID   *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Stats is the admin dashboard summary.
type Stats struct {
	UsersByRole    map[auth.Role]int   `json:"users_by_role"`
	TotalUsers     int                 `json:"total_users"`
	OrdersByStatus map[OrderStatus]int `json:"orders_by_status"`
	Revenue        decimal.Decimal     `json:"revenue"`
}
