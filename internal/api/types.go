package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

type RegisterRequest struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Role           string  `json:"role"`
	Phone          *string `json:"phone"`
	Address        *string `json:"address"`
	DateOfBirth    *string `json:"date_of_birth"` // YYYY-MM-DD
	LicenseNumber  *string `json:"license_number"`
	Specialization *string `json:"specialization"`
	PharmacyName   *string `json:"pharmacy_name"`
}

func (r RegisterRequest) toInput() (pharmacy.RegisterInput, error) {
	dob, err := parseDate("date_of_birth", r.DateOfBirth)
	if err != nil {
		return pharmacy.RegisterInput{}, err
	}
	return pharmacy.RegisterInput{
		Name:           r.Name,
		Email:          r.Email,
		Password:       r.Password,
		Role:           r.Role,
		Phone:          r.Phone,
		Address:        r.Address,
		DateOfBirth:    dob,
		LicenseNumber:  r.LicenseNumber,
		Specialization: r.Specialization,
		PharmacyName:   r.PharmacyName,
	}, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type InventoryRequest struct {
	MedicineName string          `json:"medicine_name"`
	GenericName  string          `json:"generic_name"`
	Stock        int             `json:"stock"`
	Price        decimal.Decimal `json:"price"`
	ExpiryDate   *string         `json:"expiry_date"`
}

type InventoryPatchRequest struct {
	MedicineName *string          `json:"medicine_name"`
	GenericName  *string          `json:"generic_name"`
	Stock        *int             `json:"stock"`
	Price        *decimal.Decimal `json:"price"`
	ExpiryDate   *string          `json:"expiry_date"`
}

type PrescriptionItemRequest struct {
	MedicineName string  `json:"medicine_name"`
	Dosage       string  `json:"dosage"`
	Frequency    string  `json:"frequency"`
	Duration     string  `json:"duration"`
	Instructions *string `json:"instructions"`
}

type CreatePrescriptionRequest struct {
	PatientID string                    `json:"patient_id"`
	Diagnosis string                    `json:"diagnosis"`
	Notes     string                    `json:"notes"`
	Items     []PrescriptionItemRequest `json:"items"`
}

type OrderLineRequest struct {
	InventoryID string `json:"inventory_id"`
	Quantity    int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	PrescriptionID *string            `json:"prescription_id"`
	Items          []OrderLineRequest `json:"items"`
	PaymentMethod  string             `json:"payment_method"`
}

type PayRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type SetStatusRequest struct {
	Status string `json:"status"`
}

type VerifyDoctorRequest struct {
	Verified *bool `json:"verified"`
}

func parseDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD", pharmacy.ErrValidation, field)
	}
	return &t, nil
}
