package pharmacy

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	redisclient "github.com/rxdesk/pharmacy-service/internal/redis"
)

const testExpiry = 30 * 24 * time.Hour

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	mem           *memStore
	store         Store
	locker        *redisclient.LocalLocker
	prescriptions *PrescriptionService
	orders        *OrderService
	inventory     *InventoryService
	accounts      *AccountService
	admin         *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := newMemStore()
	mem.now = func() time.Time { return testNow }
	store := mem.Store()
	log := zerolog.Nop()
	locker := redisclient.NewLocalLocker()

	prescriptions := NewPrescriptionService(store, testExpiry, log)
	prescriptions.now = mem.now
	orders := NewOrderService(store, prescriptions, locker, 24*time.Hour, log)
	orders.now = mem.now

	return &testEnv{
		mem:           mem,
		store:         store,
		locker:        locker,
		prescriptions: prescriptions,
		orders:        orders,
		inventory:     NewInventoryService(store, log),
		accounts:      NewAccountService(store, auth.NewTokenIssuer("test-secret", time.Hour), log),
		admin:         NewAdminService(store, log),
	}
}

func (e *testEnv) addUser(t *testing.T, role auth.Role) auth.Session {
	t.Helper()
	u := User{
		ID:         uuid.New(),
		Name:       gofakeit.Name(),
		Email:      gofakeit.Email(),
		Role:       role,
		IsVerified: true,
		CreatedAt:  testNow,
	}
	e.mem.users[u.ID] = u
	return auth.Session{UserID: u.ID, Email: u.Email, Role: role}
}

func (e *testEnv) addInventory(t *testing.T, owner auth.Session, stock int, price string) InventoryItem {
	t.Helper()
	it := InventoryItem{
		ID:           uuid.New(),
		PharmacistID: owner.UserID,
		MedicineName: gofakeit.Word(),
		Stock:        stock,
		Price:        decimal.RequireFromString(price),
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	e.mem.inventory[it.ID] = it
	return it
}

func (e *testEnv) addPrescription(t *testing.T, doctor, patient auth.Session, age time.Duration) Prescription {
	t.Helper()
	p := Prescription{
		ID:        uuid.New(),
		DoctorID:  doctor.UserID,
		PatientID: patient.UserID,
		Diagnosis: "seasonal allergy",
		CreatedAt: testNow.Add(-age),
		Items: []PrescriptionItem{{
			ID:           uuid.New(),
			MedicineName: "cetirizine",
			Dosage:       "10mg",
			Frequency:    "daily",
			Duration:     "7 days",
		}},
	}
	e.mem.prescriptions[p.ID] = p
	return p
}

func (e *testEnv) stockOf(id uuid.UUID) int {
	return e.mem.inventory[id].Stock
}

func (e *testEnv) eventsOf(eventType string) int {
	n := 0
	for _, ev := range e.mem.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (e *testEnv) place(t *testing.T, patient auth.Session, lines ...OrderLine) (*Order, error) {
	t.Helper()
	order, _, err := e.orders.PlaceOrder(context.Background(), patient, PlaceOrderInput{
		Items:         lines,
		PaymentMethod: string(MethodCard),
	})
	return order, err
}
