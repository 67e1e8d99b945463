package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

type AccountService interface {
	Register(ctx context.Context, in pharmacy.RegisterInput) (*pharmacy.User, error)
	Login(ctx context.Context, email, password string) (*pharmacy.LoginResult, error)
	Me(ctx context.Context, sess auth.Session) (*pharmacy.User, error)
	ListPatients(ctx context.Context, sess auth.Session, q string, limit, offset int) ([]pharmacy.User, error)
	GetPatient(ctx context.Context, sess auth.Session, id uuid.UUID) (*pharmacy.User, error)
	ListPharmacists(ctx context.Context, q string, limit, offset int) ([]pharmacy.User, error)
}

type AdminService interface {
	ListUsers(ctx context.Context, sess auth.Session, role *auth.Role, q string, limit, offset int) ([]pharmacy.User, error)
	Stats(ctx context.Context, sess auth.Session) (*pharmacy.Stats, error)
	SetDoctorVerified(ctx context.Context, sess auth.Session, doctorID uuid.UUID, verified bool) (*pharmacy.User, error)
	DeleteUser(ctx context.Context, sess auth.Session, id uuid.UUID) error
}

type PrescriptionService interface {
	Create(ctx context.Context, sess auth.Session, in pharmacy.CreatePrescriptionInput) (*pharmacy.Prescription, error)
	Validate(ctx context.Context, sess auth.Session, id uuid.UUID) (*pharmacy.Prescription, error)
	List(ctx context.Context, sess auth.Session, patientID *uuid.UUID, limit, offset int) ([]pharmacy.Prescription, error)
}

type InventoryService interface {
	Get(ctx context.Context, id uuid.UUID) (*pharmacy.InventoryItem, error)
	List(ctx context.Context, f pharmacy.InventoryFilter) ([]pharmacy.InventoryItem, error)
	Create(ctx context.Context, sess auth.Session, in pharmacy.InventoryInput) (*pharmacy.InventoryItem, error)
	Update(ctx context.Context, sess auth.Session, id uuid.UUID, patch pharmacy.InventoryPatch) (*pharmacy.InventoryItem, error)
	Delete(ctx context.Context, sess auth.Session, id uuid.UUID) error
}

type OrderService interface {
	PlaceOrder(ctx context.Context, sess auth.Session, in pharmacy.PlaceOrderInput) (*pharmacy.Order, bool, error)
	Pay(ctx context.Context, sess auth.Session, orderID uuid.UUID, method string) (*pharmacy.Payment, error)
	SetStatus(ctx context.Context, sess auth.Session, orderID uuid.UUID, status string) (*pharmacy.Order, error)
	Get(ctx context.Context, sess auth.Session, orderID uuid.UUID) (*pharmacy.Order, error)
	List(ctx context.Context, sess auth.Session, status string, limit, offset int) ([]pharmacy.Order, error)
}

type RouterConfig struct {
	Accounts      AccountService
	Admin         AdminService
	Prescriptions PrescriptionService
	Inventory     InventoryService
	Orders        OrderService
	Tokens        TokenVerifier
	Health        *HealthHandler
	Logger        zerolog.Logger
	Dev           bool          // expose internal error details
	Timeout       time.Duration // per-request deadline, default 30s
}

func NewRouter(cfg RouterConfig) http.Handler {
	a := &api{log: cfg.Logger, dev: cfg.Dev}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	r.Post("/auth/register", registerHandler(a, cfg.Accounts))
	r.Post("/auth/login", loginHandler(a, cfg.Accounts))

	r.Group(func(r chi.Router) {
		r.Use(a.Authenticate(cfg.Tokens))

		r.Get("/auth/me", meHandler(a, cfg.Accounts))

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", listInventoryHandler(a, cfg.Inventory))
			r.Get("/{id}", getInventoryHandler(a, cfg.Inventory))

			r.Group(func(r chi.Router) {
				r.Use(a.RequireRole(auth.RolePharmacist))
				r.Post("/", createInventoryHandler(a, cfg.Inventory))
				r.Put("/{id}", updateInventoryHandler(a, cfg.Inventory))
				r.Delete("/{id}", deleteInventoryHandler(a, cfg.Inventory))
			})
		})

		r.Route("/prescriptions", func(r chi.Router) {
			r.With(a.RequireRole(auth.RoleDoctor)).Post("/", createPrescriptionHandler(a, cfg.Prescriptions))
			r.With(a.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleAdmin)).Get("/", listPrescriptionsHandler(a, cfg.Prescriptions))
			r.Get("/{id}", getPrescriptionHandler(a, cfg.Prescriptions))
		})

		r.Route("/orders", func(r chi.Router) {
			r.With(a.RequireRole(auth.RolePatient)).Post("/", placeOrderHandler(a, cfg.Orders))
			r.With(a.RequireRole(auth.RolePatient, auth.RolePharmacist, auth.RoleAdmin)).Get("/", listOrdersHandler(a, cfg.Orders))
			r.Get("/{id}", getOrderHandler(a, cfg.Orders))
			r.With(a.RequireRole(auth.RolePatient)).Post("/{id}/pay", payOrderHandler(a, cfg.Orders))
			// patients may cancel their own pending order; the service enforces it
			r.Put("/{id}/status", setOrderStatusHandler(a, cfg.Orders))
		})

		r.Route("/patients", func(r chi.Router) {
			r.Use(a.RequireRole(auth.RoleDoctor, auth.RoleAdmin))
			r.Get("/", listPatientsHandler(a, cfg.Accounts))
			r.Get("/{id}", getPatientHandler(a, cfg.Accounts))
		})

		r.Get("/pharmacists", listPharmacistsHandler(a, cfg.Accounts))

		r.Route("/admin", func(r chi.Router) {
			r.Use(a.RequireRole(auth.RoleAdmin))
			r.Get("/users", listUsersHandler(a, cfg.Admin))
			r.Get("/stats", statsHandler(a, cfg.Admin))
			r.Put("/doctors/{id}/verify", verifyDoctorHandler(a, cfg.Admin))
			r.Delete("/users/{id}", deleteUserHandler(a, cfg.Admin))
		})
	})

	return r
}
