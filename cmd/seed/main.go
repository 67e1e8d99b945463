package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/config"
	"github.com/rxdesk/pharmacy-service/internal/db"
	"github.com/rxdesk/pharmacy-service/internal/logging"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

const (
	seedPassword = "password123"

	doctorCount        = 10
	pharmacistCount    = 5
	patientCount       = 200
	medicinesPerPharma = 20
	rxPerPatient       = 2
)

var medicines = []struct{ brand, generic string }{
	{"Crocin", "Paracetamol"},
	{"Augmentin", "Amoxicillin/Clavulanate"},
	{"Glycomet", "Metformin"},
	{"Lipitor", "Atorvastatin"},
	{"Norvasc", "Amlodipine"},
	{"Zyrtec", "Cetirizine"},
	{"Nexium", "Esomeprazole"},
	{"Ventolin", "Salbutamol"},
	{"Brufen", "Ibuprofen"},
	{"Synthroid", "Levothyroxine"},
	{"Azithral", "Azithromycin"},
	{"Pan 40", "Pantoprazole"},
}

var diagnoses = []string{
	"Seasonal allergic rhinitis",
	"Type 2 diabetes follow-up",
	"Essential hypertension",
	"Upper respiratory tract infection",
	"Gastro-oesophageal reflux",
	"Mild persistent asthma",
}

var frequencies = []string{"daily", "twice daily", "every 8 hours"}

var specializations = []string{
	"General Practice",
	"Cardiology",
	"Dermatology",
	"Endocrinology",
	"Pediatrics",
	"Psychiatry",
}

type seeder struct {
	store pharmacy.Store
	hash  string
	log   zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	// One bcrypt hash shared by every fixture account keeps seeding fast.
	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("hash seed password")
	}

	s := &seeder{
		store: pharmacy.NewPgStore(pool, db.NewTxManager(pool, time.Minute, logger)),
		hash:  hash,
		log:   logger,
	}
	if err := s.run(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}

	logger.Info().Str("password", seedPassword).Msg("seed complete")
}

func (s *seeder) run(ctx context.Context) error {
	if err := s.fixedAccounts(ctx); err != nil {
		return fmt.Errorf("seed fixed accounts: %w", err)
	}

	doctors, err := s.users(ctx, auth.RoleDoctor, doctorCount)
	if err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	pharmacists, err := s.users(ctx, auth.RolePharmacist, pharmacistCount)
	if err != nil {
		return fmt.Errorf("seed pharmacists: %w", err)
	}
	patients, err := s.users(ctx, auth.RolePatient, patientCount)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	if err := s.inventory(ctx, pharmacists); err != nil {
		return fmt.Errorf("seed inventory: %w", err)
	}
	if err := s.prescriptions(ctx, doctors, patients); err != nil {
		return fmt.Errorf("seed prescriptions: %w", err)
	}
	return nil
}

// fixedAccounts creates one predictable login per role. Reruns skip them.
func (s *seeder) fixedAccounts(ctx context.Context) error {
	for _, role := range auth.AllRoles {
		u := s.newUser(role)
		u.Name = "Demo " + role.String()
		u.Email = role.String() + "@pharmacy.local"

		err := s.store.Users.Create(ctx, u)
		switch {
		case errors.Is(err, pharmacy.ErrEmailTaken):
			s.log.Debug().Str("email", u.Email).Msg("fixed account exists")
		case err != nil:
			return err
		default:
			s.log.Info().Str("email", u.Email).Str("role", role.String()).Msg("fixed account created")
		}
	}
	return nil
}

func (s *seeder) users(ctx context.Context, role auth.Role, count int) ([]*pharmacy.User, error) {
	s.log.Info().Str("role", role.String()).Int("count", count).Msg("seeding users")

	out := make([]*pharmacy.User, 0, count)
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		for i := 0; i < count; i++ {
			u := s.newUser(role)
			if err := s.store.Users.Create(ctx, u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *seeder) newUser(role auth.Role) *pharmacy.User {
	u := &pharmacy.User{
		ID:           uuid.New(),
		Name:         gofakeit.Name(),
		Email:        fmt.Sprintf("%s.%s", uuid.NewString()[:8], gofakeit.Email()),
		PasswordHash: s.hash,
		Role:         role,
		IsVerified:   true,
	}

	switch role {
	case auth.RolePatient:
		phone := gofakeit.Phone()
		addr := gofakeit.Address().Address
		dob := gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-18, 0, 0))
		u.Phone, u.Address, u.DateOfBirth = &phone, &addr, &dob
	case auth.RoleDoctor:
		license := fmt.Sprintf("MD-%06d", gofakeit.Number(1, 999999))
		spec := pick(specializations)
		u.LicenseNumber, u.Specialization = &license, &spec
	case auth.RolePharmacist:
		license := fmt.Sprintf("PH-%06d", gofakeit.Number(1, 999999))
		name := gofakeit.LastName() + " Pharmacy"
		u.LicenseNumber, u.PharmacyName = &license, &name
	}
	return u
}

func (s *seeder) inventory(ctx context.Context, pharmacists []*pharmacy.User) error {
	return s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, ph := range pharmacists {
			for i := 0; i < medicinesPerPharma; i++ {
				m := medicines[gofakeit.Number(0, len(medicines)-1)]
				expiry := time.Now().AddDate(0, gofakeit.Number(3, 36), 0)
				item := &pharmacy.InventoryItem{
					ID:           uuid.New(),
					PharmacistID: ph.ID,
					MedicineName: m.brand,
					GenericName:  m.generic,
					Stock:        gofakeit.Number(0, 500),
					Price:        decimal.New(int64(gofakeit.Number(100, 25000)), -2),
					ExpiryDate:   &expiry,
				}
				if err := s.store.Inventory.Create(ctx, item); err != nil {
					return err
				}
			}
		}
		s.log.Info().Int("items", len(pharmacists)*medicinesPerPharma).Msg("inventory seeded")
		return nil
	})
}

func (s *seeder) prescriptions(ctx context.Context, doctors, patients []*pharmacy.User) error {
	return s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, pt := range patients {
			for i := 0; i < rxPerPatient; i++ {
				doc := doctors[gofakeit.Number(0, len(doctors)-1)]
				rx := &pharmacy.Prescription{
					ID:        uuid.New(),
					DoctorID:  doc.ID,
					PatientID: pt.ID,
					Diagnosis: pick(diagnoses),
				}
				for j := 0; j < gofakeit.Number(1, 3); j++ {
					m := medicines[gofakeit.Number(0, len(medicines)-1)]
					rx.Items = append(rx.Items, pharmacy.PrescriptionItem{
						ID:             uuid.New(),
						PrescriptionID: rx.ID,
						MedicineName:   m.brand,
						Dosage:         fmt.Sprintf("%dmg", 50*gofakeit.Number(1, 10)),
						Frequency:      pick(frequencies),
						Duration:       fmt.Sprintf("%d days", gofakeit.Number(3, 30)),
					})
				}
				if err := s.store.Prescriptions.Create(ctx, rx); err != nil {
					return err
				}
			}
		}
		s.log.Info().Int("prescriptions", len(patients)*rxPerPatient).Msg("prescriptions seeded")
		return nil
	})
}

func pick(values []string) string {
	return values[gofakeit.Number(0, len(values)-1)]
}
