package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

const (
	defaultFrequency = "daily"
	defaultDuration  = "7 days"
)

type PrescriptionItemInput struct {
	MedicineName string
	Dosage       string
	Frequency    string
	Duration     string
	Instructions *string
}

type CreatePrescriptionInput struct {
	PatientID uuid.UUID
	Diagnosis string
	Notes     string
	Items     []PrescriptionItemInput
}

type PrescriptionService struct {
	store  Store
	expiry time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// NewPrescriptionService uses expiry as the single age threshold after which
// a prescription no longer backs an order.
func NewPrescriptionService(store Store, expiry time.Duration, log zerolog.Logger) *PrescriptionService {
	return &PrescriptionService{
		store:  store,
		expiry: expiry,
		log:    log.With().Str("component", "prescriptions").Logger(),
		now:    time.Now,
	}
}

func (s *PrescriptionService) Create(ctx context.Context, sess auth.Session, in CreatePrescriptionInput) (*Prescription, error) {
	if !sess.Is(auth.RoleDoctor) {
		return nil, ErrForbidden
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}

	doctor, err := s.store.Users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsVerified {
		return nil, ErrDoctorNotVerified
	}

	patient, err := s.store.Users.GetByID(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if patient.Role != auth.RolePatient {
		return nil, fmt.Errorf("%w: %s is not a patient", ErrUserNotFound, in.PatientID)
	}

	p := &Prescription{
		ID:        uuid.New(),
		DoctorID:  doctor.ID,
		PatientID: patient.ID,
		Diagnosis: strings.TrimSpace(in.Diagnosis),
		Notes:     strings.TrimSpace(in.Notes),
		Items:     make([]PrescriptionItem, 0, len(in.Items)),
	}
	for i, it := range in.Items {
		name := strings.TrimSpace(it.MedicineName)
		if name == "" {
			return nil, fmt.Errorf("%w: items[%d].medicine_name is required", ErrValidation, i)
		}
		item := PrescriptionItem{
			ID:           uuid.New(),
			MedicineName: name,
			Dosage:       strings.TrimSpace(it.Dosage),
			Frequency:    strings.TrimSpace(it.Frequency),
			Duration:     strings.TrimSpace(it.Duration),
			Instructions: it.Instructions,
		}
		if item.Frequency == "" {
			item.Frequency = defaultFrequency
		}
		if item.Duration == "" {
			item.Duration = defaultDuration
		}
		p.Items = append(p.Items, item)
	}

	err = s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.store.Prescriptions.Create(txCtx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	p.IsExpired = p.ExpiredAt(s.now(), s.expiry)
	s.log.Info().
		Str("prescription_id", p.ID.String()).
		Str("doctor_id", p.DoctorID.String()).
		Str("patient_id", p.PatientID.String()).
		Int("items", len(p.Items)).
		Msg("prescription created")
	return p, nil
}

// Validate loads a prescription for sess. Patients only see their own;
// clinical staff see any.
func (s *PrescriptionService) Validate(ctx context.Context, sess auth.Session, id uuid.UUID) (*Prescription, error) {
	p, err := s.store.Prescriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canViewPrescription(sess, p) {
		return nil, ErrForbidden
	}
	p.IsExpired = p.ExpiredAt(s.now(), s.expiry)
	return p, nil
}

// activeFor returns the prescription only if it belongs to patientID and has
// not expired; every other outcome is ErrPrescriptionInvalid.
func (s *PrescriptionService) activeFor(ctx context.Context, id, patientID uuid.UUID) (*Prescription, error) {
	p, err := s.store.Prescriptions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, fmt.Errorf("%w: not found", ErrPrescriptionInvalid)
		}
		return nil, fmt.Errorf("load prescription: %w", err)
	}
	if p.PatientID != patientID {
		return nil, fmt.Errorf("%w: not issued to this patient", ErrPrescriptionInvalid)
	}
	if p.ExpiredAt(s.now(), s.expiry) {
		return nil, fmt.Errorf("%w: expired", ErrPrescriptionInvalid)
	}
	return p, nil
}

// List returns what sess may see: patients their own, doctors what they
// authored (or a given patient's history), admins everything.
func (s *PrescriptionService) List(ctx context.Context, sess auth.Session, patientID *uuid.UUID, limit, offset int) ([]Prescription, error) {
	limit, offset = clampPage(limit, offset)
	f := PrescriptionFilter{Limit: limit, Offset: offset}

	switch sess.Role {
	case auth.RolePatient:
		if patientID != nil && *patientID != sess.UserID {
			return nil, ErrForbidden
		}
		f.PatientID = &sess.UserID
	case auth.RoleDoctor:
		if patientID != nil {
			f.PatientID = patientID
		} else {
			f.DoctorID = &sess.UserID
		}
	case auth.RoleAdmin:
		f.PatientID = patientID
	default:
		return nil, ErrForbidden
	}

	list, err := s.store.Prescriptions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	now := s.now()
	for i := range list {
		list[i].IsExpired = list[i].ExpiredAt(now, s.expiry)
	}
	return list, nil
}

func canViewPrescription(sess auth.Session, p *Prescription) bool {
	switch sess.Role {
	case auth.RoleDoctor, auth.RolePharmacist, auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return p.PatientID == sess.UserID
	}
	return false
}
