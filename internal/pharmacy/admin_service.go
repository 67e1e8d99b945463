package pharmacy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

type AdminService struct {
	store Store
	log   zerolog.Logger
}

func NewAdminService(store Store, log zerolog.Logger) *AdminService {
	return &AdminService{
		store: store,
		log:   log.With().Str("component", "admin").Logger(),
	}
}

func (s *AdminService) ListUsers(ctx context.Context, sess auth.Session, role *auth.Role, q string, limit, offset int) ([]User, error) {
	if !sess.Is(auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	limit, offset = clampPage(limit, offset)
	users, err := s.store.Users.List(ctx, UserFilter{Role: role, Query: strings.TrimSpace(q), Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *AdminService) Stats(ctx context.Context, sess auth.Session) (*Stats, error) {
	if !sess.Is(auth.RoleAdmin) {
		return nil, ErrForbidden
	}

	byRole, err := s.store.Users.CountByRole(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.Orders.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	revenue, err := s.store.Payments.CompletedRevenue(ctx)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range byRole {
		total += n
	}
	return &Stats{
		UsersByRole:    byRole,
		TotalUsers:     total,
		OrdersByStatus: byStatus,
		Revenue:        revenue,
	}, nil
}

// SetDoctorVerified flips the verification flag that gates prescription writes.
func (s *AdminService) SetDoctorVerified(ctx context.Context, sess auth.Session, doctorID uuid.UUID, verified bool) (*User, error) {
	if !sess.Is(auth.RoleAdmin) {
		return nil, ErrForbidden
	}

	u, err := s.store.Users.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RoleDoctor {
		return nil, ErrNotADoctor
	}

	u, err = s.store.Users.SetVerified(ctx, doctorID, verified)
	if err != nil {
		return nil, fmt.Errorf("verify doctor: %w", err)
	}

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Bool("verified", verified).
		Str("by", sess.UserID.String()).
		Msg("doctor verification changed")
	return u, nil
}

func (s *AdminService) DeleteUser(ctx context.Context, sess auth.Session, id uuid.UUID) error {
	if !sess.Is(auth.RoleAdmin) {
		return ErrForbidden
	}
	if id == sess.UserID {
		return ErrCannotDeleteSelf
	}
	if err := s.store.Users.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("user_id", id.String()).Str("by", sess.UserID.String()).Msg("user deleted")
	return nil
}
