package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

const minPasswordLength = 8

type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	Role           string
	Phone          *string
	Address        *string
	DateOfBirth    *time.Time
	LicenseNumber  *string
	Specialization *string
	PharmacyName   *string
}

type LoginResult struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccountService covers registration, login and the user directories.
type AccountService struct {
	store  Store
	tokens *auth.TokenIssuer
	log    zerolog.Logger
}

func NewAccountService(store Store, tokens *auth.TokenIssuer, log zerolog.Logger) *AccountService {
	return &AccountService{
		store:  store,
		tokens: tokens,
		log:    log.With().Str("component", "accounts").Logger(),
	}
}

func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*User, error) {
	role, err := auth.ParseRole(in.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}
	if role == auth.RoleAdmin {
		return nil, fmt.Errorf("%w: admins cannot self-register", ErrForbidden)
	}

	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	case email == "":
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	case len(in.Password) < minPasswordLength:
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsVerified:   role != auth.RoleDoctor,
	}

	// Only the profile fields that belong to the role are kept.
	switch role {
	case auth.RolePatient:
		u.Phone, u.Address, u.DateOfBirth = in.Phone, in.Address, in.DateOfBirth
	case auth.RoleDoctor:
		if in.LicenseNumber == nil || strings.TrimSpace(*in.LicenseNumber) == "" {
			return nil, fmt.Errorf("%w: license_number is required for doctors", ErrValidation)
		}
		u.LicenseNumber, u.Specialization, u.Phone = in.LicenseNumber, in.Specialization, in.Phone
	case auth.RolePharmacist:
		u.PharmacyName, u.Address, u.LicenseNumber, u.Phone = in.PharmacyName, in.Address, in.LicenseNumber, in.Phone
	}

	if err := s.store.Users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().Str("user_id", u.ID.String()).Str("role", string(role)).Msg("user registered")
	return u, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{User: u, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *AccountService) Me(ctx context.Context, sess auth.Session) (*User, error) {
	return s.store.Users.GetByID(ctx, sess.UserID)
}

// ListPatients is the doctor's patient directory; q matches name or email.
func (s *AccountService) ListPatients(ctx context.Context, sess auth.Session, q string, limit, offset int) ([]User, error) {
	if !sess.Is(auth.RoleDoctor, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	return s.listByRole(ctx, auth.RolePatient, q, limit, offset)
}

func (s *AccountService) GetPatient(ctx context.Context, sess auth.Session, id uuid.UUID) (*User, error) {
	if !sess.Is(auth.RoleDoctor, auth.RoleAdmin) {
		return nil, ErrForbidden
	}
	u, err := s.store.Users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != auth.RolePatient {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *AccountService) ListPharmacists(ctx context.Context, q string, limit, offset int) ([]User, error) {
	return s.listByRole(ctx, auth.RolePharmacist, q, limit, offset)
}

func (s *AccountService) listByRole(ctx context.Context, role auth.Role, q string, limit, offset int) ([]User, error) {
	limit, offset = clampPage(limit, offset)
	users, err := s.store.Users.List(ctx, UserFilter{
		Role:   &role,
		Query:  strings.TrimSpace(q),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", role, err)
	}
	return users, nil
}
