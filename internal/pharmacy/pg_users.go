package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/db"
)

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, role, is_verified, phone, address,
	date_of_birth, license_number, specialization, pharmacy_name, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User

	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.IsVerified,
		&u.Phone,
		&u.Address,
		&u.DateOfBirth,
		&u.LicenseNumber,
		&u.Specialization,
		&u.PharmacyName,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, u *User) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, is_verified, phone, address,
			date_of_birth, license_number, specialization, pharmacy_name)
		VALUES ($1, $2, lower($3), $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING email, created_at
	`, u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.IsVerified, u.Phone, u.Address,
		u.DateOfBirth, u.LicenseNumber, u.Specialization, u.PharmacyName)

	if err := row.Scan(&u.Email, &u.CreatedAt); err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *PgUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = lower($1)
	`, email)
	return scanUser(row)
}

func (r *PgUserRepository) List(ctx context.Context, f UserFilter) ([]User, error) {
	var w where
	if f.Role != nil {
		w.add("role = ?", *f.Role)
	}
	if f.Query != "" {
		pattern := containsPattern(f.Query)
		w.add(`(name ILIKE ? ESCAPE '\' OR email ILIKE ? ESCAPE '\')`, pattern, pattern)
	}
	query := `SELECT ` + userColumns + ` FROM users ` + w.sql() + ` ORDER BY created_at DESC, id ` + w.page(f.Limit, f.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *PgUserRepository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users
		SET is_verified = $2
		WHERE id = $1
		RETURNING `+userColumns, id, verified)
	return scanUser(row)
}

func (r *PgUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			// the cascade into pharmacy_inventory hit order_items
			return ErrUserInUse
		}
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PgUserRepository) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT role, count(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	defer rows.Close()

	counts := make(map[auth.Role]int, len(auth.AllRoles))
	for _, role := range auth.AllRoles {
		counts[role] = 0
	}
	for rows.Next() {
		var role auth.Role
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		counts[role] = n
	}
	return counts, rows.Err()
}
