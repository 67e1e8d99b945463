package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxdesk/pharmacy-service/internal/db"
)

type PgInventoryRepository struct {
	pool *pgxpool.Pool
}

func NewPgInventoryRepository(pool *pgxpool.Pool) *PgInventoryRepository {
	return &PgInventoryRepository{pool: pool}
}

const inventoryColumns = `id, pharmacist_id, medicine_name, generic_name, stock, price,
	expiry_date, created_at, updated_at`

func scanInventoryItem(row pgx.Row) (*InventoryItem, error) {
	var it InventoryItem

	err := row.Scan(
		&it.ID,
		&it.PharmacistID,
		&it.MedicineName,
		&it.GenericName,
		&it.Stock,
		&it.Price,
		&it.ExpiryDate,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicineNotFound
		}
		return nil, err
	}
	return &it, nil
}

func (r *PgInventoryRepository) Create(ctx context.Context, it *InventoryItem) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pharmacy_inventory (id, pharmacist_id, medicine_name, generic_name, stock, price, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, it.ID, it.PharmacistID, it.MedicineName, it.GenericName, it.Stock, it.Price, it.ExpiryDate)
	if err := row.Scan(&it.CreatedAt, &it.UpdatedAt); err != nil {
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

func (r *PgInventoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+inventoryColumns+`
		FROM pharmacy_inventory
		WHERE id = $1
	`, id)
	return scanInventoryItem(row)
}

func (r *PgInventoryRepository) LockByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*InventoryItem, error) {
	if !db.InTx(ctx) {
		return nil, errors.New("lock inventory: no transaction in context")
	}
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].String() < sorted[j].String() })

	// ORDER BY id makes every order acquire row locks in the same sequence.
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+inventoryColumns+`
		FROM pharmacy_inventory
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}
	defer rows.Close()

	items := make(map[uuid.UUID]*InventoryItem, len(ids))
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items[it.ID] = it
	}
	return items, rows.Err()
}

func (r *PgInventoryRepository) Update(ctx context.Context, it *InventoryItem) error {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE pharmacy_inventory
		SET medicine_name = $2, generic_name = $3, stock = $4, price = $5, expiry_date = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, it.ID, it.MedicineName, it.GenericName, it.Stock, it.Price, it.ExpiryDate)
	if err := row.Scan(&it.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMedicineNotFound
		}
		return fmt.Errorf("update inventory item: %w", err)
	}
	return nil
}

func (r *PgInventoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM pharmacy_inventory WHERE id = $1`, id)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return ErrInventoryInUse
		}
		return fmt.Errorf("delete inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMedicineNotFound
	}
	return nil
}

func (r *PgInventoryRepository) List(ctx context.Context, f InventoryFilter) ([]InventoryItem, error) {
	var w where
	if f.PharmacistID != nil {
		w.add("pharmacist_id = ?", *f.PharmacistID)
	}
	if f.Query != "" {
		pattern := containsPattern(f.Query)
		w.add(`(medicine_name ILIKE ? ESCAPE '\' OR generic_name ILIKE ? ESCAPE '\')`, pattern, pattern)
	}
	if !f.IncludeEmpty {
		w.add("stock > 0")
	}
	query := `SELECT ` + inventoryColumns + ` FROM pharmacy_inventory ` + w.sql() +
		` ORDER BY medicine_name, id ` + w.page(f.Limit, f.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	items := []InventoryItem{}
	for rows.Next() {
		it, err := scanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *PgInventoryRepository) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (*InventoryItem, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE pharmacy_inventory
		SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING `+inventoryColumns, id, qty)

	it, err := scanInventoryItem(row)
	if errors.Is(err, ErrMedicineNotFound) {
		return nil, ErrInsufficientStock
	}
	return it, err
}
