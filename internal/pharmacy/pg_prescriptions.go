package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxdesk/pharmacy-service/internal/db"
)

type PgPrescriptionRepository struct {
	pool *pgxpool.Pool
}

func NewPgPrescriptionRepository(pool *pgxpool.Pool) *PgPrescriptionRepository {
	return &PgPrescriptionRepository{pool: pool}
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription

	err := row.Scan(
		&p.ID,
		&p.DoctorID,
		&p.PatientID,
		&p.Diagnosis,
		&p.Notes,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}
	p.Items = []PrescriptionItem{}
	return &p, nil
}

func (r *PgPrescriptionRepository) Create(ctx context.Context, p *Prescription) error {
	q := db.Conn(ctx, r.pool)

	row := q.QueryRow(ctx, `
		INSERT INTO prescriptions (id, doctor_id, patient_id, diagnosis, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, p.ID, p.DoctorID, p.PatientID, p.Diagnosis, p.Notes)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	for i := range p.Items {
		it := &p.Items[i]
		it.PrescriptionID = p.ID
		_, err := q.Exec(ctx, `
			INSERT INTO prescription_items (id, prescription_id, medicine_name, dosage, frequency, duration, instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, it.ID, it.PrescriptionID, it.MedicineName, it.Dosage, it.Frequency, it.Duration, it.Instructions)
		if err != nil {
			return fmt.Errorf("insert prescription item: %w", err)
		}
	}
	return nil
}

func (r *PgPrescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, diagnosis, notes, created_at
		FROM prescriptions
		WHERE id = $1
	`, id)
	p, err := scanPrescription(row)
	if err != nil {
		return nil, err
	}

	byID := map[uuid.UUID]*Prescription{p.ID: p}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PgPrescriptionRepository) List(ctx context.Context, f PrescriptionFilter) ([]Prescription, error) {
	var w where
	if f.PatientID != nil {
		w.add("patient_id = ?", *f.PatientID)
	}
	if f.DoctorID != nil {
		w.add("doctor_id = ?", *f.DoctorID)
	}
	query := `SELECT id, doctor_id, patient_id, diagnosis, notes, created_at FROM prescriptions ` +
		w.sql() + ` ORDER BY created_at DESC, id ` + w.page(f.Limit, f.Offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var list []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Prescription, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	if err := r.loadItems(ctx, byID); err != nil {
		return nil, err
	}

	out := make([]Prescription, 0, len(list))
	for _, p := range list {
		out = append(out, *p)
	}
	return out, nil
}

func (r *PgPrescriptionRepository) loadItems(ctx context.Context, byID map[uuid.UUID]*Prescription) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, prescription_id, medicine_name, dosage, frequency, duration, instructions
		FROM prescription_items
		WHERE prescription_id = ANY($1)
		ORDER BY medicine_name, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load prescription items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicineName, &it.Dosage,
			&it.Frequency, &it.Duration, &it.Instructions); err != nil {
			return err
		}
		if p, ok := byID[it.PrescriptionID]; ok {
			p.Items = append(p.Items, it)
		}
	}
	return rows.Err()
}
