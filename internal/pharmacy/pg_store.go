package pharmacy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxdesk/pharmacy-service/internal/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// NewPgStore wires the Postgres repositories around one pool and tx manager.
func NewPgStore(pool *pgxpool.Pool, tx *db.TxManager) Store {
	return Store{
		Users:         NewPgUserRepository(pool),
		Prescriptions: NewPgPrescriptionRepository(pool),
		Inventory:     NewPgInventoryRepository(pool),
		Orders:        NewPgOrderRepository(pool),
		Payments:      NewPgPaymentRepository(pool),
		Tx:            tx,
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns a user search term into an ILIKE substring pattern
// that matches % and _ literally. Use it with ESCAPE '\'.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

// where accumulates positional conditions for list queries.
type where struct {
	conds []string
	args  []any
}

// add appends cond, replacing each ? with the next $n placeholder.
func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET placeholders and returns the clause.
func (w *where) page(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	w.args = append(w.args, limit, offset)
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", len(w.args)-1, len(w.args))
}
