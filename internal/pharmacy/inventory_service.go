package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

type InventoryInput struct {
	MedicineName string
	GenericName  string
	Stock        int
	Price        decimal.Decimal
	ExpiryDate   *time.Time
}

// InventoryPatch carries the fields of an update; nil means unchanged.
type InventoryPatch struct {
	MedicineName *string
	GenericName  *string
	Stock        *int
	Price        *decimal.Decimal
	ExpiryDate   *time.Time
}

type InventoryService struct {
	store Store
	log   zerolog.Logger
}

func NewInventoryService(store Store, log zerolog.Logger) *InventoryService {
	return &InventoryService{
		store: store,
		log:   log.With().Str("component", "inventory").Logger(),
	}
}

func (s *InventoryService) Get(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	return s.store.Inventory.GetByID(ctx, id)
}

func (s *InventoryService) List(ctx context.Context, f InventoryFilter) ([]InventoryItem, error) {
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	f.Query = strings.TrimSpace(f.Query)
	items, err := s.store.Inventory.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return items, nil
}

func (s *InventoryService) Create(ctx context.Context, sess auth.Session, in InventoryInput) (*InventoryItem, error) {
	if !sess.Is(auth.RolePharmacist) {
		return nil, ErrForbidden
	}

	item := &InventoryItem{
		ID:           uuid.New(),
		PharmacistID: sess.UserID,
		MedicineName: strings.TrimSpace(in.MedicineName),
		GenericName:  strings.TrimSpace(in.GenericName),
		Stock:        in.Stock,
		Price:        in.Price.Round(2),
		ExpiryDate:   in.ExpiryDate,
	}
	if err := validateInventory(item); err != nil {
		return nil, err
	}

	if err := s.store.Inventory.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create inventory item: %w", err)
	}
	s.log.Info().
		Str("inventory_id", item.ID.String()).
		Str("pharmacist_id", item.PharmacistID.String()).
		Int("stock", item.Stock).
		Msg("inventory item created")
	return item, nil
}

// Update applies patch to an item owned by the calling pharmacist. The row is
// locked for the duration so it cannot race an order decrement.
func (s *InventoryService) Update(ctx context.Context, sess auth.Session, id uuid.UUID, patch InventoryPatch) (*InventoryItem, error) {
	if !sess.Is(auth.RolePharmacist) {
		return nil, ErrForbidden
	}

	var updated *InventoryItem
	err := s.store.Tx.WithTransaction(ctx, func(txCtx context.Context) error {
		locked, err := s.store.Inventory.LockByIDs(txCtx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		item, ok := locked[id]
		if !ok {
			return ErrMedicineNotFound
		}
		if item.PharmacistID != sess.UserID {
			return ErrForbidden
		}

		if patch.MedicineName != nil {
			item.MedicineName = strings.TrimSpace(*patch.MedicineName)
		}
		if patch.GenericName != nil {
			item.GenericName = strings.TrimSpace(*patch.GenericName)
		}
		if patch.Stock != nil {
			item.Stock = *patch.Stock
		}
		if patch.Price != nil {
			item.Price = patch.Price.Round(2)
		}
		if patch.ExpiryDate != nil {
			item.ExpiryDate = patch.ExpiryDate
		}
		if err := validateInventory(item); err != nil {
			return err
		}

		if err := s.store.Inventory.Update(txCtx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *InventoryService) Delete(ctx context.Context, sess auth.Session, id uuid.UUID) error {
	if !sess.Is(auth.RolePharmacist) {
		return ErrForbidden
	}

	item, err := s.store.Inventory.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item.PharmacistID != sess.UserID {
		return ErrForbidden
	}
	if err := s.store.Inventory.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("inventory_id", id.String()).Msg("inventory item deleted")
	return nil
}

func validateInventory(item *InventoryItem) error {
	switch {
	case item.MedicineName == "":
		return fmt.Errorf("%w: medicine_name is required", ErrValidation)
	case item.Stock < 0:
		return fmt.Errorf("%w: stock cannot be negative", ErrValidation)
	case item.Price.IsNegative():
		return fmt.Errorf("%w: price cannot be negative", ErrValidation)
	}
	return nil
}
