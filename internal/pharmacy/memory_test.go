package pharmacy

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rxdesk/pharmacy-service/internal/auth"
)

// memStore is an in-memory Store. A transaction holds mu for its whole
// duration and restores a snapshot when fn fails, which gives the same
// all-or-nothing and serialised-writer behaviour the tests rely on.
type memStore struct {
	mu sync.Mutex

	users         map[uuid.UUID]User
	prescriptions map[uuid.UUID]Prescription
	inventory     map[uuid.UUID]InventoryItem
	orders        map[uuid.UUID]Order
	payments      map[uuid.UUID]Payment // by order id
	events        []OrderEvent

	// failOn makes the named operation return the given error.
	failOn map[string]error
	// inventoryReads counts LockByIDs/GetByID calls on inventory.
	inventoryReads int
	now            func() time.Time
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		users:         map[uuid.UUID]User{},
		prescriptions: map[uuid.UUID]Prescription{},
		inventory:     map[uuid.UUID]InventoryItem{},
		orders:        map[uuid.UUID]Order{},
		payments:      map[uuid.UUID]Payment{},
		failOn:        map[string]error{},
		now:           time.Now,
	}
}

func (m *memStore) Store() Store {
	return Store{
		Users:         memUsers{m},
		Prescriptions: memPrescriptions{m},
		Inventory:     memInventory{m},
		Orders:        memOrders{m},
		Payments:      memPayments{m},
		Tx:            m,
	}
}

func (m *memStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// lock takes mu unless ctx already runs inside a transaction.
func (m *memStore) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memStore) fail(op string) error {
	return m.failOn[op]
}

type memSnapshot struct {
	users         map[uuid.UUID]User
	prescriptions map[uuid.UUID]Prescription
	inventory     map[uuid.UUID]InventoryItem
	orders        map[uuid.UUID]Order
	payments      map[uuid.UUID]Payment
	events        []OrderEvent
}

func (m *memStore) snapshot() memSnapshot {
	s := memSnapshot{
		users:         make(map[uuid.UUID]User, len(m.users)),
		prescriptions: make(map[uuid.UUID]Prescription, len(m.prescriptions)),
		inventory:     make(map[uuid.UUID]InventoryItem, len(m.inventory)),
		orders:        make(map[uuid.UUID]Order, len(m.orders)),
		payments:      make(map[uuid.UUID]Payment, len(m.payments)),
		events:        append([]OrderEvent(nil), m.events...),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.prescriptions {
		v.Items = append([]PrescriptionItem(nil), v.Items...)
		s.prescriptions[k] = v
	}
	for k, v := range m.inventory {
		s.inventory[k] = v
	}
	for k, v := range m.orders {
		v.Items = append([]OrderItem(nil), v.Items...)
		s.orders[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.users = s.users
	m.prescriptions = s.prescriptions
	m.inventory = s.inventory
	m.orders = s.orders
	m.payments = s.payments
	m.events = s.events
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// Users

type memUsers struct{ m *memStore }

func (r memUsers) Create(ctx context.Context, u *User) error {
	defer r.m.lock(ctx)()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	u.CreatedAt = r.m.now()
	r.m.users[u.ID] = *u
	return nil
}

func (r memUsers) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	defer r.m.lock(ctx)()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r memUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	defer r.m.lock(ctx)()
	for _, u := range r.m.users {
		if u.Email == strings.ToLower(email) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r memUsers) List(ctx context.Context, f UserFilter) ([]User, error) {
	defer r.m.lock(ctx)()
	var out []User
	for _, u := range r.m.users {
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		if f.Query != "" && !containsFold(u.Name, f.Query) && !containsFold(u.Email, f.Query) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return page(out, f.Limit, f.Offset), nil
}

func (r memUsers) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*User, error) {
	defer r.m.lock(ctx)()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.IsVerified = verified
	r.m.users[id] = u
	return &u, nil
}

func (r memUsers) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.m.lock(ctx)()
	if _, ok := r.m.users[id]; !ok {
		return ErrUserNotFound
	}
	for _, o := range r.m.orders {
		for _, it := range o.Items {
			if r.m.inventory[it.InventoryID].PharmacistID == id {
				return ErrUserInUse
			}
		}
	}
	delete(r.m.users, id)
	return nil
}

func (r memUsers) CountByRole(ctx context.Context) (map[auth.Role]int, error) {
	defer r.m.lock(ctx)()
	counts := map[auth.Role]int{}
	for _, role := range auth.AllRoles {
		counts[role] = 0
	}
	for _, u := range r.m.users {
		counts[u.Role]++
	}
	return counts, nil
}

// Prescriptions

type memPrescriptions struct{ m *memStore }

func (r memPrescriptions) Create(ctx context.Context, p *Prescription) error {
	defer r.m.lock(ctx)()
	if err := r.m.fail("prescriptions.create"); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.m.now()
	}
	for i := range p.Items {
		p.Items[i].PrescriptionID = p.ID
	}
	cp := *p
	cp.Items = append([]PrescriptionItem(nil), p.Items...)
	r.m.prescriptions[p.ID] = cp
	return nil
}

func (r memPrescriptions) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	defer r.m.lock(ctx)()
	p, ok := r.m.prescriptions[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	p.Items = append([]PrescriptionItem{}, p.Items...)
	return &p, nil
}

func (r memPrescriptions) List(ctx context.Context, f PrescriptionFilter) ([]Prescription, error) {
	defer r.m.lock(ctx)()
	var out []Prescription
	for _, p := range r.m.prescriptions {
		if f.PatientID != nil && p.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && p.DoctorID != *f.DoctorID {
			continue
		}
		p.Items = append([]PrescriptionItem{}, p.Items...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

// Inventory

type memInventory struct{ m *memStore }

func (r memInventory) Create(ctx context.Context, it *InventoryItem) error {
	defer r.m.lock(ctx)()
	now := r.m.now()
	it.CreatedAt, it.UpdatedAt = now, now
	r.m.inventory[it.ID] = *it
	return nil
}

func (r memInventory) GetByID(ctx context.Context, id uuid.UUID) (*InventoryItem, error) {
	defer r.m.lock(ctx)()
	r.m.inventoryReads++
	it, ok := r.m.inventory[id]
	if !ok {
		return nil, ErrMedicineNotFound
	}
	return &it, nil
}

func (r memInventory) LockByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*InventoryItem, error) {
	defer r.m.lock(ctx)()
	r.m.inventoryReads++
	out := make(map[uuid.UUID]*InventoryItem, len(ids))
	for _, id := range ids {
		if it, ok := r.m.inventory[id]; ok {
			out[id] = &it
		}
	}
	return out, nil
}

func (r memInventory) Update(ctx context.Context, it *InventoryItem) error {
	defer r.m.lock(ctx)()
	if _, ok := r.m.inventory[it.ID]; !ok {
		return ErrMedicineNotFound
	}
	it.UpdatedAt = r.m.now()
	r.m.inventory[it.ID] = *it
	return nil
}

func (r memInventory) Delete(ctx context.Context, id uuid.UUID) error {
	defer r.m.lock(ctx)()
	if _, ok := r.m.inventory[id]; !ok {
		return ErrMedicineNotFound
	}
	for _, o := range r.m.orders {
		for _, it := range o.Items {
			if it.InventoryID == id {
				return ErrInventoryInUse
			}
		}
	}
	delete(r.m.inventory, id)
	return nil
}

func (r memInventory) List(ctx context.Context, f InventoryFilter) ([]InventoryItem, error) {
	defer r.m.lock(ctx)()
	var out []InventoryItem
	for _, it := range r.m.inventory {
		if f.PharmacistID != nil && it.PharmacistID != *f.PharmacistID {
			continue
		}
		if f.Query != "" && !containsFold(it.MedicineName, f.Query) && !containsFold(it.GenericName, f.Query) {
			continue
		}
		if !f.IncludeEmpty && it.Stock <= 0 {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MedicineName < out[j].MedicineName })
	return page(out, f.Limit, f.Offset), nil
}

func (r memInventory) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (*InventoryItem, error) {
	defer r.m.lock(ctx)()
	if err := r.m.fail("inventory.decrement"); err != nil {
		return nil, err
	}
	it, ok := r.m.inventory[id]
	if !ok || it.Stock < qty {
		return nil, ErrInsufficientStock
	}
	it.Stock -= qty
	it.UpdatedAt = r.m.now()
	r.m.inventory[id] = it
	return &it, nil
}

// Orders

type memOrders struct{ m *memStore }

func (r memOrders) hydrate(o Order) *Order {
	o.Items = append([]OrderItem{}, o.Items...)
	if p, ok := r.m.payments[o.ID]; ok {
		o.Payment = &p
	} else {
		o.Payment = nil
	}
	return &o
}

func (r memOrders) Create(ctx context.Context, o *Order) error {
	defer r.m.lock(ctx)()
	if err := r.m.fail("orders.create"); err != nil {
		return err
	}
	if o.IdempotencyKey != nil {
		for _, existing := range r.m.orders {
			if existing.PatientID == o.PatientID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *o.IdempotencyKey {
				return ErrDuplicateOrder
			}
		}
	}
	now := r.m.now()
	o.OrderDate, o.UpdatedAt = now, now
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	cp.Payment = nil
	r.m.orders[o.ID] = cp
	return nil
}

func (r memOrders) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	defer r.m.lock(ctx)()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.hydrate(o), nil
}

func (r memOrders) GetByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Order, error) {
	defer r.m.lock(ctx)()
	for _, o := range r.m.orders {
		if o.PatientID == patientID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return r.hydrate(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r memOrders) List(ctx context.Context, f OrderFilter) ([]Order, error) {
	defer r.m.lock(ctx)()
	var out []Order
	for _, o := range r.m.orders {
		if f.PatientID != nil && o.PatientID != *f.PatientID {
			continue
		}
		if f.Status != nil && o.Status != *f.Status {
			continue
		}
		out = append(out, *r.hydrate(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return page(out, f.Limit, f.Offset), nil
}

func (r memOrders) UpdateStatus(ctx context.Context, id uuid.UUID, from, to OrderStatus) (*Order, error) {
	defer r.m.lock(ctx)()
	o, ok := r.m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != from {
		return nil, ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = r.m.now()
	r.m.orders[id] = o
	return r.hydrate(o), nil
}

func (r memOrders) FindStalePending(ctx context.Context, before time.Time) ([]Order, error) {
	defer r.m.lock(ctx)()
	var out []Order
	for _, o := range r.m.orders {
		if o.Status == OrderPending && o.OrderDate.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r memOrders) CountByStatus(ctx context.Context) (map[OrderStatus]int, error) {
	defer r.m.lock(ctx)()
	counts := map[OrderStatus]int{OrderPending: 0, OrderProcessing: 0, OrderCompleted: 0, OrderCancelled: 0}
	for _, o := range r.m.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (r memOrders) InsertEvent(ctx context.Context, ev OrderEvent) error {
	defer r.m.lock(ctx)()
	if err := r.m.fail("orders.event"); err != nil {
		return err
	}
	ev.ID = int64(len(r.m.events) + 1)
	r.m.events = append(r.m.events, ev)
	return nil
}

// Payments

type memPayments struct{ m *memStore }

func (r memPayments) Create(ctx context.Context, p *Payment) error {
	defer r.m.lock(ctx)()
	if err := r.m.fail("payments.create"); err != nil {
		return err
	}
	if _, exists := r.m.payments[p.OrderID]; exists {
		return ErrDuplicatePayment
	}
	p.PaymentDate = r.m.now()
	r.m.payments[p.OrderID] = *p
	return nil
}

func (r memPayments) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	defer r.m.lock(ctx)()
	p, ok := r.m.payments[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r memPayments) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to PaymentStatus, method PaymentMethod, transactionID *string) (*Payment, error) {
	defer r.m.lock(ctx)()
	p, ok := r.m.payments[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if p.Status != from {
		if p.Status == PaymentCompleted {
			return nil, ErrDuplicatePayment
		}
		return nil, ErrInvalidTransition
	}
	p.Status = to
	if method != "" {
		p.Method = method
	}
	if transactionID != nil {
		p.TransactionID = transactionID
	}
	p.PaymentDate = r.m.now()
	r.m.payments[orderID] = p
	return &p, nil
}

func (r memPayments) CompletedRevenue(ctx context.Context) (decimal.Decimal, error) {
	defer r.m.lock(ctx)()
	total := decimal.Zero
	for _, p := range r.m.payments {
		if p.Status == PaymentCompleted {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}
