package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

// memoryRepo stages every write of a transaction and only publishes it when
// the callback returns nil.
type memoryRepo struct {
	mu           sync.Mutex
	items        map[string]Item
	warehouses   map[string]Warehouse
	locations    map[string]Location
	balances     map[BalanceKey]Balance
	movements    []Movement
	reservations map[string]Reservation
	boms         map[string][]BOM
	nextID       int

	failMovements error
}

type memoryTx struct {
	repo         *memoryRepo
	balances     map[BalanceKey]Balance
	movements    []Movement
	reservations map[string]Reservation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		items:        make(map[string]Item),
		warehouses:   make(map[string]Warehouse),
		locations:    make(map[string]Location),
		balances:     make(map[BalanceKey]Balance),
		reservations: make(map[string]Reservation),
		boms:         make(map[string][]BOM),
	}
}

func (r *memoryRepo) addItem(id string, typ ItemType, unit Unit) Item {
	item := Item{ID: id, Type: typ, SKU: "SKU-" + id, Name: id, Unit: unit, Active: true}
	r.items[id] = item
	return item
}

func (r *memoryRepo) addWarehouse(id string) {
	r.warehouses[id] = Warehouse{ID: id, Code: id, Name: id, Active: true}
}

func (r *memoryRepo) addLocation(id, warehouseID string) {
	r.locations[id] = Location{ID: id, WarehouseID: warehouseID, Code: id, Name: id}
}

func (r *memoryRepo) balance(key BalanceKey) Balance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[key]
}

func (r *memoryRepo) movementCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.movements)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{
		repo:         r,
		balances:     make(map[BalanceKey]Balance, len(r.balances)),
		reservations: make(map[string]Reservation, len(r.reservations)),
	}
	for k, v := range r.balances {
		tx.balances[k] = v
	}
	for k, v := range r.reservations {
		tx.reservations[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.balances = tx.balances
	r.reservations = tx.reservations
	r.movements = append(r.movements, tx.movements...)
	return nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[key]
	if !ok {
		return Balance{}, ErrRecordNotFound
	}
	return bal, nil
}

func (r *memoryRepo) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Balance{}
	for _, b := range r.balances {
		if (filter.ItemID == "" || b.ItemID == filter.ItemID) && (filter.WarehouseID == "" || b.WarehouseID == filter.WarehouseID) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().less(out[j].Key()) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Movement{}
	for i := len(r.movements) - 1; i >= 0; i-- {
		mv := r.movements[i]
		if filter.ItemID != "" && mv.ItemID != filter.ItemID {
			continue
		}
		if wh := filter.WarehouseID; wh != "" && mv.WarehouseID != wh && mv.FromWarehouseID != wh && mv.ToWarehouseID != wh {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, mv.Type) {
			continue
		}
		out = append(out, mv)
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func containsType(types []MovementType, t MovementType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (r *memoryRepo) GetReservation(ctx context.Context, id string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrRecordNotFound
	}
	return res, nil
}

func (r *memoryRepo) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Reservation{}
	for _, res := range r.reservations {
		if filter.RefKind != "" && res.Ref.Kind != filter.RefKind {
			continue
		}
		if filter.RefID != "" && res.Ref.ID != filter.RefID {
			continue
		}
		if filter.Status != "" && res.Status != filter.Status {
			continue
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListWarehouseIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.warehouses))
	for id := range r.warehouses {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *memoryRepo) WarehouseBalances(ctx context.Context, warehouseID string) ([]Balance, error) {
	return r.ListBalances(ctx, BalanceFilter{WarehouseID: warehouseID, Limit: 1 << 20})
}

func (r *memoryRepo) ReplayTotals(ctx context.Context, warehouseID string) ([]ReplayTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := map[BalanceKey]*ReplayTotal{}
	add := func(key BalanceKey, onHand, reserved decimal.Decimal) {
		t, ok := totals[key]
		if !ok {
			t = &ReplayTotal{Key: key}
			totals[key] = t
		}
		t.OnHand = t.OnHand.Add(onHand)
		t.Reserved = t.Reserved.Add(reserved)
	}
	for _, mv := range r.movements {
		switch mv.Type {
		case MovementTransfer:
			if mv.FromWarehouseID == warehouseID {
				add(BalanceKey{ItemID: mv.ItemID, WarehouseID: warehouseID, LocationID: mv.FromLocationID}, mv.Qty.Neg(), decimal.Zero)
			}
			if mv.ToWarehouseID == warehouseID {
				add(BalanceKey{ItemID: mv.ItemID, WarehouseID: warehouseID, LocationID: mv.ToLocationID}, mv.Qty, decimal.Zero)
			}
		case MovementReserve, MovementUnreserve:
			if mv.WarehouseID == warehouseID {
				add(BalanceKey{ItemID: mv.ItemID, WarehouseID: warehouseID, LocationID: mv.LocationID}, decimal.Zero, mv.Qty)
			}
		default:
			if mv.WarehouseID == warehouseID {
				add(BalanceKey{ItemID: mv.ItemID, WarehouseID: warehouseID, LocationID: mv.LocationID}, mv.Qty, decimal.Zero)
			}
		}
	}
	out := make([]ReplayTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	return out, nil
}

func (r *memoryRepo) WarehouseAvailable(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, b := range r.balances {
		if b.ItemID == itemID && b.WarehouseID == warehouseID {
			total = total.Add(b.Available())
		}
	}
	return total, nil
}

func (tx *memoryTx) GetItem(ctx context.Context, id string) (Item, error) {
	item, ok := tx.repo.items[id]
	if !ok {
		return Item{}, ErrRecordNotFound
	}
	return item, nil
}

func (tx *memoryTx) GetWarehouse(ctx context.Context, id string) (Warehouse, error) {
	wh, ok := tx.repo.warehouses[id]
	if !ok {
		return Warehouse{}, ErrRecordNotFound
	}
	return wh, nil
}

func (tx *memoryTx) GetLocation(ctx context.Context, id string) (Location, error) {
	loc, ok := tx.repo.locations[id]
	if !ok {
		return Location{}, ErrRecordNotFound
	}
	return loc, nil
}

func (tx *memoryTx) GetOrCreateBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if bal, ok := tx.balances[key]; ok {
		return bal, nil
	}
	tx.repo.nextID++
	bal := Balance{ID: fmt.Sprintf("bal-%d", tx.repo.nextID), ItemID: key.ItemID, WarehouseID: key.WarehouseID, LocationID: key.LocationID}
	tx.balances[key] = bal
	return bal, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, bal Balance) (Balance, error) {
	cur, ok := tx.balances[bal.Key()]
	if !ok || cur.Version != bal.Version {
		return Balance{}, errVersionConflict
	}
	bal.Version++
	bal.UpdatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tx.balances[bal.Key()] = bal
	return bal, nil
}

func (tx *memoryTx) InsertMovements(ctx context.Context, movements []Movement) error {
	if tx.repo.failMovements != nil {
		return tx.repo.failMovements
	}
	tx.movements = append(tx.movements, movements...)
	return nil
}

func (tx *memoryTx) InsertReservation(ctx context.Context, r Reservation) error {
	if _, exists := tx.reservations[r.ID]; exists {
		return errors.New("duplicate reservation")
	}
	tx.reservations[r.ID] = r
	return nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, id string) (Reservation, error) {
	r, ok := tx.reservations[id]
	if !ok {
		return Reservation{}, ErrRecordNotFound
	}
	return r, nil
}

func (tx *memoryTx) UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus, at time.Time) error {
	r, ok := tx.reservations[id]
	if !ok {
		return ErrRecordNotFound
	}
	r.Status = status
	r.ReleasedAt = &at
	tx.reservations[id] = r
	return nil
}

func (tx *memoryTx) ActiveBOMs(ctx context.Context, finishedItemID string) ([]BOM, error) {
	return tx.repo.boms[finishedItemID], nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []LowStockEvent
}

func (n *recordingNotifier) NotifyLowStock(ctx context.Context, evt LowStockEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type countingObserver struct {
	mu    sync.Mutex
	kinds map[string][]Kind
}

func (o *countingObserver) ObserveOperation(op string, kind Kind, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.kinds == nil {
		o.kinds = make(map[string][]Kind)
	}
	o.kinds[op] = append(o.kinds[op], kind)
}
