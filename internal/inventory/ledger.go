package inventory

import (
	"context"
	"errors"
	"sort"
)

// ledgerTx tracks the balance handles one operation holds inside its
// transaction. Rows are locked in key order and written back once.
type ledgerTx struct {
	tx         TxRepository
	balances   map[BalanceKey]*Balance
	items      map[string]Item
	warehouses map[string]Warehouse
	dirty      map[BalanceKey]bool
	lowered    map[BalanceKey]bool
	flushed    []Balance
}

func newLedgerTx(tx TxRepository) *ledgerTx {
	return &ledgerTx{
		tx:         tx,
		balances:   make(map[BalanceKey]*Balance),
		items:      make(map[string]Item),
		warehouses: make(map[string]Warehouse),
		dirty:      make(map[BalanceKey]bool),
		lowered:    make(map[BalanceKey]bool),
	}
}

// stockItem loads an item that can hold stock.
func (l *ledgerTx) stockItem(ctx context.Context, id string) (Item, error) {
	if item, ok := l.items[id]; ok {
		return item, nil
	}
	item, err := l.tx.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Item{}, notFound("item", id)
		}
		return Item{}, internal("load item", err)
	}
	if item.Type == ItemService {
		return Item{}, &Error{Kind: KindValidation, Message: "service item " + item.SKU + " does not hold stock", ItemID: id}
	}
	l.items[id] = item
	return item, nil
}

// checkScope verifies the warehouse exists and the location belongs to it.
func (l *ledgerTx) checkScope(ctx context.Context, scope Scope) error {
	if _, ok := l.warehouses[scope.WarehouseID]; !ok {
		wh, err := l.tx.GetWarehouse(ctx, scope.WarehouseID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return notFound("warehouse", scope.WarehouseID)
			}
			return internal("load warehouse", err)
		}
		if !wh.Active {
			return invalidState("", 0, "warehouse %s is inactive", wh.Code)
		}
		l.warehouses[scope.WarehouseID] = wh
	}
	if scope.LocationID == "" {
		return nil
	}
	loc, err := l.tx.GetLocation(ctx, scope.LocationID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("location", scope.LocationID)
		}
		return internal("load location", err)
	}
	if loc.WarehouseID != scope.WarehouseID {
		return validationf("location %s does not belong to warehouse %s", loc.Code, scope.WarehouseID)
	}
	return nil
}

// lock gets or creates every balance in sorted key order, so concurrent
// operations touching overlapping rows cannot deadlock each other.
func (l *ledgerTx) lock(ctx context.Context, keys ...BalanceKey) error {
	pending := make([]BalanceKey, 0, len(keys))
	seen := make(map[BalanceKey]bool, len(keys))
	for _, k := range keys {
		if _, held := l.balances[k]; held || seen[k] {
			continue
		}
		seen[k] = true
		pending = append(pending, k)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].less(pending[j]) })
	for _, k := range pending {
		bal, err := l.tx.GetOrCreateBalance(ctx, k)
		if err != nil {
			return internal("lock balance "+k.String(), err)
		}
		b := bal
		l.balances[k] = &b
	}
	return nil
}

// balance returns the locked handle for key; lock must have been called.
func (l *ledgerTx) balance(key BalanceKey) *Balance {
	b := l.balances[key]
	l.dirty[key] = true
	return b
}

func (l *ledgerTx) markLowered(key BalanceKey) {
	l.lowered[key] = true
}

// flush writes every modified balance and returns them by key.
func (l *ledgerTx) flush(ctx context.Context) (map[BalanceKey]Balance, error) {
	keys := l.touched()
	out := make(map[BalanceKey]Balance, len(keys))
	for _, k := range keys {
		updated, err := l.tx.UpdateBalance(ctx, *l.balances[k])
		if err != nil {
			return nil, internal("update balance "+k.String(), err)
		}
		out[k] = updated
		l.flushed = append(l.flushed, updated)
	}
	return out, nil
}

func (l *ledgerTx) touched() []BalanceKey {
	keys := make([]BalanceKey, 0, len(l.dirty))
	for k := range l.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

func (l *ledgerTx) loweredKeys() []BalanceKey {
	keys := make([]BalanceKey, 0, len(l.lowered))
	for k := range l.lowered {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

func resolveUnit(item Item, requested Unit, line int) (Unit, error) {
	if requested == "" {
		return item.Unit, nil
	}
	if item.Unit != "" && requested != item.Unit {
		return "", &Error{Kind: KindValidation, Message: "unit " + string(requested) + " does not match item unit " + string(item.Unit), ItemID: item.ID, Line: line}
	}
	return requested, nil
}

func checkTracking(item Item, lot, serial string, line int) error {
	if item.TrackLot && lot == "" {
		return &Error{Kind: KindValidation, Message: "lot required for item " + item.SKU, ItemID: item.ID, Line: line}
	}
	if item.TrackSerial && serial == "" {
		return &Error{Kind: KindValidation, Message: "serial required for item " + item.SKU, ItemID: item.ID, Line: line}
	}
	return nil
}
