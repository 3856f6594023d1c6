package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JavierPalina/TINCO-sub002/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	iso  pgx.TxIsoLevel
}

// NewRepository constructs Repository. Transactions run at iso.
func NewRepository(pool *pgxpool.Pool, iso pgx.TxIsoLevel) *Repository {
	if iso == "" {
		iso = pgx.ReadCommitted
	}
	return &Repository{pool: pool, iso: iso}
}

type txRepository struct {
	tx pgx.Tx
}

var errVersionConflict = errors.New("inventory: balance version changed concurrently")

// WithTx executes the callback inside one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, r.iso, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if err != nil && db.IsConcurrencyAbort(err) {
		return fmt.Errorf("inventory: transaction aborted (%s): %w", db.ErrorCode(err), err)
	}
	return err
}

const balanceColumns = `id, item_id, warehouse_id, COALESCE(location_id, ''), on_hand, reserved, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBalance(row rowScanner) (Balance, error) {
	var bal Balance
	err := row.Scan(&bal.ID, &bal.ItemID, &bal.WarehouseID, &bal.LocationID, &bal.OnHand, &bal.Reserved, &bal.Version, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrRecordNotFound
	}
	return bal, err
}

// GetBalance reads one balance without locking it.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if key.LocationID == "" {
		return scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE item_id=$1 AND warehouse_id=$2 AND location_id IS NULL`, key.ItemID, key.WarehouseID))
	}
	return scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE item_id=$1 AND warehouse_id=$2 AND location_id=$3`, key.ItemID, key.WarehouseID, key.LocationID))
}

// ListBalances returns balances ordered by key.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE ($1 = '' OR item_id = $1) AND ($2 = '' OR warehouse_id = $2)
ORDER BY item_id, warehouse_id, location_id NULLS FIRST
LIMIT $3`, filter.ItemID, filter.WarehouseID, filter.Limit)
	if err != nil {
		return nil, err
	}
	return collectBalances(rows)
}

// WarehouseBalances returns every balance of a warehouse.
func (r *Repository) WarehouseBalances(ctx context.Context, warehouseID string) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+balanceColumns+` FROM inventory_balances WHERE warehouse_id=$1`, warehouseID)
	if err != nil {
		return nil, err
	}
	return collectBalances(rows)
}

func collectBalances(rows pgx.Rows) ([]Balance, error) {
	defer rows.Close()
	out := []Balance{}
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return out, rows.Err()
}

const movementColumns = `id, movement_type, item_id, COALESCE(warehouse_id, ''), COALESCE(location_id, ''),
COALESCE(from_warehouse_id, ''), COALESCE(from_location_id, ''), COALESCE(to_warehouse_id, ''), COALESCE(to_location_id, ''),
qty, unit, unit_cost, lot, serial, note, COALESCE(ref_kind, ''), COALESCE(ref_id, ''), attributes, created_at, created_by`

// ListMovements returns movements newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	types := make([]string, 0, len(filter.Types))
	for _, t := range filter.Types {
		types = append(types, string(t))
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM inventory_movements
WHERE ($1 = '' OR item_id = $1)
  AND ($2 = '' OR warehouse_id = $2 OR from_warehouse_id = $2 OR to_warehouse_id = $2)
  AND (cardinality($3::text[]) = 0 OR movement_type = ANY($3))
  AND created_at BETWEEN COALESCE($4, '-infinity'::timestamptz) AND COALESCE($5, 'infinity'::timestamptz)
ORDER BY created_at DESC, id DESC
LIMIT $6`, filter.ItemID, filter.WarehouseID, types, nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Movement{}
	for rows.Next() {
		var (
			mv       Movement
			unitCost decimal.NullDecimal
			refKind  string
			refID    string
			attrs    []byte
		)
		if err := rows.Scan(&mv.ID, &mv.Type, &mv.ItemID, &mv.WarehouseID, &mv.LocationID,
			&mv.FromWarehouseID, &mv.FromLocationID, &mv.ToWarehouseID, &mv.ToLocationID,
			&mv.Qty, &mv.Unit, &unitCost, &mv.Lot, &mv.Serial, &mv.Note, &refKind, &refID, &attrs, &mv.CreatedAt, &mv.CreatedBy); err != nil {
			return nil, err
		}
		if unitCost.Valid {
			cost := unitCost.Decimal
			mv.UnitCost = &cost
		}
		if refKind != "" {
			mv.Ref = &Reference{Kind: RefKind(refKind), ID: refID}
		}
		if mv.Attributes, err = unmarshalAttributes(attrs); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

const reservationColumns = `id, ref_kind, ref_id, warehouse_id, status, note, created_at, created_by, released_at`

func scanReservation(row rowScanner) (Reservation, error) {
	var res Reservation
	err := row.Scan(&res.ID, &res.Ref.Kind, &res.Ref.ID, &res.WarehouseID, &res.Status, &res.Note, &res.CreatedAt, &res.CreatedBy, &res.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrRecordNotFound
	}
	return res, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadReservationLines(ctx context.Context, q querier, res *Reservation) error {
	rows, err := q.Query(ctx, `SELECT item_id, qty, unit, COALESCE(location_id, '')
FROM inventory_reservation_lines WHERE reservation_id=$1 ORDER BY line_no`, res.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	res.Lines = []ReservationLine{}
	for rows.Next() {
		var line ReservationLine
		if err := rows.Scan(&line.ItemID, &line.Qty, &line.Unit, &line.LocationID); err != nil {
			return err
		}
		res.Lines = append(res.Lines, line)
	}
	return rows.Err()
}

// GetReservation loads a reservation with its lines.
func (r *Repository) GetReservation(ctx context.Context, id string) (Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations WHERE id=$1`, id))
	if err != nil {
		return Reservation{}, err
	}
	if err := loadReservationLines(ctx, r.pool, &res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// ListReservations returns reservations newest first.
func (r *Repository) ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations
WHERE ($1 = '' OR ref_kind = $1) AND ($2 = '' OR ref_id = $2) AND ($3 = '' OR status = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, string(filter.RefKind), filter.RefID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}
	out := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadReservationLines(ctx, r.pool, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListWarehouseIDs returns every warehouse id.
func (r *Repository) ListWarehouseIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ReplayTotals folds the movement log of a warehouse into per-key totals.
func (r *Repository) ReplayTotals(ctx context.Context, warehouseID string) ([]ReplayTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, COALESCE(location_id, ''), SUM(on_hand_delta), SUM(reserved_delta)
FROM (
    SELECT item_id, location_id,
           CASE WHEN movement_type IN ('IN', 'OUT', 'ADJUST') THEN qty ELSE 0 END AS on_hand_delta,
           CASE WHEN movement_type IN ('RESERVE', 'UNRESERVE') THEN qty ELSE 0 END AS reserved_delta
    FROM inventory_movements
    WHERE movement_type <> 'TRANSFER' AND warehouse_id = $1
    UNION ALL
    SELECT item_id, from_location_id, -qty, 0 FROM inventory_movements
    WHERE movement_type = 'TRANSFER' AND from_warehouse_id = $1
    UNION ALL
    SELECT item_id, to_location_id, qty, 0 FROM inventory_movements
    WHERE movement_type = 'TRANSFER' AND to_warehouse_id = $1
) m
GROUP BY item_id, location_id`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ReplayTotal{}
	for rows.Next() {
		t := ReplayTotal{Key: BalanceKey{WarehouseID: warehouseID}}
		if err := rows.Scan(&t.Key.ItemID, &t.Key.LocationID, &t.OnHand, &t.Reserved); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// WarehouseAvailable sums availability of an item over all locations of a warehouse.
func (r *Repository) WarehouseAvailable(ctx context.Context, itemID, warehouseID string) (decimal.Decimal, error) {
	var avail decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(on_hand - reserved), 0) FROM inventory_balances
WHERE item_id=$1 AND warehouse_id=$2`, itemID, warehouseID).Scan(&avail)
	return avail, err
}

func (r *txRepository) GetItem(ctx context.Context, id string) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT id, item_type, sku, name, unit, track_lot, track_serial, active
FROM inventory_items WHERE id=$1`, id).
		Scan(&item.ID, &item.Type, &item.SKU, &item.Name, &item.Unit, &item.TrackLot, &item.TrackSerial, &item.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrRecordNotFound
	}
	if err != nil {
		return Item{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT warehouse_id, min_qty FROM inventory_item_min_stock WHERE item_id=$1`, id)
	if err != nil {
		return Item{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			wh     string
			minQty decimal.Decimal
		)
		if err := rows.Scan(&wh, &minQty); err != nil {
			return Item{}, err
		}
		if item.MinStock == nil {
			item.MinStock = make(map[string]decimal.Decimal)
		}
		item.MinStock[wh] = minQty
	}
	return item, rows.Err()
}

func (r *txRepository) GetWarehouse(ctx context.Context, id string) (Warehouse, error) {
	var wh Warehouse
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, active FROM warehouses WHERE id=$1`, id).
		Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrRecordNotFound
	}
	return wh, err
}

func (r *txRepository) GetLocation(ctx context.Context, id string) (Location, error) {
	var loc Location
	err := r.tx.QueryRow(ctx, `SELECT id, warehouse_id, code, name FROM warehouse_locations WHERE id=$1`, id).
		Scan(&loc.ID, &loc.WarehouseID, &loc.Code, &loc.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrRecordNotFound
	}
	return loc, err
}

// GetOrCreateBalance inserts a zero row when missing and returns the row
// locked FOR UPDATE.
func (r *txRepository) GetOrCreateBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if key.LocationID == "" {
		if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (id, item_id, warehouse_id, location_id)
VALUES ($1, $2, $3, NULL)
ON CONFLICT (item_id, warehouse_id) WHERE location_id IS NULL DO NOTHING`, uuid.NewString(), key.ItemID, key.WarehouseID); err != nil {
			return Balance{}, err
		}
		return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE item_id=$1 AND warehouse_id=$2 AND location_id IS NULL FOR UPDATE`, key.ItemID, key.WarehouseID))
	}
	if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_balances (id, item_id, warehouse_id, location_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (item_id, warehouse_id, location_id) WHERE location_id IS NOT NULL DO NOTHING`, uuid.NewString(), key.ItemID, key.WarehouseID, key.LocationID); err != nil {
		return Balance{}, err
	}
	return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM inventory_balances
WHERE item_id=$1 AND warehouse_id=$2 AND location_id=$3 FOR UPDATE`, key.ItemID, key.WarehouseID, key.LocationID))
}

// UpdateBalance writes the counters when the stored version still matches.
func (r *txRepository) UpdateBalance(ctx context.Context, bal Balance) (Balance, error) {
	err := r.tx.QueryRow(ctx, `UPDATE inventory_balances
SET on_hand=$2, reserved=$3, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$4
RETURNING version, updated_at`, bal.ID, bal.OnHand, bal.Reserved, bal.Version).Scan(&bal.Version, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, errVersionConflict
	}
	if err != nil {
		return Balance{}, err
	}
	return bal, nil
}

func (r *txRepository) InsertMovements(ctx context.Context, movements []Movement) error {
	batch := &pgx.Batch{}
	for _, mv := range movements {
		attrs, err := mv.Attributes.marshal()
		if err != nil {
			return err
		}
		var refKind, refID any
		if mv.Ref != nil {
			refKind, refID = string(mv.Ref.Kind), mv.Ref.ID
		}
		var unitCost any
		if mv.UnitCost != nil {
			unitCost = *mv.UnitCost
		}
		batch.Queue(`INSERT INTO inventory_movements (id, movement_type, item_id, warehouse_id, location_id,
from_warehouse_id, from_location_id, to_warehouse_id, to_location_id, qty, unit, unit_cost, lot, serial, note,
ref_kind, ref_id, attributes, created_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			mv.ID, string(mv.Type), mv.ItemID, nullString(mv.WarehouseID), nullString(mv.LocationID),
			nullString(mv.FromWarehouseID), nullString(mv.FromLocationID), nullString(mv.ToWarehouseID), nullString(mv.ToLocationID),
			mv.Qty, string(mv.Unit), unitCost, mv.Lot, mv.Serial, mv.Note, refKind, refID, attrs, mv.CreatedAt, mv.CreatedBy)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) error {
	if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_reservations (id, ref_kind, ref_id, warehouse_id, status, note, created_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, res.ID, string(res.Ref.Kind), res.Ref.ID, res.WarehouseID, string(res.Status), res.Note, res.CreatedAt, res.CreatedBy); err != nil {
		return err
	}
	for i, line := range res.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_reservation_lines (reservation_id, line_no, item_id, qty, unit, location_id)
VALUES ($1,$2,$3,$4,$5,$6)`, res.ID, i+1, line.ItemID, line.Qty, string(line.Unit), nullString(line.LocationID)); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id string) (Reservation, error) {
	res, err := scanReservation(r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM inventory_reservations WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Reservation{}, err
	}
	if err := loadReservationLines(ctx, r.tx, &res); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, id string, status ReservationStatus, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_reservations SET status=$2, released_at=$3 WHERE id=$1`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) ActiveBOMs(ctx context.Context, finishedItemID string) ([]BOM, error) {
	rows, err := r.tx.Query(ctx, `SELECT b.id, b.finished_item_id, b.version, b.active, l.component_item_id, l.qty, l.unit
FROM inventory_boms b
LEFT JOIN inventory_bom_lines l ON l.bom_id = b.id
WHERE b.finished_item_id=$1 AND b.active
ORDER BY b.version, l.line_no`, finishedItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		out   []BOM
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			b         BOM
			component *string
			lineQty   decimal.NullDecimal
			unit      *string
		)
		if err := rows.Scan(&b.ID, &b.FinishedItemID, &b.Version, &b.Active, &component, &lineQty, &unit); err != nil {
			return nil, err
		}
		i, ok := index[b.ID]
		if !ok {
			out = append(out, b)
			i = len(out) - 1
			index[b.ID] = i
		}
		// Active BOMs without lines stay in the result so the resolver can reject them.
		if component == nil {
			continue
		}
		line := BOMLine{ComponentItemID: *component, Qty: lineQty.Decimal}
		if unit != nil {
			line.Unit = Unit(*unit)
		}
		out[i].Lines = append(out[i].Lines, line)
	}
	return out, rows.Err()
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
