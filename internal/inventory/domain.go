package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
	// MovementTransfer moves stock between two scopes in one record.
	MovementTransfer MovementType = "TRANSFER"
	// MovementAdjust indicates manual adjustments, positive or negative.
	MovementAdjust MovementType = "ADJUST"
	// MovementReserve increases the reserved quantity.
	MovementReserve MovementType = "RESERVE"
	// MovementUnreserve decreases the reserved quantity.
	MovementUnreserve MovementType = "UNRESERVE"
)

// AffectsOnHand reports whether the movement changes the on-hand quantity.
func (t MovementType) AffectsOnHand() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjust, MovementTransfer:
		return true
	}
	return false
}

// ItemType classifies stock-keeping units.
type ItemType string

const (
	ItemFinished  ItemType = "FINISHED"
	ItemComponent ItemType = "COMPONENT"
	ItemService   ItemType = "SERVICE"
)

// RefKind names the business object a ledger effect belongs to.
type RefKind string

const (
	RefPO         RefKind = "PO"
	RefSO         RefKind = "SO"
	RefProject    RefKind = "PROJECT"
	RefQuote      RefKind = "QUOTE"
	RefCount      RefKind = "COUNT"
	RefManual     RefKind = "MANUAL"
	RefProduction RefKind = "PRODUCTION"
)

// Reference ties a ledger effect to an external business object.
type Reference struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

func (r Reference) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ReservationStatus tracks the reservation lifecycle.
type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	// ReservationConsumed is reserved for future use; nothing transitions into it yet.
	ReservationConsumed ReservationStatus = "CONSUMED"
)

// ReservationAction selects the direction of ApplyReservation.
type ReservationAction string

const (
	ActionReserve   ReservationAction = "RESERVE"
	ActionUnreserve ReservationAction = "UNRESERVE"
)

// Item is a stock-keeping unit. The ledger reads items but never mutates them.
type Item struct {
	ID          string                     `json:"id"`
	Type        ItemType                   `json:"type"`
	SKU         string                     `json:"sku"`
	Name        string                     `json:"name"`
	Unit        Unit                       `json:"unit"`
	TrackLot    bool                       `json:"track_lot"`
	TrackSerial bool                       `json:"track_serial"`
	MinStock    map[string]decimal.Decimal `json:"min_stock,omitempty"`
	Active      bool                       `json:"active"`
}

// Warehouse is a physical or logical storage scope.
type Warehouse struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Location always belongs to exactly one warehouse.
type Location struct {
	ID          string `json:"id"`
	WarehouseID string `json:"warehouse_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
}

// Scope addresses a warehouse with an optional location. An empty
// LocationID is the warehouse-only partition.
type Scope struct {
	WarehouseID string `json:"warehouse_id"`
	LocationID  string `json:"location_id,omitempty"`
}

// BalanceKey identifies one balance row.
type BalanceKey struct {
	ItemID      string
	WarehouseID string
	LocationID  string
}

// Scope returns the storage scope of the key.
func (k BalanceKey) Scope() Scope {
	return Scope{WarehouseID: k.WarehouseID, LocationID: k.LocationID}
}

func (k BalanceKey) String() string {
	return k.ItemID + "@" + k.WarehouseID + "/" + k.LocationID
}

func (k BalanceKey) less(o BalanceKey) bool {
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	return k.LocationID < o.LocationID
}

// Balance is the mutable aggregate for one (item, warehouse, location) triple.
type Balance struct {
	ID          string          `json:"id,omitempty"`
	ItemID      string          `json:"item_id"`
	WarehouseID string          `json:"warehouse_id"`
	LocationID  string          `json:"location_id,omitempty"`
	OnHand      decimal.Decimal `json:"on_hand"`
	Reserved    decimal.Decimal `json:"reserved"`
	Version     int64           `json:"version"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Key returns the identifying triple of the balance.
func (b Balance) Key() BalanceKey {
	return BalanceKey{ItemID: b.ItemID, WarehouseID: b.WarehouseID, LocationID: b.LocationID}
}

// Available is on-hand minus reserved. It is derived, never stored.
func (b Balance) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// Movement is one immutable fact about a change to on-hand or reserved.
type Movement struct {
	ID              string           `json:"id"`
	Type            MovementType     `json:"type"`
	ItemID          string           `json:"item_id"`
	WarehouseID     string           `json:"warehouse_id,omitempty"`
	LocationID      string           `json:"location_id,omitempty"`
	FromWarehouseID string           `json:"from_warehouse_id,omitempty"`
	FromLocationID  string           `json:"from_location_id,omitempty"`
	ToWarehouseID   string           `json:"to_warehouse_id,omitempty"`
	ToLocationID    string           `json:"to_location_id,omitempty"`
	Qty             decimal.Decimal  `json:"qty"`
	Unit            Unit             `json:"unit"`
	UnitCost        *decimal.Decimal `json:"unit_cost,omitempty"`
	Lot             string           `json:"lot,omitempty"`
	Serial          string           `json:"serial,omitempty"`
	Note            string           `json:"note,omitempty"`
	Ref             *Reference       `json:"ref,omitempty"`
	Attributes      Attributes       `json:"attributes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	CreatedBy       string           `json:"created_by,omitempty"`
}

// ReservationLine is one item held by a reservation.
type ReservationLine struct {
	ItemID     string          `json:"item_id"`
	Qty        decimal.Decimal `json:"qty"`
	Unit       Unit            `json:"unit"`
	LocationID string          `json:"location_id,omitempty"`
}

// Reservation groups RESERVE/UNRESERVE effects under one business reference.
type Reservation struct {
	ID          string            `json:"id"`
	Ref         Reference         `json:"ref"`
	WarehouseID string            `json:"warehouse_id"`
	Lines       []ReservationLine `json:"lines"`
	Status      ReservationStatus `json:"status"`
	Note        string            `json:"note,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	CreatedBy   string            `json:"created_by,omitempty"`
	ReleasedAt  *time.Time        `json:"released_at,omitempty"`
}

// BOMLine is one component of a recipe, per unit of finished good.
type BOMLine struct {
	ComponentItemID string          `json:"component_item_id"`
	Qty             decimal.Decimal `json:"qty"`
	Unit            Unit            `json:"unit"`
}

// BOM is a versioned recipe for a finished item.
type BOM struct {
	ID             string    `json:"id"`
	FinishedItemID string    `json:"finished_item_id"`
	Version        int       `json:"version"`
	Active         bool      `json:"active"`
	Lines          []BOMLine `json:"lines"`
}

// MovementInput describes an IN, OUT or ADJUST request.
type MovementInput struct {
	Type        MovementType
	ItemID      string
	WarehouseID string
	LocationID  string
	Qty         decimal.Decimal
	Unit        Unit
	UnitCost    *decimal.Decimal
	Lot         string
	Serial      string
	Note        string
	Ref         *Reference
	Attributes  Attributes
	ActorID     string
	RequestKey  string
}

// TransferInput describes a move between two scopes.
type TransferInput struct {
	ItemID     string
	Qty        decimal.Decimal
	Unit       Unit
	From       Scope
	To         Scope
	Lot        string
	Serial     string
	Note       string
	Ref        *Reference
	ActorID    string
	RequestKey string
}

// ReservationLineInput is one line of a reservation request.
type ReservationLineInput struct {
	ItemID     string
	Qty        decimal.Decimal
	Unit       Unit
	LocationID string
}

// ReservationInput describes a RESERVE or UNRESERVE batch.
type ReservationInput struct {
	Action      ReservationAction
	WarehouseID string
	Lines       []ReservationLineInput
	Ref         Reference
	Note        string
	ActorID     string
	RequestKey  string
}

// ProduceLine overrides one consumption line. Qty is per finished unit; an
// empty WarehouseID falls back to the production warehouse and location.
type ProduceLine struct {
	ItemID      string
	Qty         decimal.Decimal
	Unit        Unit
	WarehouseID string
	LocationID  string
}

// ProduceInput describes a BOM-driven production run.
type ProduceInput struct {
	FinishedItemID string
	WarehouseID    string
	LocationID     string
	Qty            decimal.Decimal
	Ref            *Reference
	Note           string
	Lines          []ProduceLine
	ActorID        string
	RequestKey     string
}

// ProductionResult lists the movements appended by one production run.
type ProductionResult struct {
	RunID       string          `json:"run_id"`
	BOMVersion  int             `json:"bom_version,omitempty"`
	Consumed    []Movement      `json:"consumed"`
	Produced    Movement        `json:"produced"`
	FinishedQty decimal.Decimal `json:"finished_qty"`
}

// TransferResult is the outcome of ApplyTransfer.
type TransferResult struct {
	Movement Movement `json:"movement"`
	From     Balance  `json:"from"`
	To       Balance  `json:"to"`
}

// MovementResult is the outcome of ApplyMovement.
type MovementResult struct {
	Movement Movement `json:"movement"`
	Balance  Balance  `json:"balance"`
}

// ReservationResult is the outcome of ApplyReservation.
type ReservationResult struct {
	Movements []Movement `json:"movements"`
	Balances  []Balance  `json:"balances"`
}

// BalanceFilter narrows balance listings.
type BalanceFilter struct {
	ItemID      string
	WarehouseID string
	Limit       int
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ItemID      string
	WarehouseID string
	Types       []MovementType
	From        time.Time
	To          time.Time
	Limit       int
}

// ReservationFilter narrows reservation listings.
type ReservationFilter struct {
	RefKind RefKind
	RefID   string
	Status  ReservationStatus
	Limit   int
}

// ReplayTotal is the on-hand and reserved quantity reconstructed from the
// movement log for one balance key.
type ReplayTotal struct {
	Key      BalanceKey
	OnHand   decimal.Decimal
	Reserved decimal.Decimal
}

// Discrepancy reports a balance that disagrees with its movement history.
type Discrepancy struct {
	Key            BalanceKey      `json:"key"`
	StoredOnHand   decimal.Decimal `json:"stored_on_hand"`
	ReplayOnHand   decimal.Decimal `json:"replay_on_hand"`
	StoredReserved decimal.Decimal `json:"stored_reserved"`
	ReplayReserved decimal.Decimal `json:"replay_reserved"`
	NegativeAvail  bool            `json:"negative_available"`
}
