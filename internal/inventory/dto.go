package inventory

import (
	"github.com/shopspring/decimal"
)

// RefRequest is the wire form of a business reference.
type RefRequest struct {
	Kind string `json:"kind" validate:"required,max=16"`
	ID   string `json:"id" validate:"required,max=128"`
}

func (r *RefRequest) toReference() (*Reference, error) {
	if r == nil {
		return nil, nil
	}
	kind, err := ParseRefKind(r.Kind)
	if err != nil {
		return nil, err
	}
	return &Reference{Kind: kind, ID: r.ID}, nil
}

// MovementRequest is the payload of POST /inventory/movements.
type MovementRequest struct {
	Type        string           `json:"type" validate:"required"`
	ItemID      string           `json:"item_id" validate:"required,max=64"`
	WarehouseID string           `json:"warehouse_id" validate:"required,max=64"`
	LocationID  string           `json:"location_id" validate:"omitempty,max=64"`
	Qty         decimal.Decimal  `json:"qty"`
	Unit        string           `json:"unit" validate:"omitempty,max=8"`
	UnitCost    *decimal.Decimal `json:"unit_cost"`
	Lot         string           `json:"lot" validate:"omitempty,max=64"`
	Serial      string           `json:"serial" validate:"omitempty,max=64"`
	Note        string           `json:"note" validate:"omitempty,max=500"`
	Ref         *RefRequest      `json:"ref"`
	Attributes  map[string]any   `json:"attributes"`
}

func (req MovementRequest) toInput() (MovementInput, error) {
	mt, err := ParseMovementType(req.Type)
	if err != nil {
		return MovementInput{}, err
	}
	unit, err := ParseUnit(req.Unit)
	if err != nil {
		return MovementInput{}, err
	}
	ref, err := req.Ref.toReference()
	if err != nil {
		return MovementInput{}, err
	}
	return MovementInput{
		Type:        mt,
		ItemID:      req.ItemID,
		WarehouseID: req.WarehouseID,
		LocationID:  req.LocationID,
		Qty:         req.Qty,
		Unit:        unit,
		UnitCost:    req.UnitCost,
		Lot:         req.Lot,
		Serial:      req.Serial,
		Note:        req.Note,
		Ref:         ref,
		Attributes:  Attributes(req.Attributes),
	}, nil
}

// ScopeRequest addresses a warehouse and optional location.
type ScopeRequest struct {
	WarehouseID string `json:"warehouse_id" validate:"required,max=64"`
	LocationID  string `json:"location_id" validate:"omitempty,max=64"`
}

// TransferRequest is the payload of POST /inventory/transfers.
type TransferRequest struct {
	ItemID string          `json:"item_id" validate:"required,max=64"`
	Qty    decimal.Decimal `json:"qty"`
	Unit   string          `json:"unit" validate:"omitempty,max=8"`
	From   ScopeRequest    `json:"from" validate:"required"`
	To     ScopeRequest    `json:"to" validate:"required"`
	Lot    string          `json:"lot" validate:"omitempty,max=64"`
	Serial string          `json:"serial" validate:"omitempty,max=64"`
	Note   string          `json:"note" validate:"omitempty,max=500"`
	Ref    *RefRequest     `json:"ref"`
}

func (req TransferRequest) toInput() (TransferInput, error) {
	unit, err := ParseUnit(req.Unit)
	if err != nil {
		return TransferInput{}, err
	}
	ref, err := req.Ref.toReference()
	if err != nil {
		return TransferInput{}, err
	}
	return TransferInput{
		ItemID: req.ItemID,
		Qty:    req.Qty,
		Unit:   unit,
		From:   Scope{WarehouseID: req.From.WarehouseID, LocationID: req.From.LocationID},
		To:     Scope{WarehouseID: req.To.WarehouseID, LocationID: req.To.LocationID},
		Lot:    req.Lot,
		Serial: req.Serial,
		Note:   req.Note,
		Ref:    ref,
	}, nil
}

// ReservationLineRequest is one line of a reservation payload.
type ReservationLineRequest struct {
	ItemID     string          `json:"item_id" validate:"required,max=64"`
	Qty        decimal.Decimal `json:"qty"`
	Unit       string          `json:"unit" validate:"omitempty,max=8"`
	LocationID string          `json:"location_id" validate:"omitempty,max=64"`
}

// ReservationRequest is the payload of POST /inventory/reservations.
type ReservationRequest struct {
	WarehouseID string                   `json:"warehouse_id" validate:"required,max=64"`
	Ref         RefRequest               `json:"ref" validate:"required"`
	Note        string                   `json:"note" validate:"omitempty,max=500"`
	Lines       []ReservationLineRequest `json:"lines" validate:"required,min=1,max=200,dive"`
}

func (req ReservationRequest) toInput() (ReservationInput, error) {
	ref, err := req.Ref.toReference()
	if err != nil {
		return ReservationInput{}, err
	}
	lines := make([]ReservationLineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		unit, err := ParseUnit(l.Unit)
		if err != nil {
			return ReservationInput{}, err
		}
		lines = append(lines, ReservationLineInput{ItemID: l.ItemID, Qty: l.Qty, Unit: unit, LocationID: l.LocationID})
	}
	return ReservationInput{
		Action:      ActionReserve,
		WarehouseID: req.WarehouseID,
		Lines:       lines,
		Ref:         *ref,
		Note:        req.Note,
	}, nil
}

// ProduceLineRequest overrides one consumption line.
type ProduceLineRequest struct {
	ItemID      string          `json:"item_id" validate:"required,max=64"`
	Qty         decimal.Decimal `json:"qty"`
	Unit        string          `json:"unit" validate:"omitempty,max=8"`
	WarehouseID string          `json:"warehouse_id" validate:"omitempty,max=64"`
	LocationID  string          `json:"location_id" validate:"omitempty,max=64"`
}

// ProduceRequest is the payload of POST /inventory/production.
type ProduceRequest struct {
	FinishedItemID string               `json:"finished_item_id" validate:"required,max=64"`
	WarehouseID    string               `json:"warehouse_id" validate:"required,max=64"`
	LocationID     string               `json:"location_id" validate:"omitempty,max=64"`
	Qty            decimal.Decimal      `json:"qty"`
	Ref            *RefRequest          `json:"ref"`
	Note           string               `json:"note" validate:"omitempty,max=500"`
	Lines          []ProduceLineRequest `json:"lines" validate:"omitempty,max=200,dive"`
}

func (req ProduceRequest) toInput() (ProduceInput, error) {
	ref, err := req.Ref.toReference()
	if err != nil {
		return ProduceInput{}, err
	}
	lines := make([]ProduceLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		unit, err := ParseUnit(l.Unit)
		if err != nil {
			return ProduceInput{}, err
		}
		lines = append(lines, ProduceLine{ItemID: l.ItemID, Qty: l.Qty, Unit: unit, WarehouseID: l.WarehouseID, LocationID: l.LocationID})
	}
	return ProduceInput{
		FinishedItemID: req.FinishedItemID,
		WarehouseID:    req.WarehouseID,
		LocationID:     req.LocationID,
		Qty:            req.Qty,
		Ref:            ref,
		Note:           req.Note,
		Lines:          lines,
	}, nil
}
