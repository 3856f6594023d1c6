package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Quantities are stored as NUMERIC(18, 4).
const (
	qtyScale  = 4
	qtyDigits = 14
)

var qtyLimit = decimal.New(1, qtyDigits)

// checkStorable rejects values the ledger columns would round or overflow.
func checkStorable(v decimal.Decimal, field, itemID string, line int) error {
	if !v.Equal(v.Truncate(qtyScale)) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s %s has more than %d decimal places", field, v.String(), qtyScale), ItemID: itemID, Line: line}
	}
	if v.Abs().GreaterThanOrEqual(qtyLimit) {
		return &Error{Kind: KindValidation, Message: fmt.Sprintf("%s %s exceeds %d integer digits", field, v.String(), qtyDigits), ItemID: itemID, Line: line}
	}
	return nil
}

func validateRef(ref *Reference) error {
	if ref == nil {
		return nil
	}
	switch ref.Kind {
	case RefPO, RefSO, RefProject, RefQuote, RefCount, RefManual, RefProduction:
	default:
		return validationf("unknown reference kind %q", ref.Kind)
	}
	if ref.ID == "" {
		return validationf("reference %s requires an id", ref.Kind)
	}
	return nil
}

func validateMovement(in MovementInput) error {
	if in.ItemID == "" || in.WarehouseID == "" {
		return validationf("item and warehouse required")
	}
	switch in.Type {
	case MovementIn, MovementOut:
		if !in.Qty.IsPositive() {
			return &Error{Kind: KindValidation, Message: "quantity must be positive for " + string(in.Type), ItemID: in.ItemID}
		}
	case MovementAdjust:
		if in.Qty.IsZero() {
			return &Error{Kind: KindValidation, Message: "adjustment quantity must not be zero", ItemID: in.ItemID}
		}
	case MovementTransfer:
		return validationf("use ApplyTransfer for TRANSFER movements")
	case MovementReserve, MovementUnreserve:
		return validationf("use ApplyReservation for %s movements", in.Type)
	default:
		return validationf("unknown movement type %q", in.Type)
	}
	if err := checkStorable(in.Qty, "quantity", in.ItemID, 0); err != nil {
		return err
	}
	if in.UnitCost != nil {
		if in.UnitCost.IsNegative() {
			return &Error{Kind: KindValidation, Message: "unit cost must not be negative", ItemID: in.ItemID}
		}
		if err := checkStorable(*in.UnitCost, "unit cost", in.ItemID, 0); err != nil {
			return err
		}
	}
	if err := validateRef(in.Ref); err != nil {
		return err
	}
	return in.Attributes.Validate()
}

func validateTransfer(in TransferInput) error {
	if in.ItemID == "" {
		return validationf("item required")
	}
	if in.From.WarehouseID == "" || in.To.WarehouseID == "" {
		return validationf("source and destination warehouse required")
	}
	if !in.Qty.IsPositive() {
		return &Error{Kind: KindValidation, Message: "transfer quantity must be positive", ItemID: in.ItemID}
	}
	if err := checkStorable(in.Qty, "quantity", in.ItemID, 0); err != nil {
		return err
	}
	if in.From == in.To {
		return &Error{Kind: KindValidation, Message: "source and destination must differ", ItemID: in.ItemID}
	}
	return validateRef(in.Ref)
}

func validateReservation(in ReservationInput) error {
	switch in.Action {
	case ActionReserve, ActionUnreserve:
	default:
		return validationf("reservation action must be RESERVE or UNRESERVE, got %q", in.Action)
	}
	if in.WarehouseID == "" {
		return validationf("warehouse required")
	}
	if len(in.Lines) == 0 {
		return validationf("at least one line required")
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return &Error{Kind: KindValidation, Message: "item required", Line: i + 1}
		}
		if !line.Qty.IsPositive() {
			return &Error{Kind: KindValidation, Message: "quantity must be positive", ItemID: line.ItemID, Line: i + 1}
		}
		if err := checkStorable(line.Qty, "quantity", line.ItemID, i+1); err != nil {
			return err
		}
	}
	return validateRef(&in.Ref)
}

// validateProduce checks the request and returns the effective finished qty.
func validateProduce(in ProduceInput) (decimal.Decimal, error) {
	if in.FinishedItemID == "" || in.WarehouseID == "" {
		return decimal.Zero, validationf("finished item and warehouse required")
	}
	qty := in.Qty
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if qty.IsNegative() {
		return decimal.Zero, &Error{Kind: KindValidation, Message: "production quantity must be positive", ItemID: in.FinishedItemID}
	}
	if err := checkStorable(qty, "production quantity", in.FinishedItemID, 0); err != nil {
		return decimal.Zero, err
	}
	for i, line := range in.Lines {
		if line.ItemID == "" {
			return decimal.Zero, &Error{Kind: KindValidation, Message: "component item required", Line: i + 1}
		}
		if line.ItemID == in.FinishedItemID {
			return decimal.Zero, &Error{Kind: KindValidation, Message: "finished item cannot consume itself", ItemID: line.ItemID, Line: i + 1}
		}
		if !line.Qty.IsPositive() {
			return decimal.Zero, &Error{Kind: KindValidation, Message: "component quantity must be positive", ItemID: line.ItemID, Line: i + 1}
		}
		if err := checkStorable(line.Qty, "component quantity", line.ItemID, i+1); err != nil {
			return decimal.Zero, err
		}
	}
	if err := validateRef(in.Ref); err != nil {
		return decimal.Zero, err
	}
	return qty, nil
}
