package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// LowStockEvent is emitted after commit when warehouse availability drops
// below the item's minimum.
type LowStockEvent struct {
	ItemID      string          `json:"item_id"`
	SKU         string          `json:"sku"`
	WarehouseID string          `json:"warehouse_id"`
	Available   decimal.Decimal `json:"available"`
	Threshold   decimal.Decimal `json:"threshold"`
	At          time.Time       `json:"at"`
}
