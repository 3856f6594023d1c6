package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStock carries a low-stock alert raised after a ledger commit.
	TaskLowStock = "inventory:low_stock"
	// TaskReconcile replays the movement log against stored balances.
	TaskReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup prunes expired request keys.
	TaskIdempotencyCleanup = "inventory:idempotency_cleanup"
)

// LowStockPayload is the JSON body of TaskLowStock.
type LowStockPayload struct {
	ItemID      string          `json:"item_id"`
	SKU         string          `json:"sku"`
	WarehouseID string          `json:"warehouse_id"`
	Available   decimal.Decimal `json:"available"`
	Threshold   decimal.Decimal `json:"threshold"`
	At          time.Time       `json:"at"`
}

// NewLowStockTask constructs an Asynq task from a ledger event.
func NewLowStockTask(ev inventory.LowStockEvent) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockPayload{
		ItemID:      ev.ItemID,
		SKU:         ev.SKU,
		WarehouseID: ev.WarehouseID,
		Available:   ev.Available,
		Threshold:   ev.Threshold,
		At:          ev.At,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStock, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ReconcilePayload carries scheduling metadata.
type ReconcilePayload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask(requestedBy string) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets how old a key must be to be pruned.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
