package inventory

import (
	"context"
	"time"
)

// Notifier receives low-stock events once the triggering operation committed.
type Notifier interface {
	NotifyLowStock(ctx context.Context, evt LowStockEvent) error
}

// Observer records the outcome of every ledger operation.
type Observer interface {
	ObserveOperation(op string, kind Kind, elapsed time.Duration)
}
