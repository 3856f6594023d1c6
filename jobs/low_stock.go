package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/JavierPalina/TINCO-sub002/internal/jobs"
	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LowStockJob logs and audits low-stock alerts.
type LowStockJob struct {
	Audit   AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockJob initialises the low-stock handler.
func NewLowStockJob(audit AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockJob {
	return &LowStockJob{Audit: audit, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLowStock tasks.
func (j *LowStockJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock: handler not configured")
	}
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.ItemID == "" || payload.WarehouseID == "" {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskLowStock)

	logger := jobLogger(j.Logger).With(
		slog.String("item_id", payload.ItemID),
		slog.String("sku", payload.SKU),
		slog.String("warehouse_id", payload.WarehouseID),
	)
	logger.Warn("stock below minimum",
		slog.String("available", payload.Available.String()),
		slog.String("threshold", payload.Threshold.String()),
	)

	if j.Audit != nil {
		err := j.Audit.Record(ctx, shared.AuditLog{
			Action:   TaskLowStock,
			Entity:   "inventory_item",
			EntityID: payload.ItemID,
			Meta: map[string]any{
				"warehouse_id": payload.WarehouseID,
				"available":    payload.Available.String(),
				"threshold":    payload.Threshold.String(),
			},
			At: payload.At,
		})
		if err != nil {
			logger.Error("record low stock audit", slog.Any("error", err))
			return tracker.End(err)
		}
	}
	j.Metrics.IncLowStock()
	return tracker.End(nil)
}

func jobLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
