package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
	jobmetrics "github.com/JavierPalina/TINCO-sub002/internal/jobs"
	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

// Reconciler replays the movement log against stored balances.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]inventory.Discrepancy, error)
}

// ReconcileJob runs ledger reconciliation on one worker at a time.
type ReconcileJob struct {
	Service Reconciler
	Locker  *redislock.Client
	Audit   AuditRecorder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(service Reconciler, locker *redislock.Client, audit AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Service: service,
		Locker:  locker,
		Audit:   audit,
		Logger:  logger,
		Metrics: metrics,
		LockTTL: 10 * time.Minute,
	}
}

// Handle executes TaskReconcile. When another worker holds the lock the run
// is skipped without error.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	logger := jobLogger(j.Logger).With(slog.String("requested_by", payload.RequestedBy))

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReconcileLockKey, j.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("reconcile already running elsewhere, skipping")
			return nil
		}
		if err != nil {
			logger.Error("obtain reconcile lock", slog.Any("error", err))
			return err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release reconcile lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskReconcile)
	start := time.Now()
	logger.Info("starting reconcile")

	found, err := j.Service.Reconcile(ctx)
	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, d := range found {
		logger.Warn("balance disagrees with movement log",
			slog.String("balance", d.Key.String()),
			slog.String("stored_on_hand", d.StoredOnHand.String()),
			slog.String("replay_on_hand", d.ReplayOnHand.String()),
			slog.String("stored_reserved", d.StoredReserved.String()),
			slog.String("replay_reserved", d.ReplayReserved.String()),
			slog.Bool("negative_available", d.NegativeAvail),
		)
	}
	j.Metrics.AddDiscrepancies(len(found))

	if j.Audit != nil && len(found) > 0 {
		keys := make([]string, 0, len(found))
		for _, d := range found {
			keys = append(keys, d.Key.String())
		}
		if err := j.Audit.Record(ctx, shared.AuditLog{
			ActorID:  payload.RequestedBy,
			Action:   TaskReconcile,
			Entity:   "inventory",
			EntityID: "balances",
			Meta:     map[string]any{"discrepancies": keys},
		}); err != nil {
			logger.Warn("record reconcile audit", slog.Any("error", err))
		}
	}

	logger.Info("completed reconcile",
		slog.Int("discrepancies", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *ReconcileJob) lockTTL() time.Duration {
	if j.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return j.LockTTL
}
