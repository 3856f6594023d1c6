package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
	jobmetrics "github.com/JavierPalina/TINCO-sub002/internal/jobs"
	"github.com/JavierPalina/TINCO-sub002/internal/shared"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, log)
	return nil
}

type fakeReconciler struct {
	calls int
	found []inventory.Discrepancy
	err   error
}

func (f *fakeReconciler) Reconcile(context.Context) ([]inventory.Discrepancy, error) {
	f.calls++
	return f.found, f.err
}

type fakePruner struct {
	retention time.Duration
}

func (f *fakePruner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 3, nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func lowStockEvent() inventory.LowStockEvent {
	return inventory.LowStockEvent{
		ItemID:      "item-1",
		SKU:         "PERF-6063",
		WarehouseID: "wh-1",
		Available:   decimal.RequireFromString("2"),
		Threshold:   decimal.RequireFromString("5"),
		At:          time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestLowStockTaskRoundTrip(t *testing.T) {
	task, err := NewLowStockTask(lowStockEvent())
	require.NoError(t, err)
	require.Equal(t, TaskLowStock, task.Type())

	var payload LowStockPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "PERF-6063", payload.SKU)
	require.True(t, payload.Available.Equal(decimal.NewFromInt(2)))
}

func TestLowStockJobAuditsAlert(t *testing.T) {
	audit := &recordingAudit{}
	job := NewLowStockJob(audit, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewLowStockTask(lowStockEvent())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, audit.logs, 1)
	require.Equal(t, TaskLowStock, audit.logs[0].Action)
	require.Equal(t, "item-1", audit.logs[0].EntityID)
	require.Equal(t, "2", audit.logs[0].Meta["available"])

	err = job.Handle(context.Background(), asynq.NewTask(TaskLowStock, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	audit.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

func TestReconcileJobRunsUnderLock(t *testing.T) {
	_, client := newRedis(t)
	locker := redislock.New(client)
	audit := &recordingAudit{}
	svc := &fakeReconciler{found: []inventory.Discrepancy{{
		Key:          inventory.BalanceKey{ItemID: "X", WarehouseID: "W"},
		StoredOnHand: decimal.NewFromInt(5),
		ReplayOnHand: decimal.NewFromInt(4),
	}}}
	job := NewReconcileJob(svc, locker, audit, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewReconcileTask("ops")
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, svc.calls)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "ops", audit.logs[0].ActorID)

	held, err := locker.Obtain(context.Background(), shared.ReconcileLockKey, time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, svc.calls)
	require.NoError(t, held.Release(context.Background()))

	svc.err = errors.New("replay failed")
	require.Error(t, job.Handle(context.Background(), task))
	require.Equal(t, 2, svc.calls)
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	pruner := &fakePruner{}
	job := NewIdempotencyCleanupJob(pruner, nil, nil)
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7*24*time.Hour, pruner.retention)
}

func TestClientNotifyLowStockEnqueues(t *testing.T) {
	mr, _ := newRedis(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.NotifyLowStock(context.Background(), lowStockEvent()))
	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var nilClient *Client
	require.Error(t, nilClient.NotifyLowStock(context.Background(), lowStockEvent()))
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	h := NewHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"retry":0,"failed":0}`, rr.Body.String())
}
