package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *BalanceCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewBalanceCache(client, time.Minute)
}

func TestBalanceCacheKeepsNewestVersion(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()
	key := BalanceKey{ItemID: "X", WarehouseID: "W"}

	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, Balance{ItemID: "X", WarehouseID: "W", OnHand: qty("5"), Version: 2}))
	require.NoError(t, cache.Set(ctx, Balance{ItemID: "X", WarehouseID: "W", OnHand: qty("3"), Version: 1}))
	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, got.Version)
	requireDecimal(t, "5", got.OnHand)

	require.NoError(t, cache.Invalidate(ctx, key))
	_, ok, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBalanceCacheNilIsNoop(t *testing.T) {
	var cache *BalanceCache
	_, ok, err := cache.Get(context.Background(), BalanceKey{ItemID: "X"})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Set(context.Background(), Balance{}))
	require.NoError(t, cache.Invalidate(context.Background(), BalanceKey{ItemID: "X"}))
}

func TestServiceRefreshesCacheOnCommit(t *testing.T) {
	mr, cache := newTestCache(t)
	repo, _ := newLedgerFixture()
	svc := NewService(repo, ServiceConfig{Cache: cache})
	ctx := context.Background()
	key := BalanceKey{ItemID: "X", WarehouseID: "W"}

	stockIn(t, svc, "X", "W", "", "4")
	require.True(t, mr.Exists(cacheKey(key)))
	cached, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	requireDecimal(t, "4", cached.OnHand)

	_, err = svc.ApplyMovement(ctx, MovementInput{Type: MovementOut, ItemID: "X", WarehouseID: "W", Qty: qty("1")})
	require.NoError(t, err)
	cached, ok, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	requireDecimal(t, "3", cached.OnHand)
	require.Equal(t, repo.balance(key).Version, cached.Version)

	bal, err := svc.GetBalance(ctx, key)
	require.NoError(t, err)
	requireDecimal(t, "3", bal.OnHand)
}

// pausingRepo holds GetBalance after the row was read until resume closes.
type pausingRepo struct {
	*memoryRepo
	read   chan struct{}
	resume chan struct{}
}

func (r *pausingRepo) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	bal, err := r.memoryRepo.GetBalance(ctx, key)
	r.read <- struct{}{}
	<-r.resume
	return bal, err
}

func TestGetBalanceRacingCommitDoesNotCacheOldRow(t *testing.T) {
	mr, cache := newTestCache(t)
	repo, _ := newLedgerFixture()
	writer := NewService(repo, ServiceConfig{Cache: cache})
	ctx := context.Background()
	key := BalanceKey{ItemID: "X", WarehouseID: "W"}
	stockIn(t, writer, "X", "W", "", "10")
	mr.FlushAll()

	paused := &pausingRepo{memoryRepo: repo, read: make(chan struct{}), resume: make(chan struct{})}
	reader := NewService(paused, ServiceConfig{Cache: cache})
	type result struct {
		bal Balance
		err error
	}
	out := make(chan result, 1)
	go func() {
		bal, err := reader.GetBalance(ctx, key)
		out <- result{bal: bal, err: err}
	}()

	<-paused.read
	_, err := writer.ApplyMovement(ctx, MovementInput{Type: MovementOut, ItemID: "X", WarehouseID: "W", Qty: qty("4")})
	require.NoError(t, err)
	close(paused.resume)

	res := <-out
	require.NoError(t, res.err)
	requireDecimal(t, "10", res.bal.OnHand)

	bal, err := writer.GetBalance(ctx, key)
	require.NoError(t, err)
	requireDecimal(t, "6", bal.OnHand)
	requireDecimal(t, "6", repo.balance(key).OnHand)
}

func TestServiceServesCachedBalance(t *testing.T) {
	_, cache := newTestCache(t)
	repo, _ := newLedgerFixture()
	svc := NewService(repo, ServiceConfig{Cache: cache})
	ctx := context.Background()
	key := BalanceKey{ItemID: "X", WarehouseID: "W"}
	require.NoError(t, cache.Set(ctx, Balance{ItemID: "X", WarehouseID: "W", OnHand: qty("42"), Version: 9}))

	bal, err := svc.GetBalance(ctx, key)
	require.NoError(t, err)
	requireDecimal(t, "42", bal.OnHand)
}

func TestMetricsObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveOperation("movement", "", time.Millisecond)
	m.ObserveOperation("movement", KindInsufficientStock, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("movement", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("movement", "INSUFFICIENT_STOCK")))

	var nilMetrics *Metrics
	nilMetrics.ObserveOperation("movement", "", 0)
}
