package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"erp-pricing-api/internal/cache"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		processed, total int
		want             float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 4, 0},
		{1, 4, 25},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{4, 4, 100},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Progress(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}

func TestDurationOf(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90*time.Second + 250*time.Millisecond)

	got, secs := DurationOf(nil, nil)
	require.Equal(t, NotStarted, got)
	require.Nil(t, secs)

	got, secs = DurationOf(&start, nil)
	require.Equal(t, StillRunning, got)
	require.Nil(t, secs)

	got, secs = DurationOf(&start, &end)
	require.Equal(t, "1m30.25s", got)
	require.NotNil(t, secs)
	require.InDelta(t, 90.25, *secs, 0.001)
}

func seedOperation(t *testing.T, store *repository.SQLStore, id, session string, status model.OperationStatus, processed, total int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateOperation(ctx, &model.BulkOperation{
		ID: id, OperationType: model.OperationPriceUpdate, Status: model.OperationPending,
		SessionID: session, TotalRecords: total, CreatedBy: "alice", CreatedAt: time.Now().UTC(),
	}))
	if status == model.OperationPending {
		return
	}
	started := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.TransitionOperation(ctx, repository.OperationTransition{
		ID: id, From: []model.OperationStatus{model.OperationPending}, To: model.OperationInProgress, StartedAt: &started,
	}))
	require.NoError(t, store.UpdateProgress(ctx, id, model.OperationProgress{Processed: processed}))
	if status == model.OperationInProgress {
		return
	}
	done := time.Now().UTC()
	require.NoError(t, store.TransitionOperation(ctx, repository.OperationTransition{
		ID: id, From: []model.OperationStatus{model.OperationInProgress}, To: status, CompletedAt: &done,
	}))
}

func TestMonitor_Snapshot(t *testing.T) {
	store := newStore(t)
	seedOperation(t, store, "op-1", "s1", model.OperationCompleted, 4, 4)
	seedOperation(t, store, "op-2", "s2", model.OperationInProgress, 1, 4)
	seedOperation(t, store, "op-3", "s3", model.OperationPending, 0, 0)

	mon := NewMonitorService(store, nil, 0)
	sum, err := mon.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 2, sum.Active)
	require.Equal(t, 1, sum.Counts[model.OperationCompleted])
	require.Equal(t, 0, sum.Counts[model.OperationFailed])
	require.Len(t, sum.Operations, 3)

	views := map[string]OperationView{}
	for _, v := range sum.Operations {
		views[v.ID] = v
	}
	require.Equal(t, float64(100), views["op-1"].ProgressPercent)
	require.NotNil(t, views["op-1"].DurationSeconds)
	require.Equal(t, float64(25), views["op-2"].ProgressPercent)
	require.Equal(t, StillRunning, views["op-2"].Duration)
	require.Equal(t, float64(0), views["op-3"].ProgressPercent)
	require.Equal(t, NotStarted, views["op-3"].Duration)
}

func TestMonitor_SummaryIsCachedUntilRefresh(t *testing.T) {
	store := newStore(t)
	c := cache.NewMemoryCache(time.Minute)
	defer c.Close()
	mon := NewMonitorService(store, c, time.Minute)
	ctx := context.Background()

	seedOperation(t, store, "op-1", "s1", model.OperationCompleted, 1, 1)
	sum, err := mon.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Total)

	seedOperation(t, store, "op-2", "s2", model.OperationPending, 0, 1)
	sum, err = mon.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Total, "served from cache")

	_, err = mon.Refresh(ctx)
	require.NoError(t, err)
	sum, err = mon.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Total)
	require.Equal(t, 1, sum.Counts[model.OperationPending])
}

func TestMonitor_GetAndList(t *testing.T) {
	store := newStore(t)
	seedOperation(t, store, "op-1", "s1", model.OperationFailed, 2, 4)
	seedOperation(t, store, "op-2", "s2", model.OperationCompleted, 3, 3)
	mon := NewMonitorService(store, nil, 0)
	ctx := context.Background()

	v, err := mon.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	require.Equal(t, float64(50), v.ProgressPercent)

	_, err = mon.GetOperation(ctx, "missing")
	require.ErrorIs(t, err, ErrOperationNotFound)

	views, total, err := mon.ListOperations(ctx, "", model.OperationCompleted, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "op-2", views[0].ID)
}

func TestMonitorPoller_RunNowRespectsLease(t *testing.T) {
	store := newStore(t)
	seedOperation(t, store, "op-1", "s1", model.OperationInProgress, 0, 2)
	c := cache.NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	mon := NewMonitorService(store, c, time.Minute)
	cfg := PollerConfig{Interval: 200 * time.Millisecond}
	first := NewMonitorPoller(mon, c, cfg)
	second := NewMonitorPoller(mon, c, cfg)

	ok, err := first.RunNow(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The lease outlives the refresh, so other instances skip this interval.
	ok, err = second.RunNow(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	held, err := c.Exists(ctx, DefaultPollerConfig().LeaseKey)
	require.NoError(t, err)
	require.True(t, held)

	// It lapses before the next tick.
	time.Sleep(cfg.Interval)
	ok, err = second.RunNow(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = first.RunNow(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMonitorPoller_ReleasesLeaseWhenRefreshFails(t *testing.T) {
	store := newStore(t)
	c := cache.NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	p := NewMonitorPoller(NewMonitorService(store, c, time.Minute), c, PollerConfig{Interval: time.Hour})
	require.NoError(t, store.Close())

	ok, err := p.RunNow(ctx)
	require.Error(t, err)
	require.False(t, ok)

	held, err := c.Exists(ctx, DefaultPollerConfig().LeaseKey)
	require.NoError(t, err)
	require.False(t, held)
}

func TestMonitorPoller_StartStop(t *testing.T) {
	store := newStore(t)
	mon := NewMonitorService(store, nil, 0)
	p := NewMonitorPoller(mon, nil, PollerConfig{Interval: 10 * time.Millisecond})

	p.Start()
	p.Start()
	time.Sleep(30 * time.Millisecond)
	p.Stop()
	p.Stop()
}
