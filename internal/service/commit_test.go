package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
	"erp-pricing-api/internal/worker"
)

// inlineSubmitter runs tasks on the caller's goroutine.
type inlineSubmitter struct{ closed bool }

func (s *inlineSubmitter) SubmitDetached(task worker.Task) error {
	if s.closed {
		return worker.ErrPoolClosed
	}
	task(context.Background())
	return nil
}

// faultyStore wraps the SQLite store to inject failures.
type faultyStore struct {
	*repository.SQLStore
	applyErr  map[string]error
	pingErr   error
	afterEach func(change model.PriceChange)
}

func (f *faultyStore) ApplyPriceChange(ctx context.Context, c model.PriceChange) (*model.PriceChangeAudit, error) {
	if err := f.applyErr[c.ItemCode]; err != nil {
		return nil, err
	}
	audit, err := f.SQLStore.ApplyPriceChange(ctx, c)
	if f.afterEach != nil {
		f.afterEach(c)
	}
	return audit, err
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr
	}
	return f.SQLStore.Ping(ctx)
}

// seedApproved stores a session whose records are all approved, one per code.
func seedApproved(t *testing.T, store *repository.SQLStore, codes ...string) *model.UploadSession {
	t.Helper()
	now := time.Now().UTC()
	sess := &model.UploadSession{ID: "sess-commit", FileName: "prices.csv", FileSize: 256, CreatedBy: "alice", CreatedAt: now}
	records := make([]model.PricingRecord, len(codes))
	for i, code := range codes {
		records[i] = model.PricingRecord{
			ID:            fmt.Sprintf("rec-%d", i+1),
			SessionID:     sess.ID,
			RowNumber:     i + 2,
			ItemCode:      code,
			CurrentPrice:  decimal.NewNullDecimal(dec("100")),
			ProposedPrice: dec("110"),
			PercentChange: decimal.NewNullDecimal(dec("10")),
			Status:        model.RecordApproved,
			Errors:        []string{},
			Warnings:      []string{},
			CreatedAt:     now,
		}
	}
	require.NoError(t, store.CreateSession(context.Background(), sess, records))
	return sess
}

func auditCount(t *testing.T, store *repository.SQLStore, code string) int {
	t.Helper()
	history, err := store.ListPriceHistory(context.Background(), code, 10)
	require.NoError(t, err)
	return len(history)
}

func TestCommit_PartialFailureCompletes(t *testing.T) {
	store := newStore(t)
	for _, code := range []string{"P1", "P2", "P4", "P5"} {
		seedItem(t, store, code, "100")
	}
	// P3 is missing from the item master, so its write fails.
	sess := seedApproved(t, store, "P1", "P2", "P3", "P4", "P5")

	svc := NewCommitService(store, &inlineSubmitter{})
	op, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, 5, op.TotalRecords)

	got, err := store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, got.Status)
	require.Equal(t, 4, got.ProcessedRecords)
	require.Equal(t, 1, got.FailedRecords)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)
	require.Len(t, got.ErrorDetails.Records, 1)
	require.Equal(t, 4, got.ErrorDetails.Records[0].RowNumber)
	require.Equal(t, "P3", got.ErrorDetails.Records[0].ItemCode)
	require.Empty(t, got.ErrorDetails.Fatal)

	for _, code := range []string{"P1", "P2", "P4", "P5"} {
		require.Equal(t, 1, auditCount(t, store, code), code)
		item, err := store.GetItem(context.Background(), code)
		require.NoError(t, err)
		require.True(t, dec("110").Equal(item.CurrentPrice.Decimal))
	}

	history, err := store.ListPriceHistory(context.Background(), "P1", 1)
	require.NoError(t, err)
	require.Equal(t, DefaultChangeReason, history[0].Reason)
	require.Equal(t, "alice", history[0].Actor)
	require.True(t, dec("100").Equal(history[0].OldPrice.Decimal))

	// Only the failed record remains; it can be retried once fixed.
	left, err := store.ListCommittable(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "P3", left[0].ItemCode)
}

func TestCommit_InfrastructureFailureFailsOperation(t *testing.T) {
	store := newStore(t)
	for _, code := range []string{"P1", "P2", "P3"} {
		seedItem(t, store, code, "100")
	}
	sess := seedApproved(t, store, "P1", "P2", "P3")

	fs := &faultyStore{
		SQLStore: store,
		applyErr: map[string]error{"P2": errors.New("connection reset by peer")},
		pingErr:  errors.New("database is unreachable"),
	}
	svc := NewCommitService(fs, &inlineSubmitter{})
	op, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)

	got, err := store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationFailed, got.Status)
	require.Equal(t, 1, got.ProcessedRecords)
	require.Equal(t, 1, got.FailedRecords)
	require.Contains(t, got.ErrorDetails.Fatal, "connection reset by peer")
	require.Contains(t, got.ErrorDetails.Fatal, "P2")
	require.NotNil(t, got.CompletedAt)

	require.Equal(t, 1, auditCount(t, store, "P1"))
	require.Zero(t, auditCount(t, store, "P3"))
}

func TestCommit_CancellationStopsFurtherRecords(t *testing.T) {
	store := newStore(t)
	for _, code := range []string{"P1", "P2", "P3", "P4"} {
		seedItem(t, store, code, "100")
	}
	sess := seedApproved(t, store, "P1", "P2", "P3", "P4")

	var svc *CommitService
	fs := &faultyStore{SQLStore: store}
	fs.afterEach = func(c model.PriceChange) {
		if c.ItemCode == "P2" {
			_, err := svc.CancelOperation(context.Background(), c.OperationID)
			require.NoError(t, err)
		}
	}
	svc = NewCommitService(fs, &inlineSubmitter{})

	op, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)

	got, err := store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCancelled, got.Status)
	require.Equal(t, 2, got.ProcessedRecords)

	// Work done before the cancellation stays committed.
	require.Equal(t, 1, auditCount(t, store, "P1"))
	require.Equal(t, 1, auditCount(t, store, "P2"))
	require.Zero(t, auditCount(t, store, "P3"))

	_, err = svc.CancelOperation(context.Background(), op.ID)
	require.ErrorIs(t, err, ErrNotCancellable)

	retry, err := svc.RetryOperation(context.Background(), op.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, op.ID, retry.RetryOf)
	require.Equal(t, 2, retry.TotalRecords)

	got, err = store.GetOperation(context.Background(), retry.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, got.Status)
	require.Equal(t, 1, auditCount(t, store, "P4"))
}

func TestCommit_Guards(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	sess := seedApproved(t, store, "P1")
	ctx := context.Background()

	_, err := NewCommitService(store, &inlineSubmitter{}).StartCommit(ctx, "missing", "alice")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// A pending operation already owns the session.
	require.NoError(t, store.CreateOperation(ctx, &model.BulkOperation{
		ID: "op-busy", OperationType: model.OperationPriceUpdate, Status: model.OperationPending,
		SessionID: sess.ID, TotalRecords: 1, CreatedAt: time.Now().UTC(),
	}))
	svc := NewCommitService(store, &inlineSubmitter{})
	_, err = svc.StartCommit(ctx, sess.ID, "alice")
	require.ErrorIs(t, err, ErrOperationActive)

	_, err = svc.RetryOperation(ctx, "op-busy", "alice")
	require.ErrorIs(t, err, ErrNotRetryable)
	_, err = svc.CancelOperation(ctx, "op-busy")
	require.ErrorIs(t, err, ErrNotCancellable)
	_, err = svc.CancelOperation(ctx, "missing")
	require.ErrorIs(t, err, ErrOperationNotFound)
}

func TestCommit_NothingToCommit(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	sess := seedApproved(t, store, "P1")
	svc := NewCommitService(store, &inlineSubmitter{})

	_, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
	_, err = svc.StartCommit(context.Background(), sess.ID, "alice")
	require.ErrorIs(t, err, ErrNothingToCommit)
}

func TestCommit_ClosedPoolMarksOperationFailed(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	sess := seedApproved(t, store, "P1")
	svc := NewCommitService(store, &inlineSubmitter{closed: true})

	_, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.ErrorIs(t, err, ErrWorkerPoolClosed)

	ops, _, err := store.ListOperations(context.Background(), repository.OperationFilter{SessionID: sess.ID})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, model.OperationFailed, ops[0].Status)

	// The session is free again for a later attempt.
	svc = NewCommitService(store, &inlineSubmitter{})
	_, err = svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
}

func TestCommit_RunsOnWorkerPool(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	seedItem(t, store, "P2", "100")
	sess := seedApproved(t, store, "P1", "P2")

	pool, err := worker.NewPool(context.Background(), "commit-test", 2)
	require.NoError(t, err)
	defer pool.Shutdown(time.Second)

	svc := NewCommitService(store, pool)
	op, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)
	svc.Wait()

	got, err := store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, got.Status)
	require.Equal(t, 2, got.ProcessedRecords)
}

func TestCommit_ShutdownBeforeRunFailsOperation(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	sess := seedApproved(t, store, "P1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool, err := worker.NewPool(ctx, "commit-test", 1)
	require.NoError(t, err)
	defer pool.Shutdown(time.Second)

	svc := NewCommitService(store, pool)
	op, err := svc.StartCommit(context.Background(), sess.ID, "alice")
	require.NoError(t, err)

	waited := make(chan struct{})
	go func() {
		svc.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("commit run never finished")
	}

	got, err := store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationFailed, got.Status)
	require.Contains(t, got.ErrorDetails.Fatal, "interrupted")
	require.Zero(t, auditCount(t, store, "P1"))

	retry, err := NewCommitService(store, &inlineSubmitter{}).RetryOperation(context.Background(), op.ID, "alice")
	require.NoError(t, err)
	got, err = store.GetOperation(context.Background(), retry.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, got.Status)
	require.Equal(t, 1, auditCount(t, store, "P1"))
}

func TestCommit_RecoverInterrupted(t *testing.T) {
	store := newStore(t)
	seedItem(t, store, "P1", "100")
	sess := seedApproved(t, store, "P1")
	ctx := context.Background()

	seedOperation(t, store, "op-pending", sess.ID, model.OperationPending, 0, 1)
	seedOperation(t, store, "op-running", "s2", model.OperationInProgress, 3, 5)
	seedOperation(t, store, "op-local", "s3", model.OperationInProgress, 1, 5)
	seedOperation(t, store, "op-done", "s4", model.OperationCompleted, 2, 2)

	svc := NewCommitService(store, &inlineSubmitter{})
	require.True(t, svc.reserve("s3"))

	n, err := svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{"op-pending", "op-running"} {
		got, err := store.GetOperation(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.OperationFailed, got.Status, id)
		require.NotEmpty(t, got.ErrorDetails.Fatal, id)
		require.NotNil(t, got.CompletedAt, id)
	}
	running, err := store.GetOperation(ctx, "op-running")
	require.NoError(t, err)
	require.Equal(t, 3, running.ProcessedRecords)

	local, err := store.GetOperation(ctx, "op-local")
	require.NoError(t, err)
	require.Equal(t, model.OperationInProgress, local.Status)
	done, err := store.GetOperation(ctx, "op-done")
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, done.Status)

	// The session is no longer blocked and the failed run can be retried.
	retry, err := svc.RetryOperation(ctx, "op-pending", "alice")
	require.NoError(t, err)
	got, err := store.GetOperation(ctx, retry.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationCompleted, got.Status)
}
