package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"erp-pricing-api/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedSession(t *testing.T, s *SQLStore, statuses ...model.RecordStatus) (*model.UploadSession, []model.PricingRecord) {
	t.Helper()
	now := time.Now().UTC()
	sess := &model.UploadSession{ID: "sess-1", FileName: "prices.csv", FileSize: 128, CreatedBy: "alice", CreatedAt: now}

	records := make([]model.PricingRecord, len(statuses))
	for i, st := range statuses {
		records[i] = model.PricingRecord{
			ID:            "rec-" + string(rune('a'+i)),
			SessionID:     sess.ID,
			RowNumber:     i + 2,
			ItemCode:      "A1",
			CurrentPrice:  decimal.NewNullDecimal(dec("100")),
			ProposedPrice: dec("110"),
			PercentChange: decimal.NewNullDecimal(dec("10")),
			Status:        st,
			Errors:        []string{},
			Warnings:      []string{},
			CreatedAt:     now,
		}
	}
	require.NoError(t, s.CreateSession(context.Background(), sess, records))
	return sess, records
}

func TestSQLiteStore_Items(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item, err := s.GetItem(ctx, "A1")
	require.NoError(t, err)
	require.Nil(t, item)

	require.NoError(t, s.UpsertItem(ctx, &model.Item{ItemCode: "A1", Description: "Bolt", CurrentPrice: decimal.NewNullDecimal(dec("12.50"))}))
	require.NoError(t, s.UpsertItem(ctx, &model.Item{ItemCode: "A1", Description: "Hex bolt", CurrentPrice: decimal.NewNullDecimal(dec("13"))}))

	item, err = s.GetItem(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, "Hex bolt", item.Description)
	require.True(t, item.CurrentPrice.Valid)
	require.True(t, dec("13").Equal(item.CurrentPrice.Decimal))
}

func TestSQLiteStore_SessionCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, _ := seedSession(t, s, model.RecordApproved, model.RecordRequiresReview, model.RecordRequiresReview)
	require.Equal(t, 3, sess.TotalRecords)
	require.Equal(t, 1, sess.ApprovedRecords)
	require.Equal(t, 2, sess.PendingRecords)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.TotalRecords)

	records, err := s.ListRecords(ctx, sess.ID, model.RecordFilter{Status: model.RecordRequiresReview})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 3, records[0].RowNumber)
	require.Equal(t, []string{}, records[0].Errors)

	_, err = s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ApplyReviewIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, records := seedSession(t, s, model.RecordRequiresReview, model.RecordApproved)

	updated, err := s.ApplyReview(ctx, model.ReviewDecision{
		SessionID: sess.ID, RecordID: records[0].ID, Status: model.RecordRejected,
		Notes: "supplier quote expired", Actor: "bob", At: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, updated.RejectedRecords)
	require.Equal(t, 1, updated.ApprovedRecords)
	require.Equal(t, 0, updated.PendingRecords)

	// Second transition on the same record matches nothing.
	_, err = s.ApplyReview(ctx, model.ReviewDecision{
		SessionID: sess.ID, RecordID: records[0].ID, Status: model.RecordApproved, Actor: "bob", At: time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrConflict)

	rec, err := s.GetRecord(ctx, sess.ID, records[0].ID)
	require.NoError(t, err)
	require.Equal(t, model.RecordRejected, rec.Status)
	require.Equal(t, "supplier quote expired", rec.ReviewNotes)
	require.NotNil(t, rec.ReviewedAt)
}

func TestSQLiteStore_OperationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := seedSession(t, s, model.RecordApproved)

	op := &model.BulkOperation{
		ID: "op-1", OperationType: model.OperationPriceUpdate, Status: model.OperationPending,
		SessionID: sess.ID, TotalRecords: 1, CreatedBy: "alice", CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateOperation(ctx, op))

	second := *op
	second.ID = "op-2"
	require.ErrorIs(t, s.CreateOperation(ctx, &second), ErrConflict)

	started := time.Now().UTC()
	require.NoError(t, s.TransitionOperation(ctx, OperationTransition{
		ID: op.ID, From: []model.OperationStatus{model.OperationPending}, To: model.OperationInProgress, StartedAt: &started,
	}))
	require.ErrorIs(t, s.TransitionOperation(ctx, OperationTransition{
		ID: op.ID, From: []model.OperationStatus{model.OperationPending}, To: model.OperationInProgress,
	}), ErrConflict)

	require.NoError(t, s.UpdateProgress(ctx, op.ID, model.OperationProgress{
		Processed: 0, Failed: 1,
		Errors: model.ErrorDetails{Records: []model.OperationError{{RowNumber: 2, ItemCode: "A1", Error: "boom"}}},
	}))

	got, err := s.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, model.OperationInProgress, got.Status)
	require.Equal(t, 1, got.FailedRecords)
	require.Len(t, got.ErrorDetails.Records, 1)
	require.NotNil(t, got.StartedAt)

	counts, err := s.CountOperationsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.OperationInProgress])
	require.Equal(t, 0, counts[model.OperationCompleted])

	ops, total, err := s.ListOperations(ctx, OperationFilter{SessionID: sess.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, ops, 1)
}

func TestSQLiteStore_ApplyPriceChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertItem(ctx, &model.Item{ItemCode: "A1", CurrentPrice: decimal.NewNullDecimal(dec("100"))}))
	sess, records := seedSession(t, s, model.RecordApproved)

	change := model.PriceChange{
		ItemCode: "A1", NewPrice: dec("110"), EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Reason: "annual review", Actor: "alice", OperationID: "op-1", RecordID: records[0].ID,
	}
	audit, err := s.ApplyPriceChange(ctx, change)
	require.NoError(t, err)
	require.True(t, audit.OldPrice.Valid)
	require.True(t, dec("100").Equal(audit.OldPrice.Decimal))

	item, err := s.GetItem(ctx, "A1")
	require.NoError(t, err)
	require.True(t, dec("110").Equal(item.CurrentPrice.Decimal))

	committable, err := s.ListCommittable(ctx, sess.ID)
	require.NoError(t, err)
	require.Empty(t, committable)

	// The record is already committed; the whole unit rolls back.
	change.NewPrice = dec("999")
	_, err = s.ApplyPriceChange(ctx, change)
	require.ErrorIs(t, err, ErrConflict)
	item, err = s.GetItem(ctx, "A1")
	require.NoError(t, err)
	require.True(t, dec("110").Equal(item.CurrentPrice.Decimal))

	history, err := s.ListPriceHistory(ctx, "A1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "annual review", history[0].Reason)

	_, err = s.ApplyPriceChange(ctx, model.PriceChange{ItemCode: "NOPE", NewPrice: dec("1"), RecordID: "x"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPriceChange_RollsBackWhenAuditFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLStore(db, sqliteDialect)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT current_price FROM items WHERE item_code = \?`).
		WithArgs("A1").
		WillReturnRows(sqlmock.NewRows([]string{"current_price"}).AddRow("100"))
	mock.ExpectExec(`UPDATE items SET current_price`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO price_change_audit`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.ApplyPriceChange(context.Background(), model.PriceChange{
		ItemCode: "A1", NewPrice: dec("110"), EffectiveDate: time.Now().UTC(), RecordID: "rec-a", OperationID: "op-1",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "audit")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOperation_LocksSessionBeforeActiveCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLStore(db, postgresDialect)
	op := &model.BulkOperation{
		ID: "op-2", OperationType: model.OperationPriceUpdate, Status: model.OperationPending,
		SessionID: "sess-1", TotalRecords: 1, CreatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM upload_sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sess-1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bulk_operations WHERE session_id = \$1`).
		WithArgs("sess-1", string(model.OperationPending), string(model.OperationInProgress)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	require.ErrorIs(t, s.CreateOperation(context.Background(), op), ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM upload_sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	require.ErrorIs(t, s.CreateOperation(context.Background(), op), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE b = ? AND c IN (?, ?)`
	require.Equal(t, q, sqliteDialect.rebind(q))
	require.Equal(t, `UPDATE t SET a = $1 WHERE b = $2 AND c IN ($3, $4)`, postgresDialect.rebind(q))
	require.Equal(t, q, mysqlDialect.rebind(q))
}
