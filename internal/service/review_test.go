package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"erp-pricing-api/internal/model"
)

// reviewFixture uploads one auto-approved row, two flagged rows with warnings
// only and one flagged row with an error.
func reviewFixture(t *testing.T) (*ReviewService, *UploadService, *model.UploadSession) {
	t.Helper()
	store := newStore(t)
	seedItem(t, store, "A1", "100")
	seedItem(t, store, "B2", "100")
	seedItem(t, store, "C3", "")

	uploads := NewUploadService(nil, store, store)
	res := upload(t, uploads, "Item Code,Proposed Price\nA1,105\nB2,300\nC3,10\nZZZZ,10\n")
	require.Equal(t, 4, res.Session.TotalRecords)
	require.Equal(t, 3, res.Session.PendingRecords)

	return NewReviewService(store), uploads, res.Session
}

func recordAt(t *testing.T, uploads *UploadService, sessionID string, row int) model.PricingRecord {
	t.Helper()
	detail, err := uploads.GetSession(context.Background(), sessionID, model.RecordFilter{})
	require.NoError(t, err)
	for _, r := range detail.Records {
		if r.RowNumber == row {
			return r
		}
	}
	t.Fatalf("no record at row %d", row)
	return model.PricingRecord{}
}

func requireCountsConsistent(t *testing.T, s *model.UploadSession) {
	t.Helper()
	require.Equal(t, s.TotalRecords, s.ApprovedRecords+s.PendingRecords+s.RejectedRecords)
}

func TestReview_ApproveIsMonotonic(t *testing.T) {
	svc, uploads, sess := reviewFixture(t)
	ctx := context.Background()
	b2 := recordAt(t, uploads, sess.ID, 3)

	out, err := svc.ApproveRecord(ctx, sess.ID, b2.ID, "bob", "")
	require.NoError(t, err)
	require.Equal(t, model.RecordApproved, out.Record.Status)
	require.Equal(t, "bob", out.Record.ReviewedBy)
	require.Equal(t, 2, out.Session.ApprovedRecords)
	requireCountsConsistent(t, out.Session)

	_, err = svc.ApproveRecord(ctx, sess.ID, b2.ID, "bob", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.RejectRecord(ctx, sess.ID, b2.ID, "bob", "changed my mind")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.Equal(t, model.RecordApproved, recordAt(t, uploads, sess.ID, 3).Status)

	// Auto-approved records were never awaiting review.
	a1 := recordAt(t, uploads, sess.ID, 2)
	_, err = svc.ApproveRecord(ctx, sess.ID, a1.ID, "bob", "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReview_RejectRequiresNotes(t *testing.T) {
	svc, uploads, sess := reviewFixture(t)
	ctx := context.Background()
	c3 := recordAt(t, uploads, sess.ID, 4)

	for _, notes := range []string{"", "   ", "\t\n"} {
		_, err := svc.RejectRecord(ctx, sess.ID, c3.ID, "bob", notes)
		require.ErrorIs(t, err, ErrNotesRequired)
	}
	require.Equal(t, model.RecordRequiresReview, recordAt(t, uploads, sess.ID, 4).Status)

	out, err := svc.RejectRecord(ctx, sess.ID, c3.ID, "bob", "  new item, price not agreed ")
	require.NoError(t, err)
	require.Equal(t, model.RecordRejected, out.Record.Status)
	require.Equal(t, "new item, price not agreed", out.Record.ReviewNotes)
	require.Equal(t, 1, out.Session.RejectedRecords)
	requireCountsConsistent(t, out.Session)
}

func TestReview_RecordWithErrorsCannotBeApproved(t *testing.T) {
	svc, uploads, sess := reviewFixture(t)
	ctx := context.Background()
	zzzz := recordAt(t, uploads, sess.ID, 5)

	_, err := svc.ApproveRecord(ctx, sess.ID, zzzz.ID, "bob", "")
	require.ErrorIs(t, err, ErrNotApprovable)

	_, err = svc.RejectRecord(ctx, sess.ID, zzzz.ID, "bob", "unknown item")
	require.NoError(t, err)
}

func TestReview_UnknownRecord(t *testing.T) {
	svc, _, sess := reviewFixture(t)

	_, err := svc.ApproveRecord(context.Background(), sess.ID, "missing", "bob", "")
	require.ErrorIs(t, err, ErrRecordNotFound)
	_, err = svc.RejectRecord(context.Background(), "other-session", "missing", "bob", "x")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReview_BulkApproveAll(t *testing.T) {
	svc, uploads, sess := reviewFixture(t)
	ctx := context.Background()

	res, err := svc.BulkApproveAll(ctx, sess.ID, "bob", "batch sign-off")
	require.NoError(t, err)
	require.Equal(t, 2, res.Approved)
	require.Len(t, res.Failures, 1)
	require.Equal(t, "ZZZZ", res.Failures[0].ItemCode)
	require.Equal(t, 5, res.Failures[0].RowNumber)

	require.Equal(t, 3, res.Session.ApprovedRecords)
	require.Equal(t, 1, res.Session.PendingRecords)
	requireCountsConsistent(t, res.Session)

	// Running it again only meets the record that cannot be approved.
	res, err = svc.BulkApproveAll(ctx, sess.ID, "bob", "")
	require.NoError(t, err)
	require.Zero(t, res.Approved)
	require.Len(t, res.Failures, 1)

	require.Equal(t, model.RecordRequiresReview, recordAt(t, uploads, sess.ID, 5).Status)

	_, err = svc.BulkApproveAll(ctx, "missing", "bob", "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReview_CountInvariantAcrossMixedDecisions(t *testing.T) {
	svc, uploads, sess := reviewFixture(t)
	ctx := context.Background()

	_, err := svc.RejectRecord(ctx, sess.ID, recordAt(t, uploads, sess.ID, 5).ID, "bob", "unknown")
	require.NoError(t, err)
	_, err = svc.ApproveRecord(ctx, sess.ID, recordAt(t, uploads, sess.ID, 4).ID, "bob", "")
	require.NoError(t, err)
	res, err := svc.BulkApproveAll(ctx, sess.ID, "bob", "")
	require.NoError(t, err)

	require.Equal(t, 1, res.Approved)
	require.Empty(t, res.Failures)
	require.Equal(t, 3, res.Session.ApprovedRecords)
	require.Equal(t, 1, res.Session.RejectedRecords)
	require.Zero(t, res.Session.PendingRecords)
	requireCountsConsistent(t, res.Session)
}
