package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/metrics"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
)

// ReviewService applies reviewer decisions to flagged records.
//
// A record leaves REQUIRES_REVIEW exactly once. Every decision is a
// conditional update that also recomputes the session counts, so
// approved + pending + rejected always equals the session total.
type ReviewService struct {
	uploads repository.UploadRepository
	now     func() time.Time
}

// NewReviewService creates a review service.
func NewReviewService(uploads repository.UploadRepository) *ReviewService {
	if uploads == nil {
		return nil
	}
	return &ReviewService{
		uploads: uploads,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ReviewResult is the record after a decision plus the refreshed session.
type ReviewResult struct {
	Record  *model.PricingRecord `json:"record"`
	Session *model.UploadSession `json:"session"`
}

// ApproveRecord approves a flagged record. Notes are optional.
func (s *ReviewService) ApproveRecord(ctx context.Context, sessionID, recordID, actor, notes string) (*ReviewResult, error) {
	rec, err := s.reviewable(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	if !rec.Approvable() {
		return nil, ErrNotApprovable
	}
	return s.decide(ctx, rec, model.RecordApproved, actor, strings.TrimSpace(notes))
}

// RejectRecord rejects a flagged record. A non-blank reason is required.
func (s *ReviewService) RejectRecord(ctx context.Context, sessionID, recordID, actor, notes string) (*ReviewResult, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, ErrNotesRequired
	}
	rec, err := s.reviewable(ctx, sessionID, recordID)
	if err != nil {
		return nil, err
	}
	return s.decide(ctx, rec, model.RecordRejected, actor, notes)
}

// BulkFailure explains why one record was skipped by BulkApproveAll.
type BulkFailure struct {
	RecordID  string `json:"record_id"`
	RowNumber int    `json:"row_number"`
	ItemCode  string `json:"item_code"`
	Reason    string `json:"reason"`
}

// BulkApproveResult reports the outcome of BulkApproveAll.
type BulkApproveResult struct {
	Approved int                  `json:"approved"`
	Failures []BulkFailure        `json:"failures"`
	Session  *model.UploadSession `json:"session"`
}

// BulkApproveAll approves every flagged record of a session independently.
// A record that cannot be approved is reported and does not stop the rest.
func (s *ReviewService) BulkApproveAll(ctx context.Context, sessionID, actor, notes string) (*BulkApproveResult, error) {
	session, err := s.uploads.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	flagged, err := s.uploads.ListRecords(ctx, sessionID, model.RecordFilter{Status: model.RecordRequiresReview})
	if err != nil {
		return nil, err
	}

	res := &BulkApproveResult{Failures: []BulkFailure{}, Session: session}
	notes = strings.TrimSpace(notes)
	for i := range flagged {
		rec := &flagged[i]
		if !rec.Approvable() {
			res.Failures = append(res.Failures, bulkFailure(rec, ErrNotApprovable))
			continue
		}
		out, err := s.decide(ctx, rec, model.RecordApproved, actor, notes)
		if err != nil {
			res.Failures = append(res.Failures, bulkFailure(rec, err))
			continue
		}
		res.Approved++
		res.Session = out.Session
	}

	logger.Info("bulk approve finished",
		zap.String("session_id", sessionID),
		zap.Int("approved", res.Approved),
		zap.Int("failed", len(res.Failures)),
	)
	return res, nil
}

func bulkFailure(rec *model.PricingRecord, err error) BulkFailure {
	return BulkFailure{RecordID: rec.ID, RowNumber: rec.RowNumber, ItemCode: rec.ItemCode, Reason: err.Error()}
}

func (s *ReviewService) reviewable(ctx context.Context, sessionID, recordID string) (*model.PricingRecord, error) {
	rec, err := s.uploads.GetRecord(ctx, sessionID, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if rec.Status != model.RecordRequiresReview {
		return nil, ErrInvalidTransition
	}
	return rec, nil
}

func (s *ReviewService) decide(ctx context.Context, rec *model.PricingRecord, status model.RecordStatus, actor, notes string) (*ReviewResult, error) {
	at := s.now()
	session, err := s.uploads.ApplyReview(ctx, model.ReviewDecision{
		SessionID: rec.SessionID,
		RecordID:  rec.ID,
		Status:    status,
		Notes:     notes,
		Actor:     actor,
		At:        at,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	metrics.ReviewDecision(string(status))
	logger.Info("record reviewed",
		zap.String("session_id", rec.SessionID),
		zap.String("record_id", rec.ID),
		zap.Int("row_number", rec.RowNumber),
		zap.String("item_code", rec.ItemCode),
		zap.String("status", string(status)),
		zap.String("actor", actor),
	)

	updated := *rec
	updated.Status = status
	updated.ReviewNotes = notes
	updated.ReviewedBy = actor
	updated.ReviewedAt = &at
	return &ReviewResult{Record: &updated, Session: session}, nil
}
