package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/metrics"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
	"erp-pricing-api/internal/worker"
	"erp-pricing-api/pkg/uid"
)

// DefaultChangeReason is recorded in the audit log when a row gave none.
const DefaultChangeReason = "bulk price upload"

const recoverBatchSize = 100

// CommitStore is the persistence surface the commit pipeline needs.
type CommitStore interface {
	GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error)
	ListCommittable(ctx context.Context, sessionID string) ([]model.PricingRecord, error)
	ApplyPriceChange(ctx context.Context, change model.PriceChange) (*model.PriceChangeAudit, error)
	Ping(ctx context.Context) error
	repository.OperationRepository
}

// Submitter runs a task in the background.
type Submitter interface {
	SubmitDetached(task worker.Task) error
}

// CommitService turns the approved records of a session into an audited
// bulk operation. Records are applied one at a time in row order; a failed
// record is logged on the operation and the batch carries on.
type CommitService struct {
	store CommitStore
	pool  Submitter
	now   func() time.Time

	mu     sync.Mutex
	active map[string]struct{} // sessions with a run in flight
	wg     sync.WaitGroup
}

// NewCommitService creates a commit service. Returns nil without a store or pool.
func NewCommitService(store CommitStore, pool Submitter) *CommitService {
	if store == nil || pool == nil {
		return nil
	}
	return &CommitService{
		store:  store,
		pool:   pool,
		now:    func() time.Time { return time.Now().UTC() },
		active: make(map[string]struct{}),
	}
}

// StartCommit creates a PENDING operation for the session's approved,
// uncommitted records and schedules it on the worker pool.
func (s *CommitService) StartCommit(ctx context.Context, sessionID, actor string) (*model.BulkOperation, error) {
	return s.start(ctx, sessionID, actor, "")
}

// RetryOperation starts a new operation for whatever the failed or cancelled
// operation left uncommitted.
func (s *CommitService) RetryOperation(ctx context.Context, operationID, actor string) (*model.BulkOperation, error) {
	prev, err := s.getOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if prev.Status != model.OperationFailed && prev.Status != model.OperationCancelled {
		return nil, ErrNotRetryable
	}
	return s.start(ctx, prev.SessionID, actor, prev.ID)
}

// CancelOperation cancels an in-progress operation. Records committed before
// the cancellation stay committed.
func (s *CommitService) CancelOperation(ctx context.Context, operationID string) (*model.BulkOperation, error) {
	if _, err := s.getOperation(ctx, operationID); err != nil {
		return nil, err
	}

	at := s.now()
	err := s.store.TransitionOperation(ctx, repository.OperationTransition{
		ID:          operationID,
		From:        []model.OperationStatus{model.OperationInProgress},
		To:          model.OperationCancelled,
		CompletedAt: &at,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrNotCancellable
		}
		return nil, err
	}

	logger.Info("operation cancelled", zap.String("operation_id", operationID))
	return s.getOperation(ctx, operationID)
}

// RecoverInterrupted marks operations that a previous process left PENDING or
// IN_PROGRESS as FAILED so their sessions can be retried. Sessions with a run
// in flight in this process are left alone.
func (s *CommitService) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []model.OperationStatus{model.OperationPending, model.OperationInProgress} {
		offset := 0
		for {
			ops, _, err := s.store.ListOperations(ctx, repository.OperationFilter{
				Status: status,
				Limit:  recoverBatchSize,
				Offset: offset,
			})
			if err != nil {
				return recovered, fmt.Errorf("failed to list %s operations: %w", status, err)
			}
			if len(ops) == 0 {
				break
			}
			for i := range ops {
				op := &ops[i]
				if s.isActive(op.SessionID) {
					offset++
					continue
				}
				at := s.now()
				details := op.ErrorDetails
				details.Fatal = "interrupted before completion; retry to commit the remaining records"
				err := s.store.TransitionOperation(ctx, repository.OperationTransition{
					ID:          op.ID,
					From:        []model.OperationStatus{status},
					To:          model.OperationFailed,
					CompletedAt: &at,
					Errors:      &details,
				})
				if errors.Is(err, repository.ErrConflict) {
					continue
				}
				if err != nil {
					return recovered, err
				}
				recovered++
				metrics.OperationFinished(string(model.OperationFailed), -1)
				logger.Warn("interrupted operation marked failed",
					zap.String("operation_id", op.ID),
					zap.String("session_id", op.SessionID),
					zap.String("previous_status", string(status)),
				)
			}
		}
	}
	return recovered, nil
}

// Wait blocks until every scheduled run has returned.
func (s *CommitService) Wait() {
	s.wg.Wait()
}

func (s *CommitService) getOperation(ctx context.Context, id string) (*model.BulkOperation, error) {
	op, err := s.store.GetOperation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	return op, nil
}

func (s *CommitService) start(ctx context.Context, sessionID, actor, retryOf string) (*model.BulkOperation, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if !s.reserve(sessionID) {
		return nil, ErrOperationActive
	}
	scheduled := false
	defer func() {
		if !scheduled {
			s.release(sessionID)
		}
	}()

	records, err := s.store.ListCommittable(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNothingToCommit
	}

	op := &model.BulkOperation{
		ID:            uid.New(),
		OperationType: model.OperationPriceUpdate,
		Status:        model.OperationPending,
		SessionID:     sessionID,
		TotalRecords:  len(records),
		FileName:      session.FileName,
		FileSize:      session.FileSize,
		CreatedBy:     actor,
		CreatedAt:     s.now(),
		RetryOf:       retryOf,
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrOperationActive
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	// The run owns the reservation from here on.
	scheduled = true
	s.wg.Add(1)
	err = s.pool.SubmitDetached(func(ctx context.Context) {
		defer s.wg.Done()
		defer s.release(sessionID)
		s.run(ctx, op, records, actor)
	})
	if err != nil {
		s.wg.Done()
		s.release(sessionID)
		s.fail(op, fmt.Sprintf("could not schedule operation: %v", err), model.ErrorDetails{})
		if errors.Is(err, worker.ErrPoolClosed) {
			return nil, ErrWorkerPoolClosed
		}
		return nil, err
	}

	logger.Info("commit scheduled",
		zap.String("operation_id", op.ID),
		zap.String("session_id", sessionID),
		zap.Int("records", op.TotalRecords),
		zap.String("retry_of", retryOf),
	)
	return op, nil
}

func (s *CommitService) reserve(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[sessionID]; busy {
		return false
	}
	s.active[sessionID] = struct{}{}
	return true
}

func (s *CommitService) isActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.active[sessionID]
	return busy
}

func (s *CommitService) release(sessionID string) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

// run executes one operation. ctx is the worker's service context.
func (s *CommitService) run(ctx context.Context, op *model.BulkOperation, records []model.PricingRecord, actor string) {
	log := logger.With(zap.String("operation_id", op.ID), zap.String("session_id", op.SessionID))

	if ctx.Err() != nil {
		s.fail(op, fmt.Sprintf("interrupted before start: %v", ctx.Err()), model.ErrorDetails{})
		return
	}

	started := s.now()
	err := s.store.TransitionOperation(ctx, repository.OperationTransition{
		ID:        op.ID,
		From:      []model.OperationStatus{model.OperationPending},
		To:        model.OperationInProgress,
		StartedAt: &started,
	})
	if err != nil {
		log.Error("operation could not start", zap.Error(err))
		s.fail(op, fmt.Sprintf("could not start operation: %v", err), model.ErrorDetails{})
		return
	}

	var progress model.OperationProgress
	for i := range records {
		rec := &records[i]

		// Cancellation is cooperative: the status is re-read between records.
		current, err := s.store.GetOperation(ctx, op.ID)
		if err != nil {
			s.fail(op, fmt.Sprintf("could not read operation status before row %d: %v", rec.RowNumber, err), progress.Errors)
			return
		}
		if current.Status == model.OperationCancelled {
			log.Info("operation cancelled, stopping",
				zap.Int("processed", progress.Processed),
				zap.Int("failed", progress.Failed),
			)
			s.finished(model.OperationCancelled, started)
			return
		}
		if ctx.Err() != nil {
			s.fail(op, fmt.Sprintf("interrupted before row %d: %v", rec.RowNumber, ctx.Err()), progress.Errors)
			return
		}

		_, applyErr := s.store.ApplyPriceChange(ctx, s.priceChange(op, rec, actor))
		if applyErr != nil {
			progress.Failed++
			progress.Errors.Records = append(progress.Errors.Records, model.OperationError{
				RowNumber: rec.RowNumber,
				ItemCode:  rec.ItemCode,
				Error:     applyErr.Error(),
			})
			metrics.CommitRecord("failed")
			log.Warn("record commit failed",
				zap.Int("row_number", rec.RowNumber),
				zap.String("item_code", rec.ItemCode),
				zap.Error(applyErr),
			)

			if pingErr := s.store.Ping(ctx); pingErr != nil {
				if err := s.store.UpdateProgress(context.Background(), op.ID, progress); err != nil {
					log.Error("could not record progress of failed operation",
						zap.Int("processed", progress.Processed),
						zap.Int("failed", progress.Failed),
						zap.Error(err),
					)
				}
				s.fail(op, fmt.Sprintf("store unavailable at row %d (%s): %v", rec.RowNumber, rec.ItemCode, applyErr), progress.Errors)
				return
			}
		} else {
			progress.Processed++
			metrics.CommitRecord("committed")
		}

		if err := s.store.UpdateProgress(ctx, op.ID, progress); err != nil {
			s.fail(op, fmt.Sprintf("could not record progress after row %d: %v", rec.RowNumber, err), progress.Errors)
			return
		}
	}

	completed := s.now()
	err = s.store.TransitionOperation(ctx, repository.OperationTransition{
		ID:          op.ID,
		From:        []model.OperationStatus{model.OperationInProgress},
		To:          model.OperationCompleted,
		CompletedAt: &completed,
		Summary: map[string]any{
			"total_records":     op.TotalRecords,
			"processed_records": progress.Processed,
			"failed_records":    progress.Failed,
		},
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Cancelled after the last record was written.
			log.Info("operation finished after cancellation")
			s.finished(model.OperationCancelled, started)
			return
		}
		s.fail(op, fmt.Sprintf("could not complete operation: %v", err), progress.Errors)
		return
	}

	s.finished(model.OperationCompleted, started)
	log.Info("operation completed",
		zap.Int("processed", progress.Processed),
		zap.Int("failed", progress.Failed),
		zap.Duration("duration", completed.Sub(started)),
	)
}

func (s *CommitService) priceChange(op *model.BulkOperation, rec *model.PricingRecord, actor string) model.PriceChange {
	reason := rec.ChangeReason
	if reason == "" {
		reason = DefaultChangeReason
	}
	effective := s.now().Truncate(24 * time.Hour)
	if rec.EffectiveDate != nil {
		effective = *rec.EffectiveDate
	}
	return model.PriceChange{
		ItemCode:      rec.ItemCode,
		NewPrice:      rec.ProposedPrice,
		EffectiveDate: effective,
		Reason:        reason,
		Actor:         actor,
		OperationID:   op.ID,
		RecordID:      rec.ID,
	}
}

// fail marks the operation FAILED with the triggering error. It uses its own
// context because the worker context may already be cancelled.
func (s *CommitService) fail(op *model.BulkOperation, fatal string, details model.ErrorDetails) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	at := s.now()
	details.Fatal = fatal
	err := s.store.TransitionOperation(ctx, repository.OperationTransition{
		ID:          op.ID,
		From:        []model.OperationStatus{model.OperationPending, model.OperationInProgress},
		To:          model.OperationFailed,
		CompletedAt: &at,
		Errors:      &details,
	})
	if err != nil {
		logger.Error("could not mark operation failed",
			zap.String("operation_id", op.ID),
			zap.String("fatal", fatal),
			zap.Error(err),
		)
		return
	}
	metrics.OperationFinished(string(model.OperationFailed), -1)
	logger.Error("operation failed", zap.String("operation_id", op.ID), zap.String("fatal", fatal))
}

func (s *CommitService) finished(status model.OperationStatus, started time.Time) {
	metrics.OperationFinished(string(status), s.now().Sub(started).Seconds())
}
