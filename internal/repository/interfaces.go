package repository

import (
	"context"
	"errors"
	"time"

	"erp-pricing-api/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write matched no row because
	// the row is no longer in the expected state.
	ErrConflict = errors.New("state conflict")
)

// ItemRepository reads and maintains the item master.
type ItemRepository interface {
	// GetItem returns nil, nil when the item does not exist.
	GetItem(ctx context.Context, itemCode string) (*model.Item, error)

	UpsertItem(ctx context.Context, item *model.Item) error
}

// UploadRepository stores upload sessions and their records.
type UploadRepository interface {
	// CreateSession persists a session and all of its records atomically.
	CreateSession(ctx context.Context, session *model.UploadSession, records []model.PricingRecord) error

	GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error)

	ListSessions(ctx context.Context, limit, offset int) ([]model.UploadSession, int64, error)

	ListRecords(ctx context.Context, sessionID string, filter model.RecordFilter) ([]model.PricingRecord, error)

	GetRecord(ctx context.Context, sessionID, recordID string) (*model.PricingRecord, error)

	// ApplyReview moves a record out of REQUIRES_REVIEW and recomputes the
	// session counts in the same transaction. ErrConflict means the record had
	// already left REQUIRES_REVIEW.
	ApplyReview(ctx context.Context, decision model.ReviewDecision) (*model.UploadSession, error)

	// ListCommittable returns APPROVED records not yet committed, by row number.
	ListCommittable(ctx context.Context, sessionID string) ([]model.PricingRecord, error)
}

// OperationFilter narrows operation listings.
type OperationFilter struct {
	SessionID string
	Status    model.OperationStatus
	Limit     int
	Offset    int
}

// OperationTransition is a conditional status change of a bulk operation.
// Nil fields are left untouched.
type OperationTransition struct {
	ID          string
	From        []model.OperationStatus
	To          model.OperationStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
	Errors      *model.ErrorDetails
	Summary     map[string]any
}

// OperationRepository stores bulk operations.
type OperationRepository interface {
	// CreateOperation fails with ErrConflict if the session already has an
	// active operation.
	CreateOperation(ctx context.Context, op *model.BulkOperation) error

	GetOperation(ctx context.Context, id string) (*model.BulkOperation, error)

	ListOperations(ctx context.Context, filter OperationFilter) ([]model.BulkOperation, int64, error)

	// TransitionOperation fails with ErrConflict when the operation is not in
	// one of the From states.
	TransitionOperation(ctx context.Context, t OperationTransition) error

	UpdateProgress(ctx context.Context, id string, progress model.OperationProgress) error

	CountOperationsByStatus(ctx context.Context) (map[model.OperationStatus]int, error)
}

// PricingRepository writes committed prices and their audit trail.
type PricingRepository interface {
	// ApplyPriceChange writes the new price, appends the audit entry and marks
	// the source record committed, all in one transaction. The old price is
	// read inside the transaction.
	ApplyPriceChange(ctx context.Context, change model.PriceChange) (*model.PriceChangeAudit, error)

	ListPriceHistory(ctx context.Context, itemCode string, limit int) ([]model.PriceChangeAudit, error)
}

// Store is the full persistence surface backed by one database.
type Store interface {
	ItemRepository
	UploadRepository
	OperationRepository
	PricingRepository

	Ping(ctx context.Context) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
	Close() error
}
