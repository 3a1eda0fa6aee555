package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationType identifies the kind of bulk write.
type OperationType string

const OperationPriceUpdate OperationType = "PRICE_UPDATE"

// OperationStatus is the lifecycle state of a bulk operation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "PENDING"
	OperationInProgress OperationStatus = "IN_PROGRESS"
	OperationCompleted  OperationStatus = "COMPLETED"
	OperationFailed     OperationStatus = "FAILED"
	OperationCancelled  OperationStatus = "CANCELLED"
)

// IsActive reports whether the operation may still write.
func (s OperationStatus) IsActive() bool {
	return s == OperationPending || s == OperationInProgress
}

// IsTerminal reports whether the operation has finished.
func (s OperationStatus) IsTerminal() bool {
	return s == OperationCompleted || s == OperationFailed || s == OperationCancelled
}

// AllOperationStatuses lists statuses in display order.
var AllOperationStatuses = []OperationStatus{
	OperationPending, OperationInProgress, OperationCompleted, OperationFailed, OperationCancelled,
}

// OperationError describes why one record could not be committed.
type OperationError struct {
	RowNumber int    `json:"row_number"`
	ItemCode  string `json:"item_code"`
	Error     string `json:"error"`
}

// ErrorDetails is the persisted failure log of an operation.
type ErrorDetails struct {
	Records []OperationError `json:"records,omitempty"`
	Fatal   string           `json:"fatal,omitempty"`
}

// BulkOperation is an audited batch write produced from a reviewed session.
type BulkOperation struct {
	ID               string          `json:"id"`
	OperationType    OperationType   `json:"operation_type"`
	Status           OperationStatus `json:"status"`
	SessionID        string          `json:"session_id"`
	TotalRecords     int             `json:"total_records"`
	ProcessedRecords int             `json:"processed_records"`
	FailedRecords    int             `json:"failed_records"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ErrorDetails     ErrorDetails    `json:"error_details"`
	Summary          map[string]any  `json:"summary,omitempty"`
	FileName         string          `json:"file_name"`
	FileSize         int64           `json:"file_size"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	RetryOf          string          `json:"retry_of,omitempty"`
}

// OperationProgress is a counter update written while an operation runs.
type OperationProgress struct {
	Processed int
	Failed    int
	Errors    ErrorDetails
}

// PriceChange is one committed write against the pricing store.
type PriceChange struct {
	ItemCode      string
	NewPrice      decimal.Decimal
	EffectiveDate time.Time
	Reason        string
	Actor         string
	OperationID   string
	RecordID      string
}

// PriceChangeAudit is an append-only record of a committed price change.
type PriceChangeAudit struct {
	ID            string              `json:"id"`
	ItemCode      string              `json:"item_code"`
	OldPrice      decimal.NullDecimal `json:"old_price"`
	NewPrice      decimal.Decimal     `json:"new_price"`
	Reason        string              `json:"reason"`
	Actor         string              `json:"actor"`
	OperationID   string              `json:"operation_id"`
	RecordID      string              `json:"record_id"`
	EffectiveDate time.Time           `json:"effective_date"`
	CreatedAt     time.Time           `json:"created_at"`
}
