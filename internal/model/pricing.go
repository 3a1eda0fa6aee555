package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus is the review state of a single uploaded price row.
type RecordStatus string

const (
	RecordPending        RecordStatus = "PENDING"
	RecordApproved       RecordStatus = "APPROVED"
	RecordRejected       RecordStatus = "REJECTED"
	RecordRequiresReview RecordStatus = "REQUIRES_REVIEW"
)

// IsValid reports whether s is a known record status.
func (s RecordStatus) IsValid() bool {
	switch s {
	case RecordPending, RecordApproved, RecordRejected, RecordRequiresReview:
		return true
	}
	return false
}

// IsTerminal reports whether the record has left the review queue.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordApproved || s == RecordRejected
}

// PricingRecord is one validated row of an upload.
type PricingRecord struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"session_id"`
	RowNumber     int                 `json:"row_number"`
	ItemCode      string              `json:"item_code"`
	CurrentPrice  decimal.NullDecimal `json:"current_price"`
	ProposedPrice decimal.Decimal     `json:"proposed_price"`
	PercentChange decimal.NullDecimal `json:"percent_change"`
	Status        RecordStatus        `json:"status"`
	Errors        []string            `json:"errors"`
	Warnings      []string            `json:"warnings"`

	CostCategory  string     `json:"cost_category,omitempty"`
	Supplier      string     `json:"supplier,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	ChangeReason  string     `json:"change_reason,omitempty"`

	ReviewNotes string     `json:"review_notes,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	OperationID string     `json:"operation_id,omitempty"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Approvable reports whether a reviewer may approve the record.
func (r *PricingRecord) Approvable() bool {
	return r.Status == RecordRequiresReview && len(r.Errors) == 0
}

// UploadSession groups the records produced by one uploaded file.
type UploadSession struct {
	ID              string    `json:"id"`
	FileName        string    `json:"file_name"`
	FileSize        int64     `json:"file_size"`
	TotalRecords    int       `json:"total_records"`
	ApprovedRecords int       `json:"approved_records"`
	PendingRecords  int       `json:"pending_records"`
	RejectedRecords int       `json:"rejected_records"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionCounts is the derived per-status tally of a session.
type SessionCounts struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

// Consistent reports whether the counts add up to the total.
func (c SessionCounts) Consistent() bool {
	return c.Approved+c.Pending+c.Rejected == c.Total
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	Status RecordStatus
}

// ReviewDecision is a single transition out of REQUIRES_REVIEW.
type ReviewDecision struct {
	SessionID string
	RecordID  string
	Status    RecordStatus
	Notes     string
	Actor     string
	At        time.Time
}
