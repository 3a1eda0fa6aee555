package service

import "errors"

var (
	ErrSessionNotFound   = errors.New("upload session not found")
	ErrRecordNotFound    = errors.New("record not found")
	ErrOperationNotFound = errors.New("operation not found")
	ErrItemNotFound      = errors.New("item not found")

	// ErrInvalidTransition is returned when a record is no longer awaiting review.
	ErrInvalidTransition = errors.New("record is not awaiting review")
	ErrNotApprovable     = errors.New("record has validation errors and cannot be approved")
	ErrNotesRequired     = errors.New("a reason is required to reject a record")

	ErrNothingToCommit  = errors.New("session has no approved records left to commit")
	ErrOperationActive  = errors.New("session already has an operation in progress")
	ErrNotCancellable   = errors.New("only an in-progress operation can be cancelled")
	ErrNotRetryable     = errors.New("only a failed or cancelled operation can be retried")
	ErrWorkerPoolClosed = errors.New("commit workers are shutting down")
)
