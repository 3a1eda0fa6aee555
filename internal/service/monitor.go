package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"erp-pricing-api/internal/cache"
	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
)

const (
	// StillRunning is shown instead of a duration while an operation runs.
	StillRunning = "still running"
	// NotStarted is shown for an operation that has no start time yet.
	NotStarted = "not started"

	summaryCacheKey = "monitor:summary"
	recentLimit     = 20
)

// OperationView is a bulk operation with its derived display fields.
type OperationView struct {
	model.BulkOperation
	ProgressPercent float64  `json:"progress_percent"`
	Duration        string   `json:"duration"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Summary is the monitor's aggregate view.
type Summary struct {
	Counts      map[model.OperationStatus]int `json:"counts"`
	Total       int                           `json:"total"`
	Active      int                           `json:"active"`
	Operations  []OperationView               `json:"operations"`
	GeneratedAt time.Time                     `json:"generated_at"`
}

// MonitorService is the read-only view over bulk operations. The summary is
// served from the cache and is at most one TTL stale.
type MonitorService struct {
	ops   repository.OperationRepository
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMonitorService creates a monitor. A nil cache disables caching.
func NewMonitorService(ops repository.OperationRepository, c cache.Cache, ttl time.Duration) *MonitorService {
	if ops == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &MonitorService{
		ops:   ops,
		cache: c,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Progress returns processed/total as a percentage rounded to two places,
// or 0 for an empty operation.
func Progress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(processed)/float64(total)*10000) / 100
}

// DurationOf formats the elapsed time of an operation.
func DurationOf(startedAt, completedAt *time.Time) (string, *float64) {
	if startedAt == nil {
		return NotStarted, nil
	}
	if completedAt == nil {
		return StillRunning, nil
	}
	d := completedAt.Sub(*startedAt)
	if d < 0 {
		d = 0
	}
	secs := d.Seconds()
	return d.Round(time.Millisecond).String(), &secs
}

// View derives the display fields of op.
func View(op model.BulkOperation) OperationView {
	dur, secs := DurationOf(op.StartedAt, op.CompletedAt)
	return OperationView{
		BulkOperation:   op,
		ProgressPercent: Progress(op.ProcessedRecords, op.TotalRecords),
		Duration:        dur,
		DurationSeconds: secs,
	}
}

// Snapshot reads the current summary straight from the store.
func (s *MonitorService) Snapshot(ctx context.Context) (*Summary, error) {
	counts, err := s.ops.CountOperationsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	recent, _, err := s.ops.ListOperations(ctx, repository.OperationFilter{Limit: recentLimit})
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Counts:      make(map[model.OperationStatus]int, len(model.AllOperationStatuses)),
		Operations:  make([]OperationView, 0, len(recent)),
		GeneratedAt: s.now(),
	}
	for _, st := range model.AllOperationStatuses {
		n := counts[st]
		sum.Counts[st] = n
		sum.Total += n
		if st.IsActive() {
			sum.Active += n
		}
	}
	for _, op := range recent {
		sum.Operations = append(sum.Operations, View(op))
	}
	return sum, nil
}

// Summary returns the cached summary, computing it on a miss.
func (s *MonitorService) Summary(ctx context.Context) (*Summary, error) {
	if s.cache == nil {
		return s.Snapshot(ctx)
	}

	raw, err := s.cache.GetOrSet(ctx, summaryCacheKey, s.ttl, func() ([]byte, error) {
		sum, err := s.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sum)
	})
	if err != nil {
		return nil, err
	}

	var sum Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		logger.Warn("discarding unreadable monitor summary", zap.Error(err))
		_ = s.cache.Delete(ctx, summaryCacheKey)
		return s.Snapshot(ctx)
	}
	return &sum, nil
}

// Refresh recomputes the summary and overwrites the cached copy.
func (s *MonitorService) Refresh(ctx context.Context) (*Summary, error) {
	sum, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		raw, err := json.Marshal(sum)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, summaryCacheKey, raw, s.ttl); err != nil {
			logger.Warn("could not store monitor summary", zap.Error(err))
		}
	}
	return sum, nil
}

// GetOperation returns one operation with its display fields.
func (s *MonitorService) GetOperation(ctx context.Context, id string) (*OperationView, error) {
	op, err := s.ops.GetOperation(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOperationNotFound
		}
		return nil, err
	}
	v := View(*op)
	return &v, nil
}

// ListOperations returns a page of operations, newest first.
func (s *MonitorService) ListOperations(ctx context.Context, sessionID string, status model.OperationStatus, page, limit int) ([]OperationView, int64, error) {
	page, limit = normalizePage(page, limit)
	ops, total, err := s.ops.ListOperations(ctx, repository.OperationFilter{
		SessionID: sessionID,
		Status:    status,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return nil, 0, err
	}

	views := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		views = append(views, View(op))
	}
	return views, total, nil
}
