package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"erp-pricing-api/internal/importer"
	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/metrics"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
	"erp-pricing-api/internal/validation"
	"erp-pricing-api/pkg/uid"
)

// UploadService parses, validates and stores price upload files.
type UploadService struct {
	parser  *importer.Parser
	items   repository.ItemRepository
	uploads repository.UploadRepository
	now     func() time.Time
}

// NewUploadService creates an upload service.
// Returns nil if a required repository is missing.
func NewUploadService(parser *importer.Parser, items repository.ItemRepository, uploads repository.UploadRepository) *UploadService {
	if items == nil || uploads == nil {
		return nil
	}
	if parser == nil {
		parser = importer.NewParser(0)
	}
	return &UploadService{
		parser:  parser,
		items:   items,
		uploads: uploads,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Parser exposes the configured parser for pre-read checks.
func (s *UploadService) Parser() *importer.Parser {
	return s.parser
}

// UploadResult summarizes one accepted upload.
type UploadResult struct {
	Session        *model.UploadSession `json:"session"`
	ParsedRows     int                  `json:"parsed_rows"`
	DroppedRows    int                  `json:"dropped_rows"`
	AutoApproved   int                  `json:"auto_approved"`
	RequiresReview int                  `json:"requires_review"`
}

// Upload parses the file, validates every row against the item master and
// persists the session. Each item code is looked up once, so duplicate rows
// are all validated against the same stored price.
func (s *UploadService) Upload(ctx context.Context, fileName string, size int64, r io.Reader, actor string) (*UploadResult, error) {
	parsed, err := s.parser.Parse(fileName, size, r)
	if err != nil {
		metrics.UploadRejected()
		return nil, err
	}

	now := s.now()
	session := &model.UploadSession{
		ID:        uid.New(),
		FileName:  fileName,
		FileSize:  size,
		CreatedBy: actor,
		CreatedAt: now,
	}

	snapshot := make(map[string]validation.Lookup)
	records := make([]model.PricingRecord, 0, len(parsed.Rows))
	res := &UploadResult{ParsedRows: len(parsed.Rows), DroppedRows: parsed.DroppedRows}

	for _, row := range parsed.Rows {
		lookup, ok := snapshot[row.ItemCode]
		if !ok {
			item, err := s.items.GetItem(ctx, row.ItemCode)
			if err != nil {
				return nil, fmt.Errorf("lookup item %s: %w", row.ItemCode, err)
			}
			lookup = validation.LookupFromItem(item)
			snapshot[row.ItemCode] = lookup
		}

		v := validation.Validate(validation.Candidate{
			RowNumber:     row.RowNumber,
			ItemCode:      row.ItemCode,
			ProposedPrice: row.ProposedPrice,
			EffectiveDate: row.EffectiveDate,
		}, lookup)

		records = append(records, model.PricingRecord{
			ID:            uid.New(),
			SessionID:     session.ID,
			RowNumber:     row.RowNumber,
			ItemCode:      row.ItemCode,
			CurrentPrice:  v.CurrentPrice,
			ProposedPrice: row.ProposedPrice,
			PercentChange: v.PercentChange,
			Status:        v.Status,
			Errors:        v.Errors,
			Warnings:      v.Warnings,
			CostCategory:  row.CostCategory,
			Supplier:      row.Supplier,
			EffectiveDate: v.EffectiveDate,
			ChangeReason:  row.ChangeReason,
			CreatedAt:     now,
		})

		if v.Status == model.RecordApproved {
			res.AutoApproved++
		} else {
			res.RequiresReview++
		}
		metrics.RecordValidated(string(v.Status))
	}

	if err := s.uploads.CreateSession(ctx, session, records); err != nil {
		return nil, fmt.Errorf("save upload session: %w", err)
	}

	metrics.UploadAccepted()
	metrics.RowsDropped(parsed.DroppedRows)
	logger.Info("price upload accepted",
		zap.String("session_id", session.ID),
		zap.String("file_name", fileName),
		zap.Int("records", len(records)),
		zap.Int("dropped_rows", parsed.DroppedRows),
		zap.Int("auto_approved", res.AutoApproved),
		zap.Int("requires_review", res.RequiresReview),
	)

	res.Session = session
	return res, nil
}

// SessionDetail is a session together with its records.
type SessionDetail struct {
	Session *model.UploadSession  `json:"session"`
	Records []model.PricingRecord `json:"records"`
}

// GetSession returns a session and its records, optionally filtered by status.
func (s *UploadService) GetSession(ctx context.Context, sessionID string, filter model.RecordFilter) (*SessionDetail, error) {
	session, err := s.uploads.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	records, err := s.uploads.ListRecords(ctx, sessionID, filter)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Session: session, Records: records}, nil
}

// ListSessions returns a page of sessions, newest first.
func (s *UploadService) ListSessions(ctx context.Context, page, limit int) ([]model.UploadSession, int64, error) {
	page, limit = normalizePage(page, limit)
	return s.uploads.ListSessions(ctx, limit, (page-1)*limit)
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return page, limit
}
