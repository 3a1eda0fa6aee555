package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp-pricing-api/internal/model"
	"erp-pricing-api/internal/repository"
)

// ItemStore is the persistence surface of ItemService.
type ItemStore interface {
	repository.ItemRepository
	ListPriceHistory(ctx context.Context, itemCode string, limit int) ([]model.PriceChangeAudit, error)
}

// ItemService handles item master lookups and maintenance.
type ItemService struct {
	store ItemStore
	now   func() time.Time
}

// NewItemService creates a new item service.
// Returns nil if store is nil (required dependency).
func NewItemService(store ItemStore) *ItemService {
	if store == nil {
		return nil
	}
	return &ItemService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GetItem returns an item by code.
func (s *ItemService) GetItem(ctx context.Context, itemCode string) (*model.Item, error) {
	item, err := s.store.GetItem(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// UpsertItem creates or replaces an item master row. This is master-data
// maintenance and does not write an audit entry; prices normally change
// through a commit.
func (s *ItemService) UpsertItem(ctx context.Context, itemCode, description string, price decimal.NullDecimal, effective *time.Time) (*model.Item, error) {
	item := &model.Item{
		ItemCode:      strings.TrimSpace(itemCode),
		Description:   strings.TrimSpace(description),
		CurrentPrice:  price,
		EffectiveDate: effective,
		UpdatedAt:     s.now(),
	}
	if err := s.store.UpsertItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// PriceHistory returns the audit trail of an item, newest first.
func (s *ItemService) PriceHistory(ctx context.Context, itemCode string, limit int) ([]model.PriceChangeAudit, error) {
	if _, err := s.GetItem(ctx, itemCode); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.store.ListPriceHistory(ctx, itemCode, limit)
}
