package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"erp-pricing-api/internal/service"
	"erp-pricing-api/internal/validation"
	"erp-pricing-api/pkg/apierror"
	"erp-pricing-api/pkg/response"
)

// ItemHandler handles item master requests.
type ItemHandler struct {
	items *service.ItemService
}

// NewItemHandler creates a new item handler.
func NewItemHandler(items *service.ItemService) *ItemHandler {
	return &ItemHandler{items: items}
}

// UpsertItemRequest replaces an item master row.
type UpsertItemRequest struct {
	Description   string           `json:"description" validate:"max=255"`
	CurrentPrice  *decimal.Decimal `json:"current_price"`
	EffectiveDate string           `json:"effective_date"`
}

// Get handles GET /api/v1/items/{item_code}
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.GetItem(r.Context(), chi.URLParam(r, "item_code"))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, item)
}

// Upsert handles PUT /api/v1/items/{item_code}
func (h *ItemHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, err)
		return
	}

	var price decimal.NullDecimal
	if req.CurrentPrice != nil {
		if req.CurrentPrice.IsNegative() {
			response.Error(w, apierror.ValidationError("invalid item",
				apierror.FieldError{Field: "current_price", Message: "must not be negative"}))
			return
		}
		price = decimal.NewNullDecimal(*req.CurrentPrice)
	}

	var effective *time.Time
	if req.EffectiveDate != "" {
		t, ok := validation.ParseDate(req.EffectiveDate)
		if !ok {
			response.Error(w, apierror.ValidationError("invalid item",
				apierror.FieldError{Field: "effective_date", Message: "is not a recognised date"}))
			return
		}
		effective = &t
	}

	item, err := h.items.UpsertItem(r.Context(), chi.URLParam(r, "item_code"), req.Description, price, effective)
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, item)
}

// History handles GET /api/v1/items/{item_code}/history
func (h *ItemHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.items.PriceHistory(r.Context(), chi.URLParam(r, "item_code"), queryInt(r, "limit", 100))
	if err != nil {
		response.Error(w, apiError(r, err))
		return
	}
	response.OK(w, history)
}
