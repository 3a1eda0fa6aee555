package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is an item master row with its live price.
type Item struct {
	ItemCode      string              `json:"item_code"`
	Description   string              `json:"description,omitempty"`
	CurrentPrice  decimal.NullDecimal `json:"current_price"`
	EffectiveDate *time.Time          `json:"effective_date,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
