// Package validation decides whether an uploaded price row can be applied
// automatically or needs a reviewer.
//
// Validate is a pure function of the candidate and the current-price lookup
// result, so re-running it on the same inputs always yields the same outcome.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"erp-pricing-api/internal/model"
)

// ReviewThreshold is the largest absolute percentage change that is approved
// automatically. A change must strictly exceed it to require review.
var ReviewThreshold = decimal.NewFromInt(50)

var hundred = decimal.NewFromInt(100)

const (
	MsgItemNotFound         = "item code not found in master"
	MsgPriceNotPositive     = "proposed price must be greater than zero"
	MsgNoCurrentPrice       = "item has no current price; change cannot be measured"
	MsgZeroCurrentPrice     = "current price is zero; percentage change is undefined"
	MsgInvalidEffectiveDate = "effective date %q is not a recognised date"
)

// Candidate is a parsed row awaiting validation.
type Candidate struct {
	RowNumber     int
	ItemCode      string
	ProposedPrice decimal.Decimal
	EffectiveDate string
}

// Lookup is the item master snapshot for a candidate's item code.
type Lookup struct {
	Found        bool
	CurrentPrice decimal.NullDecimal
}

// LookupFromItem builds a Lookup from an item master row, nil meaning unknown.
func LookupFromItem(item *model.Item) Lookup {
	if item == nil {
		return Lookup{}
	}
	return Lookup{Found: true, CurrentPrice: item.CurrentPrice}
}

// Result is the validation outcome for one candidate.
type Result struct {
	Status        model.RecordStatus
	CurrentPrice  decimal.NullDecimal
	PercentChange decimal.NullDecimal
	EffectiveDate *time.Time
	Errors        []string
	Warnings      []string
}

// Approvable reports whether a reviewer is allowed to approve the record.
func (r Result) Approvable() bool {
	return len(r.Errors) == 0
}

// Validate evaluates every rule against c. No rule short-circuits another.
func Validate(c Candidate, l Lookup) Result {
	res := Result{
		Errors:   []string{},
		Warnings: []string{},
	}

	if !l.Found || strings.TrimSpace(c.ItemCode) == "" {
		res.Errors = append(res.Errors, MsgItemNotFound)
	} else {
		res.CurrentPrice = l.CurrentPrice
	}

	if !c.ProposedPrice.IsPositive() {
		res.Errors = append(res.Errors, MsgPriceNotPositive)
	}

	if l.Found {
		switch {
		case !l.CurrentPrice.Valid:
			res.Warnings = append(res.Warnings, MsgNoCurrentPrice)
		case l.CurrentPrice.Decimal.IsZero():
			res.Warnings = append(res.Warnings, MsgZeroCurrentPrice)
		default:
			pct := PercentChange(l.CurrentPrice.Decimal, c.ProposedPrice)
			res.PercentChange = decimal.NewNullDecimal(pct)
			if pct.Abs().GreaterThan(ReviewThreshold) {
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"price change of %s%% exceeds the %s%% auto-approval threshold",
					pct.StringFixed(2), ReviewThreshold.String()))
			}
		}
	}

	if s := strings.TrimSpace(c.EffectiveDate); s != "" {
		if d, ok := ParseDate(s); ok {
			res.EffectiveDate = &d
		} else {
			res.Warnings = append(res.Warnings, fmt.Sprintf(MsgInvalidEffectiveDate, s))
		}
	}

	if len(res.Errors) == 0 && len(res.Warnings) == 0 {
		res.Status = model.RecordApproved
	} else {
		res.Status = model.RecordRequiresReview
	}
	return res
}

// PercentChange returns (proposed-current)/current*100. current must be non-zero.
func PercentChange(current, proposed decimal.Decimal) decimal.Decimal {
	return proposed.Sub(current).Div(current).Mul(hundred)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-Jan-2006",
	time.RFC3339,
}

// ParseDate accepts the date layouts commonly produced by spreadsheet exports.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
