package importer

import "strings"

// Field is a logical column of a price upload.
type Field string

const (
	FieldItemCode      Field = "item_code"
	FieldProposedPrice Field = "proposed_price"
	FieldCostCategory  Field = "cost_category"
	FieldSupplier      Field = "supplier"
	FieldEffectiveDate Field = "effective_date"
	FieldChangeReason  Field = "change_reason"
)

// Alias maps a logical field to the header spellings accepted for it.
// Names are tried in order; the first one present with a non-empty value wins.
type Alias struct {
	Field    Field
	Names    []string
	Required bool
}

// Aliases is the column alias table. The first name of each entry is the
// canonical header written to the download template.
var Aliases = []Alias{
	{Field: FieldItemCode, Required: true, Names: []string{
		"Item Code", "item_code", "ItemCode", "Item", "Item No", "SKU",
	}},
	{Field: FieldProposedPrice, Required: true, Names: []string{
		"Proposed Price", "proposed_price", "ProposedPrice", "New Price", "new_price", "Price",
	}},
	{Field: FieldCostCategory, Names: []string{
		"Cost Category", "cost_category", "CostCategory", "Category",
	}},
	{Field: FieldSupplier, Names: []string{
		"Supplier", "supplier", "Vendor",
	}},
	{Field: FieldEffectiveDate, Names: []string{
		"Effective Date", "effective_date", "EffectiveDate", "Effective From",
	}},
	{Field: FieldChangeReason, Names: []string{
		"Change Reason", "change_reason", "ChangeReason", "Reason",
	}},
}

// TemplateHeader returns the canonical header row.
func TemplateHeader() []string {
	h := make([]string, len(Aliases))
	for i, a := range Aliases {
		h[i] = a.Names[0]
	}
	return h
}

// columnMap holds, per field, the column indexes of every alias found in the
// header, in alias order.
type columnMap map[Field][]int

func resolveColumns(header []string) columnMap {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalizeHeader(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	cols := make(columnMap, len(Aliases))
	for _, a := range Aliases {
		seen := make(map[int]bool)
		for _, name := range a.Names {
			if i, ok := index[normalizeHeader(name)]; ok && !seen[i] {
				cols[a.Field] = append(cols[a.Field], i)
				seen[i] = true
			}
		}
	}
	return cols
}

// value returns the first non-empty cell among the field's columns.
func (c columnMap) value(f Field, rec []string) string {
	for _, i := range c[f] {
		if i < len(rec) {
			if v := strings.TrimSpace(rec[i]); v != "" {
				return v
			}
		}
	}
	return ""
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
