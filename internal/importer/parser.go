// Package importer turns an uploaded price CSV into normalized candidate rows.
//
// Rows that lack an item code or a positive price are dropped without being
// reported as records; DroppedRows keeps the tally.
package importer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DefaultMaxFileSize is the upload ceiling (10 MiB).
const DefaultMaxFileSize int64 = 10 << 20

var (
	ErrInvalidExtension = errors.New("only .csv files are accepted")
	ErrFileTooLarge     = errors.New("file exceeds the maximum upload size")
	ErrMissingHeader    = errors.New("file has no header row")
	ErrNoRecords        = errors.New("file contains no valid price rows")
)

// MissingColumnError reports a required field with no matching header.
type MissingColumnError struct {
	Field Field
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("missing required column for %s", e.Field)
}

// Row is a normalized data row. RowNumber counts the header as row 1.
type Row struct {
	RowNumber     int
	ItemCode      string
	ProposedPrice decimal.Decimal
	CostCategory  string
	Supplier      string
	EffectiveDate string
	ChangeReason  string
}

// Result is the outcome of parsing one file.
type Result struct {
	FileName    string
	FileSize    int64
	Rows        []Row
	DataRows    int
	DroppedRows int
}

// Parser parses price upload files.
type Parser struct {
	maxFileSize int64
}

// NewParser creates a parser. A non-positive limit selects DefaultMaxFileSize.
func NewParser(maxFileSize int64) *Parser {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Parser{maxFileSize: maxFileSize}
}

// MaxFileSize returns the configured upload ceiling in bytes.
func (p *Parser) MaxFileSize() int64 {
	return p.maxFileSize
}

// CheckFile rejects a file by name and declared size before any row is read.
func (p *Parser) CheckFile(fileName string, size int64) error {
	if !strings.EqualFold(filepath.Ext(fileName), ".csv") {
		return ErrInvalidExtension
	}
	if size > p.maxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// Parse reads a CSV upload. The declared size is checked up front and the
// stream itself is capped at the same limit.
func (p *Parser) Parse(fileName string, size int64, r io.Reader) (*Result, error) {
	if err := p.CheckFile(fileName, size); err != nil {
		return nil, err
	}

	limited := &io.LimitedReader{R: r, N: p.maxFileSize + 1}
	br := stripUTF8BOM(bufio.NewReader(limited))

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	cols := resolveColumns(header)
	for _, a := range Aliases {
		if a.Required && len(cols[a.Field]) == 0 {
			return nil, &MissingColumnError{Field: a.Field}
		}
	}

	res := &Result{FileName: fileName, FileSize: size}
	// Row numbers are file lines, so blank lines the csv reader skips still
	// count and numbers match what a spreadsheet shows.
	rowNumber := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				rowNumber = pe.StartLine
				res.DataRows++
				res.DroppedRows++
				continue
			}
			return nil, fmt.Errorf("read row after %d: %w", rowNumber, err)
		}
		rowNumber, _ = cr.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		res.DataRows++

		row, ok := normalizeRow(cols, rec)
		if !ok {
			res.DroppedRows++
			continue
		}
		row.RowNumber = rowNumber
		res.Rows = append(res.Rows, row)
	}

	if limited.N <= 0 {
		return nil, ErrFileTooLarge
	}
	if len(res.Rows) == 0 {
		return nil, ErrNoRecords
	}
	return res, nil
}

func normalizeRow(cols columnMap, rec []string) (Row, bool) {
	code := cols.value(FieldItemCode, rec)
	if code == "" {
		return Row{}, false
	}
	price, ok := ParsePrice(cols.value(FieldProposedPrice, rec))
	if !ok {
		return Row{}, false
	}
	return Row{
		ItemCode:      code,
		ProposedPrice: price,
		CostCategory:  cols.value(FieldCostCategory, rec),
		Supplier:      cols.value(FieldSupplier, rec),
		EffectiveDate: cols.value(FieldEffectiveDate, rec),
		ChangeReason:  cols.value(FieldChangeReason, rec),
	}, true
}

// ParsePrice parses a positive price, tolerating a leading currency symbol
// and thousands separators.
func ParsePrice(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£₹ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func readHeader(r *csv.Reader) ([]string, error) {
	h, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrMissingHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range h {
		h[i] = strings.TrimSpace(h[i])
		if !utf8.ValidString(h[i]) {
			return nil, fmt.Errorf("invalid header encoding")
		}
	}
	return h, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
