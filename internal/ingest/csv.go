// Package ingest imports broker transaction exports in CSV form.
//
// Expected header (column order is free, names are case-insensitive):
//
//	ticker,name,sector,quantity,avg_cost,trade_date,side,fees
//
// ticker, name, quantity and avg_cost are required. side defaults to BUY,
// fees to zero and a blank trade_date to the import date.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
	"github.com/taxlot/cgt-engine/internal/security"
)

var (
	ErrMissingHeader = errors.New("ingest: missing required header")
	ErrInvalidRow    = errors.New("ingest: invalid row")
)

var requiredHeaders = []string{"ticker", "name", "quantity", "avg_cost"}

// dateLayouts are tried in order; day-first wins for ambiguous UK dates.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2006/01/02",
}

// Row is one parsed CSV line.
type Row struct {
	Line      int
	Ticker    string
	Name      string
	Sector    string
	Side      model.Side
	TradeDate time.Time
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fees      decimal.Decimal
}

// RowError reports why one line was rejected.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Parser reads transaction rows.
type Parser struct {
	// Today is used for rows without a trade date.
	Today func() time.Time
}

// Parse reads every row of r. Malformed rows are returned as RowErrors and
// do not stop the parse; a missing header or unreadable input does.
func (p *Parser) Parse(r io.Reader) ([]Row, []*RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		cols[h] = i
	}
	var missing []string
	for _, h := range requiredHeaders {
		if _, ok := cols[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingHeader, strings.Join(missing, ", "))
	}

	var rows []Row
	var rowErrs []*RowError
	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, &RowError{Line: line, Err: err})
				continue
			}
			return nil, nil, fmt.Errorf("read row %d: %w", line, err)
		}
		if blank(record) {
			continue
		}

		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}
		row, err := p.parseRow(line, get)
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Line: line, Err: err})
			continue
		}
		rows = append(rows, row)
	}
	return rows, rowErrs, nil
}

func (p *Parser) parseRow(line int, get func(string) string) (Row, error) {
	row := Row{Line: line, Name: get("name"), Sector: get("sector")}

	ticker, err := security.NormalizeTicker(get("ticker"))
	if err != nil {
		return row, err
	}
	row.Ticker = ticker
	if row.Name == "" {
		return row, fmt.Errorf("%w: name is required", ErrInvalidRow)
	}

	row.Side = model.Buy
	if side := strings.ToUpper(get("side")); side != "" {
		row.Side = model.Side(side)
		if !row.Side.Valid() {
			return row, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidRow, side)
		}
	}

	if row.Quantity, err = parseAmount(get("quantity")); err != nil {
		return row, fmt.Errorf("quantity: %w", err)
	}
	if row.Price, err = parseAmount(get("avg_cost")); err != nil {
		return row, fmt.Errorf("avg_cost: %w", err)
	}
	if row.Fees, err = parseAmount(get("fees")); err != nil {
		return row, fmt.Errorf("fees: %w", err)
	}
	if row.TradeDate, err = p.parseDate(get("trade_date")); err != nil {
		return row, err
	}
	return row, nil
}

// parseAmount strips currency symbols and thousands separators. Blank is
// zero.
func parseAmount(v string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("£", "", "$", "", ",", "", " ", "").Replace(v)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid decimal value %q", ErrInvalidRow, v)
	}
	return d, nil
}

func (p *Parser) parseDate(v string) (time.Time, error) {
	if v == "" {
		today := time.Now
		if p.Today != nil {
			today = p.Today
		}
		return model.Day(today()), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date format %q", ErrInvalidRow, v)
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
