// Package taxyear maps UK tax years ("2024-25") to the date ranges they
// cover. A UK tax year runs from 6 April to 5 April inclusive.
package taxyear

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxlot/cgt-engine/internal/model"
)

// ErrInvalidTaxYear is returned when a tax year label cannot be parsed.
var ErrInvalidTaxYear = errors.New("taxyear: invalid tax year")

// TaxYear is identified by the calendar year in which it starts.
type TaxYear struct {
	StartYear int
}

// Parse reads a label of the form "2024-25". The suffix must be the two
// digits of the following year.
func Parse(label string) (TaxYear, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(label), "-")
	if !ok || len(start) != 4 || len(end) != 2 {
		return TaxYear{}, fmt.Errorf("%w: %q (want YYYY-YY)", ErrInvalidTaxYear, label)
	}
	y, err := strconv.Atoi(start)
	if err != nil {
		return TaxYear{}, fmt.Errorf("%w: %q", ErrInvalidTaxYear, label)
	}
	suffix, err := strconv.Atoi(end)
	if err != nil || suffix != (y+1)%100 {
		return TaxYear{}, fmt.Errorf("%w: %q (years are not consecutive)", ErrInvalidTaxYear, label)
	}
	return TaxYear{StartYear: y}, nil
}

// MustParse is Parse for labels known to be valid.
func MustParse(label string) TaxYear {
	ty, err := Parse(label)
	if err != nil {
		panic(err)
	}
	return ty
}

// Of returns the tax year containing the calendar day of t.
func Of(t time.Time) TaxYear {
	day := model.Day(t)
	if day.Before(time.Date(day.Year(), time.April, 6, 0, 0, 0, 0, time.UTC)) {
		return TaxYear{StartYear: day.Year() - 1}
	}
	return TaxYear{StartYear: day.Year()}
}

// Start is 6 April of the starting year.
func (ty TaxYear) Start() time.Time {
	return time.Date(ty.StartYear, time.April, 6, 0, 0, 0, 0, time.UTC)
}

// End is 5 April of the following year.
func (ty TaxYear) End() time.Time {
	return time.Date(ty.StartYear+1, time.April, 5, 0, 0, 0, 0, time.UTC)
}

// Contains reports whether the calendar day of t falls in the tax year.
func (ty TaxYear) Contains(t time.Time) bool {
	day := model.Day(t)
	return !day.Before(ty.Start()) && !day.After(ty.End())
}

// Next returns the following tax year.
func (ty TaxYear) Next() TaxYear {
	return TaxYear{StartYear: ty.StartYear + 1}
}

func (ty TaxYear) String() string {
	return fmt.Sprintf("%04d-%02d", ty.StartYear, (ty.StartYear+1)%100)
}

// MarshalText lets a TaxYear be used as a JSON string and map key.
func (ty TaxYear) MarshalText() ([]byte, error) {
	return []byte(ty.String()), nil
}

func (ty *TaxYear) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*ty = parsed
	return nil
}

// DefaultExemptAmounts returns the statutory Annual Exempt Amount for
// individuals by tax year.
func DefaultExemptAmounts() map[TaxYear]decimal.Decimal {
	return map[TaxYear]decimal.Decimal{
		{StartYear: 2020}: decimal.NewFromInt(12300),
		{StartYear: 2021}: decimal.NewFromInt(12300),
		{StartYear: 2022}: decimal.NewFromInt(12300),
		{StartYear: 2023}: decimal.NewFromInt(6000),
		{StartYear: 2024}: decimal.NewFromInt(3000),
		{StartYear: 2025}: decimal.NewFromInt(3000),
	}
}
