// Package check writes printed-check instruction files and reads the bank's
// check-return files.
//
// A check file is headerless CSV with two physical rows per check: a payment
// row (number, date, amount, memo) then a payee row (name and address).
// Two layouts exist. EZ is the minimal one; Full adds the payee id to the
// payment row and the country to the payee row.
package check

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/flatfile"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/validation"
)

// Variant selects the file layout.
type Variant string

const (
	VariantEZ   Variant = "ez"
	VariantFull Variant = "full"
)

// ParseVariant accepts "ez" or "full".
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(s); v {
	case VariantEZ, VariantFull:
		return v, nil
	}
	return "", fmt.Errorf("unknown check variant %q", s)
}

// DateLayout is used for every date in check and check-return files.
const DateLayout = "01/02/2006"

// Field widths.
const (
	maxCheckDigits = 10
	maxCentDigits  = 10
	maxMemo        = 60
	maxPayeeID     = 15
	maxPayeeName   = 85
	maxAddressLine = 40
	maxCity        = 35
)

var (
	statePattern   = regexp.MustCompile(`^[A-Z]{2}$`)
	zipPattern     = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)
	countryPattern = regexp.MustCompile(`^[A-Z]{2,3}$`)
)

// Record is one check.
type Record struct {
	CheckNumber int64
	Date        time.Time
	Amount      decimal.Decimal
	Memo        string
	PayeeID     string
	PayeeName   string
	Address     model.Address
}

// Rows validates r for variant v and returns its two physical rows. Every
// field is checked; the error lists all issues together.
func (v Variant) Rows(r Record) ([2][]string, error) {
	c := validation.NewCollector(fmt.Sprintf("check %d", r.CheckNumber))

	number := strconv.FormatInt(r.CheckNumber, 10)
	if r.CheckNumber <= 0 {
		c.Add("check_number", validation.KindInvalid, "must be positive")
	} else if len(number) > maxCheckDigits {
		c.Add("check_number", validation.KindMaxLength, fmt.Sprintf("%d digits > %d", len(number), maxCheckDigits))
	}
	if r.Date.IsZero() {
		c.Add("check_date", validation.KindRequired, "")
	}
	switch {
	case !r.Amount.IsPositive():
		c.Add("amount", validation.KindInvalid, "must be positive")
	case !r.Amount.Shift(2).IsInteger():
		c.Add("amount", validation.KindInvalid, "fractional cents")
	case len(r.Amount.Shift(2).String()) > maxCentDigits:
		c.Add("amount", validation.KindMaxLength, fmt.Sprintf("more than %d digits of cents", maxCentDigits))
	}
	memo := c.String("memo", r.Memo, maxMemo, false)
	payeeID := c.String("payee_id", r.PayeeID, maxPayeeID, v == VariantFull)
	name := c.String("payee_name", r.PayeeName, maxPayeeName, true)

	a := r.Address
	line1 := c.String("address_line_1", a.Line1, maxAddressLine, true)
	line2 := c.String("address_line_2", a.Line2, maxAddressLine, false)
	city := c.String("city", a.City, maxCity, true)
	st := c.String("state", a.State, 0, true)
	c.Match("state", st, statePattern)
	zip := c.String("zip", a.Zip, 0, true)
	c.Match("zip", zip, zipPattern)
	country := a.Country
	if v == VariantFull {
		if country == "" {
			country = "US"
		}
		c.Match("country", country, countryPattern)
	}

	if err := c.Err(); err != nil {
		return [2][]string{}, err
	}

	date := r.Date.Format(DateLayout)
	amount := r.Amount.StringFixed(2)
	if v == VariantFull {
		return [2][]string{
			{number, date, amount, payeeID, memo},
			{name, line1, line2, city, st, zip, country},
		}, nil
	}
	return [2][]string{
		{number, date, amount, memo},
		{name, line1, line2, city, st, zip},
	}, nil
}

// Writer accumulates validated records for one file.
type Writer struct {
	variant Variant
	rows    [][]string
	count   int
}

// NewWriter starts a file in variant v.
func NewWriter(v Variant) *Writer {
	return &Writer{variant: v}
}

// Add validates r and appends its rows. A rejected record leaves the file
// unchanged.
func (w *Writer) Add(r Record) error {
	rows, err := w.variant.Rows(r)
	if err != nil {
		return err
	}
	w.rows = append(w.rows, rows[0], rows[1])
	w.count++
	return nil
}

// Len is the number of checks added.
func (w *Writer) Len() int { return w.count }

// Bytes renders the file.
func (w *Writer) Bytes() ([]byte, error) {
	return flatfile.Write(nil, w.rows)
}
