// Package validation collects per-field issues so a caller sees every defect
// of a record at once instead of only the first.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Kind classifies a field issue.
type Kind string

const (
	KindRequired  Kind = "required"
	KindType      Kind = "type_mismatch"
	KindMaxLength Kind = "max_length_exceeded"
	KindPattern   Kind = "pattern_mismatch"
	KindInvalid   Kind = "invalid_value"
	KindDuplicate Kind = "duplicate"
)

// Issue is one defect of one field.
type Issue struct {
	Field  string
	Kind   Kind
	Detail string
}

func (i Issue) String() string {
	if i.Detail == "" {
		return fmt.Sprintf("%s: %s", i.Field, i.Kind)
	}
	return fmt.Sprintf("%s: %s (%s)", i.Field, i.Kind, i.Detail)
}

// Error aggregates every issue found in one record.
type Error struct {
	Record string
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	prefix := "validation failed"
	if e.Record != "" {
		prefix = "validation failed for " + e.Record
	}
	return fmt.Sprintf("%s: %d issue(s): %s", prefix, len(e.Issues), strings.Join(parts, "; "))
}

// Strings renders every issue, for audit outcomes.
func (e *Error) Strings() []string {
	out := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		out[i] = issue.String()
	}
	return out
}

// Collector accumulates issues while a record is parsed. The parse helpers
// return the zero value for a bad field and keep going.
type Collector struct {
	record string
	issues []Issue
}

// NewCollector starts collecting issues for the named record.
func NewCollector(record string) *Collector {
	return &Collector{record: record}
}

// Add records an issue.
func (c *Collector) Add(field string, kind Kind, detail string) {
	c.issues = append(c.issues, Issue{Field: field, Kind: kind, Detail: detail})
}

// Issues returns the issues collected so far.
func (c *Collector) Issues() []Issue { return c.issues }

// Err returns an *Error holding every issue, or nil if there were none.
func (c *Collector) Err() error {
	if len(c.issues) == 0 {
		return nil
	}
	return &Error{Record: c.record, Issues: append([]Issue(nil), c.issues...)}
}

// String checks presence and length. maxLen <= 0 disables the length check.
func (c *Collector) String(field, v string, maxLen int, required bool) string {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			c.Add(field, KindRequired, "")
		}
		return ""
	}
	if maxLen > 0 && utf8.RuneCountInString(v) > maxLen {
		c.Add(field, KindMaxLength, fmt.Sprintf("%d > %d", utf8.RuneCountInString(v), maxLen))
	}
	return v
}

// Match checks v against re. Empty values are left to String's required check.
func (c *Collector) Match(field, v string, re *regexp.Regexp) {
	if v == "" {
		return
	}
	if !re.MatchString(v) {
		c.Add(field, KindPattern, fmt.Sprintf("%q does not match %s", v, re))
	}
}

// Int parses a required base-10 integer of at most maxDigits digits.
func (c *Collector) Int(field, v string, maxDigits int) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		c.Add(field, KindRequired, "")
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		c.Add(field, KindType, fmt.Sprintf("%q is not an integer", v))
		return 0
	}
	if maxDigits > 0 && len(strings.TrimPrefix(v, "-")) > maxDigits {
		c.Add(field, KindMaxLength, fmt.Sprintf("%d digits > %d", len(strings.TrimPrefix(v, "-")), maxDigits))
	}
	return n
}

// Decimal parses a required decimal amount.
func (c *Collector) Decimal(field, v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		c.Add(field, KindRequired, "")
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		c.Add(field, KindType, fmt.Sprintf("%q is not a decimal", v))
		return decimal.Zero
	}
	return d
}

// Date parses a date in layout. Empty values are an issue only if required.
func (c *Collector) Date(field, v, layout string, required bool) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		if required {
			c.Add(field, KindRequired, "")
		}
		return time.Time{}
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		c.Add(field, KindType, fmt.Sprintf("%q is not a date in layout %s", v, layout))
		return time.Time{}
	}
	return t
}

// Enum parses v with parse, recording an invalid_value issue on failure.
func Enum[T any](c *Collector, field, v string, parse func(string) (T, error)) T {
	var zero T
	if strings.TrimSpace(v) == "" {
		c.Add(field, KindRequired, "")
		return zero
	}
	out, err := parse(v)
	if err != nil {
		c.Add(field, KindInvalid, err.Error())
		return zero
	}
	return out
}
