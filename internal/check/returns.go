package check

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/flatfile"
	"github.com/roach88/disburse/internal/validation"
)

// Status is the bank's view of an issued check.
type Status string

const (
	StatusPaid        Status = "Paid"
	StatusOutstanding Status = "Outstanding"
	StatusVoid        Status = "Void"
	StatusStale       Status = "Stale"
	StatusStop        Status = "Stop"
	StatusFuture      Status = "Future"
)

// ParseStatus maps an outstanding-issues status value, ignoring case.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusOutstanding, StatusVoid, StatusStale, StatusStop, StatusFuture, StatusPaid} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown check status %q", s)
}

// Format is the sub-format of a return file, decided by its header.
type Format string

const (
	FormatOutstanding Format = "outstanding"
	FormatPaid        Format = "paid"
)

// Return-file columns.
const (
	ColCheckNumber = "Check Number"
	ColIssueDate   = "Issue Date"
	ColIssueAmount = "Issue Amount"
	ColStatus      = "Status"
	ColPaidDate    = "Paid Date"
	ColPaidAmount  = "Paid Amount"
)

// Return is one parsed row. Amount is always positive-normalised.
type Return struct {
	Line        int
	CheckNumber int64
	Status      Status
	Amount      decimal.Decimal
	IssueDate   time.Time
	PaidDate    time.Time
	Anomalous   bool // sign did not match the format's convention
}

// ReturnFile is the result of parsing one file. LineErrors holds rows that
// could not be parsed; every other row is in Returns.
type ReturnFile struct {
	Format     Format
	Returns    []Return
	LineErrors []flatfile.LineError
}

// ParseReturns reads a check-return file. Only an unreadable or unrecognised
// header fails the whole file; bad rows are collected in LineErrors.
func ParseReturns(r io.Reader, logger *slog.Logger) (*ReturnFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fr, err := flatfile.NewReader(r)
	if err != nil {
		return nil, err
	}

	out := &ReturnFile{}
	var parse func(flatfile.Record) (Return, error)
	switch {
	case fr.Has(ColPaidAmount) || fr.Has(ColPaidDate):
		out.Format = FormatPaid
		if err := fr.Require(ColCheckNumber, ColPaidDate, ColPaidAmount); err != nil {
			return nil, err
		}
		parse = parsePaid
	case fr.Has(ColStatus) || fr.Has(ColIssueAmount):
		out.Format = FormatOutstanding
		if err := fr.Require(ColCheckNumber, ColIssueAmount, ColStatus); err != nil {
			return nil, err
		}
		parse = parseOutstanding
	default:
		return nil, &flatfile.HeaderError{Err: fmt.Errorf("unrecognised check return header %q", strings.Join(fr.Header(), ","))}
	}

	out.LineErrors, err = fr.Each(func(rec flatfile.Record) error {
		ret, err := parse(rec)
		if err != nil {
			return err
		}
		if ret.Anomalous {
			logger.Warn("check return amount has unexpected sign",
				"format", string(out.Format), "line", ret.Line,
				"check_number", ret.CheckNumber, "amount", rec.Get(amountColumn(out.Format)))
		}
		out.Returns = append(out.Returns, ret)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("read check returns: %w", err)
	}
	return out, nil
}

func amountColumn(f Format) string {
	if f == FormatPaid {
		return ColPaidAmount
	}
	return ColIssueAmount
}

// parsePaid reads a paid-checks row. The bank reports paid amounts as
// negative numbers.
func parsePaid(rec flatfile.Record) (Return, error) {
	c := validation.NewCollector("")
	ret := Return{Line: rec.Line, Status: StatusPaid}
	ret.CheckNumber = c.Int("check_number", rec.Get(ColCheckNumber), maxCheckDigits)
	ret.PaidDate = c.Date("paid_date", rec.Get(ColPaidDate), DateLayout, true)
	ret.IssueDate = c.Date("issue_date", rec.Get(ColIssueDate), DateLayout, false)
	amount := c.Decimal("paid_amount", rec.Get(ColPaidAmount))
	if err := c.Err(); err != nil {
		return Return{}, err
	}
	ret.Anomalous = !amount.IsNegative()
	ret.Amount = amount.Abs()
	return ret, nil
}

// parseOutstanding reads an outstanding-issues row; amounts are positive.
func parseOutstanding(rec flatfile.Record) (Return, error) {
	c := validation.NewCollector("")
	ret := Return{Line: rec.Line}
	ret.CheckNumber = c.Int("check_number", rec.Get(ColCheckNumber), maxCheckDigits)
	ret.Status = validation.Enum(c, "status", rec.Get(ColStatus), ParseStatus)
	ret.IssueDate = c.Date("issue_date", rec.Get(ColIssueDate), DateLayout, false)
	amount := c.Decimal("issue_amount", rec.Get(ColIssueAmount))
	if ret.Status == StatusPaid {
		c.Add("status", validation.KindInvalid, "Paid is not an outstanding-issues status")
	}
	if err := c.Err(); err != nil {
		return Return{}, err
	}
	ret.Anomalous = !amount.IsPositive()
	ret.Amount = amount.Abs()
	return ret, nil
}
