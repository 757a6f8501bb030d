// Package nacha builds ACH credit files in the NACHA fixed-width format.
//
// A file holds batches, a batch holds entries. Every record is exactly
// RecordLength ASCII bytes followed by '\n'. Counts, entry hashes and totals
// are computed at Encode time, and the record count is padded with all-'9'
// records to a multiple of ten.
package nacha

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/validation"
)

// RecordLength is the fixed width of every record.
const RecordLength = 94

const (
	blockingFactor = 10
	serviceClass   = 220 // credits only
	secCode        = "PPD"
	maxCents       = 9_999_999_999
)

// TransactionCode is the entry detail transaction code.
type TransactionCode int

const (
	CheckingCredit TransactionCode = 22
	SavingsCredit  TransactionCode = 32
)

// CreditCode returns the credit transaction code for an account type.
func CreditCode(t model.AccountType) TransactionCode {
	if t == model.AccountSavings {
		return SavingsCredit
	}
	return CheckingCredit
}

var (
	routingPattern = regexp.MustCompile(`^[0-9]{9}$`)
	accountPattern = regexp.MustCompile(`^[0-9A-Za-z-]+$`)
)

// ValidRouting reports whether s is nine digits with a correct ABA check digit.
func ValidRouting(s string) bool {
	if !routingPattern.MatchString(s) {
		return false
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i, w := range weights {
		sum += int(s[i]-'0') * w
	}
	return sum%10 == 0
}

// Originator identifies the sending institution and company.
type Originator struct {
	ImmediateDestination string // receiving bank routing number
	ImmediateOrigin      string
	DestinationName      string
	OriginName           string
	CompanyName          string
	CompanyID            string
	ODFIRouting          string // originating bank routing number
}

// Validate reports every problem with the originator fields at once.
func (o Originator) Validate() error {
	c := validation.NewCollector("nacha originator")
	checkRouting(c, "immediate_destination", o.ImmediateDestination)
	c.String("immediate_origin", o.ImmediateOrigin, 10, true)
	c.String("destination_name", o.DestinationName, 23, true)
	c.String("origin_name", o.OriginName, 23, true)
	c.String("company_name", o.CompanyName, 16, true)
	c.String("company_id", o.CompanyID, 10, true)
	checkRouting(c, "odfi_routing", o.ODFIRouting)
	return c.Err()
}

func checkRouting(c *validation.Collector, field, v string) {
	if c.String(field, v, 9, true) == "" {
		return
	}
	c.Match(field, v, routingPattern)
	if routingPattern.MatchString(v) && !ValidRouting(v) {
		c.Add(field, validation.KindInvalid, "bad check digit")
	}
}

// Entry is one credit to a claimant account.
type Entry struct {
	TransactionCode TransactionCode
	RoutingNumber   string
	AccountNumber   string
	Amount          decimal.Decimal
	IndividualID    string
	Name            string // truncated to the field width, never rejected for length
}

// Validate reports every problem with the entry at once.
func (e Entry) Validate() error {
	c := validation.NewCollector("nacha entry " + e.IndividualID)
	if e.TransactionCode != CheckingCredit && e.TransactionCode != SavingsCredit {
		c.Add("transaction_code", validation.KindInvalid, fmt.Sprintf("%d", e.TransactionCode))
	}
	checkRouting(c, "routing_number", e.RoutingNumber)
	if acct := c.String("account_number", e.AccountNumber, 17, true); acct != "" {
		c.Match("account_number", acct, accountPattern)
	}
	cents := e.Amount.Shift(2)
	switch {
	case !e.Amount.IsPositive():
		c.Add("amount", validation.KindInvalid, "must be positive")
	case !cents.IsInteger():
		c.Add("amount", validation.KindInvalid, "fractional cents")
	case cents.GreaterThan(decimal.NewFromInt(maxCents)):
		c.Add("amount", validation.KindMaxLength, "exceeds 10 digits")
	}
	c.String("individual_id", e.IndividualID, 15, true)
	c.String("name", e.Name, 0, true)
	return c.Err()
}

// Batch groups entries sharing a key and entry description.
type Batch struct {
	Key         string
	Description string
	entries     []Entry
}

// Add validates e and appends it.
func (b *Batch) Add(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b.entries = append(b.entries, e)
	return nil
}

// Entries returns the entries in insertion order.
func (b *Batch) Entries() []Entry { return b.entries }

// File is an ACH file under construction.
type File struct {
	orig      Originator
	created   time.Time
	effective time.Time
	batches   []*Batch
}

// NewFile starts a file. created stamps the file header; effective is the
// settlement date requested in every batch header.
func NewFile(o Originator, created, effective time.Time) (*File, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &File{orig: o, created: created, effective: effective}, nil
}

// Batch returns the batch for key, creating it on first use.
func (f *File) Batch(key, description string) *Batch {
	for _, b := range f.batches {
		if b.Key == key {
			return b
		}
	}
	b := &Batch{Key: key, Description: description}
	f.batches = append(f.batches, b)
	return b
}

// Batches returns the non-empty batches in creation order.
func (f *File) Batches() []*Batch {
	var out []*Batch
	for _, b := range f.batches {
		if len(b.entries) > 0 {
			out = append(out, b)
		}
	}
	return out
}

// EntryCount is the number of entries across all batches.
func (f *File) EntryCount() int {
	n := 0
	for _, b := range f.batches {
		n += len(b.entries)
	}
	return n
}

type totals struct {
	entries int64
	hash    int64
	credit  int64
}

func (t *totals) add(o totals) {
	t.entries += o.entries
	t.hash += o.hash
	t.credit += o.credit
}

// Encode renders the file. Empty batches are skipped.
func (f *File) Encode() []byte {
	var lines []string
	odfi := f.orig.ODFIRouting[:8]
	var file totals
	trace := int64(0)

	lines = append(lines, f.fileHeader())
	batches := f.Batches()
	for i, b := range batches {
		number := int64(i + 1)
		lines = append(lines, f.batchHeader(b, number, odfi))
		var bt totals
		for _, e := range b.entries {
			trace++
			cents := e.Amount.Shift(2).IntPart()
			bt.add(totals{entries: 1, hash: routingHash(e.RoutingNumber), credit: cents})
			lines = append(lines, entryDetail(e, cents, odfi, trace))
		}
		lines = append(lines, f.batchControl(bt, number, odfi))
		file.add(bt)
	}

	records := len(lines) + 1
	blocks := (records + blockingFactor - 1) / blockingFactor
	lines = append(lines, fileControl(int64(len(batches)), int64(blocks), file))
	for len(lines)%blockingFactor != 0 {
		lines = append(lines, strings.Repeat("9", RecordLength))
	}

	var sb strings.Builder
	sb.Grow(len(lines) * (RecordLength + 1))
	for _, l := range lines {
		if len(l) != RecordLength {
			panic(fmt.Sprintf("nacha: record %q is %d bytes", l, len(l)))
		}
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func (f *File) fileHeader() string {
	return "1" + "01" +
		" " + f.orig.ImmediateDestination +
		right(f.orig.ImmediateOrigin, 10) +
		f.created.Format("060102") + f.created.Format("1504") +
		"A" + "094" + "10" + "1" +
		alpha(f.orig.DestinationName, 23) +
		alpha(f.orig.OriginName, 23) +
		alpha("", 8)
}

func (f *File) batchHeader(b *Batch, number int64, odfi string) string {
	date := f.effective.Format("060102")
	return "5" + num(serviceClass, 3) +
		alpha(f.orig.CompanyName, 16) +
		alpha("", 20) +
		alpha(f.orig.CompanyID, 10) +
		secCode +
		alpha(b.Description, 10) +
		date + date +
		"   " + "1" +
		odfi + num(number, 7)
}

func entryDetail(e Entry, cents int64, odfi string, trace int64) string {
	return "6" + num(int64(e.TransactionCode), 2) +
		e.RoutingNumber +
		alpha(e.AccountNumber, 17) +
		num(cents, 10) +
		alpha(e.IndividualID, 15) +
		alpha(e.Name, 22) +
		"  " + "0" +
		odfi + num(trace, 7)
}

func (f *File) batchControl(t totals, number int64, odfi string) string {
	return "8" + num(serviceClass, 3) +
		num(t.entries, 6) +
		num(t.hash, 10) +
		num(0, 12) + num(t.credit, 12) +
		alpha(f.orig.CompanyID, 10) +
		alpha("", 19) + alpha("", 6) +
		odfi + num(number, 7)
}

func fileControl(batches, blocks int64, t totals) string {
	return "9" + num(batches, 6) + num(blocks, 6) +
		num(t.entries, 8) +
		num(t.hash, 10) +
		num(0, 12) + num(t.credit, 12) +
		alpha("", 39)
}

// routingHash is the 8-digit RDFI identification summed into entry hashes.
func routingHash(routing string) int64 {
	var n int64
	for _, r := range routing[:8] {
		n = n*10 + int64(r-'0')
	}
	return n
}

// num renders n zero-padded to width, keeping the rightmost digits.
func num(n int64, width int) string {
	s := fmt.Sprintf("%0*d", width, n)
	return s[len(s)-width:]
}

// alpha renders s upper-cased, left-justified and space-padded, truncated to width.
func alpha(s string, width int) string {
	s = strings.ToUpper(ascii(s))
	if len(s) > width {
		s = s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func right(s string, width int) string {
	s = ascii(s)
	if len(s) > width {
		s = s[:width]
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// ascii strips diacritics and replaces anything else outside printable
// ASCII with a space, so every rune is one byte.
func ascii(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(fold, s); err == nil {
		s = out
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return ' '
		}
		return r
	}, s)
}
