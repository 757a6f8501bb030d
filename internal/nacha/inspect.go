package nacha

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Summary is what Inspect reads back from an encoded file.
type Summary struct {
	Records     int
	Batches     int
	Entries     int
	EntryHash   int64
	TotalCredit decimal.Decimal
}

// Inspect re-reads an encoded file and checks its structure: record width,
// record order, batch and file control totals, and block padding.
func Inspect(data []byte) (Summary, error) {
	var (
		s       Summary
		inBatch bool
		bt      totals
		file    totals
		control string
		padded  bool
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		s.Records++
		if len(line) != RecordLength {
			return s, fmt.Errorf("record %d: length %d, want %d", s.Records, len(line), RecordLength)
		}
		if padded && line[0] != '9' {
			return s, fmt.Errorf("record %d: data after file control", s.Records)
		}
		switch line[0] {
		case '1':
			if s.Records != 1 {
				return s, fmt.Errorf("record %d: file header not first", s.Records)
			}
		case '5':
			if inBatch {
				return s, fmt.Errorf("record %d: batch header inside batch", s.Records)
			}
			inBatch = true
			bt = totals{}
		case '6':
			if !inBatch {
				return s, fmt.Errorf("record %d: entry outside batch", s.Records)
			}
			cents, err := field(line, 30, 39)
			if err != nil {
				return s, fmt.Errorf("record %d: amount: %w", s.Records, err)
			}
			bt.add(totals{entries: 1, hash: routingHash(line[3:11]), credit: cents})
		case '8':
			if !inBatch {
				return s, fmt.Errorf("record %d: batch control outside batch", s.Records)
			}
			if err := checkControl(line, 5, 11, 33, bt); err != nil {
				return s, fmt.Errorf("record %d: batch control: %w", s.Records, err)
			}
			inBatch = false
			s.Batches++
			file.add(bt)
		case '9':
			if padded {
				continue
			}
			if line == control9 {
				return s, fmt.Errorf("record %d: padding before file control", s.Records)
			}
			padded = true
			control = line
		default:
			return s, fmt.Errorf("record %d: unknown record type %q", s.Records, line[0])
		}
	}
	if err := sc.Err(); err != nil {
		return s, err
	}
	if control == "" {
		return s, fmt.Errorf("missing file control record")
	}
	if inBatch {
		return s, fmt.Errorf("unterminated batch")
	}
	if s.Records%blockingFactor != 0 {
		return s, fmt.Errorf("%d records is not a multiple of %d", s.Records, blockingFactor)
	}
	if err := checkControl(control, 14, 22, 44, file); err != nil {
		return s, fmt.Errorf("file control: %w", err)
	}
	if n, _ := field(control, 2, 7); n != int64(s.Batches) {
		return s, fmt.Errorf("file control: batch count %d, counted %d", n, s.Batches)
	}
	if n, _ := field(control, 8, 13); n != int64(s.Records/blockingFactor) {
		return s, fmt.Errorf("file control: block count %d, counted %d", n, s.Records/blockingFactor)
	}
	s.Entries = int(file.entries)
	s.EntryHash = file.hash % 10_000_000_000
	s.TotalCredit = decimal.New(file.credit, -2)
	return s, nil
}

var control9 = string(bytes.Repeat([]byte("9"), RecordLength))

// checkControl compares the count, hash and credit total of a control record
// against t. Positions are 1-based as in the NACHA layouts.
func checkControl(line string, countAt, hashAt, creditAt int, t totals) error {
	count, err := field(line, countAt, hashAt-1)
	if err != nil {
		return err
	}
	hash, err := field(line, hashAt, hashAt+9)
	if err != nil {
		return err
	}
	credit, err := field(line, creditAt, creditAt+11)
	if err != nil {
		return err
	}
	if count != t.entries {
		return fmt.Errorf("entry count %d, counted %d", count, t.entries)
	}
	if hash != t.hash%10_000_000_000 {
		return fmt.Errorf("entry hash %d, computed %d", hash, t.hash%10_000_000_000)
	}
	if credit != t.credit {
		return fmt.Errorf("credit total %d, computed %d", credit, t.credit)
	}
	return nil
}

// field parses the numeric field at 1-based inclusive positions [from, to].
func field(line string, from, to int) (int64, error) {
	return strconv.ParseInt(line[from-1:to], 10, 64)
}
