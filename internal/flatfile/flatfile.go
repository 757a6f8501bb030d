// Package flatfile reads header-led CSV files one physical line at a time so
// a malformed row is isolated to a single LineError.
//
// Records never span lines: a stray quote or delimiter corrupts only the
// line it appears on, and parsing resumes on the next one.
package flatfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// HeaderError means the file cannot be read at all.
type HeaderError struct {
	Missing []string
	Err     error
}

func (e *HeaderError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("header: missing columns %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("header: %v", e.Err)
}

func (e *HeaderError) Unwrap() error { return e.Err }

// LineError is a defect isolated to one line.
type LineError struct {
	Line int
	Err  error
}

func (e LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e LineError) Unwrap() error { return e.Err }

// Record is one data line keyed by header name.
type Record struct {
	Line   int
	Fields map[string]string
}

// Get returns the trimmed value of column name, or "".
func (r Record) Get(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// Reader yields the data lines of a CSV file.
type Reader struct {
	sc     *bufio.Scanner
	header []string
	index  map[string]int
	line   int
}

// ErrEmpty is wrapped by the HeaderError of a file with no header line.
var ErrEmpty = errors.New("file is empty")

// NewReader reads the header line. A missing or unparseable header is a
// *HeaderError.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	fr := &Reader{sc: sc}

	for fr.sc.Scan() {
		fr.line++
		raw := strings.TrimPrefix(fr.sc.Text(), "\ufeff")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		fields, err := splitLine(raw)
		if err != nil {
			return nil, &HeaderError{Err: fmt.Errorf("line %d: %w", fr.line, err)}
		}
		fr.header = make([]string, len(fields))
		fr.index = make(map[string]int, len(fields))
		for i, f := range fields {
			name := strings.TrimSpace(f)
			fr.header[i] = name
			if _, dup := fr.index[name]; !dup {
				fr.index[name] = i
			}
		}
		return fr, nil
	}
	if err := fr.sc.Err(); err != nil {
		return nil, &HeaderError{Err: err}
	}
	return nil, &HeaderError{Err: ErrEmpty}
}

// Header returns the column names in file order.
func (r *Reader) Header() []string { return r.header }

// Has reports whether every named column is present.
func (r *Reader) Has(cols ...string) bool {
	for _, c := range cols {
		if _, ok := r.index[c]; !ok {
			return false
		}
	}
	return true
}

// Require returns a *HeaderError listing every missing column.
func (r *Reader) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if _, ok := r.index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &HeaderError{Missing: missing}
	}
	return nil
}

// Each calls fn for every well-formed data line. Structural defects and
// errors returned by fn become LineErrors; blank lines are skipped. The
// returned error is non-nil only when the underlying reader fails.
func (r *Reader) Each(fn func(Record) error) ([]LineError, error) {
	lineErrs := []LineError{}
	for r.sc.Scan() {
		r.line++
		raw := r.sc.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		fields, err := splitLine(raw)
		if err == nil && len(fields) != len(r.header) {
			err = fmt.Errorf("expected %d fields, got %d", len(r.header), len(fields))
		}
		if err != nil {
			lineErrs = append(lineErrs, LineError{Line: r.line, Err: err})
			continue
		}

		rec := Record{Line: r.line, Fields: make(map[string]string, len(r.header))}
		for name, i := range r.index {
			rec.Fields[name] = fields[i]
		}
		if err := fn(rec); err != nil {
			lineErrs = append(lineErrs, LineError{Line: r.line, Err: err})
		}
	}
	if err := r.sc.Err(); err != nil {
		return lineErrs, fmt.Errorf("read line %d: %w", r.line+1, err)
	}
	return lineErrs, nil
}

func splitLine(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(strings.TrimSuffix(line, "\r")))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// Write renders header and rows as CSV with LF line endings.
func Write(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header != nil {
		if err := w.Write(header); err != nil {
			return nil, err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
