package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StagedRow is the staging copy of one vendor payment extract row. Record
// maps header names to raw field values.
type StagedRow struct {
	ID              int64
	ReferenceFileID string
	LineNumber      int
	CValue          string
	IValue          string
	Record          map[string]string
	PaymentID       string
	ProcessedAt     time.Time
}

// CountStagedRows returns how many rows are staged for a reference file.
func (q queries) CountStagedRows(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM staging_vpei WHERE reference_file_id = ?
	`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count staged rows: %w", err)
	}
	return n, nil
}

// InsertStagedRow stages r. (reference_file_id, line_number) is unique.
func (q queries) InsertStagedRow(ctx context.Context, r StagedRow) (int64, error) {
	record, err := json.Marshal(r.Record)
	if err != nil {
		return 0, fmt.Errorf("insert staged row: encode record: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO staging_vpei (reference_file_id, line_number, c_value, i_value, record)
		VALUES (?, ?, ?, ?, ?)
	`, r.ReferenceFileID, r.LineNumber, r.CValue, r.IValue, string(record))
	if err != nil {
		return 0, fmt.Errorf("insert staged row %d: %w", r.LineNumber, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert staged row: last insert id: %w", err)
	}
	return id, nil
}

// FirstStagedLine returns the lowest line of fileID staged with the given C
// and I values, or 0 when there is none.
func (q queries) FirstStagedLine(ctx context.Context, fileID, cValue, iValue string) (int, error) {
	var line sql.NullInt64
	if err := q.db.QueryRowContext(ctx, `
		SELECT MIN(line_number) FROM staging_vpei
		WHERE reference_file_id = ? AND c_value = ? AND i_value = ?
	`, fileID, cValue, iValue).Scan(&line); err != nil {
		return 0, fmt.Errorf("first staged line: %w", err)
	}
	return int(line.Int64), nil
}

// UnprocessedStagedRows returns rows of a file not yet turned into payments,
// in file order.
func (q queries) UnprocessedStagedRows(ctx context.Context, fileID string) ([]StagedRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, reference_file_id, line_number, c_value, i_value, record, payment_id, processed_at
		FROM staging_vpei
		WHERE reference_file_id = ? AND processed_at IS NULL
		ORDER BY line_number ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("unprocessed staged rows: %w", err)
	}
	defer rows.Close()

	staged := []StagedRow{}
	for rows.Next() {
		var (
			r                 StagedRow
			record            string
			payment, procTime sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ReferenceFileID, &r.LineNumber, &r.CValue, &r.IValue, &record, &payment, &procTime); err != nil {
			return nil, fmt.Errorf("unprocessed staged rows: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(record), &r.Record); err != nil {
			return nil, fmt.Errorf("unprocessed staged rows: decode line %d: %w", r.LineNumber, err)
		}
		r.PaymentID = payment.String
		if r.ProcessedAt, err = parseNullTime(procTime); err != nil {
			return nil, err
		}
		staged = append(staged, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unprocessed staged rows: iterate: %w", err)
	}
	return staged, nil
}

// MarkStagedRowProcessed records the payment created from a staged row. An
// empty paymentID marks a row that produced no payment.
func (q queries) MarkStagedRowProcessed(ctx context.Context, rowID int64, paymentID string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE staging_vpei SET payment_id = ?, processed_at = ? WHERE id = ? AND processed_at IS NULL
	`, nullString(paymentID), formatTime(at), rowID)
	if err != nil {
		return fmt.Errorf("mark staged row processed: %w", err)
	}
	return expectOneRow(res, "mark staged row processed")
}
