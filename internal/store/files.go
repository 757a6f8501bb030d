package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/model"
)

const fileColumns = `id, file_type, location, status, import_log_id, created_at`

// InsertReferenceFile records f. Locations are unique.
func (q queries) InsertReferenceFile(ctx context.Context, f model.ReferenceFile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reference_files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, string(f.Type), f.Location, string(f.Status), nullInt(f.ImportLogID), formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert reference file %s: %w", f.Location, err)
	}
	return nil
}

// FindOrCreateReferenceFile returns the file stored at f.Location, inserting
// f if there is none. The bool reports whether f was inserted.
func (q queries) FindOrCreateReferenceFile(ctx context.Context, f model.ReferenceFile) (*model.ReferenceFile, bool, error) {
	existing, err := q.ReferenceFileByLocation(ctx, f.Location)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err := q.InsertReferenceFile(ctx, f); err != nil {
		return nil, false, err
	}
	return &f, true, nil
}

// GetReferenceFile returns ErrNotFound if id is unknown.
func (q queries) GetReferenceFile(ctx context.Context, id string) (*model.ReferenceFile, error) {
	f, err := scanReferenceFile(q.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM reference_files WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get reference file %s: %w", id, err)
	}
	return f, nil
}

// ReferenceFileByLocation returns ErrNotFound if nothing is recorded at loc.
func (q queries) ReferenceFileByLocation(ctx context.Context, loc string) (*model.ReferenceFile, error) {
	f, err := scanReferenceFile(q.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM reference_files WHERE location = ?`, loc))
	if err != nil {
		return nil, fmt.Errorf("reference file at %s: %w", loc, err)
	}
	return f, nil
}

// ReferenceFilesByStatus lists files of type t in status, oldest first.
func (q queries) ReferenceFilesByStatus(ctx context.Context, t model.ReferenceFileType, status model.ReferenceFileStatus) ([]*model.ReferenceFile, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM reference_files
		WHERE file_type = ? AND status = ?
		ORDER BY created_at ASC, id ASC
	`, string(t), string(status))
	if err != nil {
		return nil, fmt.Errorf("reference files by status: %w", err)
	}
	defer rows.Close()

	files := []*model.ReferenceFile{}
	for rows.Next() {
		f, err := scanReferenceFile(rows)
		if err != nil {
			return nil, fmt.Errorf("reference files by status: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reference files by status: iterate: %w", err)
	}
	return files, nil
}

// SetReferenceFileStatus moves a file to status.
func (q queries) SetReferenceFileStatus(ctx context.Context, id string, status model.ReferenceFileStatus) error {
	res, err := q.db.ExecContext(ctx, `UPDATE reference_files SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set reference file status: %w", err)
	}
	return expectOneRow(res, "set reference file status")
}

// LinkPayment associates a payment with a file it was written to.
func (q queries) LinkPayment(ctx context.Context, paymentID, fileID string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payment_reference_files (payment_id, reference_file_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, paymentID, fileID)
	if err != nil {
		return fmt.Errorf("link payment %s to file %s: %w", paymentID, fileID, err)
	}
	return nil
}

// LinkedPaymentIDs returns the payments written to a file in link order.
func (q queries) LinkedPaymentIDs(ctx context.Context, fileID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT payment_id FROM payment_reference_files WHERE reference_file_id = ? ORDER BY rowid ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("linked payments: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("linked payments: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linked payments: iterate: %w", err)
	}
	return ids, nil
}

// PaymentInUploadedFile reports whether the payment already went out in an
// uploaded file of type t.
func (q queries) PaymentInUploadedFile(ctx context.Context, paymentID string, t model.ReferenceFileType) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payment_reference_files l
		JOIN reference_files f ON f.id = l.reference_file_id
		WHERE l.payment_id = ? AND f.file_type = ? AND f.status = ?
	`, paymentID, string(t), string(model.FileUploaded)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("payment in uploaded file: %w", err)
	}
	return n > 0, nil
}

// MarkFileProcessed writes the processing-log row for (fileID, extractType).
// It returns false if the file was already processed for that type.
func (q queries) MarkFileProcessed(ctx context.Context, fileID, extractType string, importLogID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO import_log_reference_files (reference_file_id, extract_type, import_log_id)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, fileID, extractType, importLogID)
	if err != nil {
		return false, fmt.Errorf("mark file processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark file processed: rows affected: %w", err)
	}
	return n == 1, nil
}

// IsFileProcessed reports whether (fileID, extractType) is in the processing log.
func (q queries) IsFileProcessed(ctx context.Context, fileID, extractType string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM import_log_reference_files WHERE reference_file_id = ? AND extract_type = ?
	`, fileID, extractType).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is file processed: %w", err)
	}
	return n > 0, nil
}

func scanReferenceFile(row scanner) (*model.ReferenceFile, error) {
	var (
		f                    model.ReferenceFile
		fileType, status, at string
		importLog            sql.NullInt64
	)
	err := row.Scan(&f.ID, &fileType, &f.Location, &status, &importLog, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Type = model.ReferenceFileType(fileType)
	f.Status = model.ReferenceFileStatus(status)
	f.ImportLogID = importLog.Int64
	if f.CreatedAt, err = parseTime(at); err != nil {
		return nil, err
	}
	return &f, nil
}
