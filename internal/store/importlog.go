package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ImportLog statuses.
const (
	ImportRunning   = "running"
	ImportSucceeded = "success"
	ImportFailed    = "error"
)

// ImportLog is the persisted record of one step run.
type ImportLog struct {
	ID        int64
	Type      string
	Status    string
	Report    string
	StartTime time.Time
	EndTime   time.Time
}

// StartImportLog records the start of a run of importType and returns its id.
func (q queries) StartImportLog(ctx context.Context, importType string, start time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO import_logs (import_type, status, start_time) VALUES (?, ?, ?)
	`, importType, ImportRunning, formatTime(start))
	if err != nil {
		return 0, fmt.Errorf("start import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start import log: last insert id: %w", err)
	}
	return id, nil
}

// FinishImportLog stores the final status and JSON report of a run.
func (q queries) FinishImportLog(ctx context.Context, id int64, status string, report []byte, end time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE import_logs SET status = ?, report = ?, end_time = ? WHERE id = ?
	`, status, string(report), formatTime(end), id)
	if err != nil {
		return fmt.Errorf("finish import log: %w", err)
	}
	return expectOneRow(res, "finish import log")
}

// GetImportLog returns ErrNotFound if id is unknown.
func (q queries) GetImportLog(ctx context.Context, id int64) (*ImportLog, error) {
	var (
		l     ImportLog
		start string
		end   sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, import_type, status, report, start_time, end_time FROM import_logs WHERE id = ?
	`, id).Scan(&l.ID, &l.Type, &l.Status, &l.Report, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get import log %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import log %d: %w", id, err)
	}
	if l.StartTime, err = parseTime(start); err != nil {
		return nil, err
	}
	if l.EndTime, err = parseNullTime(end); err != nil {
		return nil, err
	}
	return &l, nil
}
