package store

import (
	"context"
	"fmt"
	"time"
)

// AuditReportDetail is a staged finding that forces a payment into manual
// audit.
type AuditReportDetail struct {
	ID         int64
	PaymentID  string
	ReportType string
	Details    string
	CreatedAt  time.Time
}

// AddAuditReportDetail attaches d to its payment. Details is JSON text.
func (q queries) AddAuditReportDetail(ctx context.Context, d AuditReportDetail) (int64, error) {
	details := d.Details
	if details == "" {
		details = "{}"
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO payment_audit_report_details (payment_id, audit_report_type, details, created_at)
		VALUES (?, ?, ?, ?)
	`, d.PaymentID, d.ReportType, details, formatTime(d.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("add audit report detail: %w", err)
	}
	return res.LastInsertId()
}

// AuditReportDetails lists the details attached to a payment, oldest first.
func (q queries) AuditReportDetails(ctx context.Context, paymentID string) ([]AuditReportDetail, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, payment_id, audit_report_type, details, created_at
		FROM payment_audit_report_details WHERE payment_id = ? ORDER BY id ASC
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("audit report details: %w", err)
	}
	defer rows.Close()

	details := []AuditReportDetail{}
	for rows.Next() {
		var (
			d  AuditReportDetail
			at string
		)
		if err := rows.Scan(&d.ID, &d.PaymentID, &d.ReportType, &d.Details, &at); err != nil {
			return nil, fmt.Errorf("audit report details: scan: %w", err)
		}
		if d.CreatedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit report details: iterate: %w", err)
	}
	return details, nil
}
