package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/disburse/internal/model"
)

const paymentColumns = `id, c_value, i_value, line_item_key, claim_id, employee_id, employer_id, import_log_id,
	transaction_type, payment_method, leave_type, amount, period_start, period_end,
	payee_first_name, payee_last_name, pub_eft_id, address_pair_id, check_number, individual_id,
	writeback_status, writeback_status_at, created_at`

// InsertPayment stores p; p.ID and p.ImportLogID must be set.
func (q queries) InsertPayment(ctx context.Context, p *model.Payment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.CValue, p.IValue, p.LineItemKey,
		nullString(p.ClaimID), nullString(p.EmployeeID), nullString(p.EmployerID), p.ImportLogID,
		string(p.TransactionType), string(p.Method), string(p.LeaveType), p.Amount.String(),
		nullDate(p.PeriodStart), nullDate(p.PeriodEnd),
		p.PayeeFirstName, p.PayeeLastName, nullString(p.PubEFTID), nullString(p.AddressPairID),
		nullInt(p.CheckNumber), nullInt(p.IndividualID),
		nullString(string(p.WritebackStatus)), nullTime(p.WritebackAt), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetPayment returns ErrNotFound if id is unknown.
func (q queries) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return p, nil
}

// FindPaymentByCheckNumber returns ErrNotFound if no payment carries n.
func (q queries) FindPaymentByCheckNumber(ctx context.Context, n int64) (*model.Payment, error) {
	p, err := scanPayment(q.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE check_number = ?`, n))
	if err != nil {
		return nil, fmt.Errorf("find payment by check number %d: %w", n, err)
	}
	return p, nil
}

// PaymentsByImportLog returns the payments created by one run, by id.
func (q queries) PaymentsByImportLog(ctx context.Context, importLogID int64) ([]*model.Payment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE import_log_id = ? ORDER BY id ASC
	`, importLogID)
	if err != nil {
		return nil, fmt.Errorf("payments by import log: %w", err)
	}
	return collectPayments(rows)
}

// PaymentsForAbsenceCase returns payments of txType on any claim of the leave
// request, excluding excludeID, most recently extracted first. Ties on the
// import log break on payment id so the order is total.
func (q queries) PaymentsForAbsenceCase(ctx context.Context, absenceCaseID, excludeID string, txType model.TransactionType) ([]*model.Payment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+prefixColumns("p", paymentColumns)+`
		FROM payments p
		JOIN claims c ON c.id = p.claim_id
		WHERE c.absence_case_id = ? AND p.id != ? AND p.transaction_type = ?
		ORDER BY p.import_log_id DESC, p.id DESC
	`, absenceCaseID, excludeID, string(txType))
	if err != nil {
		return nil, fmt.Errorf("payments for absence case: %w", err)
	}
	return collectPayments(rows)
}

// HasPaymentOfType reports whether any payment on the claim has txType.
func (q queries) HasPaymentOfType(ctx context.Context, claimID string, txType model.TransactionType) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payments WHERE claim_id = ? AND transaction_type = ?
	`, claimID, string(txType)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has payment of type: %w", err)
	}
	return n > 0, nil
}

// SetCheckNumber records the check a payment was issued on.
func (q queries) SetCheckNumber(ctx context.Context, paymentID string, n int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE payments SET check_number = ? WHERE id = ?`, n, paymentID)
	if err != nil {
		return fmt.Errorf("set check number: %w", err)
	}
	return expectOneRow(res, "set check number")
}

// SetIndividualID records the ACH individual id of a payment.
func (q queries) SetIndividualID(ctx context.Context, paymentID string, n int64) error {
	res, err := q.db.ExecContext(ctx, `UPDATE payments SET individual_id = ? WHERE id = ?`, n, paymentID)
	if err != nil {
		return fmt.Errorf("set individual id: %w", err)
	}
	return expectOneRow(res, "set individual id")
}

// SetWritebackStatus records the status the next writeback file reports.
func (q queries) SetWritebackStatus(ctx context.Context, paymentID string, status model.WritebackStatus, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments SET writeback_status = ?, writeback_status_at = ? WHERE id = ?
	`, string(status), formatTime(at), paymentID)
	if err != nil {
		return fmt.Errorf("set writeback status: %w", err)
	}
	return expectOneRow(res, "set writeback status")
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func collectPayments(rows *sql.Rows) ([]*model.Payment, error) {
	defer rows.Close()
	payments := []*model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row scanner) (*model.Payment, error) {
	var (
		p                                 model.Payment
		claim, employee, employer         sql.NullString
		txType, method, leaveType, amount string
		periodStart, periodEnd            sql.NullString
		eft, pair                         sql.NullString
		checkNumber, individualID         sql.NullInt64
		writeback, writebackAt            sql.NullString
		createdAt                         string
	)
	err := row.Scan(
		&p.ID, &p.CValue, &p.IValue, &p.LineItemKey, &claim, &employee, &employer, &p.ImportLogID,
		&txType, &method, &leaveType, &amount, &periodStart, &periodEnd,
		&p.PayeeFirstName, &p.PayeeLastName, &eft, &pair, &checkNumber, &individualID,
		&writeback, &writebackAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.ClaimID, p.EmployeeID, p.EmployerID = claim.String, employee.String, employer.String
	p.TransactionType = model.TransactionType(txType)
	p.Method = model.PaymentMethod(method)
	p.LeaveType = model.LeaveType(leaveType)
	p.PubEFTID, p.AddressPairID = eft.String, pair.String
	p.CheckNumber, p.IndividualID = checkNumber.Int64, individualID.Int64
	p.WritebackStatus = model.WritebackStatus(writeback.String)

	if p.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if p.PeriodStart, err = parseNullDate(periodStart); err != nil {
		return nil, err
	}
	if p.PeriodEnd, err = parseNullDate(periodEnd); err != nil {
		return nil, err
	}
	if p.WritebackAt, err = parseNullTime(writebackAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}
