package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/model"
)

// UpsertEmployer finds the employer by FEIN, refreshing its name, or inserts
// it under newID. created reports whether a row was inserted.
func (q queries) UpsertEmployer(ctx context.Context, newID string, e model.Employer) (*model.Employer, bool, error) {
	existing, err := q.employerByFEIN(ctx, e.FEIN)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("upsert employer: %w", err)
	}
	if existing != nil {
		if e.Name != "" && e.Name != existing.Name {
			if _, err := q.db.ExecContext(ctx, `UPDATE employers SET name = ? WHERE id = ?`, e.Name, existing.ID); err != nil {
				return nil, false, fmt.Errorf("upsert employer: update: %w", err)
			}
			existing.Name = e.Name
		}
		return existing, false, nil
	}

	e.ID = newID
	if _, err := q.db.ExecContext(ctx, `INSERT INTO employers (id, fein, name) VALUES (?, ?, ?)`, e.ID, e.FEIN, e.Name); err != nil {
		return nil, false, fmt.Errorf("upsert employer: insert: %w", err)
	}
	return &e, true, nil
}

func (q queries) employerByFEIN(ctx context.Context, fein string) (*model.Employer, error) {
	var e model.Employer
	err := q.db.QueryRowContext(ctx, `SELECT id, fein, name FROM employers WHERE fein = ?`, fein).
		Scan(&e.ID, &e.FEIN, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmployer returns ErrNotFound if id is unknown.
func (q queries) GetEmployer(ctx context.Context, id string) (*model.Employer, error) {
	var e model.Employer
	err := q.db.QueryRowContext(ctx, `SELECT id, fein, name FROM employers WHERE id = ?`, id).
		Scan(&e.ID, &e.FEIN, &e.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get employer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get employer %s: %w", id, err)
	}
	return &e, nil
}

// UpsertEmployee finds the employee by customer number, refreshing names, or
// inserts it under newID.
func (q queries) UpsertEmployee(ctx context.Context, newID string, e model.Employee) (*model.Employee, bool, error) {
	existing, err := q.scanEmployee(q.db.QueryRowContext(ctx, `
		SELECT id, customer_number, first_name, last_name, address_pair_id
		FROM employees WHERE customer_number = ?
	`, e.CustomerNumber))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("upsert employee: %w", err)
	}
	if existing != nil {
		if e.FirstName != existing.FirstName || e.LastName != existing.LastName {
			if _, err := q.db.ExecContext(ctx, `UPDATE employees SET first_name = ?, last_name = ? WHERE id = ?`,
				e.FirstName, e.LastName, existing.ID); err != nil {
				return nil, false, fmt.Errorf("upsert employee: update: %w", err)
			}
			existing.FirstName, existing.LastName = e.FirstName, e.LastName
		}
		return existing, false, nil
	}

	e.ID = newID
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO employees (id, customer_number, first_name, last_name, address_pair_id)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.CustomerNumber, e.FirstName, e.LastName, nullString(e.AddressPairID))
	if err != nil {
		return nil, false, fmt.Errorf("upsert employee: insert: %w", err)
	}
	return &e, true, nil
}

// GetEmployee returns ErrNotFound if id is unknown.
func (q queries) GetEmployee(ctx context.Context, id string) (*model.Employee, error) {
	e, err := q.scanEmployee(q.db.QueryRowContext(ctx, `
		SELECT id, customer_number, first_name, last_name, address_pair_id
		FROM employees WHERE id = ?
	`, id))
	if err != nil {
		return nil, fmt.Errorf("get employee %s: %w", id, err)
	}
	return e, nil
}

// SetEmployeeAddressPair points the employee at their current address pair.
func (q queries) SetEmployeeAddressPair(ctx context.Context, employeeID, pairID string) error {
	res, err := q.db.ExecContext(ctx, `UPDATE employees SET address_pair_id = ? WHERE id = ?`, pairID, employeeID)
	if err != nil {
		return fmt.Errorf("set employee address pair: %w", err)
	}
	return expectOneRow(res, "set employee address pair")
}

func (q queries) scanEmployee(row scanner) (*model.Employee, error) {
	var (
		e    model.Employee
		pair sql.NullString
	)
	err := row.Scan(&e.ID, &e.CustomerNumber, &e.FirstName, &e.LastName, &pair)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.AddressPairID = pair.String
	return &e, nil
}

// UpsertClaim finds the claim by claim number or inserts it under newID.
// Links to employee and employer are filled in when the stored claim lacks them.
func (q queries) UpsertClaim(ctx context.Context, newID string, c model.Claim) (*model.Claim, bool, error) {
	existing, err := q.scanClaim(q.db.QueryRowContext(ctx, `
		SELECT id, claim_number, absence_case_id, employee_id, employer_id, leave_type
		FROM claims WHERE claim_number = ?
	`, c.ClaimNumber))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("upsert claim: %w", err)
	}
	if existing != nil {
		_, err := q.db.ExecContext(ctx, `
			UPDATE claims SET
				absence_case_id = CASE WHEN absence_case_id = '' THEN ? ELSE absence_case_id END,
				employee_id = COALESCE(employee_id, ?),
				employer_id = COALESCE(employer_id, ?),
				leave_type = CASE WHEN leave_type = '' THEN ? ELSE leave_type END
			WHERE id = ?
		`, c.AbsenceCaseID, nullString(c.EmployeeID), nullString(c.EmployerID), string(c.LeaveType), existing.ID)
		if err != nil {
			return nil, false, fmt.Errorf("upsert claim: update: %w", err)
		}
		refreshed, err := q.GetClaim(ctx, existing.ID)
		return refreshed, false, err
	}

	c.ID = newID
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO claims (id, claim_number, absence_case_id, employee_id, employer_id, leave_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ClaimNumber, c.AbsenceCaseID, nullString(c.EmployeeID), nullString(c.EmployerID), string(c.LeaveType))
	if err != nil {
		return nil, false, fmt.Errorf("upsert claim: insert: %w", err)
	}
	return &c, true, nil
}

// GetClaim returns ErrNotFound if id is unknown.
func (q queries) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	c, err := q.scanClaim(q.db.QueryRowContext(ctx, `
		SELECT id, claim_number, absence_case_id, employee_id, employer_id, leave_type
		FROM claims WHERE id = ?
	`, id))
	if err != nil {
		return nil, fmt.Errorf("get claim %s: %w", id, err)
	}
	return c, nil
}

func (q queries) scanClaim(row scanner) (*model.Claim, error) {
	var (
		c                  model.Claim
		employee, employer sql.NullString
		leaveType          string
	)
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.AbsenceCaseID, &employee, &employer, &leaveType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.EmployeeID, c.EmployerID, c.LeaveType = employee.String, employer.String, model.LeaveType(leaveType)
	return &c, nil
}

func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
