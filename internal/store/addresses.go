package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/model"
)

// ErrAlreadyValidated is returned when a pair that already carries a
// validated address would be overwritten.
var ErrAlreadyValidated = errors.New("address pair already validated")

// InsertAddress stores a as a new row; a.ID must be set.
func (q queries) InsertAddress(ctx context.Context, a model.Address) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO addresses (id, line_1, line_2, city, state, zip, country)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Line1, a.Line2, a.City, a.State, a.Zip, a.Country)
	if err != nil {
		return fmt.Errorf("insert address: %w", err)
	}
	return nil
}

// GetAddress returns ErrNotFound if id is unknown.
func (q queries) GetAddress(ctx context.Context, id string) (*model.Address, error) {
	var a model.Address
	err := q.db.QueryRowContext(ctx, `
		SELECT id, line_1, line_2, city, state, zip, country FROM addresses WHERE id = ?
	`, id).Scan(&a.ID, &a.Line1, &a.Line2, &a.City, &a.State, &a.Zip, &a.Country)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get address %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get address %s: %w", id, err)
	}
	return &a, nil
}

// InsertAddressPair stores the pair and its extracted address.
func (q queries) InsertAddressPair(ctx context.Context, p model.AddressPair) error {
	if err := q.InsertAddress(ctx, p.Extracted); err != nil {
		return fmt.Errorf("insert address pair: %w", err)
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO address_pairs (id, employee_id, extracted_address_id) VALUES (?, ?, ?)
	`, p.ID, p.EmployeeID, p.Extracted.ID)
	if err != nil {
		return fmt.Errorf("insert address pair: %w", err)
	}
	return nil
}

// GetAddressPair loads the pair with both addresses.
func (q queries) GetAddressPair(ctx context.Context, id string) (*model.AddressPair, error) {
	var (
		p           model.AddressPair
		extractedID string
		validatedID sql.NullString
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, employee_id, extracted_address_id, validated_address_id FROM address_pairs WHERE id = ?
	`, id).Scan(&p.ID, &p.EmployeeID, &extractedID, &validatedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get address pair %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get address pair %s: %w", id, err)
	}
	return q.fillAddressPair(ctx, &p, extractedID, validatedID)
}

func (q queries) fillAddressPair(ctx context.Context, p *model.AddressPair, extractedID string, validatedID sql.NullString) (*model.AddressPair, error) {
	extracted, err := q.GetAddress(ctx, extractedID)
	if err != nil {
		return nil, err
	}
	p.Extracted = *extracted
	if validatedID.Valid {
		if p.Validated, err = q.GetAddress(ctx, validatedID.String); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// FindAddressPair returns the employee's pair whose extracted address matches
// a, so repeated payments to the same address share one pair. Returns
// ErrNotFound when there is none.
func (q queries) FindAddressPair(ctx context.Context, employeeID string, a model.Address) (*model.AddressPair, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM address_pairs WHERE employee_id = ? ORDER BY id ASC
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("find address pair: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("find address pair: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find address pair: iterate: %w", err)
	}

	for _, id := range ids {
		pair, err := q.GetAddressPair(ctx, id)
		if err != nil {
			return nil, err
		}
		if pair.Extracted.SameAs(a) {
			return pair, nil
		}
	}
	return nil, ErrNotFound
}

// SetValidatedAddress stores a as the pair's validated address. A pair that
// is already validated is left untouched and ErrAlreadyValidated returned.
func (q queries) SetValidatedAddress(ctx context.Context, pairID string, a model.Address) error {
	if err := q.InsertAddress(ctx, a); err != nil {
		return fmt.Errorf("set validated address: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE address_pairs SET validated_address_id = ?
		WHERE id = ? AND validated_address_id IS NULL
	`, a.ID, pairID)
	if err != nil {
		return fmt.Errorf("set validated address: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set validated address: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set validated address %s: %w", pairID, ErrAlreadyValidated)
	}
	return nil
}

// FindOrCreateEFT reuses an identical bank account for the employee or
// inserts it under newID.
func (q queries) FindOrCreateEFT(ctx context.Context, newID string, e model.PubEFT) (*model.PubEFT, bool, error) {
	var id string
	err := q.db.QueryRowContext(ctx, `
		SELECT id FROM pub_efts
		WHERE employee_id = ? AND routing_number = ? AND account_number = ? AND account_type = ?
	`, e.EmployeeID, e.RoutingNumber, e.AccountNumber, string(e.AccountType)).Scan(&id)
	if err == nil {
		e.ID = id
		return &e, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("find eft: %w", err)
	}

	e.ID = newID
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO pub_efts (id, employee_id, routing_number, account_number, account_type)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.EmployeeID, e.RoutingNumber, e.AccountNumber, string(e.AccountType))
	if err != nil {
		return nil, false, fmt.Errorf("insert eft: %w", err)
	}
	return &e, true, nil
}

// GetEFT returns ErrNotFound if id is unknown.
func (q queries) GetEFT(ctx context.Context, id string) (*model.PubEFT, error) {
	var (
		e           model.PubEFT
		accountType string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT id, employee_id, routing_number, account_number, account_type FROM pub_efts WHERE id = ?
	`, id).Scan(&e.ID, &e.EmployeeID, &e.RoutingNumber, &e.AccountNumber, &accountType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get eft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get eft %s: %w", id, err)
	}
	e.AccountType = model.AccountType(accountType)
	return &e, nil
}
