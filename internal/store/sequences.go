package store

import (
	"context"
	"fmt"
)

// Sequence names.
const (
	SeqCheckNumber  = "check_number"
	SeqIndividualID = "ach_individual_id"
)

// NextSequenceBlock reserves n consecutive values of the named sequence and
// returns the first. A sequence that has never been used starts at start.
// Call it inside the transaction that consumes the values.
func (q queries) NextSequenceBlock(ctx context.Context, name string, n, start int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("next sequence %s: block size %d must be positive", name, n)
	}
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO sequences (name, next_value) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, name, start); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}

	var first int64
	if err := q.db.QueryRowContext(ctx, `SELECT next_value FROM sequences WHERE name = ?`, name).Scan(&first); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	if _, err := q.db.ExecContext(ctx, `
		UPDATE sequences SET next_value = ? WHERE name = ?
	`, first+n, name); err != nil {
		return 0, fmt.Errorf("next sequence %s: %w", name, err)
	}
	return first, nil
}
