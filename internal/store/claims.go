package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/disburse/internal/model"
)

// ClaimEntities tags up to limit of refs with worker in one short
// transaction and returns the refs it won, in input order. Refs already held
// by any worker are skipped. limit <= 0 means no limit.
func (s *Store) ClaimEntities(ctx context.Context, worker string, refs []model.Ref, limit int, at time.Time) ([]model.Ref, error) {
	won := []model.Ref{}
	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, ref := range refs {
			if limit > 0 && len(won) >= limit {
				break
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO work_claims (entity_type, entity_id, worker_id, claimed_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`, string(ref.Type), ref.ID, worker, formatTime(at))
			if err != nil {
				return fmt.Errorf("claim %s: %w", ref, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim %s: rows affected: %w", ref, err)
			}
			if n == 1 {
				won = append(won, ref)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim entities: %w", err)
	}
	return won, nil
}

// ReleaseClaims drops every claim held by worker.
func (q queries) ReleaseClaims(ctx context.Context, worker string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM work_claims WHERE worker_id = ?`, worker)
	if err != nil {
		return 0, fmt.Errorf("release claims: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseStaleClaims drops claims taken before cutoff, left behind by workers
// that died mid-run.
func (q queries) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM work_claims WHERE claimed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}

// ClaimedBy returns the worker holding ref, or "" if it is unclaimed.
func (q queries) ClaimedBy(ctx context.Context, ref model.Ref) (string, error) {
	var worker string
	err := q.db.QueryRowContext(ctx, `
		SELECT worker_id FROM work_claims WHERE entity_type = ? AND entity_id = ?
	`, string(ref.Type), ref.ID).Scan(&worker)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("claimed by: %w", err)
	}
	return worker, nil
}
