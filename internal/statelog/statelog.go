package statelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and store.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrWrongEntityType is returned when an entity is moved into a state of a
// flow that tracks a different entity type.
var ErrWrongEntityType = errors.New("entity type does not match flow")

// Entry is one immutable transition record.
type Entry struct {
	ID          int64
	EntityType  model.EntityType
	EntityID    string
	Flow        state.Flow
	StartState  state.State // zero for the first entry of a flow
	EndState    state.State
	Outcome     Outcome
	ImportLogID int64
	CreatedAt   time.Time
}

// Ref returns the entity the entry belongs to.
func (e Entry) Ref() model.Ref {
	return model.Ref{Type: e.EntityType, ID: e.EntityID}
}

// Log creates transitions stamped with its clock and, optionally, the import
// log of the step run that produced them.
type Log struct {
	clock       model.Clock
	importLogID int64
}

// New returns a Log reading time from clock.
func New(clock model.Clock) *Log {
	if clock == nil {
		clock = model.SystemClock{}
	}
	return &Log{clock: clock}
}

// ForImportLog returns a copy of l that stamps entries with importLogID.
func (l *Log) ForImportLog(importLogID int64) *Log {
	return &Log{clock: l.clock, importLogID: importLogID}
}

// CreateTransition appends a transition of e into end. The start state is
// the current end state of e in end's flow, or empty if e has never been in
// that flow. No existing row is touched.
func (l *Log) CreateTransition(ctx context.Context, q DBTX, e model.Entity, end state.State, outcome Outcome) (Entry, error) {
	if !state.Known(end) {
		return Entry{}, fmt.Errorf("create transition: %w: %q", state.ErrUnknownState, end.Name)
	}
	if e.EntityID() == "" {
		return Entry{}, fmt.Errorf("create transition: %s entity has no id", e.EntityType())
	}
	if want := state.EntityTypeOf(end.Flow); want != e.EntityType() {
		return Entry{}, fmt.Errorf("create transition: %w: flow %s tracks %s, got %s",
			ErrWrongEntityType, end.Flow, want, e.EntityType())
	}

	prev, err := LatestInFlow(ctx, q, e, end.Flow)
	if err != nil {
		return Entry{}, fmt.Errorf("create transition: %w", err)
	}

	if outcome == nil {
		outcome = Outcome{}
	}
	outcomeJSON, err := outcome.Encode()
	if err != nil {
		return Entry{}, fmt.Errorf("create transition: encode outcome: %w", err)
	}

	entry := Entry{
		EntityType:  e.EntityType(),
		EntityID:    e.EntityID(),
		Flow:        end.Flow,
		EndState:    end,
		Outcome:     outcome,
		ImportLogID: l.importLogID,
		CreatedAt:   l.clock.Now().UTC(),
	}
	var start sql.NullString
	if prev != nil {
		entry.StartState = prev.EndState
		start = sql.NullString{String: prev.EndState.Name, Valid: true}
	}
	var importLog sql.NullInt64
	if l.importLogID != 0 {
		importLog = sql.NullInt64{Int64: l.importLogID, Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO state_logs
		(entity_type, entity_id, flow, start_state, end_state, outcome, import_log_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(entry.EntityType),
		entry.EntityID,
		string(entry.Flow),
		start,
		end.Name,
		string(outcomeJSON),
		importLog,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("create transition: insert: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("create transition: last insert id: %w", err)
	}
	return entry, nil
}

const entryColumns = `id, entity_type, entity_id, flow, start_state, end_state, outcome, import_log_id, created_at`

// LatestInFlow returns the current entry of e in flow, or nil if e has never
// entered it.
func LatestInFlow(ctx context.Context, q DBTX, e model.Entity, flow state.Flow) (*Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM state_logs
		WHERE entity_type = ? AND entity_id = ? AND flow = ?
		ORDER BY id DESC
		LIMIT 1
	`, string(e.EntityType()), e.EntityID(), string(flow))

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest in flow: %w", err)
	}
	return &entry, nil
}

// IsLatestIn reports whether e's current state in s's flow is one of states.
// All states must belong to the same flow.
func IsLatestIn(ctx context.Context, q DBTX, e model.Entity, states ...state.State) (bool, error) {
	if len(states) == 0 {
		return false, nil
	}
	latest, err := LatestInFlow(ctx, q, e, states[0].Flow)
	if err != nil || latest == nil {
		return false, err
	}
	for _, s := range states {
		if latest.EndState == s {
			return true, nil
		}
	}
	return false, nil
}

// AllLatestInEndState returns every entity of entityType whose latest entry
// in end's flow is end. Stale entries never match: an entity that passed
// through end and moved on is not returned. Results are in the order the
// entities reached end.
func AllLatestInEndState(ctx context.Context, q DBTX, entityType model.EntityType, end state.State) ([]model.Ref, error) {
	return AllLatestInEndStates(ctx, q, entityType, end)
}

// AllLatestInEndStates is AllLatestInEndState over several end states, which
// may belong to different flows.
func AllLatestInEndStates(ctx context.Context, q DBTX, entityType model.EntityType, ends ...state.State) ([]model.Ref, error) {
	if len(ends) == 0 {
		return []model.Ref{}, nil
	}
	placeholders := make([]string, len(ends))
	args := []any{string(entityType)}
	for i, s := range ends {
		if !state.Known(s) {
			return nil, fmt.Errorf("all latest in end state: %w: %q", state.ErrUnknownState, s.Name)
		}
		placeholders[i] = "?"
		args = append(args, s.Name)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT s.entity_id
		FROM state_logs s
		WHERE s.entity_type = ?
		  AND s.end_state IN (`+strings.Join(placeholders, ", ")+`)
		  AND s.id = (
			SELECT MAX(l.id) FROM state_logs l
			WHERE l.entity_type = s.entity_type
			  AND l.entity_id = s.entity_id
			  AND l.flow = s.flow
		  )
		ORDER BY s.id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("all latest in end state: %w", err)
	}
	defer rows.Close()

	refs := []model.Ref{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("all latest in end state: scan: %w", err)
		}
		refs = append(refs, model.Ref{Type: entityType, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all latest in end state: iterate: %w", err)
	}
	return refs, nil
}

// History returns every entry for e, oldest first. An empty flow returns
// entries from all flows.
func History(ctx context.Context, q DBTX, e model.Entity, flow state.Flow) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM state_logs WHERE entity_type = ? AND entity_id = ?`
	args := []any{string(e.EntityType()), e.EntityID()}
	if flow != "" {
		query += ` AND flow = ?`
		args = append(args, string(flow))
	}
	query += ` ORDER BY id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                  Entry
		entityType, flow   string
		start              sql.NullString
		end, outcome, when string
		importLog          sql.NullInt64
	)
	if err := row.Scan(&e.ID, &entityType, &e.EntityID, &flow, &start, &end, &outcome, &importLog, &when); err != nil {
		return Entry{}, err
	}
	e.EntityType = model.EntityType(entityType)
	e.Flow = state.Flow(flow)

	var err error
	if start.Valid {
		if e.StartState, err = state.ByName(start.String); err != nil {
			return Entry{}, err
		}
	}
	if e.EndState, err = state.ByName(end); err != nil {
		return Entry{}, err
	}
	if e.Outcome, err = DecodeOutcome([]byte(outcome)); err != nil {
		return Entry{}, err
	}
	e.ImportLogID = importLog.Int64
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, when); err != nil {
		return Entry{}, fmt.Errorf("parse created_at: %w", err)
	}
	return e, nil
}
