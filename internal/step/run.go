package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/disburse/internal/metrics"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
)

// MetricEntityErrors counts entities whose processing failed or panicked.
const MetricEntityErrors = "entity_error_count"

// Run is the per-run context handed to Logic.RunStep.
type Run struct {
	deps        Deps
	name        string
	importLogID int64
	log         *statelog.Log
	logger      *slog.Logger

	mu      sync.Mutex
	metrics map[string]int64
}

func newRun(deps Deps, name string, importLogID int64) *Run {
	return &Run{
		deps:        deps,
		name:        name,
		importLogID: importLogID,
		log:         statelog.New(deps.Clock).ForImportLog(importLogID),
		logger:      deps.Logger.With("step", name),
		metrics:     map[string]int64{},
	}
}

// Store returns the shared store. Do not call its methods inside InTx.
func (r *Run) Store() *store.Store { return r.deps.Store }

// StateLog returns a State Log that stamps entries with this run's import log.
func (r *Run) StateLog() *statelog.Log { return r.log }

// ImportLogID identifies this run.
func (r *Run) ImportLogID() int64 { return r.importLogID }

// Logger returns the step logger.
func (r *Run) Logger() *slog.Logger { return r.logger }

// EntityLogger returns the step logger with entity attributes attached.
func (r *Run) EntityLogger(ref model.Ref) *slog.Logger {
	return r.logger.With("entity_type", string(ref.Type), "entity_id", ref.ID)
}

// Recorder returns the Prometheus recorder the run reports into.
func (r *Run) Recorder() *metrics.Recorder { return r.deps.Metrics }

// Now reads the run clock.
func (r *Run) Now() time.Time { return r.deps.Clock.Now() }

// NewID returns a fresh identifier.
func (r *Run) NewID() string { return r.deps.IDs.Generate() }

// Increment adds one to the named metric.
func (r *Run) Increment(name string) { r.IncrementBy(name, 1) }

// IncrementBy adds n to the named metric.
func (r *Run) IncrementBy(name string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] += n
}

// Set overwrites the named metric.
func (r *Run) Set(name string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = n
}

// Get returns the current value of the named metric.
func (r *Run) Get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics[name]
}

// Metrics returns a copy of every metric recorded so far.
func (r *Run) Metrics() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.metrics))
	for k, v := range r.metrics {
		out[k] = v
	}
	return out
}

// Claim tags up to the batch size of refs for this worker and returns the
// ones won. The claims are released when the run ends.
func (r *Run) Claim(ctx context.Context, refs []model.Ref) ([]model.Ref, error) {
	if len(refs) == 0 {
		return []model.Ref{}, nil
	}
	won, err := r.deps.Store.ClaimEntities(ctx, r.deps.WorkerID, refs, r.deps.BatchSize, r.Now())
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if skipped := len(refs) - len(won); skipped > 0 {
		r.logger.Debug("entities not claimed", "candidates", len(refs), "claimed", len(won))
	}
	return won, nil
}

// ClaimInState finds entities whose latest state is one of states and claims
// a batch of them, in the order they reached those states.
func (r *Run) ClaimInState(ctx context.Context, entityType model.EntityType, states ...state.State) ([]model.Ref, error) {
	refs, err := statelog.AllLatestInEndStates(ctx, r.deps.Store.DB(), entityType, states...)
	if err != nil {
		return nil, fmt.Errorf("claim in state: %w", err)
	}
	return r.Claim(ctx, dedupe(refs))
}

// InTx runs fn as one unit of work.
func (r *Run) InTx(ctx context.Context, fn func(tx *store.Tx) error) error {
	return r.deps.Store.WithTx(ctx, fn)
}

// Transition records e moving to end inside tx.
func (r *Run) Transition(ctx context.Context, tx *store.Tx, e model.Entity, end state.State, outcome statelog.Outcome) error {
	if _, err := r.log.CreateTransition(ctx, tx, e, end, outcome); err != nil {
		return err
	}
	return nil
}

// ForEach calls fn for every ref. An error or panic from fn is logged with
// the entity's attributes and counted under MetricEntityErrors; the loop
// continues with the next ref. A *FatalError or a cancelled context stops the
// loop and is returned.
func (r *Run) ForEach(ctx context.Context, refs []model.Ref, fn func(ctx context.Context, ref model.Ref) error) error {
	return Each(ctx, r, refs, func(ref model.Ref) *slog.Logger { return r.EntityLogger(ref) }, fn)
}

// Each is ForEach for work items that are not entities yet, such as staged
// file rows. logger supplies the attributes a failure is logged with.
func Each[T any](ctx context.Context, r *Run, items []T, logger func(T) *slog.Logger, fn func(ctx context.Context, item T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := callSafely(ctx, item, fn)
		if err == nil {
			continue
		}
		if IsFatal(err) || errors.Is(err, context.Canceled) {
			return err
		}
		r.Increment(MetricEntityErrors)
		logger(item).Warn("entity processing failed", "error", err)
	}
	return nil
}

func callSafely[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx, item)
}

func dedupe(refs []model.Ref) []model.Ref {
	seen := make(map[model.Ref]bool, len(refs))
	out := make([]model.Ref, 0, len(refs))
	for _, ref := range refs {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
