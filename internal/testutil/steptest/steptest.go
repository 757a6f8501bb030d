// Package steptest builds step dependencies for tests of packages that
// implement steps. It is separate from testutil because the step package's
// own tests use testutil.
package steptest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/roach88/disburse/internal/metrics"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

// Deps returns deterministic dependencies over s: a clock ticking one second
// per read from testutil.Epoch, sequential IDs and a discarded log.
func Deps(s *store.Store) step.Deps {
	return step.Deps{
		Store:    s,
		Clock:    testutil.NewStepClock(testutil.Epoch, time.Second),
		IDs:      model.NewSequentialGenerator("id"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.New(),
		WorkerID: "test-worker",
	}
}

// Execute runs logic and fails the test if the run errors.
func Execute(t testing.TB, deps step.Deps, logic step.Logic) step.Report {
	t.Helper()
	report, err := step.Execute(context.Background(), deps, logic)
	if err != nil {
		t.Fatalf("run %s: %v", logic.Name(), err)
	}
	return report
}
