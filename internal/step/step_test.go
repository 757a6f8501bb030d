package step

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/metrics"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
	dtestutil "github.com/roach88/disburse/internal/testutil"
)

type funcLogic struct {
	name string
	fn   func(ctx context.Context, run *Run) error
}

func (l funcLogic) Name() string                               { return l.name }
func (l funcLogic) RunStep(ctx context.Context, run *Run) error { return l.fn(ctx, run) }

func testDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Store:    dtestutil.NewStore(t),
		Clock:    dtestutil.NewStepClock(dtestutil.Epoch, time.Second),
		IDs:      model.NewSequentialGenerator("id"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  metrics.New(),
		WorkerID: "worker-1",
	}
}

func payment(id string) model.Ref { return model.Ref{Type: model.EntityPayment, ID: id} }

func TestExecute_RecordsImportLog(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()

	report, err := Execute(ctx, deps, funcLogic{name: "count", fn: func(ctx context.Context, run *Run) error {
		run.Increment("processed_count")
		run.IncrementBy("processed_count", 2)
		run.Set("file_count", 1)
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, map[string]int64{"processed_count": 3, "file_count": 1}, report.Metrics)
	assert.Equal(t, time.Second, report.Duration())

	l, err := deps.Store.GetImportLog(ctx, report.ImportLogID)
	require.NoError(t, err)
	assert.Equal(t, "count", l.Type)
	assert.Equal(t, store.ImportSucceeded, l.Status)
	assert.JSONEq(t, `{"file_count":1,"processed_count":3}`, l.Report)

	assert.Equal(t, 3.0, testutil.ToFloat64(deps.Metrics.StepMetricTotal.WithLabelValues("count", "processed_count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.StepRunsTotal.WithLabelValues("count", StatusSuccess)))
}

func TestExecute_FailedRunKeepsPartialMetrics(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	missing := Fatal(ErrCodeMissingInput, nil, "no extract found under %s", "vendor/")

	report, err := Execute(ctx, deps, funcLogic{name: "ingest", fn: func(ctx context.Context, run *Run) error {
		run.Increment("file_count")
		return missing
	}})
	require.Error(t, err)
	assert.True(t, IsFatalCode(err, ErrCodeMissingInput))
	assert.Equal(t, StatusError, report.Status)

	l, err := deps.Store.GetImportLog(ctx, report.ImportLogID)
	require.NoError(t, err)
	assert.Equal(t, store.ImportFailed, l.Status)
	assert.JSONEq(t, `{"file_count":1}`, l.Report)
	assert.False(t, l.EndTime.IsZero())
}

func TestExecute_RecoversPanic(t *testing.T) {
	deps := testDeps(t)

	report, err := Execute(context.Background(), deps, funcLogic{name: "boom", fn: func(ctx context.Context, run *Run) error {
		panic("unexpected nil")
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected nil")
	assert.Equal(t, StatusError, report.Status)
}

func TestExecute_LogsCompletionLine(t *testing.T) {
	deps := testDeps(t)
	var buf bytes.Buffer
	deps.Logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err := Execute(context.Background(), deps, funcLogic{name: "quiet", fn: func(ctx context.Context, run *Run) error {
		run.Increment("processed_count")
		return nil
	}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"step complete"`)
	assert.Contains(t, buf.String(), `"step":"quiet"`)
	assert.Contains(t, buf.String(), `"processed_count":1`)
}

func TestForEach_IsolatesEntityFailures(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	refs := []model.Ref{payment("p1"), payment("p2"), payment("p3"), payment("p4")}

	report, err := Execute(ctx, deps, funcLogic{name: "advance", fn: func(ctx context.Context, run *Run) error {
		return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
			switch ref.ID {
			case "p2":
				return errors.New("vendor record incomplete")
			case "p3":
				panic("nil address")
			}
			return run.InTx(ctx, func(tx *store.Tx) error {
				return run.Transition(ctx, tx, ref, state.PaymentPreapproved, statelog.NewOutcome("ok"))
			})
		})
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, report.Metrics[MetricEntityErrors])

	got, err := statelog.AllLatestInEndState(ctx, deps.Store.DB(), model.EntityPayment, state.PaymentPreapproved)
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{payment("p1"), payment("p4")}, got)

	history, err := statelog.History(ctx, deps.Store.DB(), payment("p1"), state.FlowPaymentWriteback)
	require.NoError(t, err)
	assert.Empty(t, history)

	entries, err := statelog.History(ctx, deps.Store.DB(), payment("p4"), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, report.ImportLogID, entries[0].ImportLogID)
}

func TestForEach_FatalStopsLoop(t *testing.T) {
	deps := testDeps(t)
	seen := 0

	_, err := Execute(context.Background(), deps, funcLogic{name: "fatal", fn: func(ctx context.Context, run *Run) error {
		return run.ForEach(ctx, []model.Ref{payment("p1"), payment("p2")}, func(ctx context.Context, ref model.Ref) error {
			seen++
			return Fatal(ErrCodeConfig, nil, "no bank routing configured")
		})
	}})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, seen)
}

func TestClaimInState_ClaimsBatchAndReleases(t *testing.T) {
	deps := testDeps(t)
	deps.BatchSize = 2
	ctx := context.Background()

	log := statelog.New(deps.Clock)
	for _, id := range []string{"p1", "p2", "p3"} {
		_, err := log.CreateTransition(ctx, deps.Store.DB(), payment(id), state.PaymentPreapproved, nil)
		require.NoError(t, err)
	}
	// Another worker already holds p1.
	_, err := deps.Store.ClaimEntities(ctx, "worker-2", []model.Ref{payment("p1")}, 0, dtestutil.Epoch)
	require.NoError(t, err)

	var claimed []model.Ref
	_, err = Execute(ctx, deps, funcLogic{name: "claim", fn: func(ctx context.Context, run *Run) error {
		var err error
		claimed, err = run.ClaimInState(ctx, model.EntityPayment, state.PaymentPreapproved)
		if err != nil {
			return err
		}
		holder, err := run.Store().ClaimedBy(ctx, payment("p2"))
		require.NoError(t, err)
		assert.Equal(t, "worker-1", holder)
		return nil
	}})
	require.NoError(t, err)
	assert.Equal(t, []model.Ref{payment("p2"), payment("p3")}, claimed)

	holder, err := deps.Store.ClaimedBy(ctx, payment("p2"))
	require.NoError(t, err)
	assert.Empty(t, holder, "claims must be released when the run ends")
	holder, err = deps.Store.ClaimedBy(ctx, payment("p1"))
	require.NoError(t, err)
	assert.Equal(t, "worker-2", holder)
}

func TestFatalError_Unwrap(t *testing.T) {
	cause := errors.New("no such key")
	err := Fatal(ErrCodeMissingInput, cause, "extract %s", "vpei.csv")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "MISSING_INPUT: extract vpei.csv: no such key", err.Error())
	assert.False(t, IsFatalCode(errors.New("x"), ErrCodeConfig))
}
