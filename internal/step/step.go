package step

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/roach88/disburse/internal/metrics"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/store"
)

// Run statuses.
const (
	StatusSuccess = store.ImportSucceeded
	StatusError   = store.ImportFailed
)

// DefaultBatchSize bounds how many entities a single run claims.
const DefaultBatchSize = 1000

// Logic is the business work of one step.
type Logic interface {
	// Name identifies the step in logs, metrics and import logs.
	Name() string
	// RunStep does the work. Returning an error fails the run.
	RunStep(ctx context.Context, run *Run) error
}

// Deps are the collaborators shared by every step.
type Deps struct {
	Store     *store.Store
	Clock     model.Clock
	IDs       model.IDGenerator
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	WorkerID  string
	BatchSize int
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = model.SystemClock{}
	}
	if d.IDs == nil {
		d.IDs = model.UUIDv7Generator{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.WorkerID == "" {
		d.WorkerID = d.IDs.Generate()
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	return d
}

// Report summarises one run.
type Report struct {
	Step        string
	ImportLogID int64
	Status      string
	Start       time.Time
	End         time.Time
	Metrics     map[string]int64
}

// Duration is End - Start.
func (r Report) Duration() time.Duration { return r.End.Sub(r.Start) }

// Execute runs logic inside the step envelope and returns its report. The
// import log is finished even when logic fails or panics.
func Execute(ctx context.Context, deps Deps, logic Logic) (Report, error) {
	deps = deps.withDefaults()
	name := logic.Name()
	report := Report{Step: name, Start: deps.Clock.Now()}

	importLogID, err := deps.Store.StartImportLog(ctx, name, report.Start)
	if err != nil {
		return report, fmt.Errorf("step %s: %w", name, err)
	}
	report.ImportLogID = importLogID

	run := newRun(deps, name, importLogID)
	runErr := runSafely(ctx, logic, run)

	// Claims never outlive the run, successful or not.
	if released, err := deps.Store.ReleaseClaims(context.WithoutCancel(ctx), deps.WorkerID); err != nil {
		deps.Logger.Error("releasing work claims failed", "step", name, "worker_id", deps.WorkerID, "error", err)
	} else if released > 0 {
		deps.Logger.Debug("work claims released", "step", name, "count", released)
	}

	report.End = deps.Clock.Now()
	report.Metrics = run.Metrics()
	report.Status = StatusSuccess
	if runErr != nil {
		report.Status = StatusError
	}

	body, err := json.Marshal(report.Metrics)
	if err != nil {
		return report, fmt.Errorf("step %s: encode metrics: %w", name, err)
	}
	if err := deps.Store.FinishImportLog(context.WithoutCancel(ctx), importLogID, report.Status, body, report.End); err != nil {
		deps.Logger.Error("finishing import log failed", "step", name, "import_log_id", importLogID, "error", err)
	}

	for _, metric := range sortedKeys(report.Metrics) {
		deps.Metrics.Add(name, metric, report.Metrics[metric])
	}
	deps.Metrics.ObserveRun(name, report.Status, report.Duration())

	attrs := []any{
		"step", name,
		"status", report.Status,
		"import_log_id", importLogID,
		"duration", report.Duration().String(),
	}
	for _, metric := range sortedKeys(report.Metrics) {
		attrs = append(attrs, metric, report.Metrics[metric])
	}
	if runErr != nil {
		attrs = append(attrs, "error", runErr)
		deps.Logger.Error("step complete", attrs...)
		return report, fmt.Errorf("step %s: %w", name, runErr)
	}
	deps.Logger.Info("step complete", attrs...)
	return report, nil
}

func runSafely(ctx context.Context, logic Logic, run *Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return logic.RunStep(ctx, run)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
