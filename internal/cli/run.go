package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/addrverify"
	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/metrics"
	"github.com/roach88/disburse/internal/pipeline"
	"github.com/roach88/disburse/internal/step"
)

// MetricsJob is the Pushgateway job name step metrics are pushed under.
const MetricsJob = "disburse"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	All bool

	// AddressClient overrides the configured address verification client
	// (for testing).
	AddressClient addrverify.Client
}

// StepResult is the outcome of one step in a run.
type StepResult struct {
	Step        string           `json:"step"`
	Status      string           `json:"status"`
	ImportLogID int64            `json:"import_log_id"`
	DurationMS  int64            `json:"duration_ms"`
	Metrics     map[string]int64 `json:"metrics"`
}

// RunResult is the output of the run command.
type RunResult struct {
	Steps []StepResult `json:"steps"`
	Error string       `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <step>... | --all",
		Short: "Run pipeline steps",
		Long: `Run the named steps, or every step with --all, in pipeline order.

Steps run one after another. The first failed step stops the run and the
command exits with status 1; steps that already ran keep their results.

Examples:
  disburse run --all
  disburse run ingest-extract preapproval
  disburse run --config ./disburse.yaml --format json generate-nacha`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "run every step")

	return cmd
}

func runSteps(opts *RunOptions, names []string, cmd *cobra.Command) error {
	switch {
	case opts.All && len(names) > 0:
		return NewExitError(ExitCommandError, "name steps or pass --all, not both")
	case !opts.All && len(names) == 0:
		return NewExitError(ExitCommandError, fmt.Sprintf("name at least one step or pass --all; steps: %s", strings.Join(pipeline.Order, ", ")))
	}

	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()
	cfg, logger := sess.cfg, sess.logger

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bs, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}

	addr := opts.AddressClient
	if addr == nil && cfg.AddressVerification.BaseURL != "" {
		addr = addrverify.NewHTTPClient(cfg.AddressVerification.BaseURL, cfg.AddressVerification.AuthToken, cfg.AddressVerification.Timeout)
	}

	registry, err := pipeline.New(cfg, bs, addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid pipeline configuration", err)
	}
	if opts.All {
		names = registry.Names()
	}
	if _, err := registry.Resolve(names); err != nil {
		return WrapExitError(ExitCommandError, "invalid step selection", err)
	}

	recorder := metrics.New()
	deps := step.Deps{
		Store:     sess.store,
		Logger:    logger,
		Metrics:   recorder,
		WorkerID:  cfg.Steps.WorkerID,
		BatchSize: cfg.Steps.BatchSize,
	}
	reports, runErr := registry.Run(ctx, deps, names)

	if err := recorder.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, MetricsJob); err != nil {
		logger.Warn("metrics push failed", "error", err)
	}

	result := RunResult{Steps: make([]StepResult, len(reports))}
	for i, r := range reports {
		result.Steps[i] = StepResult{
			Step:        r.Step,
			Status:      r.Status,
			ImportLogID: r.ImportLogID,
			DurationMS:  r.Duration().Milliseconds(),
			Metrics:     r.Metrics,
		}
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	if err := opts.formatter(cmd).Success(result, func(w io.Writer) { printRun(w, result) }); err != nil {
		return err
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "step run failed", runErr)
	}
	return nil
}

func printRun(w io.Writer, result RunResult) {
	for _, s := range result.Steps {
		fmt.Fprintf(w, "%-24s %-8s import_log=%d %dms\n", s.Step, s.Status, s.ImportLogID, s.DurationMS)
		keys := make([]string, 0, len(s.Metrics))
		for k := range s.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s=%d\n", k, s.Metrics[k])
		}
	}
}

// commandContext returns cmd's context, or Background when it has none.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
