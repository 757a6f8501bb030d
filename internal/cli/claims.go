package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/model"
)

// ClaimsOptions holds flags for the claims release command.
type ClaimsOptions struct {
	*RootOptions
	StaleAfter time.Duration

	// Clock overrides the system clock (for testing).
	Clock model.Clock
}

// ReleaseResult is the output of claims release.
type ReleaseResult struct {
	Released int64     `json:"released"`
	Cutoff   time.Time `json:"cutoff"`
}

// NewClaimsCommand creates the claims command.
func NewClaimsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "Manage work claims",
	}
	cmd.AddCommand(newClaimsReleaseCommand(rootOpts))
	return cmd
}

func newClaimsReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClaimsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release claims left behind by crashed workers",
		Long: `Release work claims older than --stale-after.

A step releases its own claims when it finishes. Claims survive only when a
worker process dies mid-run; until released they keep those entities out of
every later run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaimsRelease(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.StaleAfter, "stale-after", time.Hour, "release claims older than this")

	return cmd
}

func runClaimsRelease(opts *ClaimsOptions, cmd *cobra.Command) error {
	if opts.StaleAfter < 0 {
		return NewExitError(ExitCommandError, "--stale-after must not be negative")
	}
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	clock := opts.Clock
	if clock == nil {
		clock = model.SystemClock{}
	}
	cutoff := clock.Now().Add(-opts.StaleAfter)
	released, err := sess.store.ReleaseStaleClaims(commandContext(cmd), cutoff)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to release claims", err)
	}
	sess.logger.Info("stale work claims released", "count", released, "cutoff", cutoff)

	result := ReleaseResult{Released: released, Cutoff: cutoff}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "released %d claim(s) taken before %s\n", result.Released, result.Cutoff.Format(time.RFC3339))
	})
}
