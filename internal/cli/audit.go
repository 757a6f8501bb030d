package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/preapproval"
	"github.com/roach88/disburse/internal/store"
)

// AuditOptions holds flags for the audit subcommands.
type AuditOptions struct {
	*RootOptions
	Reason string

	// Clock and IDs override the system clock and worker id generator (for
	// testing).
	Clock model.Clock
	IDs   model.IDGenerator
}

// AuditResult is the output of an audit decision.
type AuditResult struct {
	PaymentID string `json:"payment_id"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// NewAuditCommand creates the audit command and its approve and reject
// subcommands.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Record manual audit decisions",
		Long: `Record the outcome of a manual audit for a payment in payment_requires_audit.

An approved payment returns to payment_preapproved and is disbursed by the
next generate-nacha or generate-checks run. A rejected payment ends in
payment_audit_rejected and is reported to the vendor as "Audit Rejected".`,
	}
	cmd.AddCommand(newAuditDecisionCommand(rootOpts, true))
	cmd.AddCommand(newAuditDecisionCommand(rootOpts, false))
	return cmd
}

func newAuditDecisionCommand(rootOpts *RootOptions, approve bool) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}
	use, short := "reject <payment-id>", "Reject a payment held for audit"
	if approve {
		use, short = "approve <payment-id>", "Approve a payment held for audit"
	}

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditDecision(opts, approve, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "reason recorded in the state log")
	if !approve {
		_ = cmd.MarkFlagRequired("reason")
	}

	return cmd
}

func runAuditDecision(opts *AuditOptions, approve bool, paymentID string, cmd *cobra.Command) error {
	sess, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer sess.Close()

	clock, ids := opts.Clock, opts.IDs
	if clock == nil {
		clock = model.SystemClock{}
	}
	if ids == nil {
		ids = model.UUIDv7Generator{}
	}

	entry, err := preapproval.Decide(commandContext(cmd), sess.store, clock, paymentID, preapproval.Decision{
		Approve: approve,
		Reason:  opts.Reason,
		Worker:  "audit-" + ids.Generate(),
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return WrapExitError(ExitCommandError, "payment not found", err)
	case errors.Is(err, preapproval.ErrNotAwaitingAudit), errors.Is(err, preapproval.ErrPaymentBusy):
		return WrapExitError(ExitFailure, "decision refused", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to record decision", err)
	}
	sess.logger.Info("audit decision recorded",
		"entity_type", string(model.EntityPayment), "entity_id", paymentID, "state", entry.EndState.Name)

	result := AuditResult{PaymentID: paymentID, State: entry.EndState.Name, Reason: opts.Reason}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "payment %s -> %s\n", result.PaymentID, result.State)
	})
}
