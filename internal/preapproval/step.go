package preapproval

import (
	"context"
	"strings"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/writeback"
)

// StepName identifies the preapproval step.
const StepName = "preapproval"

// Metrics. Each raised issue type is also counted as issue_<type>_count.
const (
	MetricPreapproved   = "preapproved_count"
	MetricRequiresAudit = "requires_audit_count"
)

// ReadyStates are the states a payment is evaluated from: ACH payments come
// straight from the extract, checks once their address is validated.
var ReadyStates = []state.State{state.PaymentReadyForPreapproval, state.PaymentAddressValidated}

// Step moves ready payments to payment_preapproved or payment_requires_audit.
type Step struct{}

func (s *Step) Name() string { return StepName }

// RunStep evaluates every claimed payment.
//
// Outcome keys: message, issues (a list of {type, description}).
func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	refs, err := run.ClaimInState(ctx, model.EntityPayment, ReadyStates...)
	if err != nil {
		return err
	}
	engine := NewEngine(run.Store(), run.Logger())

	return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
		p, err := run.Store().GetPayment(ctx, ref.ID)
		if err != nil {
			return err
		}
		issues, err := engine.Evaluate(ctx, p)
		if err != nil {
			return err
		}

		err = run.InTx(ctx, func(tx *store.Tx) error {
			if len(issues) == 0 {
				return run.Transition(ctx, tx, p, state.PaymentPreapproved, statelog.NewOutcome("preapproved"))
			}
			rendered := make([]statelog.Outcome, len(issues))
			for i, issue := range issues {
				rendered[i] = issue.Outcome()
			}
			outcome := statelog.NewOutcome("requires audit").With("issues", rendered)
			if err := run.Transition(ctx, tx, p, state.PaymentRequiresAudit, outcome); err != nil {
				return err
			}
			return writeback.Enqueue(ctx, tx, run.StateLog(), p, model.WritebackPendingAudit, run.Now())
		})
		if err != nil {
			return err
		}

		if len(issues) == 0 {
			run.Increment(MetricPreapproved)
			return nil
		}
		run.Increment(MetricRequiresAudit)
		for _, typ := range Types(issues) {
			run.Increment("issue_" + strings.ToLower(string(typ)) + "_count")
		}
		run.EntityLogger(ref).Info("payment requires audit", "issues", Types(issues))
		return nil
	})
}
