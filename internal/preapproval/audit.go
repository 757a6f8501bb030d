package preapproval

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/writeback"
)

var (
	// ErrNotAwaitingAudit is returned when a decision targets a payment that
	// is not in payment_requires_audit.
	ErrNotAwaitingAudit = errors.New("payment is not awaiting audit")

	// ErrPaymentBusy is returned when a running step holds the payment.
	ErrPaymentBusy = errors.New("payment is claimed by a running step")
)

// Decision is a manual audit verdict.
type Decision struct {
	Approve bool
	Reason  string
	Worker  string // claims the payment while the decision is recorded
}

// Decide records d for the payment. An approved payment returns to
// payment_preapproved and is picked up by the next disbursement run. A
// rejected one ends in payment_audit_rejected and is queued for writeback.
//
// Outcome keys: message, reason (when given).
func Decide(ctx context.Context, s *store.Store, clock model.Clock, paymentID string, d Decision) (*statelog.Entry, error) {
	ref := model.Ref{Type: model.EntityPayment, ID: paymentID}
	won, err := s.ClaimEntities(ctx, d.Worker, []model.Ref{ref}, 1, clock.Now())
	if err != nil {
		return nil, err
	}
	if len(won) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPaymentBusy, paymentID)
	}
	defer s.ReleaseClaims(context.WithoutCancel(ctx), d.Worker)

	end, message := state.PaymentAuditRejected, "manual audit rejected"
	if d.Approve {
		end, message = state.PaymentPreapproved, "manual audit approved"
	}
	outcome := statelog.NewOutcome(message)
	if d.Reason != "" {
		outcome = outcome.With("reason", d.Reason)
	}

	log := statelog.New(clock)
	var entry statelog.Entry
	err = s.WithTx(ctx, func(tx *store.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		current, err := statelog.LatestInFlow(ctx, tx, p, state.FlowDelegatedPayment)
		if err != nil {
			return err
		}
		if current == nil || current.EndState != state.PaymentRequiresAudit {
			name := "no state"
			if current != nil {
				name = current.EndState.Name
			}
			return fmt.Errorf("%w: %s is in %s", ErrNotAwaitingAudit, paymentID, name)
		}
		entry, err = log.CreateTransition(ctx, tx, p, end, outcome)
		if err != nil {
			return err
		}
		if d.Approve {
			return nil
		}
		return writeback.Enqueue(ctx, tx, log, p, model.WritebackAuditRejected, clock.Now())
	})
	if err != nil {
		return nil, fmt.Errorf("audit decision for %s: %w", paymentID, err)
	}
	return &entry, nil
}
