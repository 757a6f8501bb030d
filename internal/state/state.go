// Package state is the fixed catalog of workflows (Flows) and their
// checkpoints (States).
//
// Every State belongs to exactly one Flow. The catalog is immutable: adding a
// state is a code change, never a runtime operation.
package state

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/disburse/internal/model"
)

// Flow names a logical workflow.
type Flow string

const (
	FlowDelegatedPayment  Flow = "delegated_payment"
	FlowDelegatedClaimant Flow = "delegated_claimant"
	FlowDelegatedClaim    Flow = "delegated_claim"
	FlowDelegatedEmployer Flow = "delegated_employer"
	FlowPaymentWriteback  Flow = "payment_writeback"
)

// State is a named point within a Flow.
type State struct {
	Name     string
	Flow     Flow
	Terminal bool
}

func (s State) String() string { return s.Name }

// IsZero reports whether s is the empty "flow-initial" state.
func (s State) IsZero() bool { return s.Name == "" }

var (
	PaymentReadyForAddressValidation = define(FlowDelegatedPayment, "payment_ready_for_address_validation", false)
	PaymentAddressValidated          = define(FlowDelegatedPayment, "payment_address_validated", false)
	PaymentFailedAddressValidation   = define(FlowDelegatedPayment, "payment_failed_address_validation", true)
	PaymentReadyForPreapproval       = define(FlowDelegatedPayment, "payment_ready_for_preapproval", false)
	PaymentPreapproved               = define(FlowDelegatedPayment, "payment_preapproved", false)
	PaymentRequiresAudit             = define(FlowDelegatedPayment, "payment_requires_audit", false)
	PaymentAuditRejected             = define(FlowDelegatedPayment, "payment_audit_rejected", true)
	PaymentExtractValidationError    = define(FlowDelegatedPayment, "payment_extract_validation_error", true)
	PaymentNotDisbursable            = define(FlowDelegatedPayment, "payment_not_disbursable", true)
	PaymentCheckIssued               = define(FlowDelegatedPayment, "payment_check_issued", false)
	PaymentComplete                  = define(FlowDelegatedPayment, "payment_complete", true)
	PaymentCheckCancelled            = define(FlowDelegatedPayment, "payment_check_cancelled", true)
	PaymentDisbursementError         = define(FlowDelegatedPayment, "payment_disbursement_error", true)

	ClaimantReadyForAddressValidation = define(FlowDelegatedClaimant, "claimant_ready_for_address_validation", false)
	ClaimantAddressValidated          = define(FlowDelegatedClaimant, "claimant_address_validated", true)
	ClaimantFailedAddressValidation   = define(FlowDelegatedClaimant, "claimant_failed_address_validation", true)

	ClaimExtracted    = define(FlowDelegatedClaim, "claim_extracted", true)
	EmployerExtracted = define(FlowDelegatedEmployer, "employer_extracted", true)

	WritebackPending = define(FlowPaymentWriteback, "writeback_pending", false)
	WritebackSent    = define(FlowPaymentWriteback, "writeback_sent", true)
)

// DisbursedPaymentStates are the payment states reached only after money left
// (or was scheduled to leave) through a bank file.
var DisbursedPaymentStates = []State{PaymentCheckIssued, PaymentComplete, PaymentCheckCancelled}

// PaidPaymentStates are the terminal "paid" states.
var PaidPaymentStates = []State{PaymentComplete}

// flowEntities fixes which entity type each flow tracks.
var flowEntities = map[Flow]model.EntityType{
	FlowDelegatedPayment:  model.EntityPayment,
	FlowDelegatedClaimant: model.EntityEmployee,
	FlowDelegatedClaim:    model.EntityClaim,
	FlowDelegatedEmployer: model.EntityEmployer,
	FlowPaymentWriteback:  model.EntityPayment,
}

var catalog = map[string]State{}

func define(flow Flow, name string, terminal bool) State {
	if _, dup := catalog[name]; dup {
		panic("state: duplicate state " + name)
	}
	s := State{Name: name, Flow: flow, Terminal: terminal}
	catalog[name] = s
	return s
}

// ErrUnknownState is returned when a name is not in the catalog.
var ErrUnknownState = errors.New("unknown state")

// ByName looks a state up in the catalog.
func ByName(name string) (State, error) {
	s, ok := catalog[name]
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return s, nil
}

// Known reports whether s is a catalog state (not a hand-built value).
func Known(s State) bool {
	c, ok := catalog[s.Name]
	return ok && c == s
}

// EntityTypeOf returns the entity type a flow tracks.
func EntityTypeOf(f Flow) model.EntityType {
	return flowEntities[f]
}

// All returns the catalog ordered by flow then state name.
func All() []State {
	out := make([]State, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Flow != out[j].Flow {
			return out[i].Flow < out[j].Flow
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names maps states to their names, for SQL IN clauses and logs.
func Names(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.Name
	}
	return out
}
