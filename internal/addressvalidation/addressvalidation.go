// Package addressvalidation verifies extracted addresses against the address
// verification service.
//
// Two steps share one state machine: claimants whose current address pair is
// new, and check payments that need a deliverable mailing address. Only the
// payment path accepts a near match when the service reports several
// candidates.
package addressvalidation

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/disburse/internal/addrverify"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/writeback"
)

// Step names.
const (
	ClaimantStepName = "validate-claimant-addresses"
	PaymentStepName  = "validate-payment-addresses"
)

// Metrics.
const (
	MetricValidated         = "validated_count"
	MetricAlreadyValidated  = "already_validated_count"
	MetricNearMatch         = "near_match_count"
	MetricFailed            = "failed_validation_count"
	MetricVerificationError = "verification_error_count"
)

// path is what differs between the claimant and payment steps.
type path struct {
	name       string
	entityType model.EntityType
	ready      state.State
	validated  state.State
	failed     state.State
	nearMatch  bool
}

var (
	claimantPath = path{
		name:       ClaimantStepName,
		entityType: model.EntityEmployee,
		ready:      state.ClaimantReadyForAddressValidation,
		validated:  state.ClaimantAddressValidated,
		failed:     state.ClaimantFailedAddressValidation,
	}
	paymentPath = path{
		name:       PaymentStepName,
		entityType: model.EntityPayment,
		ready:      state.PaymentReadyForAddressValidation,
		validated:  state.PaymentAddressValidated,
		failed:     state.PaymentFailedAddressValidation,
		nearMatch:  true,
	}
)

// Step validates the address pair of every entity ready for validation.
type Step struct {
	client addrverify.Client
	path   path
}

// NewClaimantStep validates the current address pair of new claimants.
func NewClaimantStep(client addrverify.Client) *Step {
	return &Step{client: client, path: claimantPath}
}

// NewPaymentStep validates the mailing address of check payments.
func NewPaymentStep(client addrverify.Client) *Step {
	return &Step{client: client, path: paymentPath}
}

func (s *Step) Name() string { return s.path.name }

func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	refs, err := run.ClaimInState(ctx, s.path.entityType, s.path.ready)
	if err != nil {
		return err
	}
	run.Logger().Info("validating addresses", "entities", len(refs))
	return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
		return s.validate(ctx, run, ref)
	})
}

// verdict is the result of asking the service about one address.
type verdict struct {
	address *model.Address
	outcome statelog.Outcome
}

func (s *Step) validate(ctx context.Context, run *step.Run, ref model.Ref) error {
	entity, pairID, err := s.load(ctx, run, ref)
	if err != nil {
		return err
	}
	if pairID == "" {
		run.Increment(MetricFailed)
		return s.fail(ctx, run, entity, statelog.NewOutcome("no address on file"))
	}
	pair, err := run.Store().GetAddressPair(ctx, pairID)
	if err != nil {
		return err
	}
	if pair.IsValidated() {
		return s.succeed(ctx, run, entity, pair, nil, statelog.NewOutcome("already validated"))
	}

	v := s.verify(ctx, run, ref, pair)
	if v.address == nil {
		run.Increment(MetricFailed)
		return s.fail(ctx, run, entity, v.outcome)
	}
	return s.succeed(ctx, run, entity, pair, v.address, v.outcome)
}

// load returns the entity and its address pair id.
func (s *Step) load(ctx context.Context, run *step.Run, ref model.Ref) (model.Entity, string, error) {
	switch ref.Type {
	case model.EntityPayment:
		p, err := run.Store().GetPayment(ctx, ref.ID)
		if err != nil {
			return nil, "", err
		}
		return p, p.AddressPairID, nil
	case model.EntityEmployee:
		e, err := run.Store().GetEmployee(ctx, ref.ID)
		if err != nil {
			return nil, "", err
		}
		return e, e.AddressPairID, nil
	}
	return nil, "", fmt.Errorf("address validation does not apply to %s", ref.Type)
}

// verify asks the service about the pair's extracted address. A nil address
// in the verdict means the address could not be validated.
//
// Outcome keys: message, address_pair_id, confidence, suggestions, error,
// validated_address.
func (s *Step) verify(ctx context.Context, run *step.Run, ref model.Ref, pair *model.AddressPair) verdict {
	logger := run.EntityLogger(ref).With("address_pair_id", pair.ID)
	base := func(message string) statelog.Outcome {
		return statelog.NewOutcome(message).With("address_pair_id", pair.ID)
	}

	input := pair.Extracted
	result, err := s.client.Search(ctx, input.Lines())
	if err != nil {
		run.Increment(MetricVerificationError)
		logger.Warn("address search failed", "error", err)
		return verdict{outcome: base("address verification failed").With("error", err.Error())}
	}
	texts := suggestionTexts(result.Suggestions)
	outcome := base("address not verified").With("confidence", string(result.Confidence)).With("suggestions", texts)

	var chosen addrverify.Suggestion
	switch {
	case result.Confidence == addrverify.VerifiedMatch && len(result.Suggestions) > 0:
		chosen = result.Suggestions[0]
	case result.Confidence == addrverify.MultipleMatches && s.path.nearMatch:
		match, ok := addrverify.NearMatch(input.Text(), result.Suggestions)
		if !ok {
			logger.Info("no unique near match", "suggestions", texts)
			return verdict{outcome: outcome.With(statelog.KeyMessage, "multiple matches without a unique near match")}
		}
		run.Increment(MetricNearMatch)
		chosen = match
	default:
		logger.Info("address not verified", "confidence", result.Confidence, "suggestions", texts)
		return verdict{outcome: outcome}
	}

	formatted, err := s.client.Format(ctx, chosen.GlobalAddressKey)
	if err != nil {
		run.Increment(MetricVerificationError)
		logger.Warn("address format failed", "error", err)
		return verdict{outcome: outcome.With(statelog.KeyMessage, "address verification failed").With("error", err.Error())}
	}
	addr := formatted.Address()
	addr.ID = run.NewID()
	return verdict{
		address: &addr,
		outcome: outcome.With(statelog.KeyMessage, "address validated").With("validated_address", addr.Text()),
	}
}

// succeed attaches addr, when given, and advances the entity.
func (s *Step) succeed(ctx context.Context, run *step.Run, entity model.Entity, pair *model.AddressPair, addr *model.Address, outcome statelog.Outcome) error {
	metric := MetricAlreadyValidated
	err := run.InTx(ctx, func(tx *store.Tx) error {
		metric = MetricAlreadyValidated
		if addr != nil {
			err := tx.SetValidatedAddress(ctx, pair.ID, *addr)
			switch {
			case errors.Is(err, store.ErrAlreadyValidated):
				// Another entity sharing the pair got there first; keep its answer.
				outcome = outcome.With(statelog.KeyMessage, "already validated")
			case err != nil:
				return err
			default:
				metric = MetricValidated
			}
		}
		return run.Transition(ctx, tx, entity, s.path.validated, outcome)
	})
	if err != nil {
		return err
	}
	// Each entity counts once, under validated or already validated.
	run.Increment(metric)
	return nil
}

// fail advances the entity to the failure state. Payments also report the
// failure to the vendor.
func (s *Step) fail(ctx context.Context, run *step.Run, entity model.Entity, outcome statelog.Outcome) error {
	return run.InTx(ctx, func(tx *store.Tx) error {
		if err := run.Transition(ctx, tx, entity, s.path.failed, outcome); err != nil {
			return err
		}
		if p, ok := entity.(*model.Payment); ok {
			return writeback.Enqueue(ctx, tx, run.StateLog(), p, model.WritebackAddressValidationError, run.Now())
		}
		return nil
	})
}

func suggestionTexts(suggestions []addrverify.Suggestion) []string {
	texts := make([]string, len(suggestions))
	for i, s := range suggestions {
		texts[i] = s.Text
	}
	return texts
}
