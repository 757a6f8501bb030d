package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/nacha"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/validation"
	"github.com/roach88/disburse/internal/writeback"
)

// DateLayout is the extract's date format.
const DateLayout = "2006-01-02"

var (
	feinPattern  = regexp.MustCompile(`^[0-9]{9}$`)
	statePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	zipPattern   = regexp.MustCompile(`^[0-9]{5}(-[0-9]{4})?$`)
)

// parsed is one extract row after validation. issues holds every field
// defect; the entity keys are kept even when other fields are bad so the
// payment can still be linked.
type parsed struct {
	payment  *model.Payment
	employer model.Employer
	employee model.Employee
	claim    model.Claim
	eft      *model.PubEFT
	address  *model.Address
	issues   *validation.Error
}

// parseRow validates r. firstLine is the earliest line of the same file
// carrying r's C and I values; a later line is a duplicate.
func parseRow(r store.StagedRow, firstLine int) parsed {
	rec := r.Record
	c := validation.NewCollector(fmt.Sprintf("%s line %d", PaymentFile, r.LineNumber))
	p := &model.Payment{}

	p.CValue = c.String(ColC, rec[ColC], 20, true)
	p.IValue = c.String(ColI, rec[ColI], 20, true)
	if p.CValue != "" && p.IValue != "" && firstLine > 0 && firstLine < r.LineNumber {
		c.Add(ColI, validation.KindDuplicate, fmt.Sprintf("C/I already extracted on line %d", firstLine))
	}
	p.LineItemKey = c.String(ColLineItemKey, rec[ColLineItemKey], 50, false)
	p.PayeeFirstName = c.String(ColFirstNames, rec[ColFirstNames], 100, true)
	p.PayeeLastName = c.String(ColLastName, rec[ColLastName], 100, true)
	p.LeaveType = validation.Enum(c, ColLeaveType, rec[ColLeaveType], model.ParseLeaveType)
	p.TransactionType = validation.Enum(c, ColTxType, rec[ColTxType], model.ParseTransactionType)
	p.Method = validation.Enum(c, ColPaymentMethod, rec[ColPaymentMethod], model.ParsePaymentMethod)

	before := len(c.Issues())
	p.Amount = c.Decimal(ColAmount, rec[ColAmount])
	parsedAmount := len(c.Issues()) == before
	if parsedAmount && p.TransactionType != model.TransactionOverpayment && !p.Amount.IsPositive() {
		c.Add(ColAmount, validation.KindInvalid, "amount must be positive")
	}
	p.PeriodStart = c.Date(ColPeriodStart, rec[ColPeriodStart], DateLayout, true)
	p.PeriodEnd = c.Date(ColPeriodEnd, rec[ColPeriodEnd], DateLayout, true)
	if !p.PeriodStart.IsZero() && !p.PeriodEnd.IsZero() && p.PeriodEnd.Before(p.PeriodStart) {
		c.Add(ColPeriodEnd, validation.KindInvalid, "period ends before it starts")
	}

	out := parsed{payment: p}
	out.employer = model.Employer{
		FEIN: c.String(ColEmployerFEIN, rec[ColEmployerFEIN], 9, true),
		Name: c.String(ColEmployerName, rec[ColEmployerName], 255, false),
	}
	c.Match(ColEmployerFEIN, out.employer.FEIN, feinPattern)
	out.employee = model.Employee{
		CustomerNumber: c.String(ColCustomerNumber, rec[ColCustomerNumber], 50, true),
		FirstName:      p.PayeeFirstName,
		LastName:       p.PayeeLastName,
	}
	out.claim = model.Claim{
		ClaimNumber:   c.String(ColClaimNumber, rec[ColClaimNumber], 50, true),
		AbsenceCaseID: c.String(ColAbsenceCaseID, rec[ColAbsenceCaseID], 50, true),
		LeaveType:     p.LeaveType,
	}

	if p.Method == model.MethodACH {
		routing := c.String(ColRoutingNumber, rec[ColRoutingNumber], 9, true)
		if routing != "" && !nacha.ValidRouting(routing) {
			c.Add(ColRoutingNumber, validation.KindInvalid, "routing number checksum")
		}
		out.eft = &model.PubEFT{
			RoutingNumber: routing,
			AccountNumber: c.String(ColAccountNumber, rec[ColAccountNumber], 17, true),
			AccountType:   validation.Enum(c, ColAccountType, rec[ColAccountType], model.ParseAccountType),
		}
	}

	// Checks need a mailing address; ACH rows carry one when the vendor has it.
	needAddress := p.Method == model.MethodCheck
	if needAddress || rec[ColAddressLine1] != "" {
		a := &model.Address{
			Line1:   c.String(ColAddressLine1, rec[ColAddressLine1], 40, needAddress),
			Line2:   c.String(ColAddressLine2, rec[ColAddressLine2], 40, false),
			City:    c.String(ColCity, rec[ColCity], 40, needAddress),
			State:   c.String(ColState, rec[ColState], 2, needAddress),
			Zip:     c.String(ColZip, rec[ColZip], 10, needAddress),
			Country: "US",
		}
		c.Match(ColState, a.State, statePattern)
		c.Match(ColZip, a.Zip, zipPattern)
		out.address = a
	}

	if err := c.Err(); err != nil {
		out.issues = err.(*validation.Error)
	}
	return out
}

// processRow turns one staged row into a payment inside one unit of work.
//
// Outcome keys: message, line_number, reference_file_id, plus issues for
// rows that failed validation.
func processRow(ctx context.Context, run *step.Run, r store.StagedRow) error {
	firstLine, err := run.Store().FirstStagedLine(ctx, r.ReferenceFileID, r.CValue, r.IValue)
	if err != nil {
		return err
	}
	row := parseRow(r, firstLine)
	p := row.payment
	p.ID = run.NewID()
	p.ImportLogID = run.ImportLogID()
	now := run.Now()
	p.CreatedAt = now

	outcome := func(message string) statelog.Outcome {
		return statelog.NewOutcome(message).
			With("line_number", r.LineNumber).
			With("reference_file_id", r.ReferenceFileID)
	}

	err = run.InTx(ctx, func(tx *store.Tx) error {
		if row.employer.FEIN != "" {
			er, created, err := tx.UpsertEmployer(ctx, run.NewID(), row.employer)
			if err != nil {
				return err
			}
			p.EmployerID = er.ID
			if created {
				run.Increment(MetricNewEmployers)
				if err := run.Transition(ctx, tx, er, state.EmployerExtracted, outcome("employer extracted")); err != nil {
					return err
				}
			}
		}

		var employee *model.Employee
		if row.employee.CustomerNumber != "" {
			ee, created, err := tx.UpsertEmployee(ctx, run.NewID(), row.employee)
			if err != nil {
				return err
			}
			employee = ee
			p.EmployeeID = ee.ID
			if created {
				run.Increment(MetricNewEmployees)
			}
		}

		if row.claim.ClaimNumber != "" {
			row.claim.EmployeeID = p.EmployeeID
			row.claim.EmployerID = p.EmployerID
			cl, created, err := tx.UpsertClaim(ctx, run.NewID(), row.claim)
			if err != nil {
				return err
			}
			p.ClaimID = cl.ID
			if created {
				run.Increment(MetricNewClaims)
				if err := run.Transition(ctx, tx, cl, state.ClaimExtracted, outcome("claim extracted")); err != nil {
					return err
				}
			}
		}

		if row.issues == nil {
			if err := attachDetails(ctx, run, tx, p, employee, row, outcome); err != nil {
				return err
			}
		}

		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if err := routePayment(ctx, run, tx, p, row.issues, outcome); err != nil {
			return err
		}
		return tx.MarkStagedRowProcessed(ctx, r.ID, p.ID, now)
	})
	if err != nil {
		return fmt.Errorf("process line %d: %w", r.LineNumber, err)
	}

	run.Increment(MetricPayments)
	switch {
	case row.issues != nil:
		run.Increment(MetricValidationErrors)
		run.Logger().Info("extract row failed validation",
			"line", r.LineNumber, "payment_id", p.ID, "issues", len(row.issues.Issues))
	case p.TransactionType == model.TransactionOverpayment:
		run.Increment(MetricNotDisbursable)
	case p.Method == model.MethodCheck:
		run.Increment(MetricCheck)
	default:
		run.Increment(MetricACH)
	}
	return nil
}

// attachDetails links the bank account and address pair. A new pair becomes
// the employee's current one and queues the claimant for address validation.
func attachDetails(ctx context.Context, run *step.Run, tx *store.Tx, p *model.Payment, employee *model.Employee, row parsed, outcome func(string) statelog.Outcome) error {
	if row.eft != nil {
		row.eft.EmployeeID = employee.ID
		eft, _, err := tx.FindOrCreateEFT(ctx, run.NewID(), *row.eft)
		if err != nil {
			return err
		}
		p.PubEFTID = eft.ID
	}
	if row.address == nil {
		return nil
	}

	pair, err := tx.FindAddressPair(ctx, employee.ID, *row.address)
	if err == nil {
		p.AddressPairID = pair.ID
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	addr := *row.address
	addr.ID = run.NewID()
	newPair := model.AddressPair{ID: run.NewID(), EmployeeID: employee.ID, Extracted: addr}
	if err := tx.InsertAddressPair(ctx, newPair); err != nil {
		return err
	}
	if err := tx.SetEmployeeAddressPair(ctx, employee.ID, newPair.ID); err != nil {
		return err
	}
	employee.AddressPairID = newPair.ID
	p.AddressPairID = newPair.ID
	run.Increment(MetricNewAddressPairs)
	return run.Transition(ctx, tx, employee, state.ClaimantReadyForAddressValidation,
		outcome("new address extracted").With("address_pair_id", newPair.ID))
}

// routePayment records the payment's first state in the delegated payment flow.
func routePayment(ctx context.Context, run *step.Run, tx *store.Tx, p *model.Payment, issues *validation.Error, outcome func(string) statelog.Outcome) error {
	switch {
	case issues != nil:
		o := outcome("extract validation failed").With("issues", issues.Strings())
		if err := run.Transition(ctx, tx, p, state.PaymentExtractValidationError, o); err != nil {
			return err
		}
		return writeback.Enqueue(ctx, tx, run.StateLog(), p, model.WritebackDataValidationError, run.Now())
	case p.TransactionType == model.TransactionOverpayment:
		return run.Transition(ctx, tx, p, state.PaymentNotDisbursable, outcome("overpayments are not disbursed"))
	case p.Method == model.MethodCheck:
		return run.Transition(ctx, tx, p, state.PaymentReadyForAddressValidation, outcome("check payment extracted"))
	default:
		return run.Transition(ctx, tx, p, state.PaymentReadyForPreapproval, outcome("ach payment extracted"))
	}
}
