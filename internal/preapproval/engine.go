// Package preapproval decides whether a payment can be disbursed without a
// manual audit.
//
// The engine compares a payment against the recent disbursement history of
// its leave request. A payment is approved only when no rule raises an issue.
package preapproval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
)

// RequiredHistory is how many prior disbursed payments a leave request needs
// before its payments are approved automatically.
const RequiredHistory = 3

// Engine evaluates payments against their history.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
}

// NewEngine reads history from s. A nil logger uses slog.Default.
func NewEngine(s *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger}
}

// Evaluate returns every issue raised for p, in rule order. An empty result
// means p is approved.
func (e *Engine) Evaluate(ctx context.Context, p *model.Payment) ([]Issue, error) {
	ev := &evaluation{engine: e, data: issueData{Payment: p, Required: RequiredHistory}}

	switch {
	case p.TransactionType.IsWithholding():
		ev.raise(IssueWithholding)
		return ev.issues, nil
	case p.TransactionType == model.TransactionEmployerReimbursement:
		ev.raise(IssueEmployerReimbursement)
		return ev.issues, nil
	}

	if p.ClaimID != "" {
		claim, err := e.store.GetClaim(ctx, p.ClaimID)
		if err != nil {
			return nil, err
		}
		ev.data.Claim = claim

		reimbursed, err := e.store.HasPaymentOfType(ctx, claim.ID, model.TransactionEmployerReimbursement)
		if err != nil {
			return nil, err
		}
		if reimbursed {
			ev.raise(IssueClaimHasEmployerReimbursement)
		}

		prior, err := e.priorPayments(ctx, claim.AbsenceCaseID, p.ID)
		if err != nil {
			return nil, err
		}
		ev.data.Prior = prior
	}
	if len(ev.data.Prior) < RequiredHistory {
		ev.raise(IssueInsufficientHistory)
	}

	details, err := e.store.AuditReportDetails(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		for _, d := range details {
			ev.data.ReportTypes = append(ev.data.ReportTypes, d.ReportType)
		}
		ev.raise(IssueAuditReportDetail)
	}

	for _, prior := range ev.data.Prior {
		paid, err := statelog.IsLatestIn(ctx, e.store.DB(), prior, state.PaidPaymentStates...)
		if err != nil {
			return nil, err
		}
		if !paid {
			ev.data.Unpaid = append(ev.data.Unpaid, prior.ID)
		}
	}
	if len(ev.data.Unpaid) > 0 {
		ev.raise(IssuePriorNotPaid)
	}

	if len(ev.data.Prior) > 0 {
		if err := e.compare(ctx, ev, ev.data.Prior[0], p); err != nil {
			return nil, err
		}
	}
	return ev.issues, nil
}

// priorPayments returns up to RequiredHistory other disbursed standard
// payments on the absence case, most recently extracted first, keeping one
// payment per vendor line item.
func (e *Engine) priorPayments(ctx context.Context, absenceCaseID, excludeID string) ([]*model.Payment, error) {
	candidates, err := e.store.PaymentsForAbsenceCase(ctx, absenceCaseID, excludeID, model.TransactionStandard)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var prior []*model.Payment
	for _, c := range candidates {
		if len(prior) == RequiredHistory {
			break
		}
		key := c.LineItemKey
		if key == "" {
			key = "id:" + c.ID
		}
		if seen[key] {
			continue
		}
		disbursed, err := statelog.IsLatestIn(ctx, e.store.DB(), c, state.DisbursedPaymentStates...)
		if err != nil {
			return nil, err
		}
		if !disbursed {
			continue
		}
		seen[key] = true
		prior = append(prior, c)
	}
	return prior, nil
}

// compare raises a CHANGED_* issue for every payee detail that differs from
// the most recent prior payment.
func (e *Engine) compare(ctx context.Context, ev *evaluation, last, p *model.Payment) error {
	if last.PubEFTID != p.PubEFTID {
		before, err := e.describeEFT(ctx, last.PubEFTID)
		if err != nil {
			return err
		}
		after, err := e.describeEFT(ctx, p.PubEFTID)
		if err != nil {
			return err
		}
		ev.raiseChange(IssueChangedEFT, before, after)
	}
	if !samePayee(last, p) {
		ev.raiseChange(IssueChangedName, last.PayeeName(), p.PayeeName())
	}
	if last.Method != p.Method {
		ev.raiseChange(IssueChangedPaymentPreference, string(last.Method), string(p.Method))
	}
	if last.AddressPairID != p.AddressPairID {
		before, err := e.describeAddress(ctx, last.AddressPairID)
		if err != nil {
			return err
		}
		after, err := e.describeAddress(ctx, p.AddressPairID)
		if err != nil {
			return err
		}
		ev.raiseChange(IssueChangedAddress, before, after)
	}
	return nil
}

// samePayee compares names exactly, ignoring only surrounding whitespace.
func samePayee(a, b *model.Payment) bool {
	return strings.TrimSpace(a.PayeeFirstName) == strings.TrimSpace(b.PayeeFirstName) &&
		strings.TrimSpace(a.PayeeLastName) == strings.TrimSpace(b.PayeeLastName)
}

// describeEFT renders a bank account with the account number masked.
func (e *Engine) describeEFT(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "none", nil
	}
	eft, err := e.store.GetEFT(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s (%s)", eft.RoutingNumber, mask(eft.AccountNumber), eft.AccountType), nil
}

// describeAddress renders the pair's validated address, or the extracted one.
func (e *Engine) describeAddress(ctx context.Context, pairID string) (string, error) {
	if pairID == "" {
		return "none", nil
	}
	pair, err := e.store.GetAddressPair(ctx, pairID)
	if errors.Is(err, store.ErrNotFound) {
		return pairID, nil
	}
	if err != nil {
		return "", err
	}
	if pair.Validated != nil {
		return pair.Validated.Text(), nil
	}
	return pair.Extracted.Text(), nil
}

func mask(account string) string {
	if len(account) <= 4 {
		return account
	}
	return strings.Repeat("*", len(account)-4) + account[len(account)-4:]
}

// evaluation accumulates the issues of one Evaluate call.
type evaluation struct {
	engine *Engine
	data   issueData
	issues []Issue
}

func (ev *evaluation) raise(typ IssueType) {
	issue, err := render(typ, ev.data)
	if err != nil {
		ev.engine.logger.Error("issue description failed",
			"entity_type", string(model.EntityPayment), "entity_id", ev.data.Payment.ID,
			"issue", string(typ), "error", err)
		issue = Issue{Type: IssueUnknown, Description: fmt.Sprintf("%s: %v", typ, err)}
	}
	ev.issues = append(ev.issues, issue)
}

func (ev *evaluation) raiseChange(typ IssueType, before, after string) {
	ev.data.Before, ev.data.After = before, after
	ev.raise(typ)
	ev.data.Before, ev.data.After = "", ""
}
