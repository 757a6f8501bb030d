// Package pipeline names every step and runs a selection of them in the
// fixed order payments flow through the system.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/disburse/internal/addressvalidation"
	"github.com/roach88/disburse/internal/addrverify"
	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/check"
	"github.com/roach88/disburse/internal/checkreturn"
	"github.com/roach88/disburse/internal/config"
	"github.com/roach88/disburse/internal/disbursement"
	"github.com/roach88/disburse/internal/extract"
	"github.com/roach88/disburse/internal/preapproval"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/writeback"
)

// Order is the sequence a full run executes.
var Order = []string{
	extract.StepName,
	addressvalidation.ClaimantStepName,
	addressvalidation.PaymentStepName,
	preapproval.StepName,
	disbursement.NACHAStepName,
	disbursement.CheckStepName,
	checkreturn.StepName,
	writeback.StepName,
}

var descriptions = map[string]string{
	extract.StepName:                   "stage and ingest vendor payment extracts",
	addressvalidation.ClaimantStepName: "verify new claimant addresses",
	addressvalidation.PaymentStepName:  "verify mailing addresses of check payments",
	preapproval.StepName:               "approve payments or route them to manual audit",
	disbursement.NACHAStepName:         "write preapproved ACH payments to a NACHA file",
	disbursement.CheckStepName:         "write preapproved check payments to a check file",
	checkreturn.StepName:               "apply bank check-return files",
	writeback.StepName:                 "report payment outcomes to the vendor",
}

// Registry holds one configured instance of every step.
type Registry struct {
	steps map[string]step.Logic
}

// New builds every step from cfg. addr may be nil when no address
// verification service is configured; the address steps then fail with a
// configuration error when run.
func New(cfg *config.Config, bs blob.Store, addr addrverify.Client) (*Registry, error) {
	variant, err := check.ParseVariant(cfg.Check.Variant)
	if err != nil {
		return nil, fmt.Errorf("check.variant: %w", err)
	}

	claimant, payment := step.Logic(addressvalidation.NewClaimantStep(addr)), step.Logic(addressvalidation.NewPaymentStep(addr))
	if addr == nil {
		claimant = unconfigured{name: addressvalidation.ClaimantStepName, what: "address_verification.base_url"}
		payment = unconfigured{name: addressvalidation.PaymentStepName, what: "address_verification.base_url"}
	}

	r := &Registry{steps: map[string]step.Logic{}}
	for _, l := range []step.Logic{
		&extract.Step{Blob: bs, Prefix: cfg.Vendor.ExtractPrefix},
		claimant,
		payment,
		&preapproval.Step{},
		disbursement.NewNACHAStep(bs, cfg.Bank.OutputPrefix, cfg.Bank),
		disbursement.NewCheckStep(bs, cfg.Check.OutputPrefix, variant, cfg.Check.FirstCheckNumber),
		&checkreturn.Step{Blob: bs, Prefix: cfg.Check.ReturnsPrefix},
		&writeback.Step{Blob: bs, Prefix: cfg.Vendor.WritebackPrefix},
	} {
		r.steps[l.Name()] = l
	}
	return r, nil
}

// Names lists every step in run order.
func (r *Registry) Names() []string {
	return append([]string(nil), Order...)
}

// Describe returns a one-line summary of the named step.
func Describe(name string) string { return descriptions[name] }

// Get returns the named step.
func (r *Registry) Get(name string) (step.Logic, bool) {
	l, ok := r.steps[name]
	return l, ok
}

// Resolve validates names and returns them deduplicated in run order.
func (r *Registry) Resolve(names []string) ([]string, error) {
	rank := make(map[string]int, len(Order))
	for i, n := range Order {
		rank[n] = i
	}
	seen := map[string]bool{}
	var out, unknown []string
	for _, n := range names {
		if _, ok := rank[n]; !ok {
			unknown = append(unknown, n)
			continue
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown step(s) %s; known: %s", strings.Join(unknown, ", "), strings.Join(Order, ", "))
	}
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out, nil
}

// Run executes the named steps in run order and stops at the first failed
// run. The reports of every executed step are returned, including the
// failed one.
func (r *Registry) Run(ctx context.Context, deps step.Deps, names []string) ([]step.Report, error) {
	ordered, err := r.Resolve(names)
	if err != nil {
		return nil, err
	}
	reports := make([]step.Report, 0, len(ordered))
	for _, name := range ordered {
		report, err := step.Execute(ctx, deps, r.steps[name])
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// unconfigured stands in for a step whose collaborator is not configured.
type unconfigured struct {
	name string
	what string
}

func (u unconfigured) Name() string { return u.name }

func (u unconfigured) RunStep(context.Context, *step.Run) error {
	return step.Fatal(step.ErrCodeConfig, nil, "%s is not configured", u.what)
}
