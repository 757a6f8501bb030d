package preapproval

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/statelog"
)

// IssueType names a reason a payment needs manual audit.
type IssueType string

const (
	IssueWithholding                   IssueType = "WITHHOLDING_PAYMENT"
	IssueEmployerReimbursement         IssueType = "EMPLOYER_REIMBURSEMENT_PAYMENT"
	IssueClaimHasEmployerReimbursement IssueType = "CLAIM_HAS_EMPLOYER_REIMBURSEMENT"
	IssueInsufficientHistory           IssueType = "INSUFFICIENT_HISTORY"
	IssueAuditReportDetail             IssueType = "AUDIT_REPORT_DETAIL"
	IssuePriorNotPaid                  IssueType = "PRIOR_PAYMENT_NOT_PAID"
	IssueChangedEFT                    IssueType = "CHANGED_EFT"
	IssueChangedName                   IssueType = "CHANGED_NAME"
	IssueChangedPaymentPreference      IssueType = "CHANGED_PAYMENT_PREFERENCE"
	IssueChangedAddress                IssueType = "CHANGED_ADDRESS"
	IssueUnknown                       IssueType = "UNKNOWN"
)

// Issue is one rendered finding.
type Issue struct {
	Type        IssueType
	Description string
}

// Outcome renders the issue for the State Log.
func (i Issue) Outcome() statelog.Outcome {
	return statelog.Outcome{"type": string(i.Type), "description": i.Description}
}

// issueData is what the description templates see.
type issueData struct {
	Payment     *model.Payment
	Claim       *model.Claim
	Prior       []*model.Payment
	Required    int
	Unpaid      []string
	ReportTypes []string
	Before      string
	After       string
}

var descriptions = map[IssueType]string{
	IssueWithholding:                   `{{.Payment.TransactionType}} payments always require manual review`,
	IssueEmployerReimbursement:         `employer reimbursement payments always require manual review`,
	IssueClaimHasEmployerReimbursement: `claim {{.Claim.ClaimNumber}} has an employer reimbursement payment`,
	IssueInsufficientHistory:           `{{len .Prior}} prior disbursed payment(s){{with .Claim}} on absence case {{.AbsenceCaseID}}{{end}}, {{.Required}} required`,
	IssueAuditReportDetail:             `audit report detail(s) attached: {{join .ReportTypes ", "}}`,
	IssuePriorNotPaid:                  `prior payment(s) not paid: {{join .Unpaid ", "}}`,
	IssueChangedEFT:                    `bank account changed from {{.Before}} to {{.After}}`,
	IssueChangedName:                   `payee name changed from {{printf "%q" .Before}} to {{printf "%q" .After}}`,
	IssueChangedPaymentPreference:      `payment method changed from {{.Before}} to {{.After}}`,
	IssueChangedAddress:                `address changed from {{printf "%q" .Before}} to {{printf "%q" .After}}`,
}

var templates = parseDescriptions()

func parseDescriptions() map[IssueType]*template.Template {
	funcs := template.FuncMap{"join": strings.Join}
	out := make(map[IssueType]*template.Template, len(descriptions))
	for typ, text := range descriptions {
		out[typ] = template.Must(template.New(string(typ)).Funcs(funcs).Option("missingkey=error").Parse(text))
	}
	return out
}

// render describes an issue of typ. A failure to render is returned so the
// caller can degrade to an UNKNOWN issue.
func render(typ IssueType, data issueData) (Issue, error) {
	tmpl, ok := templates[typ]
	if !ok {
		return Issue{}, fmt.Errorf("no description for issue %s", typ)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return Issue{}, fmt.Errorf("describe issue %s: %w", typ, err)
	}
	return Issue{Type: typ, Description: b.String()}, nil
}

// Types returns the distinct issue types in order of first appearance.
func Types(issues []Issue) []IssueType {
	seen := map[IssueType]bool{}
	var out []IssueType
	for _, i := range issues {
		if !seen[i.Type] {
			seen[i.Type] = true
			out = append(out, i.Type)
		}
	}
	return out
}
