package disbursement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/config"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/nacha"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/validation"
)

// NACHAStepName identifies the ACH file step.
const NACHAStepName = "generate-nacha"

// NewNACHAStep writes preapproved ACH payments to one NACHA file under
// prefix. Settled payments move to payment_complete.
func NewNACHAStep(b blob.Store, prefix string, bank config.Bank) *Step {
	return &Step{
		name:     NACHAStepName,
		method:   model.MethodACH,
		fileType: model.FileNACHA,
		settled:  state.PaymentComplete,
		fileName: "ach.txt",
		blob:     b,
		prefix:   prefix,
		newFormat: func(created time.Time) (format, error) {
			return newACHFile(bank, created)
		},
	}
}

// EffectiveDate is the first weekday after created. Bank holidays are not
// considered.
func EffectiveDate(created time.Time) time.Time {
	d := created.AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Originator maps the configured bank identities.
func Originator(b config.Bank) nacha.Originator {
	return nacha.Originator{
		ImmediateDestination: b.ImmediateDestination,
		ImmediateOrigin:      b.ImmediateOrigin,
		DestinationName:      b.DestinationName,
		OriginName:           b.OriginName,
		CompanyName:          b.CompanyName,
		CompanyID:            b.CompanyID,
		ODFIRouting:          b.ODFIRouting,
	}
}

type achFile struct {
	file  *nacha.File
	count int
	total decimal.Decimal
}

func newACHFile(bank config.Bank, created time.Time) (*achFile, error) {
	if !bank.Complete() {
		return nil, step.Fatal(step.ErrCodeConfig, nil, "bank identities are not configured")
	}
	f, err := nacha.NewFile(Originator(bank), created, EffectiveDate(created))
	if err != nil {
		return nil, step.Fatal(step.ErrCodeConfig, err, "bank identities")
	}
	return &achFile{file: f}, nil
}

func (a *achFile) sequence() (string, int64) { return store.SeqIndividualID, 1 }

func (a *achFile) add(ctx context.Context, tx *store.Tx, p *model.Payment, n int64) error {
	eft, err := account(ctx, tx, p)
	if err != nil {
		return err
	}
	entry := nacha.Entry{
		TransactionCode: nacha.CreditCode(eft.AccountType),
		RoutingNumber:   eft.RoutingNumber,
		AccountNumber:   eft.AccountNumber,
		Amount:          p.Amount,
		IndividualID:    strconv.FormatInt(n, 10),
		Name:            p.PayeeName(),
	}
	batch := a.file.Batch(string(p.LeaveType), strings.ToUpper(string(p.LeaveType)))
	if err := batch.Add(entry); err != nil {
		return err
	}
	if err := tx.SetIndividualID(ctx, p.ID, n); err != nil {
		return err
	}
	p.IndividualID = n
	a.count++
	a.total = a.total.Add(p.Amount)
	return nil
}

// account loads p's bank account. A missing account rejects p.
func account(ctx context.Context, tx *store.Tx, p *model.Payment) (*model.PubEFT, error) {
	c := validation.NewCollector("payment " + p.ID)
	if p.PubEFTID == "" {
		c.Add("pub_eft", validation.KindRequired, "")
		return nil, c.Err()
	}
	eft, err := tx.GetEFT(ctx, p.PubEFTID)
	if errors.Is(err, store.ErrNotFound) {
		c.Add("pub_eft", validation.KindInvalid, "unknown account "+p.PubEFTID)
		return nil, c.Err()
	}
	return eft, err
}

func (a *achFile) outcome(p *model.Payment) statelog.Outcome {
	return statelog.NewOutcome("written to ACH file").With("individual_id", p.IndividualID)
}

// encode renders the file and reads it back, so a file whose controls do
// not match what was added is never uploaded.
func (a *achFile) encode() ([]byte, error) {
	data := a.file.Encode()
	summary, err := nacha.Inspect(data)
	if err != nil {
		return nil, fmt.Errorf("verify ach file: %w", err)
	}
	if summary.Entries != a.count || !summary.TotalCredit.Equal(a.total) {
		return nil, fmt.Errorf("verify ach file: %d entries totalling %s, added %d totalling %s",
			summary.Entries, summary.TotalCredit, a.count, a.total)
	}
	return data, nil
}
