package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/check"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/validation"
)

// CheckStepName identifies the check file step.
const CheckStepName = "generate-checks"

// NewCheckStep writes preapproved check payments to one check file in
// variant v under prefix. Check numbers continue from the store sequence,
// which starts at firstNumber. Settled payments move to payment_check_issued.
func NewCheckStep(b blob.Store, prefix string, v check.Variant, firstNumber int64) *Step {
	return &Step{
		name:     CheckStepName,
		method:   model.MethodCheck,
		fileType: model.FileCheck,
		settled:  state.PaymentCheckIssued,
		fileName: "checks.csv",
		blob:     b,
		prefix:   prefix,
		newFormat: func(created time.Time) (format, error) {
			return &checkFile{writer: check.NewWriter(v), date: created, first: firstNumber}, nil
		},
	}
}

type checkFile struct {
	writer *check.Writer
	date   time.Time
	first  int64
}

func (c *checkFile) sequence() (string, int64) { return store.SeqCheckNumber, c.first }

func (c *checkFile) add(ctx context.Context, tx *store.Tx, p *model.Payment, n int64) error {
	addr, err := mailingAddress(ctx, tx, p)
	if err != nil {
		return err
	}
	ee, err := tx.GetEmployee(ctx, p.EmployeeID)
	if err != nil {
		return err
	}
	rec := check.Record{
		CheckNumber: n,
		Date:        c.date,
		Amount:      p.Amount,
		Memo:        Memo(p),
		PayeeID:     ee.CustomerNumber,
		PayeeName:   p.PayeeName(),
		Address:     *addr,
	}
	if err := c.writer.Add(rec); err != nil {
		return err
	}
	if err := tx.SetCheckNumber(ctx, p.ID, n); err != nil {
		return err
	}
	p.CheckNumber = n
	return nil
}

// Memo names the benefit period on the check stub.
func Memo(p *model.Payment) string {
	return fmt.Sprintf("PFML payment %s-%s", p.PeriodStart.Format(check.DateLayout), p.PeriodEnd.Format(check.DateLayout))
}

// mailingAddress is the validated address of p's pair. Checks are only
// mailed to verified addresses.
func mailingAddress(ctx context.Context, tx *store.Tx, p *model.Payment) (*model.Address, error) {
	c := validation.NewCollector("payment " + p.ID)
	if p.AddressPairID == "" {
		c.Add("address", validation.KindRequired, "")
		return nil, c.Err()
	}
	pair, err := tx.GetAddressPair(ctx, p.AddressPairID)
	if errors.Is(err, store.ErrNotFound) {
		c.Add("address", validation.KindInvalid, "unknown address pair "+p.AddressPairID)
		return nil, c.Err()
	}
	if err != nil {
		return nil, err
	}
	if !pair.IsValidated() {
		c.Add("address", validation.KindInvalid, "not validated")
		return nil, c.Err()
	}
	return pair.Validated, nil
}

func (c *checkFile) outcome(p *model.Payment) statelog.Outcome {
	return statelog.NewOutcome("written to check file").With("check_number", p.CheckNumber)
}

func (c *checkFile) encode() ([]byte, error) {
	return c.writer.Bytes()
}
