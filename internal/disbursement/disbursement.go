// Package disbursement writes preapproved payments to bank files.
//
// generate-nacha puts electronic payments in one ACH file per run and
// generate-checks puts check payments in one check file. A file is recorded
// as pending, with its payments linked, before it is uploaded. The next run
// resolves any file left pending: if the object reached storage the file
// counts as uploaded, otherwise it is abandoned and its payments are written
// again. A payment is never linked to two uploaded files.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/validation"
	"github.com/roach88/disburse/internal/writeback"
)

// Metrics shared by both steps.
const (
	MetricCandidates     = "candidate_count"
	MetricDisbursed      = "disbursed_count"
	MetricRejected       = "disbursement_error_count"
	MetricRecovered      = "recovered_payment_count"
	MetricFiles          = "file_count"
	MetricRecoveredFiles = "recovered_file_count"
	MetricAbandonedFiles = "abandoned_file_count"
)

const fileTimeLayout = "2006-01-02-15-04-05"

// format accumulates the records of one bank file.
type format interface {
	// sequence names the store sequence numbering records and its first value.
	sequence() (name string, start int64)
	// add writes p as record n and persists n on p. A *validation.Error
	// rejects p alone; any other error aborts the file.
	add(ctx context.Context, tx *store.Tx, p *model.Payment, n int64) error
	// outcome describes p's record for the State Log.
	outcome(p *model.Payment) statelog.Outcome
	encode() ([]byte, error)
}

// Step generates one kind of bank file.
type Step struct {
	name      string
	method    model.PaymentMethod
	fileType  model.ReferenceFileType
	settled   state.State
	fileName  string
	blob      blob.Store
	prefix    string
	newFormat func(created time.Time) (format, error)
}

func (s *Step) Name() string { return s.name }

type rejection struct {
	payment *model.Payment
	err     *validation.Error
}

// RunStep resolves pending files, settles payments already sent, then
// writes every remaining claimed payment to a new file.
//
// Outcome keys: message, reference_file_id, individual_id or check_number
// for settled payments; message, issues for rejected ones.
func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	if err := s.resolvePending(ctx, run); err != nil {
		return err
	}
	payments, err := s.claim(ctx, run)
	if err != nil {
		return err
	}
	run.Set(MetricCandidates, int64(len(payments)))

	var sent, fresh []*model.Payment
	for _, p := range payments {
		uploaded, err := run.Store().PaymentInUploadedFile(ctx, p.ID, s.fileType)
		if err != nil {
			return err
		}
		if uploaded {
			sent = append(sent, p)
		} else {
			fresh = append(fresh, p)
		}
	}
	recovered := func(*model.Payment) statelog.Outcome { return statelog.NewOutcome("recovered from uploaded file") }
	if err := s.settle(ctx, run, sent, recovered, MetricRecovered); err != nil {
		return err
	}
	if len(fresh) == 0 {
		run.Logger().Info("no payments to disburse", "method", string(s.method))
		return nil
	}

	now := run.Now()
	f, err := s.newFormat(now)
	if err != nil {
		return err
	}
	file := model.ReferenceFile{
		ID:          run.NewID(),
		Type:        s.fileType,
		Location:    blob.Join(s.prefix, now.Format(fileTimeLayout)+"-"+s.fileName),
		Status:      model.FilePending,
		ImportLogID: run.ImportLogID(),
		CreatedAt:   now,
	}
	var (
		data     []byte
		accepted []*model.Payment
		rejected []rejection
	)
	err = run.InTx(ctx, func(tx *store.Tx) error {
		accepted, rejected = nil, nil
		seq, start := f.sequence()
		first, err := tx.NextSequenceBlock(ctx, seq, int64(len(fresh)), start)
		if err != nil {
			return err
		}
		for i, p := range fresh {
			err := f.add(ctx, tx, p, first+int64(i))
			var verr *validation.Error
			if errors.As(err, &verr) {
				rejected = append(rejected, rejection{payment: p, err: verr})
				continue
			}
			if err != nil {
				return fmt.Errorf("add payment %s: %w", p.ID, err)
			}
			accepted = append(accepted, p)
		}
		if len(accepted) == 0 {
			return nil
		}
		if data, err = f.encode(); err != nil {
			return err
		}
		if err := tx.InsertReferenceFile(ctx, file); err != nil {
			return err
		}
		for _, p := range accepted {
			if err := tx.LinkPayment(ctx, p.ID, file.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stage %s file: %w", s.fileType, err)
	}

	if err := s.reject(ctx, run, rejected); err != nil {
		return err
	}
	if len(accepted) == 0 {
		run.Logger().Warn("every payment was rejected; no file written", "method", string(s.method))
		return nil
	}

	if err := s.blob.Put(ctx, file.Location, data); err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "upload %s", file.Location)
	}
	err = run.InTx(ctx, func(tx *store.Tx) error {
		return tx.SetReferenceFileStatus(ctx, file.ID, model.FileUploaded)
	})
	if err != nil {
		return fmt.Errorf("mark %s uploaded: %w", file.Location, err)
	}
	run.Increment(MetricFiles)
	run.Logger().Info("bank file uploaded", "location", file.Location, "payments", len(accepted))

	written := func(p *model.Payment) statelog.Outcome {
		return f.outcome(p).With("reference_file_id", file.ID)
	}
	return s.settle(ctx, run, accepted, written, MetricDisbursed)
}

// claim returns the preapproved payments of the step's method, claimed for
// this run in the order they were preapproved.
func (s *Step) claim(ctx context.Context, run *step.Run) ([]*model.Payment, error) {
	refs, err := statelog.AllLatestInEndStates(ctx, run.Store().DB(), model.EntityPayment, state.PaymentPreapproved)
	if err != nil {
		return nil, fmt.Errorf("find preapproved payments: %w", err)
	}
	byID := map[string]*model.Payment{}
	var mine []model.Ref
	for _, ref := range refs {
		p, err := run.Store().GetPayment(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if p.Method == s.method {
			byID[p.ID] = p
			mine = append(mine, ref)
		}
	}
	won, err := run.Claim(ctx, mine)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Payment, len(won))
	for i, ref := range won {
		out[i] = byID[ref.ID]
	}
	return out, nil
}

// resolvePending settles files an earlier run staged but never marked.
func (s *Step) resolvePending(ctx context.Context, run *step.Run) error {
	pending, err := run.Store().ReferenceFilesByStatus(ctx, s.fileType, model.FilePending)
	if err != nil {
		return err
	}
	for _, f := range pending {
		exists, err := s.blob.Exists(ctx, f.Location)
		if err != nil {
			return step.Fatal(step.ErrCodeIntegration, err, "check %s", f.Location)
		}
		status, metric := model.FileAbandoned, MetricAbandonedFiles
		if exists {
			status, metric = model.FileUploaded, MetricRecoveredFiles
		}
		err = run.InTx(ctx, func(tx *store.Tx) error {
			return tx.SetReferenceFileStatus(ctx, f.ID, status)
		})
		if err != nil {
			return err
		}
		run.Increment(metric)
		run.Logger().Warn("resolved pending bank file", "location", f.Location, "status", string(status))
	}
	return nil
}

// settle moves each payment to the step's settled state and queues an
// Active writeback.
func (s *Step) settle(ctx context.Context, run *step.Run, payments []*model.Payment, outcome func(*model.Payment) statelog.Outcome, metric string) error {
	byID := make(map[string]*model.Payment, len(payments))
	refs := make([]model.Ref, len(payments))
	for i, p := range payments {
		byID[p.ID] = p
		refs[i] = model.RefOf(p)
	}
	return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
		p := byID[ref.ID]
		err := run.InTx(ctx, func(tx *store.Tx) error {
			if err := run.Transition(ctx, tx, p, s.settled, outcome(p)); err != nil {
				return err
			}
			return writeback.Enqueue(ctx, tx, run.StateLog(), p, model.WritebackActive, run.Now())
		})
		if err != nil {
			return err
		}
		run.Increment(metric)
		return nil
	})
}

// reject moves payments the codec refused to payment_disbursement_error.
func (s *Step) reject(ctx context.Context, run *step.Run, rejected []rejection) error {
	byID := make(map[string]rejection, len(rejected))
	refs := make([]model.Ref, len(rejected))
	for i, r := range rejected {
		byID[r.payment.ID] = r
		refs[i] = model.RefOf(r.payment)
	}
	return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
		r := byID[ref.ID]
		outcome := statelog.NewOutcome("failed bank file validation").With("issues", r.err.Strings())
		err := run.InTx(ctx, func(tx *store.Tx) error {
			return run.Transition(ctx, tx, r.payment, state.PaymentDisbursementError, outcome)
		})
		if err != nil {
			return err
		}
		run.Increment(MetricRejected)
		run.EntityLogger(ref).Warn("payment rejected from bank file", "error", r.err)
		return nil
	})
}
