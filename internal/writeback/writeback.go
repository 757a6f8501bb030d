// Package writeback reports payment outcomes to the vendor.
//
// Steps that settle a payment call Enqueue inside their unit of work. The
// writeback step later collects every pending payment into one flat file
// under the vendor writeback prefix.
package writeback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/flatfile"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
)

// StepName identifies the writeback step.
const StepName = "writeback"

// Header is the fixed column set the vendor expects.
var Header = []string{
	"pei_C_Value",
	"pei_I_Value",
	"status",
	"extractionDate",
	"stockNo",
	"transStatusDate",
	"transactionStatus",
}

const dateLayout = "2006-01-02"

// Metrics.
const (
	MetricPaymentsWritten = "writeback_payment_count"
	MetricFiles           = "writeback_file_count"
	MetricDeferred        = "writeback_deferred_count"
	MetricRecovered       = "writeback_recovered_count"
)

// Enqueue stamps status on p and moves it to writeback_pending in tx.
//
// Outcome keys: message, writeback_status.
func Enqueue(ctx context.Context, tx *store.Tx, log *statelog.Log, p *model.Payment, status model.WritebackStatus, at time.Time) error {
	if err := tx.SetWritebackStatus(ctx, p.ID, status, at); err != nil {
		return fmt.Errorf("enqueue writeback: %w", err)
	}
	p.WritebackStatus = status
	p.WritebackAt = at
	outcome := statelog.NewOutcome("writeback queued").With("writeback_status", string(status))
	if _, err := log.CreateTransition(ctx, tx, p, state.WritebackPending, outcome); err != nil {
		return fmt.Errorf("enqueue writeback: %w", err)
	}
	return nil
}

// Row renders p as one writeback line.
func Row(p *model.Payment) []string {
	stock := ""
	if p.CheckNumber != 0 {
		stock = strconv.FormatInt(p.CheckNumber, 10)
	}
	return []string{
		p.CValue,
		p.IValue,
		p.WritebackStatus.VendorStatus(),
		p.CreatedAt.Format(dateLayout),
		stock,
		p.WritebackAt.Format(dateLayout),
		string(p.WritebackStatus),
	}
}

// Step writes pending writebacks to the vendor.
type Step struct {
	Blob   blob.Store
	Prefix string
}

func (s *Step) Name() string { return StepName }

// RunStep claims every pending payment, settles payments already carried by
// an uploaded file, then reserves a reference file for the rest, uploads it
// and marks each payment sent.
//
// A file name is taken at most once. When this second's name is already
// recorded the payments stay pending for the next run.
func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	refs, err := run.ClaimInState(ctx, model.EntityPayment, state.WritebackPending)
	if err != nil {
		return err
	}
	payments := make([]*model.Payment, 0, len(refs))
	for _, ref := range refs {
		p, err := run.Store().GetPayment(ctx, ref.ID)
		if err != nil {
			return fmt.Errorf("load payment %s: %w", ref.ID, err)
		}
		payments = append(payments, p)
	}
	payments, err = s.resolvePending(ctx, run, payments)
	if err != nil {
		return err
	}
	if len(payments) == 0 {
		run.Logger().Info("no pending writebacks")
		return nil
	}

	rows := make([][]string, 0, len(payments))
	for _, p := range payments {
		rows = append(rows, Row(p))
	}
	data, err := flatfile.Write(Header, rows)
	if err != nil {
		return fmt.Errorf("render writeback: %w", err)
	}
	now := run.Now()
	file := model.ReferenceFile{
		ID:          run.NewID(),
		Type:        model.FileWriteback,
		Location:    blob.Join(s.Prefix, now.Format("2006-01-02-15-04-05")+"-pei_writeback.csv"),
		Status:      model.FilePending,
		ImportLogID: run.ImportLogID(),
		CreatedAt:   now,
	}
	reserved := false
	err = run.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.ReferenceFileByLocation(ctx, file.Location)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertReferenceFile(ctx, file); err != nil {
			return err
		}
		for _, p := range payments {
			if err := tx.LinkPayment(ctx, p.ID, file.ID); err != nil {
				return err
			}
		}
		reserved = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("record writeback file: %w", err)
	}
	if !reserved {
		run.IncrementBy(MetricDeferred, int64(len(payments)))
		run.Logger().Warn("writeback file name already used; payments stay pending", "location", file.Location, "payments", len(payments))
		return nil
	}

	if err := s.Blob.Put(ctx, file.Location, data); err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "upload writeback %s", file.Location)
	}
	err = run.InTx(ctx, func(tx *store.Tx) error {
		return tx.SetReferenceFileStatus(ctx, file.ID, model.FileUploaded)
	})
	if err != nil {
		return fmt.Errorf("mark %s uploaded: %w", file.Location, err)
	}
	run.Increment(MetricFiles)
	run.Logger().Info("writeback uploaded", "location", file.Location, "payments", len(payments))

	return markSent(ctx, run, payments, file.ID)
}

// resolvePending settles writeback files an earlier run reserved but never
// marked. A file found in storage is uploaded, and the claimed payments it
// carries at their current status are marked sent. A missing file is
// abandoned. The payments left to write are returned.
func (s *Step) resolvePending(ctx context.Context, run *step.Run, payments []*model.Payment) ([]*model.Payment, error) {
	files, err := run.Store().ReferenceFilesByStatus(ctx, model.FileWriteback, model.FilePending)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		exists, err := s.Blob.Exists(ctx, f.Location)
		if err != nil {
			return nil, step.Fatal(step.ErrCodeIntegration, err, "check %s", f.Location)
		}
		status := model.FileAbandoned
		if exists {
			status = model.FileUploaded
		}
		err = run.InTx(ctx, func(tx *store.Tx) error {
			return tx.SetReferenceFileStatus(ctx, f.ID, status)
		})
		if err != nil {
			return nil, err
		}
		run.Logger().Warn("resolved pending writeback file", "location", f.Location, "status", string(status))
		if !exists {
			continue
		}

		linked, err := run.Store().LinkedPaymentIDs(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		carried := make(map[string]bool, len(linked))
		for _, id := range linked {
			carried[id] = true
		}
		var sent, rest []*model.Payment
		for _, p := range payments {
			// A status stamped after the file was written is not in it.
			if carried[p.ID] && !p.WritebackAt.After(f.CreatedAt) {
				sent = append(sent, p)
			} else {
				rest = append(rest, p)
			}
		}
		if err := markSent(ctx, run, sent, f.ID); err != nil {
			return nil, err
		}
		run.IncrementBy(MetricRecovered, int64(len(sent)))
		payments = rest
	}
	return payments, nil
}

// markSent moves each payment to writeback_sent, one unit of work each.
func markSent(ctx context.Context, run *step.Run, payments []*model.Payment, fileID string) error {
	byID := make(map[string]*model.Payment, len(payments))
	refs := make([]model.Ref, 0, len(payments))
	for _, p := range payments {
		byID[p.ID] = p
		refs = append(refs, model.RefOf(p))
	}
	return run.ForEach(ctx, refs, func(ctx context.Context, ref model.Ref) error {
		p := byID[ref.ID]
		err := run.InTx(ctx, func(tx *store.Tx) error {
			outcome := statelog.NewOutcome("writeback sent").
				With("reference_file_id", fileID).
				With("writeback_status", string(p.WritebackStatus))
			return run.Transition(ctx, tx, p, state.WritebackSent, outcome)
		})
		if err != nil {
			return err
		}
		run.Increment(MetricPaymentsWritten)
		return nil
	})
}
