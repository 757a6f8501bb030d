// Package checkreturn applies the bank's check-return files to issued checks.
//
// A paid check completes its payment. A voided, stale or stopped check
// cancels it. Outstanding and future-dated checks are left as issued. Each
// file is processed once, recorded in the processing log under ExtractType.
package checkreturn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/check"
	"github.com/roach88/disburse/internal/flatfile"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/state"
	"github.com/roach88/disburse/internal/statelog"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/writeback"
)

const (
	StepName    = "process-check-returns"
	ExtractType = "check_return"
)

// Metrics.
const (
	MetricFiles          = "return_file_count"
	MetricFilesSkipped   = "return_file_skipped_count"
	MetricLineErrors     = "line_error_count"
	MetricPaid           = "paid_count"
	MetricCancelled      = "cancelled_count"
	MetricOutstanding    = "outstanding_count"
	MetricUnknownCheck   = "unknown_check_count"
	MetricNotIssued      = "not_issued_count"
	MetricAmountMismatch = "amount_mismatch_count"
)

// settlements maps a final bank status to the payment state and writeback
// status it produces.
var settlements = map[check.Status]struct {
	end       state.State
	writeback model.WritebackStatus
}{
	check.StatusPaid:  {state.PaymentComplete, model.WritebackPaid},
	check.StatusVoid:  {state.PaymentCheckCancelled, model.WritebackVoid},
	check.StatusStale: {state.PaymentCheckCancelled, model.WritebackStale},
	check.StatusStop:  {state.PaymentCheckCancelled, model.WritebackStop},
}

// Step processes every return file under Prefix.
type Step struct {
	Blob   blob.Store
	Prefix string
}

func (s *Step) Name() string { return StepName }

// RunStep processes files in key order. An unreadable header aborts the
// run; bad rows are counted and skipped.
//
// Outcome keys: message, check_number, return_status, amount, line_number,
// reference_file_id.
func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	keys, err := blob.Files(ctx, s.Blob, s.Prefix)
	if err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "list check returns %q", s.Prefix)
	}
	if len(keys) == 0 {
		run.Logger().Info("no check return files", "prefix", s.Prefix)
		return nil
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := s.processFile(ctx, run, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Step) processFile(ctx context.Context, run *step.Run, key string) error {
	logger := run.Logger().With("file", key)

	var file *model.ReferenceFile
	err := run.InTx(ctx, func(tx *store.Tx) error {
		var err error
		file, _, err = tx.FindOrCreateReferenceFile(ctx, model.ReferenceFile{
			ID:          run.NewID(),
			Type:        model.FileCheckReturn,
			Location:    key,
			Status:      model.FileReceived,
			ImportLogID: run.ImportLogID(),
			CreatedAt:   run.Now(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("record check return %s: %w", key, err)
	}
	done, err := run.Store().IsFileProcessed(ctx, file.ID, ExtractType)
	if err != nil {
		return err
	}
	if done {
		run.Increment(MetricFilesSkipped)
		logger.Debug("check return already processed", "reference_file_id", file.ID)
		return nil
	}
	run.Increment(MetricFiles)

	data, err := s.Blob.Get(ctx, key)
	if err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "read %s", key)
	}
	parsed, err := check.ParseReturns(bytes.NewReader(data), logger)
	var headerErr *flatfile.HeaderError
	if errors.As(err, &headerErr) {
		return step.Fatal(step.ErrCodeCorruptInput, err, "check return %s", key)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	for _, le := range parsed.LineErrors {
		run.Increment(MetricLineErrors)
		logger.Warn("check return line rejected", "line", le.Line, "error", le.Err)
	}
	logger.Info("check return parsed", "format", string(parsed.Format), "rows", len(parsed.Returns))

	failuresBefore := run.Get(step.MetricEntityErrors)
	rowLogger := func(r check.Return) *slog.Logger {
		return logger.With("line", r.Line, "check_number", r.CheckNumber)
	}
	err = step.Each(ctx, run, parsed.Returns, rowLogger, func(ctx context.Context, r check.Return) error {
		return apply(ctx, run, file, r, rowLogger(r))
	})
	if err != nil {
		return err
	}
	if run.Get(step.MetricEntityErrors) > failuresBefore {
		logger.Warn("check return left unprocessed after row failures; it is retried on the next run")
		return nil
	}

	return run.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.MarkFileProcessed(ctx, file.ID, ExtractType, run.ImportLogID())
		return err
	})
}

// apply settles the payment the return row refers to.
func apply(ctx context.Context, run *step.Run, file *model.ReferenceFile, r check.Return, logger *slog.Logger) error {
	settlement, final := settlements[r.Status]
	if !final {
		run.Increment(MetricOutstanding)
		return nil
	}

	p, err := run.Store().FindPaymentByCheckNumber(ctx, r.CheckNumber)
	if errors.Is(err, store.ErrNotFound) {
		run.Increment(MetricUnknownCheck)
		logger.Warn("check return names an unknown check")
		return nil
	}
	if err != nil {
		return err
	}
	logger = logger.With("entity_type", string(model.EntityPayment), "entity_id", p.ID)
	if !r.Amount.Equal(p.Amount) {
		run.Increment(MetricAmountMismatch)
		logger.Warn("check return amount differs from payment", "returned", r.Amount.StringFixed(2), "issued", p.Amount.StringFixed(2))
	}

	settled := false
	err = run.InTx(ctx, func(tx *store.Tx) error {
		issued, err := statelog.IsLatestIn(ctx, tx, p, state.PaymentCheckIssued)
		if err != nil || !issued {
			return err
		}
		outcome := statelog.NewOutcome("check "+string(r.Status)).
			With("check_number", r.CheckNumber).
			With("return_status", string(r.Status)).
			With("amount", r.Amount.StringFixed(2)).
			With("line_number", r.Line).
			With("reference_file_id", file.ID)
		if err := run.Transition(ctx, tx, p, settlement.end, outcome); err != nil {
			return err
		}
		settled = true
		return writeback.Enqueue(ctx, tx, run.StateLog(), p, settlement.writeback, run.Now())
	})
	if err != nil {
		return err
	}
	if !settled {
		run.Increment(MetricNotIssued)
		logger.Warn("check return for a payment that is not an issued check")
		return nil
	}
	if settlement.end == state.PaymentComplete {
		run.Increment(MetricPaid)
	} else {
		run.Increment(MetricCancelled)
	}
	return nil
}
