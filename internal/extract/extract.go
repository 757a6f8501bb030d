// Package extract ingests the vendor payment extract.
//
// Extracts arrive in groups under a timestamped directory of the vendor
// extract prefix. Each group's vpei.csv is staged row by row, then every
// staged row becomes a Payment, with the employer, employee and claim it
// references created or refreshed on the way.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/disburse/internal/blob"
	"github.com/roach88/disburse/internal/flatfile"
	"github.com/roach88/disburse/internal/model"
	"github.com/roach88/disburse/internal/step"
	"github.com/roach88/disburse/internal/store"
)

// StepName identifies the ingest step.
const StepName = "ingest-extract"

// PaymentFile is the required payment extract of every group.
const PaymentFile = "vpei.csv"

// ExtractType keys the processing log for payment extracts.
const ExtractType = "vpei"

// GroupLayout names extract group directories.
const GroupLayout = "2006-01-02-15-04-05"

// Extract columns.
const (
	ColC              = "C"
	ColI              = "I"
	ColLineItemKey    = "LINE_ITEM_KEY"
	ColClaimNumber    = "CLAIM_NUMBER"
	ColAbsenceCaseID  = "ABSENCE_CASE_ID"
	ColLeaveType      = "LEAVE_TYPE"
	ColCustomerNumber = "CUSTOMER_NUMBER"
	ColFirstNames     = "FIRST_NAMES"
	ColLastName       = "LAST_NAME"
	ColEmployerFEIN   = "EMPLOYER_FEIN"
	ColEmployerName   = "EMPLOYER_NAME"
	ColTxType         = "TRANSACTION_TYPE"
	ColPaymentMethod  = "PAYMENT_METHOD"
	ColAmount         = "AMOUNT"
	ColPeriodStart    = "PERIOD_START"
	ColPeriodEnd      = "PERIOD_END"
	ColRoutingNumber  = "ROUTING_NUMBER"
	ColAccountNumber  = "ACCOUNT_NUMBER"
	ColAccountType    = "ACCOUNT_TYPE"
	ColAddressLine1   = "ADDRESS_LINE_1"
	ColAddressLine2   = "ADDRESS_LINE_2"
	ColCity           = "CITY"
	ColState          = "STATE"
	ColZip            = "ZIP"
)

// Columns is the header every payment extract must carry.
var Columns = []string{
	ColC, ColI, ColLineItemKey, ColClaimNumber, ColAbsenceCaseID, ColLeaveType,
	ColCustomerNumber, ColFirstNames, ColLastName, ColEmployerFEIN, ColEmployerName,
	ColTxType, ColPaymentMethod, ColAmount, ColPeriodStart, ColPeriodEnd,
	ColRoutingNumber, ColAccountNumber, ColAccountType,
	ColAddressLine1, ColAddressLine2, ColCity, ColState, ColZip,
}

// Metrics.
const (
	MetricGroups           = "extract_group_count"
	MetricGroupsSkipped    = "extract_group_skipped_count"
	MetricStagedRows       = "staged_row_count"
	MetricLineErrors       = "line_error_count"
	MetricPayments         = "payment_count"
	MetricValidationErrors = "validation_error_count"
	MetricNotDisbursable   = "not_disbursable_count"
	MetricACH              = "ach_payment_count"
	MetricCheck            = "check_payment_count"
	MetricNewEmployers     = "new_employer_count"
	MetricNewEmployees     = "new_employee_count"
	MetricNewClaims        = "new_claim_count"
	MetricNewAddressPairs  = "new_address_pair_count"
)

// Step ingests every unprocessed extract group under Prefix.
type Step struct {
	Blob   blob.Store
	Prefix string
}

func (s *Step) Name() string { return StepName }

// RunStep processes groups oldest first. A group without a payment extract
// or with an unreadable header aborts the run; rows that fail are isolated.
func (s *Step) RunStep(ctx context.Context, run *step.Run) error {
	groups, err := s.groups(ctx, run)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return step.Fatal(step.ErrCodeMissingInput, nil, "no extract groups under %q", s.Prefix)
	}
	for _, group := range groups {
		if err := s.ingestGroup(ctx, run, group); err != nil {
			return err
		}
	}
	return nil
}

// groups lists the timestamped group directories in chronological order.
// Directories whose name is not a timestamp are skipped.
func (s *Step) groups(ctx context.Context, run *step.Run) ([]string, error) {
	dirs, err := blob.Dirs(ctx, s.Blob, s.Prefix)
	if err != nil {
		return nil, step.Fatal(step.ErrCodeIntegration, err, "list extract prefix %q", s.Prefix)
	}
	groups := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		name := dir[strings.LastIndex(dir, "/")+1:]
		if _, err := time.Parse(GroupLayout, name); err != nil {
			run.Logger().Warn("ignoring extract directory", "dir", dir)
			continue
		}
		groups = append(groups, dir)
	}
	// GroupLayout sorts lexically in time order and Dirs returns sorted keys.
	return groups, nil
}

func (s *Step) ingestGroup(ctx context.Context, run *step.Run, group string) error {
	logger := run.Logger().With("group", group)
	key := blob.Join(group, PaymentFile)
	ok, err := s.Blob.Exists(ctx, key)
	if err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "stat %s", key)
	}
	if !ok {
		return step.Fatal(step.ErrCodeMissingInput, nil, "extract group %s has no %s", group, PaymentFile)
	}

	var file *model.ReferenceFile
	err = run.InTx(ctx, func(tx *store.Tx) error {
		var err error
		file, _, err = tx.FindOrCreateReferenceFile(ctx, model.ReferenceFile{
			ID:          run.NewID(),
			Type:        model.FileVendorExtract,
			Location:    key,
			Status:      model.FileReceived,
			ImportLogID: run.ImportLogID(),
			CreatedAt:   run.Now(),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("record extract %s: %w", key, err)
	}

	done, err := run.Store().IsFileProcessed(ctx, file.ID, ExtractType)
	if err != nil {
		return err
	}
	if done {
		logger.Debug("extract already processed", "reference_file_id", file.ID)
		run.Increment(MetricGroupsSkipped)
		return nil
	}
	run.Increment(MetricGroups)

	if err := s.stage(ctx, run, file, key); err != nil {
		return err
	}

	rows, err := run.Store().UnprocessedStagedRows(ctx, file.ID)
	if err != nil {
		return err
	}
	rowLogger := func(r store.StagedRow) *slog.Logger {
		return logger.With("line", r.LineNumber, "c_value", r.CValue, "i_value", r.IValue)
	}
	err = step.Each(ctx, run, rows, rowLogger, func(ctx context.Context, r store.StagedRow) error {
		return processRow(ctx, run, r)
	})
	if err != nil {
		return err
	}

	remaining, err := run.Store().UnprocessedStagedRows(ctx, file.ID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		logger.Warn("extract rows left unprocessed; they are retried on the next run", "rows", len(remaining))
		return nil
	}
	return run.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.MarkFileProcessed(ctx, file.ID, ExtractType, run.ImportLogID())
		return err
	})
}

// stage copies the file's rows into staging unless an earlier run already
// did. Rows that cannot be split into fields are counted and dropped.
func (s *Step) stage(ctx context.Context, run *step.Run, file *model.ReferenceFile, key string) error {
	staged, err := run.Store().CountStagedRows(ctx, file.ID)
	if err != nil {
		return err
	}
	if staged > 0 {
		run.Logger().Info("extract already staged", "location", key, "rows", staged)
		return nil
	}

	data, err := s.Blob.Get(ctx, key)
	if err != nil {
		return step.Fatal(step.ErrCodeIntegration, err, "read %s", key)
	}
	r, err := flatfile.NewReader(bytes.NewReader(data))
	if err != nil {
		return step.Fatal(step.ErrCodeCorruptInput, err, "read header of %s", key)
	}
	if err := r.Require(Columns...); err != nil {
		return step.Fatal(step.ErrCodeCorruptInput, err, "header of %s", key)
	}

	var lineErrs []flatfile.LineError
	err = run.InTx(ctx, func(tx *store.Tx) error {
		var (
			n         int64
			insertErr error
		)
		errs, err := r.Each(func(rec flatfile.Record) error {
			if insertErr != nil {
				return insertErr
			}
			values := make(map[string]string, len(Columns))
			for _, col := range Columns {
				values[col] = rec.Get(col)
			}
			if _, err := tx.InsertStagedRow(ctx, store.StagedRow{
				ReferenceFileID: file.ID,
				LineNumber:      rec.Line,
				CValue:          values[ColC],
				IValue:          values[ColI],
				Record:          values,
			}); err != nil {
				insertErr = err
				return err
			}
			n++
			return nil
		})
		if err != nil {
			return err
		}
		if insertErr != nil {
			return insertErr
		}
		lineErrs = errs
		run.IncrementBy(MetricStagedRows, n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	for _, le := range lineErrs {
		run.Increment(MetricLineErrors)
		run.Logger().Warn("extract line skipped", "location", key, "line", le.Line, "error", le.Err)
	}
	return nil
}
