package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/disburse/internal/model"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestImportLog starts an import log so payments have something to
// reference.
func createTestImportLog(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.StartImportLog(context.Background(), "test", testTime)
	if err != nil {
		t.Fatalf("StartImportLog() failed: %v", err)
	}
	return id
}

// createTestClaim inserts an employee, employer and claim on absenceCase.
func createTestClaim(t *testing.T, s *Store, claimNumber, absenceCase string) *model.Claim {
	t.Helper()
	ctx := context.Background()
	emp, _, err := s.UpsertEmployee(ctx, "ee-"+claimNumber, model.Employee{CustomerNumber: "cust-" + claimNumber, FirstName: "Jane", LastName: "Doe"})
	if err != nil {
		t.Fatalf("UpsertEmployee() failed: %v", err)
	}
	er, _, err := s.UpsertEmployer(ctx, "er-"+claimNumber, model.Employer{FEIN: "fein-" + claimNumber, Name: "Acme"})
	if err != nil {
		t.Fatalf("UpsertEmployer() failed: %v", err)
	}
	c, _, err := s.UpsertClaim(ctx, "claim-"+claimNumber, model.Claim{
		ClaimNumber:   claimNumber,
		AbsenceCaseID: absenceCase,
		EmployeeID:    emp.ID,
		EmployerID:    er.ID,
		LeaveType:     model.LeaveFamily,
	})
	if err != nil {
		t.Fatalf("UpsertClaim() failed: %v", err)
	}
	return c
}

// createTestPayment creates a minimal standard payment on claim c.
func createTestPayment(id string, c *model.Claim, importLogID int64) *model.Payment {
	return &model.Payment{
		ID:              id,
		CValue:          "7326",
		IValue:          id,
		LineItemKey:     "li-" + id,
		ClaimID:         c.ID,
		EmployeeID:      c.EmployeeID,
		EmployerID:      c.EmployerID,
		ImportLogID:     importLogID,
		TransactionType: model.TransactionStandard,
		Method:          model.MethodACH,
		LeaveType:       model.LeaveFamily,
		Amount:          decimal.RequireFromString("812.50"),
		PeriodStart:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC),
		PayeeFirstName:  "Jane",
		PayeeLastName:   "Doe",
		CreatedAt:       testTime,
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
