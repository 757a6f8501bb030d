package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"import_logs", "reference_files", "import_log_reference_files", "employers",
		"employees", "claims", "addresses", "address_pairs", "pub_efts", "payments",
		"staging_vpei", "payment_audit_report_details", "payment_reference_files",
		"state_logs", "work_claims", "sequences",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		if err := s.verifyPragma(tt.name, tt.want); err != nil {
			t.Error(err)
		}
	}
}

// Schema tests

func TestSchema_StateLogsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "state_logs")
	expected := []string{
		"id", "entity_type", "entity_id", "flow", "start_state", "end_state",
		"outcome", "import_log_id", "created_at",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("state_logs table missing column %q", col)
		}
	}

	indexes := getTableIndexes(t, s.db, "state_logs")
	for _, idx := range []string{"idx_state_logs_entity_flow", "idx_state_logs_end_state"} {
		if !contains(indexes, idx) {
			t.Errorf("state_logs table missing index %q", idx)
		}
	}
}

func TestSchema_StateLogsAppendOnly(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO state_logs (entity_type, entity_id, flow, end_state, created_at)
		VALUES ('payment', 'p1', 'delegated_payment', 'payment_preapproved', '2024-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if _, err := s.db.Exec(`UPDATE state_logs SET end_state = 'payment_complete'`); err == nil {
		t.Error("expected UPDATE on state_logs to be rejected")
	}
	if _, err := s.db.Exec(`DELETE FROM state_logs`); err == nil {
		t.Error("expected DELETE on state_logs to be rejected")
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM state_logs").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("state_logs has %d rows, want 1", count)
	}
}

func TestConstraint_ForeignKeyPaymentToImportLog(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO payments (id, c_value, i_value, import_log_id, created_at)
		VALUES ('p1', '7326', '1', 999, '2024-01-01T00:00:00Z')
	`)
	if err == nil {
		t.Error("expected foreign key violation for unknown import log")
	}
}

func TestConstraint_StagingUniqueLine(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.db.Exec(`
		INSERT INTO reference_files (id, file_type, location, status, created_at)
		VALUES ('f1', 'vendor_extract', 'x/vpei.csv', 'received', '2024-01-01T00:00:00Z')
	`); err != nil {
		t.Fatalf("insert reference file failed: %v", err)
	}

	row := StagedRow{ReferenceFileID: "f1", LineNumber: 2, Record: map[string]string{"C": "7326"}}
	if _, err := s.InsertStagedRow(ctx, row); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := s.InsertStagedRow(ctx, row); err == nil {
		t.Error("expected unique violation for duplicate staged line")
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 0"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}
}

func TestMigration_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("failed to set user_version: %v", err)
	}
	db.Close()

	if _, err := Open(path); err == nil {
		t.Error("expected Open() to reject a newer schema version")
	}
}

// Unit of work tests

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.StartImportLog(ctx, "rolled-back", testTime); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM import_logs").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("import_logs has %d rows after rollback, want 0", count)
	}
}

func TestWithTx_Commits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		id, err = tx.StartImportLog(ctx, "committed", testTime)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	l, err := s.GetImportLog(ctx, id)
	if err != nil {
		t.Fatalf("GetImportLog() failed: %v", err)
	}
	if l.Type != "committed" || l.Status != ImportRunning {
		t.Errorf("import log = %+v", l)
	}
}
