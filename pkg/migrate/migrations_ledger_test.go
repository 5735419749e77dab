package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/kisaan-ledger/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestAllocationsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments_and_allocations.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS allocations",
		"CONSTRAINT ux_allocations_reversal_of UNIQUE (reversal_of_id)",
		"FOREIGN KEY (reversal_of_id) REFERENCES allocations(id)",
		"CONSTRAINT ux_bulk_payments_shop_key UNIQUE (shop_id, idempotency_key)",
		"CHECK (payer_type <> payee_type)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_transaction",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLedgerMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_ledger_balances.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS ledger_accounts",
		"PRIMARY KEY (user_id, balance_type)",
		"CREATE TABLE IF NOT EXISTS ledger_balance_snapshots",
		"CONSTRAINT ux_balance_snapshots_sequence UNIQUE (user_id, balance_type, sequence)",
		"CHECK (new_balance = previous_balance + amount_change)",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestTransactionsMigrationEnforcesEarnings(t *testing.T) {
	content := readMigration(t, "*_create_shops_and_transactions.sql")
	if !strings.Contains(content, "CHECK (farmer_earning = total_amount - commission_amount)") {
		t.Fatalf("transactions table must pin farmer earning to total minus commission")
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Ledger Index!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_ledger_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}

	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected sanitized-empty name to fail")
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}
