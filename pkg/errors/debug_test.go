package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpCapturesPgxConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_allocations_reversal_of", TableName: "allocations"}
	err := Wrap(CodeConflict, fmt.Errorf("insert reversal: %w", pgErr), "allocation already reversed")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected code %s got %s", CodeConflict, dump.Code)
	}
	if dump.PGCode != "23505" || dump.PGConstraint != "ux_allocations_reversal_of" || dump.PGTable != "allocations" {
		t.Fatalf("unexpected pg details %+v", dump)
	}
	if len(dump.Chain) < 3 {
		t.Fatalf("expected full wrap chain, got %v", dump.Chain)
	}
}

func TestDumpCapturesLibPQError(t *testing.T) {
	err := fmt.Errorf("lock account: %w", &pq.Error{Code: "40P01", Table: "ledger_accounts"})
	dump := Dump(err)
	if dump.PGCode != "40P01" || dump.PGTable != "ledger_accounts" {
		t.Fatalf("unexpected pg details %+v", dump)
	}
	if dump.Code != "" {
		t.Fatalf("untyped error must not carry a code, got %s", dump.Code)
	}
}

func TestDumpNil(t *testing.T) {
	if got := Dump(nil); got.TopMessage != "" || got.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", got)
	}
}
