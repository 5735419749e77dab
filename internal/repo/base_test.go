package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

type ctxKey struct{}

func TestBaseDBBindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), ctxKey{}, "shop-1")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}
	if base.DB(nil) != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBindSwapsHandleOnlyForTx(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	if base.Bind(nil).db != db {
		t.Fatalf("nil tx must keep the pooled handle")
	}
	tx := db.Session(&gorm.Session{})
	if base.Bind(tx).db != tx {
		t.Fatalf("expected tx handle after Bind")
	}
	if base.db != db {
		t.Fatalf("Bind must not mutate the receiver")
	}
}
