// Package dbtest opens throwaway sqlite databases carrying the ledger schema.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/kisaan-ledger/pkg/db"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
)

// Models lists every table the ledger owns, in dependency order.
func Models() []any {
	return []any{
		&models.Shop{},
		&models.Transaction{},
		&models.BulkPayment{},
		&models.Payment{},
		&models.Expense{},
		&models.Credit{},
		&models.Allocation{},
		&models.ExpenseRepayment{},
		&models.LedgerAccount{},
		&models.BalanceSnapshot{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// NewSQLite returns a private in-memory database migrated with Models.
func NewSQLite(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// NewClient wraps NewSQLite in a db.Client.
func NewClient(t testing.TB) *db.Client {
	t.Helper()
	return db.NewFromConn(NewSQLite(t))
}
