package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "plutobridge.db")
	gdb, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLiteWithMigrations failed: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB failed: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestOpenSQLiteWithMigrations_CreatesCoreTables(t *testing.T) {
	sqlDB := openTestDB(t)

	for _, name := range []string{"notebook_records", "execution_records"} {
		var got string
		if err := sqlDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&got); err != nil {
			t.Fatalf("missing table %s: %v", name, err)
		}
	}
}

func TestOpenSQLiteWithMigrations_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "plutobridge.db")
	gdb, err := OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	sqlDB, _ := gdb.DB()
	_ = sqlDB.Close()

	gdb, err = OpenSQLiteWithMigrations(dbPath)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	sqlDB, _ = gdb.DB()
	defer sqlDB.Close()

	var n int
	if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='notebook_records'`).Scan(&n); err != nil {
		t.Fatalf("count notebook_records table failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected notebook_records table after second open, got count %d", n)
	}
}

func TestOpenSQLiteWithMigrations_SetsBusyTimeout(t *testing.T) {
	sqlDB := openTestDB(t)

	var timeout int
	if err := sqlDB.QueryRow(`PRAGMA busy_timeout;`).Scan(&timeout); err != nil {
		t.Fatalf("query busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestOpenSQLiteWithMigrations_OpensReadableDB(t *testing.T) {
	sqlDB := openTestDB(t)

	if err := sqlDB.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	var value sql.NullString
	if err := sqlDB.QueryRow(`PRAGMA journal_mode;`).Scan(&value); err != nil {
		t.Fatalf("read pragma journal mode failed: %v", err)
	}
	if !value.Valid || value.String == "" {
		t.Fatal("pragma journal mode should not be empty")
	}
}
