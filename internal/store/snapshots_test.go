package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"redline/internal/contentlog"
	"redline/internal/contentlog/logtest"
)

func openSQLite(t *testing.T) *SQLLog {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "redline.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, DriverSQLite); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	return NewSQLLog(db, DriverSQLite)
}

func TestSQLiteConformance(t *testing.T) {
	logtest.Run(t, func(t *testing.T) contentlog.Log {
		return openSQLite(t)
	})
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	log := openSQLite(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, log.DB(), DriverSQLite); err != nil {
		t.Fatalf("ApplyMigrations() second pass error = %v", err)
	}
	var count int
	if err := log.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestMigrationsRoundTripSQLite(t *testing.T) {
	log := openSQLite(t)
	ctx := context.Background()
	if err := RollbackMigrations(ctx, log.DB()); err != nil {
		t.Fatalf("RollbackMigrations() error = %v", err)
	}
	if err := ApplyMigrations(ctx, log.DB(), DriverSQLite); err != nil {
		t.Fatalf("ApplyMigrations() after rollback error = %v", err)
	}
	if _, _, err := log.Append(ctx, "master", []byte("x\n"), "m"); err != nil {
		t.Fatalf("Append() after round trip error = %v", err)
	}
}

func TestSQLiteKeepsTimestamps(t *testing.T) {
	log := openSQLite(t)
	when := time.Date(2026, 10, 17, 12, 30, 0, 0, time.UTC)
	log.now = func() time.Time { return when }
	ctx := context.Background()
	if _, _, err := log.Append(ctx, "master", []byte("x\n"), "m"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	entries, err := log.Entries(ctx, "master")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 || !entries[0].CreatedAt.Equal(when) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPostgresConformance(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("REDLINE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("REDLINE_TEST_DATABASE_URL is not set")
	}

	logtest.Run(t, func(t *testing.T) contentlog.Log {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		db, err := Open(ctx, DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if err := RollbackMigrations(ctx, db); err != nil {
			t.Fatalf("RollbackMigrations() error = %v", err)
		}
		if err := ApplyMigrations(ctx, db, DriverPostgres); err != nil {
			t.Fatalf("ApplyMigrations() error = %v", err)
		}
		return NewSQLLog(db, DriverPostgres)
	})
}
