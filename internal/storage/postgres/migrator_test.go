package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrations_PairsSortedByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_outbox.up.sql":   migrationFile("CREATE TABLE outbox_messages (id UUID PRIMARY KEY);"),
		"sql/migrations/0002_outbox.down.sql": migrationFile("DROP TABLE IF EXISTS outbox_messages;"),
		"sql/migrations/0001_orders.up.sql":   migrationFile("CREATE TABLE orders (id UUID PRIMARY KEY);"),
		"sql/migrations/0001_orders.down.sql": migrationFile("DROP TABLE IF EXISTS orders;"),
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "orders" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Version != 2 || migrations[1].Name != "outbox" {
		t.Fatalf("unexpected second migration: %+v", migrations[1])
	}
	if !strings.Contains(migrations[0].UpSQL, "CREATE TABLE orders") {
		t.Fatalf("unexpected up body: %q", migrations[0].UpSQL)
	}
}

func TestLoadMigrations_MissingDownRejected(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql": migrationFile("CREATE TABLE orders (id UUID PRIMARY KEY);"),
	}

	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "both up and down") {
		t.Fatalf("expected missing-down error, got %v", err)
	}
}

func TestLoadMigrations_DuplicateUpRejected(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql":   migrationFile("CREATE TABLE orders (id UUID PRIMARY KEY);"),
		"sql/migrations/001_orders.up.sql":    migrationFile("CREATE TABLE orders_v2 (id UUID PRIMARY KEY);"),
		"sql/migrations/0001_orders.down.sql": migrationFile("DROP TABLE IF EXISTS orders;"),
	}

	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "duplicate up migration") {
		t.Fatalf("expected duplicate-up error, got %v", err)
	}
}

func TestLoadMigrations_InvalidFilenameRejected(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/schema.sql": migrationFile("SELECT 1;"),
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for unparseable migration file name")
	}
}

func TestLoadMigrations_EmptyBodyRejected(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql":   migrationFile("   \n"),
		"sql/migrations/0001_orders.down.sql": migrationFile("DROP TABLE IF EXISTS orders;"),
	}

	if _, err := loadMigrations(fsys); err == nil {
		t.Fatal("expected error for empty migration body")
	}
}

func TestLoadMigrations_NameMismatchRejected(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0001_orders.up.sql":  migrationFile("CREATE TABLE orders (id UUID PRIMARY KEY);"),
		"sql/migrations/0001_sagas.down.sql": migrationFile("DROP TABLE IF EXISTS order_sagas;"),
	}

	_, err := loadMigrations(fsys)
	if err == nil || !strings.Contains(err.Error(), "name mismatch") {
		t.Fatalf("expected name-mismatch error, got %v", err)
	}
}
