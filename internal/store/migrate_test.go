package store

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := RunMigrations(ctx, db, DriverSQLite, testLogger()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	version, err := SchemaVersion(ctx, db, DriverSQLite)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := RunMigrations(ctx, db, DriverSQLite, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(ctx, db, DriverSQLite, testLogger()); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("expected %d schema_version rows, got %d", len(migrations), rows)
	}
}

func TestRunMigrations_CreatesExpectedTables(t *testing.T) {
	db := testDB(t)

	if err := RunMigrations(context.Background(), db, DriverSQLite, testLogger()); err != nil {
		t.Fatal(err)
	}

	expectedTables := []string{
		"messages", "conversations", "agents", "schedules",
		"leaves", "escalations", "schema_version",
	}
	for _, table := range expectedTables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestSchemaVersion_EmptyDB(t *testing.T) {
	db := testDB(t)

	version, err := SchemaVersion(context.Background(), db, DriverSQLite)
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Errorf("expected version 0 for empty db, got %d", version)
	}
}

func TestRunMigrations_ResumesFromPartialVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	// Apply only v1 by hand, then let the runner pick up the rest.
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at BIGINT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	for _, stmt := range splitSQL(migrations[0].SQLite) {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec("INSERT INTO schema_version (version, description, applied_at) VALUES (1, 'base', 0)"); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(ctx, db, DriverSQLite, testLogger()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	version, _ := SchemaVersion(ctx, db, DriverSQLite)
	if version != schemaVersion {
		t.Errorf("expected version %d, got %d", schemaVersion, version)
	}
}

func TestMigrations_MessageIDUniqueButNullable(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(context.Background(), db, DriverSQLite, testLogger()); err != nil {
		t.Fatal(err)
	}

	insert := `INSERT INTO messages (message_id, agent, platform, recipient, content, occurred_at, created_at, updated_at)
		VALUES (?, 'Agent1', 'WhatsApp', '+1555', 'hi', 1, 1, 1)`
	// Synthetic messages carry no platform id; any number may coexist.
	for i := 0; i < 2; i++ {
		if _, err := db.Exec(insert, nil); err != nil {
			t.Fatalf("null message_id insert %d: %v", i, err)
		}
	}
	if _, err := db.Exec(insert, "wamid.1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(insert, "wamid.1"); err == nil {
		t.Fatal("expected unique violation for a repeated message_id")
	}
}

func TestSplitSQL(t *testing.T) {
	got := splitSQL("CREATE TABLE a (x INT);\n\n  ;CREATE INDEX i ON a(x);  ")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX i ON a(x)" {
		t.Errorf("unexpected second statement %q", got[1])
	}
}

func TestRebind(t *testing.T) {
	got := rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
}
