package schema_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/developerYeasin/blood-donation-backend/internal/schema"
)

func TestOpenDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := schema.OpenDB("sqlite", dbPath)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Query journal_mode failed: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode='wal', got '%s'", journalMode)
	}

	var foreignKeys int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Query foreign_keys failed: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}

	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Query busy_timeout failed: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}
}

func TestOpenDB_UnknownDriver(t *testing.T) {
	if _, err := schema.OpenDB("postgres", "whatever"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestInitDB(t *testing.T) {
	db, err := schema.OpenDB("sqlite", filepath.Join(t.TempDir(), "init.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := schema.InitDB(ctx, db); err != nil {
		t.Fatalf("InitDB() failed: %v", err)
	}

	version, err := schema.GetSchemaVersion(ctx, db)
	if err != nil {
		t.Fatalf("GetSchemaVersion() failed: %v", err)
	}
	if version != schema.CurrentVersion {
		t.Errorf("Expected schema version %d, got %d", schema.CurrentVersion, version)
	}

	tables := []string{
		"users",
		"conversations",
		"conversation_participants",
		"messages",
		"notifications",
		"user_devices",
		"schema_version",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err == sql.ErrNoRows {
			t.Errorf("Table %s does not exist", table)
		} else if err != nil {
			t.Fatalf("Query table %s failed: %v", table, err)
		}
	}

	indexes := []string{
		"idx_participants_user",
		"idx_messages_conversation",
		"idx_notifications_recipient",
		"idx_devices_user",
	}
	for _, index := range indexes {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		if err == sql.ErrNoRows {
			t.Errorf("Index %s does not exist", index)
		} else if err != nil {
			t.Fatalf("Query index %s failed: %v", index, err)
		}
	}
}

func TestMigrate_FreshAndIdempotent(t *testing.T) {
	db, err := schema.OpenDB("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := schema.Migrate(ctx, db); err != nil {
			t.Fatalf("Migrate() run %d failed: %v", i+1, err)
		}
	}

	var rows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatalf("count schema_version: %v", err)
	}
	if rows != 1 {
		t.Errorf("Expected one schema_version row after repeated Migrate, got %d", rows)
	}
}

func TestMigrate_RejectsNewerSchema(t *testing.T) {
	db, err := schema.OpenDB("sqlite", filepath.Join(t.TempDir(), "newer.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := schema.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schema.CurrentVersion+1); err != nil {
		t.Fatalf("bump version: %v", err)
	}

	if err := schema.Migrate(ctx, db); err == nil {
		t.Fatal("expected Migrate() to reject a newer schema version")
	}
}

func TestParticipantsRejectUnknownConversation(t *testing.T) {
	db, err := schema.OpenDB("sqlite", filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if err := schema.InitDB(ctx, db); err != nil {
		t.Fatalf("InitDB() failed: %v", err)
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, content, message_type, created_at) VALUES (?, ?, ?, ?, ?)",
		999, 1, "orphan", "text", "2024-01-01T00:00:00.000000Z")
	if err == nil {
		t.Fatal("expected foreign key violation for unknown conversation")
	}
}
