package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver for production deployments
	_ "modernc.org/sqlite"             // Pure Go SQLite driver

	"github.com/developerYeasin/blood-donation-backend/internal/safedb"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// CurrentVersion is the current schema version.
const CurrentVersion = 1

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

// OpenDB opens a database for the given driver and verifies the connection.
// SQLite connections get foreign keys, WAL and a busy timeout, and the pool
// is limited to one connection so ":memory:" databases stay shared.
func OpenDB(driver, dsn string) (*safedb.DB, error) {
	dialect, err := safedb.ParseDialect(driver)
	if err != nil {
		return nil, err
	}

	if dialect == safedb.SQLite {
		dsn = withSQLitePragmas(dsn)
	}

	raw, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == safedb.SQLite {
		raw.SetMaxOpenConns(1)
	}

	if err := raw.Ping(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return safedb.New(raw, dialect), nil
}

func withSQLitePragmas(dsn string) string {
	var b strings.Builder
	b.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// InitDB creates every table and index and records CurrentVersion.
func InitDB(ctx context.Context, db *safedb.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createVersionTable(ctx, tx); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	for _, stmt := range statements(db.Dialect()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if err := setSchemaVersion(ctx, tx, CurrentVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetSchemaVersion returns the recorded schema version, or 0 if none.
func GetSchemaVersion(ctx context.Context, db *safedb.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

// Migrate brings the database to CurrentVersion, initializing it when empty.
func Migrate(ctx context.Context, db *safedb.DB) error {
	if _, err := db.ExecContext(ctx, versionTableDDL); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	currentVersion, err := GetSchemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	switch {
	case currentVersion == 0:
		return InitDB(ctx, db)
	case currentVersion == CurrentVersion:
		return nil
	case currentVersion > CurrentVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, CurrentVersion)
	default:
		// No incremental migrations exist yet; version 1 is the baseline.
		return fmt.Errorf("no migration path from schema version %d", currentVersion)
	}
}

const versionTableDDL = `CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER NOT NULL,
	applied_at VARCHAR(32) NOT NULL DEFAULT ''
)`

func createVersionTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, versionTableDDL)
	return err
}

func setSchemaVersion(ctx context.Context, tx *sql.Tx, version int) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		version, types.FormatTime(time.Now()))
	return err
}

// statements returns the DDL for a dialect. MySQL declares its indexes
// inline because it has no CREATE INDEX IF NOT EXISTS.
func statements(d safedb.Dialect) []string {
	if d == safedb.MySQL {
		return mysqlStatements
	}
	return sqliteStatements
}

var sqliteStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name  TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT NOT NULL CHECK (type IN ('private', 'group')),
		group_name  TEXT,
		group_image TEXT,
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id INTEGER NOT NULL,
		user_id         INTEGER NOT NULL,
		joined_at       TEXT NOT NULL,
		PRIMARY KEY (conversation_id, user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		sender_id       INTEGER NOT NULL,
		content         TEXT NOT NULL,
		message_type    TEXT NOT NULL DEFAULT 'text',
		created_at      TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient_id INTEGER NOT NULL,
		title        TEXT NOT NULL,
		body         TEXT NOT NULL,
		type         TEXT NOT NULL,
		reference_id INTEGER,
		is_read      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_devices (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id               INTEGER NOT NULL,
		device_type           TEXT NOT NULL DEFAULT 'web',
		web_push_subscription TEXT,
		created_at            TEXT NOT NULL
	)`,

	"CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)",
	"CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id)",
	"CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, is_read)",
	"CREATE INDEX IF NOT EXISTS idx_devices_user ON user_devices(user_id)",
}

var mysqlStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		full_name  VARCHAR(255) NOT NULL DEFAULT '',
		avatar_url VARCHAR(1024) NOT NULL DEFAULT '',
		created_at VARCHAR(32) NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		type        ENUM('private', 'group') NOT NULL,
		group_name  VARCHAR(255),
		group_image VARCHAR(1024),
		created_at  VARCHAR(32) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id BIGINT NOT NULL,
		user_id         BIGINT NOT NULL,
		joined_at       VARCHAR(32) NOT NULL,
		PRIMARY KEY (conversation_id, user_id),
		KEY idx_participants_user (user_id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id              BIGINT AUTO_INCREMENT PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		sender_id       BIGINT NOT NULL,
		content         TEXT NOT NULL,
		message_type    VARCHAR(32) NOT NULL DEFAULT 'text',
		created_at      VARCHAR(32) NOT NULL,
		KEY idx_messages_conversation (conversation_id, id),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id           BIGINT AUTO_INCREMENT PRIMARY KEY,
		recipient_id BIGINT NOT NULL,
		title        VARCHAR(255) NOT NULL,
		body         TEXT NOT NULL,
		type         VARCHAR(32) NOT NULL,
		reference_id BIGINT,
		is_read      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   VARCHAR(32) NOT NULL,
		KEY idx_notifications_recipient (recipient_id, is_read)
	)`,

	`CREATE TABLE IF NOT EXISTS user_devices (
		id                    BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id               BIGINT NOT NULL,
		device_type           VARCHAR(16) NOT NULL DEFAULT 'web',
		web_push_subscription TEXT,
		created_at            VARCHAR(32) NOT NULL,
		KEY idx_devices_user (user_id)
	)`,
}
