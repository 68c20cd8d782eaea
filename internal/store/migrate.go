package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

// migration is a single schema step. Each driver gets its own SQL because
// column types and key generation differ.
type migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

func (m migration) sql(driver string) string {
	if driver == DriverPostgres {
		return m.Postgres
	}
	return m.SQLite
}

// migrations is the ordered list of schema migrations.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: messages, conversations",
		SQLite: `
		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id   TEXT UNIQUE,
			agent        TEXT NOT NULL,
			platform     TEXT NOT NULL,
			recipient    TEXT NOT NULL,
			content      TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			sender_id    TEXT,
			is_incoming  BOOLEAN NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'sent',
			extra_data   TEXT,
			occurred_at  BIGINT NOT NULL,
			created_at   BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_agent_time ON messages(agent, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(recipient, platform);
		CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(occurred_at);

		CREATE TABLE IF NOT EXISTS conversations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient       TEXT NOT NULL,
			platform        TEXT NOT NULL,
			agent           TEXT,
			last_message_at BIGINT NOT NULL,
			message_count   BIGINT NOT NULL DEFAULT 0,
			is_active       BOOLEAN NOT NULL DEFAULT 1,
			created_at      BIGINT NOT NULL,
			updated_at      BIGINT NOT NULL,
			UNIQUE(recipient, platform)
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent, is_active);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL PRIMARY KEY,
			message_id   TEXT UNIQUE,
			agent        VARCHAR(100) NOT NULL,
			platform     VARCHAR(50) NOT NULL,
			recipient    VARCHAR(50) NOT NULL,
			content      TEXT NOT NULL,
			message_type VARCHAR(50) NOT NULL DEFAULT 'text',
			sender_id    TEXT,
			is_incoming  BOOLEAN NOT NULL DEFAULT FALSE,
			status       VARCHAR(20) NOT NULL DEFAULT 'sent',
			extra_data   TEXT,
			occurred_at  BIGINT NOT NULL,
			created_at   BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_agent_time ON messages(agent, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(recipient, platform);
		CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(occurred_at);

		CREATE TABLE IF NOT EXISTS conversations (
			id              BIGSERIAL PRIMARY KEY,
			recipient       VARCHAR(50) NOT NULL,
			platform        VARCHAR(50) NOT NULL,
			agent           VARCHAR(100),
			last_message_at BIGINT NOT NULL,
			message_count   BIGINT NOT NULL DEFAULT 0,
			is_active       BOOLEAN NOT NULL DEFAULT TRUE,
			created_at      BIGINT NOT NULL,
			updated_at      BIGINT NOT NULL,
			UNIQUE(recipient, platform)
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent ON conversations(agent, is_active);
		`,
	},
	{
		Version:     2,
		Description: "v2: agents, schedules, leaves",
		SQLite: `
		CREATE TABLE IF NOT EXISTS agents (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			email      TEXT,
			phone      TEXT,
			is_active  BOOLEAN NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS schedules (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent       TEXT NOT NULL,
			day         TEXT NOT NULL,
			shift_start BIGINT NOT NULL,
			shift_end   BIGINT NOT NULL,
			role        TEXT,
			notes       TEXT,
			created_at  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_agent_day ON schedules(agent, day);

		CREATE TABLE IF NOT EXISTS leaves (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			agent      TEXT NOT NULL,
			start_at   BIGINT NOT NULL,
			end_at     BIGINT NOT NULL,
			reason     TEXT,
			status     TEXT NOT NULL DEFAULT 'approved',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_leaves_agent ON leaves(agent, start_at);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS agents (
			id         BIGSERIAL PRIMARY KEY,
			name       VARCHAR(100) NOT NULL UNIQUE,
			email      TEXT,
			phone      TEXT,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS schedules (
			id          BIGSERIAL PRIMARY KEY,
			agent       VARCHAR(100) NOT NULL,
			day         VARCHAR(10) NOT NULL,
			shift_start BIGINT NOT NULL,
			shift_end   BIGINT NOT NULL,
			role        TEXT,
			notes       TEXT,
			created_at  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_agent_day ON schedules(agent, day);

		CREATE TABLE IF NOT EXISTS leaves (
			id         BIGSERIAL PRIMARY KEY,
			agent      VARCHAR(100) NOT NULL,
			start_at   BIGINT NOT NULL,
			end_at     BIGINT NOT NULL,
			reason     TEXT,
			status     VARCHAR(20) NOT NULL DEFAULT 'approved',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_leaves_agent ON leaves(agent, start_at);
		`,
	},
	{
		Version:     3,
		Description: "v3: escalations",
		SQLite: `
		CREATE TABLE IF NOT EXISTS escalations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			reference  TEXT NOT NULL UNIQUE,
			agent      TEXT NOT NULL,
			reason     TEXT NOT NULL,
			priority   TEXT NOT NULL DEFAULT 'normal',
			recipient  TEXT,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status, created_at);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS escalations (
			id         BIGSERIAL PRIMARY KEY,
			reference  VARCHAR(64) NOT NULL UNIQUE,
			agent      VARCHAR(100) NOT NULL,
			reason     TEXT NOT NULL,
			priority   VARCHAR(10) NOT NULL DEFAULT 'normal',
			recipient  VARCHAR(50),
			status     VARCHAR(20) NOT NULL DEFAULT 'open',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status, created_at);
		`,
	},
}

// RunMigrations applies all pending schema migrations, tracked in the
// schema_version table. Each step runs in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  BIGINT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	row := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	record := "INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?) ON CONFLICT(version) DO NOTHING"
	if driver == DriverPostgres {
		record = rebind(record)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
			"driver", driver,
		)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.sql(driver)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
			}
		}
		if _, err := tx.ExecContext(ctx, record, m.Version, m.Description, time.Now().UTC().UnixMicro()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

// SchemaVersion returns the applied schema version, 0 for an empty database.
func SchemaVersion(ctx context.Context, db *sql.DB, driver string) (int, error) {
	exists := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"
	if driver == DriverPostgres {
		exists = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name='schema_version'"
	}
	var n int
	if err := db.QueryRowContext(ctx, exists).Scan(&n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// LatestSchemaVersion is the version a fully migrated database reports.
func LatestSchemaVersion() int { return schemaVersion }

// splitSQL splits a multi-statement SQL string on semicolons. Migration SQL
// never carries a semicolon inside a literal.
func splitSQL(sql string) []string {
	var result []string
	for _, s := range strings.Split(sql, ";") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
