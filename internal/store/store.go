// Package store persists messages, conversations and team data over
// database/sql. SQLite (modernc) is the default; Postgres runs through the
// pgx stdlib driver with the same queries rebound to $n placeholders.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and locates the database.
type Options struct {
	Driver string // sqlite (default) or postgres
	Path   string // sqlite file
	DSN    string // postgres connection string
}

// Store implements domain.Store.
type Store struct {
	db      *sql.DB
	driver  string
	logger  *slog.Logger
	nowFunc func() time.Time
}

var _ domain.Store = (*Store)(nil)

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, opts.Path, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, opts.DSN, logger)
	}
	return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
}

// OpenSQLite opens (creating if needed) a SQLite database file.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: writers serialize in the driver instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return newStore(ctx, db, DriverSQLite, logger)
}

// OpenPostgres connects through pgx.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return newStore(ctx, db, DriverPostgres, logger)
}

func newStore(ctx context.Context, db *sql.DB, driver string, logger *slog.Logger) (*Store, error) {
	s := &Store{db: db, driver: driver, logger: logger, nowFunc: time.Now}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}
	if err := RunMigrations(ctx, db, driver, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

// Driver returns the active driver name.
func (s *Store) Driver() string { return s.driver }

// DB exposes the underlying handle for tooling (migrate, doctor).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return domain.Storage("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.nowFunc().UTC()
}

// q adapts a query written with ? placeholders to the active driver.
func (s *Store) q(query string) string {
	if s.driver == DriverPostgres {
		return rebind(query)
	}
	return query
}

// rebind rewrites ? placeholders as $1, $2, ... Queries in this package
// never contain a literal question mark.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Timestamps are stored as UTC unix microseconds so ordering and range
// filters behave the same on both drivers.
func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
