package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lucasnoah/constructor/internal/config"
)

// Dialect selects the SQL flavour of the event log.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ErrDisabled is returned by OpenEvents when the event log is turned off.
var ErrDisabled = errors.New("event log disabled")

// timeNow stamps every inserted row.
var timeNow = time.Now

// DB wraps the event log connection.
type DB struct {
	conn    *sql.DB
	dialect Dialect
}

// DefaultDBPath returns <stateDir>/events.db.
func DefaultDBPath(stateDir string) string {
	return filepath.Join(stateDir, "events.db")
}

// OpenEvents opens the event log described by cfg. An empty sqlite DSN falls
// back to DefaultDBPath(stateDir).
func OpenEvents(cfg config.Events, stateDir string) (*DB, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, ErrDisabled
	case string(Postgres):
		return OpenPostgres(cfg.DSN)
	case string(SQLite):
		path := cfg.DSN
		if path == "" {
			path = DefaultDBPath(stateDir)
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", stateDir, err)
			}
		}
		return Open(path)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &DB{conn: conn, dialect: SQLite}, nil
}

// OpenPostgres connects to Postgres through the pgx database/sql driver.
func OpenPostgres(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("open database: postgres requires a dsn")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn, dialect: Postgres}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports which SQL flavour the connection speaks.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Rebind rewrites ? placeholders into $n for Postgres.
func (d *DB) Rebind(query string) string {
	if d.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.Rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.Rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(d.Rebind(query), args...)
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT NOT NULL DEFAULT '',
    agent       TEXT NOT NULL DEFAULT '',
    score       INTEGER,
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pipeline_run ON pipeline_events(run_id, id);
CREATE INDEX IF NOT EXISTS idx_pipeline_event ON pipeline_events(event, timestamp);

CREATE TABLE IF NOT EXISTS learning_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT NOT NULL,
    event       TEXT NOT NULL,
    tool        TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learning_session ON learning_events(session_id, id);
`

var schemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS pipeline_events (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT NOT NULL DEFAULT '',
    agent       TEXT NOT NULL DEFAULT '',
    score       INTEGER,
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_run ON pipeline_events(run_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_pipeline_event ON pipeline_events(event, timestamp)`,
	`CREATE TABLE IF NOT EXISTS learning_events (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    event       TEXT NOT NULL,
    tool        TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_learning_session ON learning_events(session_id, id)`,
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.queryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := schemaPostgres
	if d.dialect == SQLite {
		stmts = []string{schemaSQLite}
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.Rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), stamp()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"learning_events", "pipeline_events", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}

func stamp() string {
	return timeNow().UTC().Format(time.RFC3339)
}
