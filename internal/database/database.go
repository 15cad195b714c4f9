// Package database provides the per-feature SQLite stores.
//
// Every store owns exactly one database file under the data directory. Files
// are versioned with PRAGMA user_version and migrated through the Create and
// Upgrade hooks of their Schema.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryan-buckman/skyvault/internal/logging"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyOpen is returned when a file already has a handle in this process.
	ErrAlreadyOpen = errors.New("database already open")
	// ErrDowngrade is returned when the file is newer than the code.
	ErrDowngrade = errors.New("database version is newer than supported")
)

// Result is the outcome of a mutating store operation.
type Result int

const (
	// ResultSuccess means the row was written.
	ResultSuccess Result = iota
	// ResultNotModified means nothing changed, usually because the row
	// already existed or did not exist.
	ResultNotModified
	// ResultError means the write failed; the accompanying error says why.
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultNotModified:
		return "not_modified"
	default:
		return "error"
	}
}

// Schema describes one database file.
type Schema struct {
	Name    string
	Version int
	// Create builds a fresh file at Version.
	Create func(ctx context.Context, tx *sql.Tx) error
	// Upgrade migrates from oldVersion to newVersion. Statements must be idempotent.
	Upgrade func(ctx context.Context, tx *sql.Tx, oldVersion, newVersion int) error
}

// DB wraps one SQLite file.
type DB struct {
	conn    *sql.DB
	path    string
	name    string
	version int
	log     zerolog.Logger
}

var (
	openMu    sync.Mutex
	openPaths = make(map[string]struct{})
)

// Open opens or creates dir/schema.Name and brings it to schema.Version.
func Open(ctx context.Context, dir string, schema Schema) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, schema.Name))
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	openMu.Lock()
	defer openMu.Unlock()
	if _, ok := openPaths[path]; ok {
		return nil, fmt.Errorf("%s: %w", path, ErrAlreadyOpen)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite: single writer.
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	db := &DB{
		conn:    conn,
		path:    path,
		name:    schema.Name,
		version: schema.Version,
		log:     logging.With().Str("component", "database").Str("db", schema.Name).Logger(),
	}
	if err := db.migrate(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", schema.Name, err)
	}
	openPaths[path] = struct{}{}
	return db, nil
}

// Close closes the database connection and releases the file for reopening.
func (db *DB) Close() error {
	openMu.Lock()
	delete(openPaths, db.path)
	openMu.Unlock()
	return db.conn.Close()
}

// Name returns the file name.
func (db *DB) Name() string {
	return db.name
}

// Version returns the schema version the file was brought to.
func (db *DB) Version() int {
	return db.version
}

func (db *DB) migrate(ctx context.Context, schema Schema) error {
	var current int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	switch {
	case current == schema.Version:
		return nil
	case current > schema.Version:
		return fmt.Errorf("file at v%d, code at v%d: %w", current, schema.Version, ErrDowngrade)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		if current == 0 {
			db.log.Info().Int("version", schema.Version).Msg("creating database")
			if err := schema.Create(ctx, tx); err != nil {
				return fmt.Errorf("create: %w", err)
			}
		} else {
			db.log.Info().Int("from", current).Int("to", schema.Version).Msg("upgrading database")
			if schema.Upgrade != nil {
				if err := schema.Upgrade(ctx, tx, current, schema.Version); err != nil {
					return fmt.Errorf("upgrade: %w", err)
				}
			}
		}
		// PRAGMA does not accept bound parameters.
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schema.Version))
		return err
	})
}

// Step reports whether upgrade step n (the migration that produces version n)
// must run when moving from oldVersion to newVersion.
func Step(n, oldVersion, newVersion int) bool {
	return n > 1 && oldVersion <= n-1 && n <= newVersion
}

// withTx runs fn inside a transaction. fn must only use tx: the pool has a
// single connection, so touching db.conn inside fn would block forever.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// execStatements runs each statement in order.
func execStatements(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(s), err)
		}
	}
	return nil
}

// addColumnIfMissing makes ALTER TABLE ADD COLUMN safe to repeat.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, def string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, def))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY conflict.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// connection without extended result codes
		return strings.Contains(serr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
