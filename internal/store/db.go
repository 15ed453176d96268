// Package store owns the SQLite-backed relational index: schema creation,
// pragma discipline for bulk loads versus concurrent reads, and the
// low-level transaction helpers the ETL builder, verifier, and query
// engine all share.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"ckbscip/internal/logging"
)

// DB wraps a SQLite connection with the transaction helpers the rest of
// the engine depends on.
type DB struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// Create opens a fresh database file at dbPath and builds its schema. The
// caller owns deciding whether an existing file at dbPath should be
// removed first; Create itself never deletes anything, so it stays safe
// to call repeatedly in tests.
func Create(dbPath string, logger *logging.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, logger: logger, dbPath: dbPath}

	if err := db.WithTx(createSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Open opens an existing database for reads (query engine, verifier),
// setting the concurrent-read pragma set.
func Open(dbPath string, logger *logging.Logger) (*DB, error) {
	if !fileExists(dbPath) {
		return nil, fmt.Errorf("database not found at %s", dbPath)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, logger: logger, dbPath: dbPath}
	if err := db.SetReadPragmas(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// minSQLiteVersion is the oldest engine this store supports: the schema
// needs FTS5 and the query engine needs recursive CTEs with the
// materialization behavior stabilized in 3.35.
const minSQLiteVersion = "3.35.0"

// CheckCapabilities confirms the linked SQLite engine is recent enough
// for this store's schema and queries.
func (db *DB) CheckCapabilities() error {
	var version string
	if err := db.conn.QueryRow(`SELECT sqlite_version()`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read sqlite version: %w", err)
	}
	if compareVersions(version, minSQLiteVersion) < 0 {
		return fmt.Errorf("sqlite %s is too old: %s or newer is required (recursive CTEs, FTS5)", version, minSQLiteVersion)
	}
	return nil
}

// compareVersions compares dotted numeric versions, returning -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var an, bn int
		if i < len(as) {
			an, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bn, _ = strconv.Atoi(bs[i])
		}
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	return 0
}

// SetBulkPragmas relaxes durability for the duration of a bulk load. The
// ETL builder restores safe pragmas with SetReadPragmas before handing the
// database to readers.
func (db *DB) SetBulkPragmas() error {
	for _, pragma := range []string{
		"PRAGMA foreign_keys = OFF",
		"PRAGMA synchronous = OFF",
		"PRAGMA journal_mode = MEMORY",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// SetReadPragmas restores the safe, concurrent-read pragma set.
func (db *DB) SetReadPragmas() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// CreateIndexes builds every secondary index, deferred until after bulk
// inserts complete.
func (db *DB) CreateIndexes() error {
	return db.WithTx(createIndexes)
}

// RebuildFTS repopulates the symbols_fts external-content index from the
// current contents of the symbols table.
func (db *DB) RebuildFTS() error {
	_, err := db.conn.Exec(`INSERT INTO symbols_fts(symbols_fts) VALUES('rebuild')`)
	return err
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying *sql.DB for callers that need raw access.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the database file path.
func (db *DB) Path() string { return db.dbPath }

// BeginTx starts a new transaction.
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// WithTx runs fn inside a transaction, rolling back on error or panic and
// committing otherwise.
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && db.logger != nil {
			db.logger.Err("failed to rollback transaction", rbErr, map[string]interface{}{
				"cause": err.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Exec executes a statement without returning rows.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a statement that returns rows.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a statement that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
