package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/alexshd/clanbench"
)

const schema = `
CREATE TABLE IF NOT EXISTS counter (
	id             INTEGER PRIMARY KEY NOT NULL,
	name           VARCHAR(100) NOT NULL,
	balance        INTEGER NOT NULL,
	atomic_balance INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS counter_log (
	transaction_id INTEGER PRIMARY KEY AUTOINCREMENT,
	counter_id     INTEGER NOT NULL REFERENCES counter(id),
	cause          VARCHAR(32) NOT NULL,
	balance_before INTEGER NOT NULL,
	balance_after  INTEGER NOT NULL,
	delta          INTEGER NOT NULL,
	event_time     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS counter_log_counter ON counter_log(counter_id, transaction_id);
`

// memoryDSN names a database private to one connection. It lives as long
// as the single pooled connection does.
const memoryDSN = "file::memory:"

// SQLite is a Store backed by a SQLite database.
//
// The pool holds a single connection, so writers from concurrent increment
// goroutines are serialized by database/sql instead of failing with
// SQLITE_BUSY.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists. An empty path opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := memoryDSN
	if path != "" {
		dsn = "file:" + path
	}
	dsn += "?_foreign_keys=1&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the database. An in-memory database is discarded.
func (s *SQLite) Close() error { return s.db.Close() }

// LoadAllCounters returns every counter ordered by id.
func (s *SQLite) LoadAllCounters(ctx context.Context) ([]clanbench.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, balance, atomic_balance FROM counter ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	var out []clanbench.Snapshot
	for rows.Next() {
		var c clanbench.Snapshot
		if err := rows.Scan(&c.ID, &c.Name, &c.Balance, &c.AtomicBalance); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCounter inserts a new counter. Reusing an id fails with ErrCounterExists.
func (s *SQLite) CreateCounter(ctx context.Context, c clanbench.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counter(id, name, balance, atomic_balance) VALUES(?, ?, ?, ?)`,
		c.ID, c.Name, c.Balance, c.AtomicBalance)
	if isPrimaryKeyViolation(err) {
		return fmt.Errorf("counter %d: %w", c.ID, clanbench.ErrCounterExists)
	}
	if err != nil {
		return fmt.Errorf("insert counter %d: %w", c.ID, err)
	}
	return nil
}

// UpdateCounter replaces the row of an existing counter.
func (s *SQLite) UpdateCounter(ctx context.Context, c clanbench.Snapshot) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE counter SET name = ?, balance = ?, atomic_balance = ? WHERE id = ?`,
		c.Name, c.Balance, c.AtomicBalance, c.ID)
	if err != nil {
		return fmt.Errorf("update counter %d: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("counter %d: %w", c.ID, clanbench.ErrUnknownCounter)
	}
	return nil
}

// AppendAuditEntry inserts e into counter_log.
func (s *SQLite) AppendAuditEntry(ctx context.Context, e clanbench.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counter_log(counter_id, cause, balance_before, balance_after, delta, event_time)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		e.CounterID, string(e.Cause), e.BalanceBefore, e.BalanceAfter, e.Delta, e.Time.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry for counter %d: %w", e.CounterID, err)
	}
	return nil
}

// ReadAuditEntries renders the audit log of one counter in insertion order.
func (s *SQLite) ReadAuditEntries(ctx context.Context, counterID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT counter_id, cause, balance_before, balance_after, delta, event_time
		 FROM counter_log WHERE counter_id = ? ORDER BY transaction_id`, counterID)
	if err != nil {
		return nil, fmt.Errorf("query audit log of counter %d: %w", counterID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			e     clanbench.AuditEntry
			cause string
		)
		if err := rows.Scan(&e.CounterID, &cause, &e.BalanceBefore, &e.BalanceAfter, &e.Delta, &e.Time); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Cause = clanbench.Cause(cause)
		out = append(out, FormatAuditEntry(e))
	}
	return out, rows.Err()
}

// isPrimaryKeyViolation reports whether err is SQLite rejecting a duplicate
// primary key.
func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
