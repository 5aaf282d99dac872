// Package store persists statements, transactions, and receipts in SQLite
// and maps driver failures onto the reconciliation error taxonomy. Callers
// distinguish three cases: ErrNotFound, ErrWriteConflict (transient, retry),
// and ErrAssignmentConflict (stale caller state, re-fetch).
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound reports a missing row.
	ErrNotFound = errors.New("not found")

	// ErrWriteConflict reports transient write contention (SQLITE_BUSY or
	// SQLITE_LOCKED). Callers are expected to retry the whole transaction
	// body; see the retry package.
	ErrWriteConflict = errors.New("write conflict")

	// ErrAssignmentConflict reports an assignment precondition failure:
	// assigning an already-assigned receipt or unassigning an unassigned
	// one. Never retried; the caller must re-fetch state.
	ErrAssignmentConflict = errors.New("assignment conflict")
)

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// A short busy timeout absorbs micro-contention; anything longer surfaces
// as ErrWriteConflict for the retry layer.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(100)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside one transaction, committing on nil error. Driver
// contention errors anywhere in the body or at commit are mapped to
// ErrWriteConflict so the retry layer can re-run the whole closure.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return mapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

// mapErr translates driver and sql errors into the package taxonomy,
// keeping the original error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrWriteConflict, err)
		}
	}
	return err
}
